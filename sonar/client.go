package sonar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"sonarharvest/logger"
)

const (
	issueSearchPath = "/api/issues/search"
	measuresPath    = "/api/measures/component"

	// IssueTypeCodeSmell is the only issue type harvested.
	IssueTypeCodeSmell = "CODE_SMELL"
	// TimeLayout is the timestamp format used in issue records.
	TimeLayout = "2006-01-02T15:04:05-0700"
)

// Client represents an analysis service API client
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    *url.URL
}

// IssueQuery selects one page of unresolved code smells for a component.
type IssueQuery struct {
	ComponentKey string
	Page         int
	PageSize     int
}

// Paging is the pagination block of an issue search response.
// Total is a pointer so a missing total can be told apart from zero.
type Paging struct {
	PageIndex int  `json:"pageIndex"`
	PageSize  int  `json:"pageSize"`
	Total     *int `json:"total"`
}

// IssueRecord is one issue as returned by the search endpoint.
type IssueRecord struct {
	Key          string `json:"key"`
	Rule         string `json:"rule"`
	Severity     string `json:"severity"`
	Component    string `json:"component"`
	Project      string `json:"project"`
	Line         int    `json:"line"`
	Status       string `json:"status"`
	Message      string `json:"message"`
	Effort       string `json:"effort"`
	Debt         string `json:"debt"`
	Author       string `json:"author"`
	CreationDate string `json:"creationDate"`
	UpdateDate   string `json:"updateDate"`
	CloseDate    string `json:"closeDate"`
	Type         string `json:"type"`
}

// IssueResponse is the body of an issue search response.
type IssueResponse struct {
	Issues []IssueRecord `json:"issues"`
	Paging Paging        `json:"paging"`
}

// Measure is a single metric value. Value is kept as the service's string
// and parsed by the caller.
type Measure struct {
	Metric string `json:"metric"`
	Value  string `json:"value"`
}

type measuresResponse struct {
	Component struct {
		Key      string    `json:"key"`
		Measures []Measure `json:"measures"`
	} `json:"component"`
}

// NewClient creates a client for the service at baseURL. Every request
// made by the client is bounded by timeout.
func NewClient(baseURL, token string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid service url %q: %w", baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid service url %q: scheme and host are required", baseURL)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	logger.Info("Initializing analysis service client", zap.String("base_url", u.String()))
	return &Client{
		token: token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: u,
	}, nil
}

// SearchIssues fetches one page of unresolved code smells for the component.
func (c *Client) SearchIssues(ctx context.Context, q IssueQuery) (*IssueResponse, error) {
	params := url.Values{}
	params.Set("componentKeys", q.ComponentKey)
	params.Set("types", IssueTypeCodeSmell)
	params.Set("resolved", "false")
	params.Set("ps", strconv.Itoa(q.PageSize))
	params.Set("p", strconv.Itoa(q.Page))

	logger.Debug("Fetching issues page",
		zap.String("project_key", q.ComponentKey),
		zap.Int("page", q.Page),
		zap.Int("page_size", q.PageSize))

	var body IssueResponse
	if err := c.get(ctx, issueSearchPath, params, &body); err != nil {
		return nil, fmt.Errorf("failed to search issues for %s page %d: %w", q.ComponentKey, q.Page, err)
	}
	if body.Paging.Total == nil {
		return nil, fmt.Errorf("%w: issue search for %s page %d has no paging.total", ErrServiceProtocol, q.ComponentKey, q.Page)
	}
	if *body.Paging.Total < 0 {
		return nil, fmt.Errorf("%w: negative paging.total %d", ErrServiceProtocol, *body.Paging.Total)
	}
	return &body, nil
}

// FetchMeasures fetches the requested metrics for the component.
func (c *Client) FetchMeasures(ctx context.Context, componentKey string, metricKeys []string) ([]Measure, error) {
	params := url.Values{}
	params.Set("component", componentKey)
	params.Set("metricKeys", strings.Join(metricKeys, ","))

	logger.Debug("Fetching measures",
		zap.String("project_key", componentKey),
		zap.Strings("metric_keys", metricKeys))

	var body measuresResponse
	if err := c.get(ctx, measuresPath, params, &body); err != nil {
		return nil, fmt.Errorf("failed to fetch measures for %s: %w", componentKey, err)
	}
	return body.Component.Measures, nil
}

// get performs a GET request and decodes a JSON body into out, classifying
// failures into transient and protocol errors.
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	reqURL := c.baseURL.JoinPath(path)
	reqURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.token != "" {
		// tokens are sent as the basic-auth user with an empty password
		req.SetBasicAuth(c.token, "")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		logger.Warn("Analysis service returned an error status",
			zap.String("path", path),
			zap.Int("status_code", resp.StatusCode))
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.Is(err, io.EOF) || errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
			return fmt.Errorf("%w: failed to decode response: %v", ErrServiceProtocol, err)
		}
		// a body cut short mid-stream is a network problem, not a bad shape
		return &TransientError{Err: fmt.Errorf("failed to read response: %w", err)}
	}
	return nil
}

// checkStatus maps a response status onto the error taxonomy.
func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return &TransientError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
			Err:        errors.New("rate limit exceeded"),
		}
	case resp.StatusCode >= 500:
		return &TransientError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("server error: %s", http.StatusText(resp.StatusCode)),
		}
	default:
		return fmt.Errorf("%w: status code %d", ErrUnexpectedStatus, resp.StatusCode)
	}
}

// parseRetryAfter reads a Retry-After header given either in seconds or as an HTTP date.
func parseRetryAfter(value string, now time.Time) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
