package sonar

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sonarharvest/logger"
)

func init() {
	// Initialize logger for tests
	_ = logger.Initialize("debug")
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(server.URL, "test-token", 5*time.Second)
	require.NoError(t, err)
	return client
}

func TestNewClient(t *testing.T) {
	client, err := NewClient("http://localhost:9000/", "tok", 0)
	require.NoError(t, err)
	assert.Equal(t, "tok", client.token)
	assert.Equal(t, 30*time.Second, client.httpClient.Timeout)
	assert.Equal(t, "http://localhost:9000", client.baseURL.String())

	_, err = NewClient("localhost", "tok", time.Second)
	assert.Error(t, err)
}

func TestSearchIssues(t *testing.T) {
	total := 150
	testCases := []struct {
		name           string
		mockBody       any
		mockStatusCode int
		expectedErr    error
		transient      bool
		expectedIssues int
	}{
		{
			name: "successful page",
			mockBody: IssueResponse{
				Issues: []IssueRecord{{Key: "i1", Severity: "MAJOR"}, {Key: "i2", Severity: "MINOR"}},
				Paging: Paging{PageIndex: 1, PageSize: 100, Total: &total},
			},
			mockStatusCode: http.StatusOK,
			expectedIssues: 2,
		},
		{
			name:           "missing total",
			mockBody:       map[string]any{"issues": []any{}, "paging": map[string]any{"pageIndex": 1}},
			mockStatusCode: http.StatusOK,
			expectedErr:    ErrServiceProtocol,
		},
		{
			name:           "malformed body",
			mockBody:       "not an object",
			mockStatusCode: http.StatusOK,
			expectedErr:    ErrServiceProtocol,
		},
		{
			name:           "project not found",
			mockStatusCode: http.StatusNotFound,
			expectedErr:    ErrUnexpectedStatus,
		},
		{
			name:           "server error",
			mockStatusCode: http.StatusBadGateway,
			transient:      true,
		},
		{
			name:           "rate limited",
			mockStatusCode: http.StatusTooManyRequests,
			transient:      true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				user, _, ok := r.BasicAuth()
				assert.True(t, ok)
				assert.Equal(t, "test-token", user)

				assert.Equal(t, issueSearchPath, r.URL.Path)
				q := r.URL.Query()
				assert.Equal(t, "octo:app", q.Get("componentKeys"))
				assert.Equal(t, IssueTypeCodeSmell, q.Get("types"))
				assert.Equal(t, "false", q.Get("resolved"))
				assert.Equal(t, "100", q.Get("ps"))
				assert.Equal(t, "1", q.Get("p"))

				w.WriteHeader(tc.mockStatusCode)
				if tc.mockBody != nil {
					_ = json.NewEncoder(w).Encode(tc.mockBody)
				}
			})

			resp, err := client.SearchIssues(context.Background(), IssueQuery{ComponentKey: "octo:app", Page: 1, PageSize: 100})

			switch {
			case tc.transient:
				assert.True(t, IsTransient(err), "expected transient error, got %v", err)
				assert.Nil(t, resp)
			case tc.expectedErr != nil:
				assert.ErrorIs(t, err, tc.expectedErr)
				assert.False(t, IsTransient(err))
				assert.Nil(t, resp)
			default:
				require.NoError(t, err)
				assert.Len(t, resp.Issues, tc.expectedIssues)
				assert.Equal(t, total, *resp.Paging.Total)
			}
		})
	}
}

func TestSearchIssuesRetryAfter(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.SearchIssues(context.Background(), IssueQuery{ComponentKey: "k", Page: 1, PageSize: 10})
	require.Error(t, err)
	assert.Equal(t, 7*time.Second, RetryAfter(err))
}

func TestSearchIssuesNetworkErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	client, err := NewClient(server.URL, "", time.Second)
	require.NoError(t, err)
	server.Close()

	_, err = client.SearchIssues(context.Background(), IssueQuery{ComponentKey: "k", Page: 1, PageSize: 10})
	assert.True(t, IsTransient(err))
}

func TestSearchIssuesCancelledContext(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.SearchIssues(ctx, IssueQuery{ComponentKey: "k", Page: 1, PageSize: 10})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsTransient(err))
}

func TestFetchMeasures(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, measuresPath, r.URL.Path)
		assert.Equal(t, "octo:app", r.URL.Query().Get("component"))
		assert.Equal(t, "ncloc,complexity", r.URL.Query().Get("metricKeys"))

		_, _ = w.Write([]byte(`{"component":{"key":"octo:app","measures":[
			{"metric":"ncloc","value":"1200"},
			{"metric":"complexity","value":"87"}
		]}}`))
	})

	measures, err := client.FetchMeasures(context.Background(), "octo:app", []string{"ncloc", "complexity"})
	require.NoError(t, err)
	assert.Equal(t, []Measure{{Metric: "ncloc", Value: "1200"}, {Metric: "complexity", Value: "87"}}, measures)
}

func TestFetchMeasuresNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	measures, err := client.FetchMeasures(context.Background(), "missing", []string{"ncloc"})
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
	assert.Nil(t, measures)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.Zero(t, parseRetryAfter("", now))
	assert.Equal(t, 3*time.Second, parseRetryAfter("3", now))
	assert.Zero(t, parseRetryAfter("-3", now))
	assert.Equal(t, time.Minute, parseRetryAfter(now.Add(time.Minute).Format(http.TimeFormat), now))
	assert.Zero(t, parseRetryAfter("garbage", now))
}

func TestTransientErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := &TransientError{StatusCode: 503, Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "503")
}
