package fetcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sonarharvest/logger"
	"sonarharvest/models"
	"sonarharvest/sonar"
)

func init() {
	// Initialize logger for tests
	_ = logger.Initialize("debug")
}

// fakeIssueSource serves a fixed number of records page by page. Errors
// queued for a page are returned, one per call, before the page succeeds.
type fakeIssueSource struct {
	mu        sync.Mutex
	available int
	declared  int
	// pageLimit caps how many items a page returns, 0 means the requested size.
	pageLimit int
	errs      map[int][]error
	requests  []int
}

func (f *fakeIssueSource) SearchIssues(ctx context.Context, q sonar.IssueQuery) (*sonar.IssueResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, q.Page)

	if queued := f.errs[q.Page]; len(queued) > 0 {
		f.errs[q.Page] = queued[1:]
		return nil, queued[0]
	}

	size := q.PageSize
	if f.pageLimit > 0 && f.pageLimit < size {
		size = f.pageLimit
	}
	start := (q.Page - 1) * q.PageSize
	var records []sonar.IssueRecord
	for i := start; i < f.available && len(records) < size; i++ {
		records = append(records, sonar.IssueRecord{
			Key:       fmt.Sprintf("%s-%d", q.ComponentKey, i),
			Rule:      "dart:S1192",
			Severity:  "MAJOR",
			Component: q.ComponentKey + ":lib/src/file.dart",
		})
	}
	total := f.declared
	return &sonar.IssueResponse{
		Issues: records,
		Paging: sonar.Paging{PageIndex: q.Page, PageSize: q.PageSize, Total: &total},
	}, nil
}

func newTestHarvester(source IssueSource, pageSize int) *IssueHarvester {
	h := NewIssueHarvester(source, HarvesterConfig{
		PageSize: pageSize,
		Retry:    RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond},
	})
	return h
}

func TestHarvestFullPages(t *testing.T) {
	source := &fakeIssueSource{available: 150, declared: 150}
	h := newTestHarvester(source, 100)

	result, err := h.Harvest(context.Background(), "octo:app")
	require.NoError(t, err)

	assert.Len(t, result.Issues, 150)
	assert.Equal(t, []int{1, 2}, source.requests)
	assert.Equal(t, 2, result.Pages)
	assert.Equal(t, 150, result.DeclaredTotal)
	assert.False(t, result.Partial)
	assert.Equal(t, "octo:app", result.Issues[0].ProjectKey)
}

func TestHarvestLengthMatchesReturnedItems(t *testing.T) {
	tests := []struct {
		name      string
		available int
		declared  int
		pageSize  int
		partial   bool
		requests  int
	}{
		{name: "consistent", available: 42, declared: 42, pageSize: 10, requests: 5},
		{name: "service undercounts its items", available: 30, declared: 100, pageSize: 10, partial: true, requests: 4},
		{name: "service overcounts its total", available: 10, declared: 5, pageSize: 10, requests: 1},
		{name: "empty project", available: 0, declared: 0, pageSize: 10, requests: 1},
		{name: "declared total but nothing served", available: 0, declared: 7, pageSize: 10, partial: true, requests: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := &fakeIssueSource{available: tt.available, declared: tt.declared}
			h := newTestHarvester(source, tt.pageSize)

			result, err := h.Harvest(context.Background(), "p")
			require.NoError(t, err)
			assert.Len(t, result.Issues, tt.available)
			assert.Equal(t, tt.partial, result.Partial)
			assert.Len(t, source.requests, tt.requests)
		})
	}
}

func TestHarvestProtocolViolation(t *testing.T) {
	// every page is short but never empty, so the declared total is never reached
	source := &fakeIssueSource{available: 1000, declared: 25, pageLimit: 1}
	h := newTestHarvester(source, 10)

	result, err := h.Harvest(context.Background(), "p")

	var herr *HarvestError
	require.True(t, errors.As(err, &herr))
	assert.ErrorIs(t, err, ErrProtocolViolation)
	assert.ErrorIs(t, err, sonar.ErrServiceProtocol)
	assert.Equal(t, "p", herr.ProjectKey)
	assert.Len(t, source.requests, 4)
	assert.True(t, result.Partial)
}

func TestHarvestRetriesTransientErrors(t *testing.T) {
	source := &fakeIssueSource{
		available: 15,
		declared:  15,
		errs: map[int][]error{
			2: {&sonar.TransientError{StatusCode: 503}, &sonar.TransientError{StatusCode: 502}},
		},
	}
	h := newTestHarvester(source, 10)

	result, err := h.Harvest(context.Background(), "p")
	require.NoError(t, err)
	assert.Len(t, result.Issues, 15)
	assert.Equal(t, []int{1, 2, 2, 2}, source.requests)
}

func TestHarvestRetriesExhausted(t *testing.T) {
	transient := &sonar.TransientError{StatusCode: 500, Err: errors.New("down")}
	source := &fakeIssueSource{
		available: 25,
		declared:  25,
		errs:      map[int][]error{2: {transient, transient, transient}},
	}
	h := newTestHarvester(source, 10)

	result, err := h.Harvest(context.Background(), "octo:app")

	var herr *HarvestError
	require.True(t, errors.As(err, &herr))
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, 2, herr.Page, "failure carries the page to resume from")
	assert.Equal(t, 10, herr.Fetched)
	assert.Len(t, result.Issues, 10)
	assert.True(t, result.Partial)
	assert.Equal(t, []int{1, 2, 2, 2}, source.requests)

	// resuming from the failed page picks up the rest
	resumed, err := h.HarvestFrom(context.Background(), "octo:app", herr.Page)
	require.NoError(t, err)
	assert.Len(t, resumed.Issues, 15)
	assert.False(t, resumed.Partial)
}

func TestHarvestDoesNotRetryPermanentErrors(t *testing.T) {
	source := &fakeIssueSource{
		available: 5,
		declared:  5,
		errs:      map[int][]error{1: {fmt.Errorf("%w: status code 404", sonar.ErrUnexpectedStatus)}},
	}
	h := newTestHarvester(source, 10)

	_, err := h.Harvest(context.Background(), "p")
	assert.ErrorIs(t, err, sonar.ErrUnexpectedStatus)
	assert.Equal(t, []int{1}, source.requests)
}

func TestHarvestCancelled(t *testing.T) {
	source := &fakeIssueSource{available: 5, declared: 5}
	h := newTestHarvester(source, 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.Harvest(ctx, "p")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, source.requests)
}

func TestToIssue(t *testing.T) {
	rec := sonar.IssueRecord{
		Key:          "AX1",
		Rule:         "dart:S3776",
		Severity:     "whatever",
		Component:    "octo:app:lib/main.dart",
		Line:         12,
		Status:       "OPEN",
		Effort:       "1h30min",
		Debt:         "n/a",
		Author:       "dev@example.com",
		CreationDate: "2023-04-01T10:20:30+0200",
		UpdateDate:   "garbage",
	}

	issue := toIssue("octo:app", rec)
	assert.Equal(t, models.SeverityUnknown, issue.Severity)
	require.NotNil(t, issue.EffortMinutes)
	assert.Equal(t, int64(90), *issue.EffortMinutes)
	assert.Nil(t, issue.DebtMinutes)
	require.NotNil(t, issue.CreatedAt)
	assert.Equal(t, time.Date(2023, 4, 1, 8, 20, 30, 0, time.UTC), issue.CreatedAt.UTC())
	assert.Nil(t, issue.UpdatedAt)
	assert.Nil(t, issue.ClosedAt)
}

func TestRetryBackOff(t *testing.T) {
	b := newRetrier(RetryConfig{MaxRetries: 5, BaseDelay: time.Second, MaxDelay: 5 * time.Second}).backOff()

	assert.Equal(t, time.Second, b.NextBackOff())
	assert.Equal(t, 2*time.Second, b.NextBackOff())
	assert.Equal(t, 4*time.Second, b.NextBackOff())
	assert.Equal(t, 5*time.Second, b.NextBackOff())
	assert.Equal(t, 5*time.Second, b.NextBackOff())
}

func TestRetryClassify(t *testing.T) {
	var retryAfter *backoff.RetryAfterError
	require.ErrorAs(t, classify(&sonar.TransientError{StatusCode: 429, RetryAfter: 20 * time.Second}), &retryAfter)
	assert.Equal(t, 20*time.Second, retryAfter.Duration)

	transient := &sonar.TransientError{StatusCode: 503}
	assert.Same(t, transient, classify(transient))

	var permanent *backoff.PermanentError
	notFound := fmt.Errorf("%w: status code 404", sonar.ErrUnexpectedStatus)
	require.ErrorAs(t, classify(notFound), &permanent)
	assert.ErrorIs(t, permanent, sonar.ErrUnexpectedStatus)
}

func TestRetryDo(t *testing.T) {
	log := logger.ForRepository("p")
	r := newRetrier(RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond})

	t.Run("exhausted wraps the last transient error", func(t *testing.T) {
		calls := 0
		transient := &sonar.TransientError{StatusCode: 502}
		err := r.do(context.Background(), log, func() error { calls++; return transient })
		assert.ErrorIs(t, err, ErrRetriesExhausted)
		assert.ErrorIs(t, err, transient)
		assert.Equal(t, 3, calls)
	})

	t.Run("permanent error after a transient one is returned as is", func(t *testing.T) {
		calls := 0
		notFound := fmt.Errorf("%w: status code 404", sonar.ErrUnexpectedStatus)
		err := r.do(context.Background(), log, func() error {
			calls++
			if calls == 1 {
				return &sonar.TransientError{StatusCode: 503}
			}
			return notFound
		})
		assert.Equal(t, notFound, err)
		assert.Equal(t, 2, calls)
	})

	t.Run("no retries allowed", func(t *testing.T) {
		calls := 0
		err := newRetrier(RetryConfig{}).do(context.Background(), log, func() error {
			calls++
			return &sonar.TransientError{StatusCode: 500}
		})
		assert.ErrorIs(t, err, ErrRetriesExhausted)
		assert.Equal(t, 1, calls)
	})
}
