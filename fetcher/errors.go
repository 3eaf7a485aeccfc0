package fetcher

import (
	"errors"
	"fmt"

	"sonarharvest/sonar"
)

var (
	// ErrProtocolViolation means the service kept returning pages past the
	// bound implied by its own declared total.
	ErrProtocolViolation = fmt.Errorf("%w: pagination did not converge", sonar.ErrServiceProtocol)
	// ErrRetriesExhausted means every attempt at a request failed transiently.
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrMetricsUnavailable wraps any failure to fetch a repository's measures.
	ErrMetricsUnavailable = errors.New("metrics unavailable")
)

// HarvestError reports that issue harvesting for a repository stopped at
// Page. Harvesting can resume from that page.
type HarvestError struct {
	ProjectKey string
	Page       int
	Fetched    int
	Err        error
}

func (e *HarvestError) Error() string {
	return fmt.Sprintf("harvest of %s failed at page %d after %d issues: %v", e.ProjectKey, e.Page, e.Fetched, e.Err)
}

func (e *HarvestError) Unwrap() error {
	return e.Err
}
