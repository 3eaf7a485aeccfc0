// Package dataset holds the harvested issues and metrics of every repository
// in a run.
package dataset

import (
	"errors"
	"fmt"
	"sync"

	"sonarharvest/models"
)

var (
	// ErrMissingRepository is returned for a record without a project key.
	ErrMissingRepository = errors.New("record has no repository")
	// ErrForeignIssue is returned when an issue names another repository.
	ErrForeignIssue = errors.New("issue belongs to another repository")
)

// Record is everything harvested for one repository.
type Record struct {
	Repository models.Repository
	Issues     []models.Issue
	Metrics    models.MetricSet
	// Partial marks an issue list that is known to be incomplete.
	Partial bool
}

// IssueCount returns the number of issues held for the repository.
func (r Record) IssueCount() int {
	return len(r.Issues)
}

// Snapshot is an immutable view of the dataset in insertion order.
type Snapshot []Record

// TotalIssues sums the issue counts of all records.
func (s Snapshot) TotalIssues() int {
	total := 0
	for _, r := range s {
		total += len(r.Issues)
	}
	return total
}

// Dataset is a concurrency-safe store of per-repository records. A record
// is replaced as a whole, so readers never observe a half-written repository.
type Dataset struct {
	mu      sync.RWMutex
	records map[string]Record
	order   []string
}

// New creates an empty dataset.
func New() *Dataset {
	return &Dataset{records: make(map[string]Record)}
}

// Put stores rec, replacing any previous record for the same repository.
// Every issue must carry the repository's project key.
func (d *Dataset) Put(rec Record) error {
	key := rec.Repository.ProjectKey
	if key == "" {
		return ErrMissingRepository
	}
	for _, issue := range rec.Issues {
		if issue.ProjectKey != key {
			return fmt.Errorf("%w: issue %s has project %q, expected %q", ErrForeignIssue, issue.Key, issue.ProjectKey, key)
		}
	}

	stored := Record{
		Repository: rec.Repository,
		Issues:     append([]models.Issue(nil), rec.Issues...),
		Metrics:    make(models.MetricSet, len(rec.Metrics)),
		Partial:    rec.Partial,
	}
	for name, v := range rec.Metrics {
		stored.Metrics[name] = v
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.records[key]; !exists {
		d.order = append(d.order, key)
	}
	d.records[key] = stored
	return nil
}

// Get returns the record for projectKey.
func (d *Dataset) Get(projectKey string) (Record, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.records[projectKey]
	return rec, ok
}

// Len returns the number of repositories held.
func (d *Dataset) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.records)
}

// Snapshot returns the records in insertion order.
func (d *Dataset) Snapshot() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	snap := make(Snapshot, 0, len(d.order))
	for _, key := range d.order {
		snap = append(snap, d.records[key])
	}
	return snap
}
