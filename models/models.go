// Package models defines the core data structures used throughout the application.
package models

import (
	"sort"
	"time"
)

// Repository represents a source repository registered with the analysis service
type Repository struct {
	ProjectKey     string    `db:"project_key" json:"analysisProjectKey" yaml:"analysisProjectKey"`
	Owner          string    `db:"owner" json:"owner" yaml:"owner"`
	Name           string    `db:"name" json:"name" yaml:"name"`
	Stars          int       `db:"stars" json:"stars" yaml:"stars"`
	Forks          int       `db:"forks" json:"forks" yaml:"forks"`
	Commits        int       `db:"commits" json:"commits" yaml:"commits"`
	Contributors   int       `db:"contributors" json:"contributors" yaml:"contributors"`
	Watchers       int       `db:"watchers" json:"watchers" yaml:"watchers"`
	OpenIssues     int       `db:"open_issues" json:"openIssues" yaml:"openIssues"`
	LastCommitDate time.Time `db:"last_commit_date" json:"lastCommitDate" yaml:"lastCommitDate"`
	CloneURL       string    `db:"clone_url" json:"cloneURL" yaml:"cloneURL"`
	Harvested      bool      `db:"-" json:"harvested,omitempty" yaml:"harvested,omitempty"`
}

// FullName returns owner/name, or just the name when the owner is unknown.
func (r Repository) FullName() string {
	if r.Owner == "" {
		return r.Name
	}
	return r.Owner + "/" + r.Name
}

// Issue represents a single code-smell record reported by the analysis service.
// EffortMinutes and DebtMinutes are nil when the service gave no usable value.
type Issue struct {
	Key           string     `db:"issue_key" json:"key"`
	ProjectKey    string     `db:"project_key" json:"project_key"`
	Rule          string     `db:"rule" json:"rule"`
	Severity      Severity   `db:"severity" json:"severity"`
	Component     string     `db:"component" json:"component"`
	EffortMinutes *int64     `db:"effort_minutes" json:"effort_minutes,omitempty"`
	DebtMinutes   *int64     `db:"debt_minutes" json:"debt_minutes,omitempty"`
	Status        string     `db:"status" json:"status"`
	Author        string     `db:"author" json:"author"`
	Message       string     `db:"message" json:"message"`
	Line          int        `db:"line" json:"line"`
	CreatedAt     *time.Time `db:"created_at" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `db:"updated_at" json:"updated_at,omitempty"`
	ClosedAt      *time.Time `db:"closed_at" json:"closed_at,omitempty"`
}

// MetricSet maps a metric name to its numeric value. A metric the service
// did not report is absent from the map; zero is a real value.
type MetricSet map[string]float64

// Get returns the metric value and whether it was reported.
func (m MetricSet) Get(name string) (float64, bool) {
	v, ok := m[name]
	return v, ok
}

// Names returns the reported metric names in sorted order.
func (m MetricSet) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Failure stages
const (
	StageIssues  = "issues"
	StageMetrics = "metrics"
	StageStore   = "store"
)

// HarvestFailure records a per-repository problem that did not stop the run.
type HarvestFailure struct {
	ProjectKey string `db:"project_key" json:"project_key" yaml:"project_key"`
	Stage      string `db:"stage" json:"stage" yaml:"stage"`
	Page       int    `db:"page" json:"page,omitempty" yaml:"page,omitempty"`
	Partial    bool   `db:"partial" json:"partial,omitempty" yaml:"partial,omitempty"`
	Fetched    int    `db:"fetched" json:"fetched,omitempty" yaml:"fetched,omitempty"`
	Declared   int    `db:"declared" json:"declared,omitempty" yaml:"declared,omitempty"`
	Error      string `db:"message" json:"error,omitempty" yaml:"error,omitempty"`
}
