package aggregate

import (
	"sonarharvest/dataset"
	"sonarharvest/models"
)

// Options selects what Summarize computes.
type Options struct {
	TopComponents      int
	Rules              Truncation
	CorrelationMetrics []string
	TableMetrics       []string
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		TopComponents:      10,
		Rules:              Truncation{Mode: ModeTopK, K: 10},
		CorrelationMetrics: []string{MetricComplexity, MetricLines},
		TableMetrics:       []string{MetricLines, MetricComplexity, MetricDuplication},
	}
}

// Summary is the derived result of one run.
type Summary struct {
	Repositories    int                     `json:"repositories" yaml:"repositories"`
	TotalIssues     int                     `json:"total_issues" yaml:"total_issues"`
	Severities      []SeverityCount         `json:"severities" yaml:"severities"`
	Rules           RuleHistogram           `json:"rules" yaml:"rules"`
	Components      []ComponentCount        `json:"components" yaml:"components"`
	Effort          []EffortTotals          `json:"effort" yaml:"effort"`
	Metrics         []MetricRow             `json:"metrics" yaml:"metrics"`
	Density         RatioTable              `json:"density" yaml:"density"`
	ComplexityRatio RatioTable              `json:"complexity_ratio" yaml:"complexity_ratio"`
	Correlations    []Correlation           `json:"correlations" yaml:"correlations"`
	Failures        []models.HarvestFailure `json:"failures,omitempty" yaml:"failures,omitempty"`
}

// Summarize runs every reduction over snap.
func Summarize(snap dataset.Snapshot, opts Options) (Summary, error) {
	rules, err := Rules(snap, opts.Rules)
	if err != nil {
		return Summary{}, err
	}

	s := Summary{
		Repositories:    len(snap),
		TotalIssues:     snap.TotalIssues(),
		Severities:      SeverityHistogram(snap),
		Rules:           rules,
		Components:      Components(snap, opts.TopComponents),
		Effort:          Effort(snap),
		Metrics:         MetricTable(snap, opts.TableMetrics),
		Density:         Density(snap),
		ComplexityRatio: Ratio(snap, MetricComplexity, 1),
	}
	for _, m := range opts.CorrelationMetrics {
		s.Correlations = append(s.Correlations, Correlate(snap, m))
	}
	return s, nil
}
