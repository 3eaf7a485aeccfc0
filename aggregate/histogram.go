// Package aggregate reduces a dataset snapshot into histograms, ratios and
// correlations. Every function is pure: the same snapshot yields the same
// result whatever order its records are in.
package aggregate

import (
	"fmt"
	"sort"

	"sonarharvest/dataset"
	"sonarharvest/models"
)

// Mode selects how a rule histogram is truncated.
type Mode string

const (
	// ModeTopK keeps the K most frequent rules.
	ModeTopK Mode = "top_k"
	// ModeCumulative keeps the smallest prefix covering Share of all issues.
	ModeCumulative Mode = "cumulative"
)

// Truncation configures rule histogram truncation.
type Truncation struct {
	Mode Mode `json:"mode" yaml:"mode"`
	// K is the bucket limit for ModeTopK; zero or less keeps everything.
	K int `json:"k,omitempty" yaml:"k,omitempty"`
	// Share is the fraction in (0, 1] to cover for ModeCumulative.
	Share float64 `json:"share,omitempty" yaml:"share,omitempty"`
}

// Validate checks the truncation parameters.
func (t Truncation) Validate() error {
	switch t.Mode {
	case ModeTopK:
		return nil
	case ModeCumulative:
		if t.Share <= 0 || t.Share > 1 {
			return fmt.Errorf("cumulative share must be in (0, 1], got %v", t.Share)
		}
		return nil
	default:
		return fmt.Errorf("unknown truncation mode %q", t.Mode)
	}
}

// Bucket is one histogram entry.
type Bucket struct {
	Key   string  `json:"key" yaml:"key"`
	Count int     `json:"count" yaml:"count"`
	Share float64 `json:"share" yaml:"share"`
}

// SeverityCount is one severity histogram entry.
type SeverityCount struct {
	Severity models.Severity `json:"severity" yaml:"severity"`
	Count    int             `json:"count" yaml:"count"`
}

// RuleHistogram is a possibly truncated rule histogram.
type RuleHistogram struct {
	Truncation Truncation `json:"truncation" yaml:"truncation"`
	Buckets    []Bucket   `json:"buckets" yaml:"buckets"`
	// Distinct is the number of rules before truncation.
	Distinct int `json:"distinct" yaml:"distinct"`
	// Covered is the number of issues in the kept buckets.
	Covered int `json:"covered" yaml:"covered"`
	Total   int `json:"total" yaml:"total"`
}

// ComponentCount is one component histogram entry.
type ComponentCount struct {
	Component models.NormalizedComponent `json:"component" yaml:"component"`
	Count     int                        `json:"count" yaml:"count"`
}

// SeverityHistogram counts issues per severity, most frequent first, ties
// in severity declaration order. Severities with no issues are left out.
func SeverityHistogram(snap dataset.Snapshot) []SeverityCount {
	counts := make(map[models.Severity]int)
	for _, rec := range snap {
		for _, issue := range rec.Issues {
			counts[models.ParseSeverity(string(issue.Severity))]++
		}
	}

	out := make([]SeverityCount, 0, len(counts))
	for sev, n := range counts {
		out = append(out, SeverityCount{Severity: sev, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Severity.Rank() < out[j].Severity.Rank()
	})
	return out
}

// Rules counts issues per rule and truncates the result as requested.
func Rules(snap dataset.Snapshot, t Truncation) (RuleHistogram, error) {
	if err := t.Validate(); err != nil {
		return RuleHistogram{}, err
	}

	counts := make(map[string]int)
	total := 0
	for _, rec := range snap {
		for _, issue := range rec.Issues {
			counts[issue.Rule]++
			total++
		}
	}

	all := sortedBuckets(counts, total)
	var kept []Bucket
	switch t.Mode {
	case ModeTopK:
		kept = topK(all, t.K)
	case ModeCumulative:
		kept = cumulativePrefix(all, total, t.Share)
	}

	covered := 0
	for _, b := range kept {
		covered += b.Count
	}
	return RuleHistogram{
		Truncation: t,
		Buckets:    kept,
		Distinct:   len(all),
		Covered:    covered,
		Total:      total,
	}, nil
}

// Components counts issues per normalized component and keeps the top n
// (all when n <= 0).
func Components(snap dataset.Snapshot, n int) []ComponentCount {
	counts := make(map[models.NormalizedComponent]int)
	for _, rec := range snap {
		for _, issue := range rec.Issues {
			counts[models.NormalizeComponent(issue.Component)]++
		}
	}

	out := make([]ComponentCount, 0, len(counts))
	for c, cnt := range counts {
		out = append(out, ComponentCount{Component: c, Count: cnt})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if out[i].Component.Project != out[j].Component.Project {
			return out[i].Component.Project < out[j].Component.Project
		}
		return out[i].Component.File < out[j].Component.File
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// sortedBuckets orders counts by descending count, then key.
func sortedBuckets(counts map[string]int, total int) []Bucket {
	out := make([]Bucket, 0, len(counts))
	for key, n := range counts {
		b := Bucket{Key: key, Count: n}
		if total > 0 {
			b.Share = float64(n) / float64(total)
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out
}

func topK(buckets []Bucket, k int) []Bucket {
	if k <= 0 || k >= len(buckets) {
		return buckets
	}
	return buckets[:k]
}

// cumulativePrefix returns the shortest prefix whose counts reach share of total.
func cumulativePrefix(buckets []Bucket, total int, share float64) []Bucket {
	if total == 0 {
		return buckets[:0]
	}
	target := share * float64(total)
	running := 0
	for i, b := range buckets {
		running += b.Count
		// tolerance keeps exact boundaries such as 0.3 * 10 from being missed
		if float64(running) >= target-1e-9 {
			return buckets[:i+1]
		}
	}
	return buckets
}
