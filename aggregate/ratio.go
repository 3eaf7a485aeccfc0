package aggregate

import (
	"sort"

	"sonarharvest/dataset"
)

// Metric names used by the ratio tables.
const (
	MetricLines       = "ncloc"
	MetricComplexity  = "complexity"
	MetricDuplication = "duplicated_lines_density"
)

// RatioRow is one repository's issue count divided by a metric.
type RatioRow struct {
	ProjectKey string  `json:"project_key" yaml:"project_key"`
	Name       string  `json:"name" yaml:"name"`
	Issues     int     `json:"issues" yaml:"issues"`
	Metric     float64 `json:"metric" yaml:"metric"`
	Value      float64 `json:"value" yaml:"value"`
}

// RatioTable is a per-repository ratio over one metric.
type RatioTable struct {
	Metric string     `json:"metric" yaml:"metric"`
	Scale  float64    `json:"scale" yaml:"scale"`
	Rows   []RatioRow `json:"rows" yaml:"rows"`
	// Excluded lists repositories without a usable metric value.
	Excluded []string `json:"excluded,omitempty" yaml:"excluded,omitempty"`
}

// Ratio computes issues / metric * scale for every repository that reported
// metric with a positive value. Rows are ordered by project key.
func Ratio(snap dataset.Snapshot, metric string, scale float64) RatioTable {
	table := RatioTable{Metric: metric, Scale: scale}
	for _, rec := range byProjectKey(snap) {
		v, ok := rec.Metrics.Get(metric)
		if !ok || v <= 0 {
			table.Excluded = append(table.Excluded, rec.Repository.ProjectKey)
			continue
		}
		n := rec.IssueCount()
		table.Rows = append(table.Rows, RatioRow{
			ProjectKey: rec.Repository.ProjectKey,
			Name:       rec.Repository.Name,
			Issues:     n,
			Metric:     v,
			Value:      float64(n) / v * scale,
		})
	}
	return table
}

// Density returns issues per 1000 lines of code.
func Density(snap dataset.Snapshot) RatioTable {
	return Ratio(snap, MetricLines, 1000)
}

// MetricRow lists one repository's values for the requested metrics.
// Values holds only the metrics the repository reported.
type MetricRow struct {
	ProjectKey string             `json:"project_key" yaml:"project_key"`
	Name       string             `json:"name" yaml:"name"`
	Issues     int                `json:"issues" yaml:"issues"`
	Partial    bool               `json:"partial,omitempty" yaml:"partial,omitempty"`
	Values     map[string]float64 `json:"values" yaml:"values"`
}

// MetricTable tabulates the requested metrics for every repository, ordered
// by project key.
func MetricTable(snap dataset.Snapshot, metrics []string) []MetricRow {
	sorted := byProjectKey(snap)
	rows := make([]MetricRow, 0, len(sorted))
	for _, rec := range sorted {
		row := MetricRow{
			ProjectKey: rec.Repository.ProjectKey,
			Name:       rec.Repository.Name,
			Issues:     rec.IssueCount(),
			Partial:    rec.Partial,
			Values:     make(map[string]float64),
		}
		for _, m := range metrics {
			if v, ok := rec.Metrics.Get(m); ok {
				row.Values[m] = v
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// byProjectKey returns a copy of snap sorted by project key so that results
// do not depend on harvest order.
func byProjectKey(snap dataset.Snapshot) dataset.Snapshot {
	sorted := append(dataset.Snapshot(nil), snap...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Repository.ProjectKey < sorted[j].Repository.ProjectKey
	})
	return sorted
}
