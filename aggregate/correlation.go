package aggregate

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"sonarharvest/dataset"
)

// Correlation is the Pearson coefficient between per-repository issue
// counts and a metric. Coefficient is nil when it is undefined: fewer than
// two repositories qualify or either series has no variance.
type Correlation struct {
	Metric      string   `json:"metric" yaml:"metric"`
	N           int      `json:"n" yaml:"n"`
	Coefficient *float64 `json:"coefficient" yaml:"coefficient"`
}

// Defined reports whether a coefficient could be computed.
func (c Correlation) Defined() bool {
	return c.Coefficient != nil
}

// Correlate computes the correlation between issue counts and metric over
// the repositories that reported metric.
func Correlate(snap dataset.Snapshot, metric string) Correlation {
	var xs, ys []float64
	for _, rec := range byProjectKey(snap) {
		v, ok := rec.Metrics.Get(metric)
		if !ok {
			continue
		}
		xs = append(xs, float64(rec.IssueCount()))
		ys = append(ys, v)
	}

	c := Correlation{Metric: metric, N: len(xs)}
	if r, ok := pearson(xs, ys); ok {
		c.Coefficient = &r
	}
	return c
}

// pearson returns the sample correlation coefficient of xs and ys.
func pearson(xs, ys []float64) (float64, bool) {
	if len(xs) < 2 || len(xs) != len(ys) {
		return 0, false
	}
	if stat.Variance(xs, nil) == 0 || stat.Variance(ys, nil) == 0 {
		return 0, false
	}

	r := stat.Correlation(xs, ys, nil)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0, false
	}
	// clamp rounding drift
	return math.Max(-1, math.Min(1, r)), true
}
