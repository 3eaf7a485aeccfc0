package aggregate

import (
	"sort"

	"sonarharvest/dataset"
	"sonarharvest/models"
)

// EffortTotals sums remediation effort and technical debt for one severity.
// Issues without a usable value are counted as excluded rather than as zero.
type EffortTotals struct {
	Severity       models.Severity `json:"severity" yaml:"severity"`
	EffortMinutes  int64           `json:"effort_minutes" yaml:"effort_minutes"`
	EffortCounted  int             `json:"effort_counted" yaml:"effort_counted"`
	EffortExcluded int             `json:"effort_excluded" yaml:"effort_excluded"`
	DebtMinutes    int64           `json:"debt_minutes" yaml:"debt_minutes"`
	DebtCounted    int             `json:"debt_counted" yaml:"debt_counted"`
	DebtExcluded   int             `json:"debt_excluded" yaml:"debt_excluded"`
}

// Effort groups effort and debt minutes by severity, in severity order.
func Effort(snap dataset.Snapshot) []EffortTotals {
	bySeverity := make(map[models.Severity]*EffortTotals)
	for _, rec := range snap {
		for _, issue := range rec.Issues {
			sev := models.ParseSeverity(string(issue.Severity))
			t, ok := bySeverity[sev]
			if !ok {
				t = &EffortTotals{Severity: sev}
				bySeverity[sev] = t
			}
			if issue.EffortMinutes != nil {
				t.EffortMinutes += *issue.EffortMinutes
				t.EffortCounted++
			} else {
				t.EffortExcluded++
			}
			if issue.DebtMinutes != nil {
				t.DebtMinutes += *issue.DebtMinutes
				t.DebtCounted++
			} else {
				t.DebtExcluded++
			}
		}
	}

	out := make([]EffortTotals, 0, len(bySeverity))
	for _, t := range bySeverity {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Severity.Rank() < out[j].Severity.Rank()
	})
	return out
}
