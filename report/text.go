package report

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"sonarharvest/aggregate"
	"sonarharvest/models"
)

var severityColors = map[models.Severity]*color.Color{
	models.SeverityBlocker:  color.New(color.FgRed, color.Bold),
	models.SeverityCritical: color.New(color.FgMagenta, color.Bold),
	models.SeverityMajor:    color.New(color.FgYellow),
	models.SeverityMinor:    color.New(color.FgCyan),
	models.SeverityInfo:     color.New(color.FgWhite),
}

func severityLabel(s models.Severity) string {
	if c, ok := severityColors[s]; ok {
		return c.Sprint(string(s))
	}
	return string(s)
}

func count(n int) string {
	return humanize.Comma(int64(n))
}

func percent(share float64) string {
	return humanize.FtoaWithDigits(share*100, 1) + "%"
}

func decimal(v float64) string {
	return humanize.FtoaWithDigits(v, 2)
}

func minutes(m int64) string {
	if m < models.MinutesPerDay {
		return humanize.Comma(m) + " min"
	}
	return fmt.Sprintf("%s min (%sd)", humanize.Comma(m), humanize.FtoaWithDigits(float64(m)/models.MinutesPerDay, 1))
}

type section struct {
	title   string
	headers []string
	rows    [][]string
}

func renderSection(w io.Writer, s section) error {
	if _, err := fmt.Fprintf(w, "\n%s\n", s.title); err != nil {
		return err
	}
	if len(s.rows) == 0 {
		_, err := fmt.Fprintln(w, "(none)")
		return err
	}

	table := tablewriter.NewWriter(w)
	table.Header(s.headers)
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignRight
	})
	if err := table.Bulk(s.rows); err != nil {
		return err
	}
	return table.Render()
}

func writeText(w io.Writer, s aggregate.Summary) error {
	if _, err := fmt.Fprintf(w, "Repositories: %s  Issues: %s  Failures: %s\n",
		count(s.Repositories), count(s.TotalIssues), count(len(s.Failures))); err != nil {
		return err
	}

	sections := []section{
		severitySection(s),
		ruleSection(s),
		componentSection(s),
		effortSection(s),
		ratioSection("Issues per 1000 lines", s.Density),
		ratioSection("Issues per complexity point", s.ComplexityRatio),
		metricSection(s),
		correlationSection(s),
		failureSection(s),
	}
	for _, sec := range sections {
		if err := renderSection(w, sec); err != nil {
			return err
		}
	}
	return nil
}

func severitySection(s aggregate.Summary) section {
	sec := section{title: "Severities", headers: []string{"Severity", "Issues", "Share"}}
	for _, c := range s.Severities {
		share := 0.0
		if s.TotalIssues > 0 {
			share = float64(c.Count) / float64(s.TotalIssues)
		}
		sec.rows = append(sec.rows, []string{severityLabel(c.Severity), count(c.Count), percent(share)})
	}
	return sec
}

func ruleSection(s aggregate.Summary) section {
	h := s.Rules
	title := fmt.Sprintf("Rules (%s of %s distinct, %s of %s issues)",
		count(len(h.Buckets)), count(h.Distinct), count(h.Covered), count(h.Total))
	sec := section{title: title, headers: []string{"Rank", "Rule", "Issues", "Share"}}
	for i, b := range h.Buckets {
		sec.rows = append(sec.rows, []string{count(i + 1), b.Key, count(b.Count), percent(b.Share)})
	}
	return sec
}

func componentSection(s aggregate.Summary) section {
	sec := section{title: "Components", headers: []string{"Rank", "Project", "File", "Issues"}}
	for i, c := range s.Components {
		sec.rows = append(sec.rows, []string{count(i + 1), c.Component.Project, c.Component.File, count(c.Count)})
	}
	return sec
}

func effortSection(s aggregate.Summary) section {
	sec := section{title: "Remediation effort", headers: []string{"Severity", "Effort", "Excluded", "Debt", "Excluded"}}
	for _, e := range s.Effort {
		sec.rows = append(sec.rows, []string{
			severityLabel(e.Severity),
			minutes(e.EffortMinutes), count(e.EffortExcluded),
			minutes(e.DebtMinutes), count(e.DebtExcluded),
		})
	}
	return sec
}

func ratioSection(title string, t aggregate.RatioTable) section {
	if len(t.Excluded) > 0 {
		title = fmt.Sprintf("%s (%s without %s)", title, count(len(t.Excluded)), t.Metric)
	}
	sec := section{title: title, headers: []string{"Project", "Issues", t.Metric, "Ratio"}}
	for _, r := range t.Rows {
		sec.rows = append(sec.rows, []string{r.ProjectKey, count(r.Issues), decimal(r.Metric), decimal(r.Value)})
	}
	return sec
}

func metricSection(s aggregate.Summary) section {
	names := make(map[string]bool)
	for _, r := range s.Metrics {
		for m := range r.Values {
			names[m] = true
		}
	}
	metrics := make([]string, 0, len(names))
	for m := range names {
		metrics = append(metrics, m)
	}
	sort.Strings(metrics)

	sec := section{title: "Metrics", headers: append([]string{"Project", "Issues"}, metrics...)}
	for _, r := range s.Metrics {
		key := r.ProjectKey
		if r.Partial {
			key += " (partial)"
		}
		row := []string{key, count(r.Issues)}
		for _, m := range metrics {
			if v, ok := r.Values[m]; ok {
				row = append(row, decimal(v))
			} else {
				row = append(row, "-")
			}
		}
		sec.rows = append(sec.rows, row)
	}
	return sec
}

func correlationSection(s aggregate.Summary) section {
	sec := section{title: "Correlation with issue count", headers: []string{"Metric", "Repositories", "Pearson r"}}
	for _, c := range s.Correlations {
		r := "undefined"
		if c.Defined() {
			r = humanize.FtoaWithDigits(*c.Coefficient, 3)
		}
		sec.rows = append(sec.rows, []string{c.Metric, count(c.N), r})
	}
	return sec
}

func failureSection(s aggregate.Summary) section {
	sec := section{title: "Failures", headers: []string{"Project", "Stage", "Page", "Fetched", "Error"}}
	for _, f := range s.Failures {
		msg := f.Error
		if f.Partial && msg == "" {
			msg = fmt.Sprintf("partial: %d of %d issues", f.Fetched, f.Declared)
		}
		sec.rows = append(sec.rows, []string{
			f.ProjectKey, f.Stage, pageLabel(f.Page), count(f.Fetched), strings.TrimSpace(msg),
		})
	}
	return sec
}

func pageLabel(page int) string {
	if page == 0 {
		return "-"
	}
	return count(page)
}
