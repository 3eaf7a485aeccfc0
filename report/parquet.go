package report

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"

	"sonarharvest/dataset"
	"sonarharvest/models"
)

// IssueRow is one harvested issue with its normalized component, as stored
// in the Parquet export.
type IssueRow struct {
	ProjectKey       string     `parquet:"project_key,snappy,dict"`
	IssueKey         string     `parquet:"issue_key,snappy"`
	Rule             string     `parquet:"rule,snappy,dict"`
	Severity         string     `parquet:"severity,snappy,dict"`
	Component        string     `parquet:"component,snappy"`
	ComponentProject string     `parquet:"component_project,snappy,dict"`
	ComponentFile    string     `parquet:"component_file,snappy"`
	EffortMinutes    *int64     `parquet:"effort_minutes,optional,snappy"`
	DebtMinutes      *int64     `parquet:"debt_minutes,optional,snappy"`
	Status           string     `parquet:"status,snappy,dict"`
	Author           string     `parquet:"author,snappy,dict"`
	Line             int32      `parquet:"line,snappy"`
	CreatedAt        *time.Time `parquet:"created_at,optional,snappy"`
	UpdatedAt        *time.Time `parquet:"updated_at,optional,snappy"`
	Partial          bool       `parquet:"partial,snappy"`
}

// IssueRows flattens snap into export rows ordered by project and issue key.
func IssueRows(snap dataset.Snapshot) []IssueRow {
	rows := make([]IssueRow, 0, snap.TotalIssues())
	for _, rec := range snap {
		for _, issue := range rec.Issues {
			c := models.NormalizeComponent(issue.Component)
			rows = append(rows, IssueRow{
				ProjectKey:       rec.Repository.ProjectKey,
				IssueKey:         issue.Key,
				Rule:             issue.Rule,
				Severity:         string(models.ParseSeverity(string(issue.Severity))),
				Component:        issue.Component,
				ComponentProject: c.Project,
				ComponentFile:    c.File,
				EffortMinutes:    issue.EffortMinutes,
				DebtMinutes:      issue.DebtMinutes,
				Status:           issue.Status,
				Author:           issue.Author,
				Line:             int32(issue.Line),
				CreatedAt:        issue.CreatedAt,
				UpdatedAt:        issue.UpdatedAt,
				Partial:          rec.Partial,
			})
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].ProjectKey != rows[j].ProjectKey {
			return rows[i].ProjectKey < rows[j].ProjectKey
		}
		return rows[i].IssueKey < rows[j].IssueKey
	})
	return rows
}

// WriteIssuesParquet writes every issue in snap to a Parquet file at path
// and returns the number of rows written.
func WriteIssuesParquet(path string, snap dataset.Snapshot) (int, error) {
	rows := IssueRows(snap)

	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() { _ = file.Close() }()

	writer := parquet.NewGenericWriter[IssueRow](file)
	n, err := writer.Write(rows)
	if err != nil {
		_ = writer.Close()
		return n, fmt.Errorf("failed to write data to parquet file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return n, fmt.Errorf("failed to finish parquet file: %w", err)
	}
	return n, file.Close()
}
