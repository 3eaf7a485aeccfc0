// Package report renders a run summary as JSON, YAML or text tables and
// exports harvested issues to Parquet.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"sonarharvest/aggregate"
)

// Output formats
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatText = "text"
)

// Write renders s to w in the given format.
func Write(w io.Writer, s aggregate.Summary, format string) error {
	switch format {
	case FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(s); err != nil {
			return fmt.Errorf("error writing JSON output: %w", err)
		}
		return nil
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(s); err != nil {
			return fmt.Errorf("error writing YAML output: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("error writing YAML output: %w", err)
		}
		return nil
	case FormatText:
		if err := writeText(w, s); err != nil {
			return fmt.Errorf("error writing table output: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

// WriteFile renders s to path, or to stdout when path is empty.
func WriteFile(path string, s aggregate.Summary, format string) error {
	if path == "" {
		return Write(os.Stdout, s, format)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := Write(file, s, format); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}
