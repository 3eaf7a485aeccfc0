// Package discovery reads and writes the repository list produced by the
// discovery step and filters it by popularity and activity thresholds.
package discovery

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"sonarharvest/logger"
	"sonarharvest/models"
)

var (
	// ErrEmptyFile is returned when a discovery file lists no repositories.
	ErrEmptyFile = errors.New("discovery file lists no repositories")
	// ErrDuplicateKey is returned when two repositories share a project key.
	ErrDuplicateKey = errors.New("duplicate analysis project key")
)

// Thresholds are the minimums a repository must meet to be harvested.
// MaxLastCommitYears of zero disables the recency check.
type Thresholds struct {
	MinStars           int `json:"MIN_STARS" yaml:"MIN_STARS"`
	MinForks           int `json:"MIN_FORKS" yaml:"MIN_FORKS"`
	MinCommits         int `json:"MIN_COMMITS" yaml:"MIN_COMMITS"`
	MinWatchers        int `json:"MIN_WATCHERS" yaml:"MIN_WATCHERS"`
	MinOpenIssues      int `json:"MIN_OPEN_ISSUES" yaml:"MIN_OPEN_ISSUES"`
	MinContributors    int `json:"MIN_CONTRIBUTORS" yaml:"MIN_CONTRIBUTORS"`
	MaxLastCommitYears int `json:"MAX_LAST_COMMIT_YEARS" yaml:"MAX_LAST_COMMIT_YEARS"`
}

// File is the wrapped discovery document.
type File struct {
	TotalRepositories int                 `json:"totalRepositories" yaml:"totalRepositories"`
	Settings          *Thresholds         `json:"settings,omitempty" yaml:"settings,omitempty"`
	Repositories      []models.Repository `json:"repositories" yaml:"repositories"`
}

type format int

const (
	formatJSON format = iota
	formatYAML
)

func formatOf(path string) format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return formatYAML
	default:
		return formatJSON
	}
}

// Load reads a discovery file. Both a bare list of repositories and the
// wrapped File document are accepted, as JSON or YAML by file extension.
func Load(path string) ([]models.Repository, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read discovery file: %w", err)
	}

	repos, err := decode(data, formatOf(path))
	if err != nil {
		return nil, fmt.Errorf("failed to parse discovery file %s: %w", path, err)
	}
	if len(repos) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyFile, path)
	}

	seen := make(map[string]bool, len(repos))
	for i := range repos {
		if repos[i].ProjectKey == "" {
			repos[i].ProjectKey = DefaultProjectKey(repos[i])
		}
		if repos[i].ProjectKey == "" {
			return nil, fmt.Errorf("repository %d has neither a project key nor a name", i)
		}
		if seen[repos[i].ProjectKey] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateKey, repos[i].ProjectKey)
		}
		seen[repos[i].ProjectKey] = true
	}

	logger.Info("Loaded repositories", zap.String("file", path), zap.Int("count", len(repos)))
	return repos, nil
}

func decode(data []byte, f format) ([]models.Repository, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if f == formatYAML {
		var node yaml.Node
		if err := yaml.Unmarshal(trimmed, &node); err != nil {
			return nil, err
		}
		if len(node.Content) > 0 && node.Content[0].Kind == yaml.SequenceNode {
			var repos []models.Repository
			err := node.Decode(&repos)
			return repos, err
		}
		var file File
		err := node.Decode(&file)
		return file.Repositories, err
	}

	if trimmed[0] == '[' {
		var repos []models.Repository
		err := json.Unmarshal(trimmed, &repos)
		return repos, err
	}
	var file File
	err := json.Unmarshal(trimmed, &file)
	return file.Repositories, err
}

// DefaultProjectKey derives an analysis project key from owner and name.
func DefaultProjectKey(repo models.Repository) string {
	if repo.Name == "" {
		return ""
	}
	if repo.Owner == "" {
		return repo.Name
	}
	return repo.Owner + "_" + repo.Name
}

// Filter keeps the repositories meeting every threshold, in input order.
func Filter(repos []models.Repository, t Thresholds, now time.Time) []models.Repository {
	var kept []models.Repository
	for _, r := range repos {
		if t.Accepts(r, now) {
			kept = append(kept, r)
		}
	}
	return kept
}

// Accepts reports whether repo meets every threshold.
func (t Thresholds) Accepts(repo models.Repository, now time.Time) bool {
	if t.MaxLastCommitYears > 0 {
		if repo.LastCommitDate.IsZero() {
			return false
		}
		if now.Year()-repo.LastCommitDate.Year() > t.MaxLastCommitYears {
			return false
		}
	}
	return repo.Stars >= t.MinStars &&
		repo.Forks >= t.MinForks &&
		repo.Commits >= t.MinCommits &&
		repo.Watchers >= t.MinWatchers &&
		repo.OpenIssues >= t.MinOpenIssues &&
		repo.Contributors >= t.MinContributors
}

// Write stores repos as a wrapped File, with the thresholds that produced
// them, as JSON or YAML by file extension.
func Write(path string, repos []models.Repository, settings *Thresholds) error {
	file := File{
		TotalRepositories: len(repos),
		Settings:          settings,
		Repositories:      repos,
	}

	var (
		data []byte
		err  error
	)
	if formatOf(path) == formatYAML {
		data, err = yaml.Marshal(file)
	} else {
		data, err = json.MarshalIndent(file, "", "    ")
	}
	if err != nil {
		return fmt.Errorf("failed to encode discovery file: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write discovery file: %w", err)
	}
	return nil
}
