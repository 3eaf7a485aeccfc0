package discovery

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sonarharvest/models"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	testCases := []struct {
		name     string
		file     string
		content  string
		expected []string
		wantErr  error
	}{
		{
			name: "bare json list",
			file: "repos.json",
			content: `[
				{"owner": "acme", "name": "widgets", "stars": 10, "analysisProjectKey": "acme_widgets"},
				{"owner": "acme", "name": "gadgets"}
			]`,
			expected: []string{"acme_widgets", "acme_gadgets"},
		},
		{
			name: "wrapped json document",
			file: "filtered.json",
			content: `{
				"totalRepositories": 1,
				"settings": {"MIN_STARS": 5},
				"repositories": [{"owner": "o", "name": "n", "analysisProjectKey": "o:n"}]
			}`,
			expected: []string{"o:n"},
		},
		{
			name: "bare yaml list",
			file: "repos.yaml",
			content: `
- owner: acme
  name: widgets
  stars: 3
  lastCommitDate: 2024-03-01T00:00:00Z
`,
			expected: []string{"acme_widgets"},
		},
		{
			name: "wrapped yaml document",
			file: "repos.yml",
			content: `
totalRepositories: 1
repositories:
  - analysisProjectKey: key1
    name: one
`,
			expected: []string{"key1"},
		},
		{
			name:    "empty file",
			file:    "empty.json",
			content: "  ",
			wantErr: ErrEmptyFile,
		},
		{
			name:    "duplicate keys",
			file:    "dup.json",
			content: `[{"name": "a", "analysisProjectKey": "k"}, {"name": "b", "analysisProjectKey": "k"}]`,
			wantErr: ErrDuplicateKey,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			repos, err := Load(writeFile(t, tc.file, tc.content))
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)

			var keys []string
			for _, r := range repos {
				keys = append(keys, r.ProjectKey)
			}
			assert.Equal(t, tc.expected, keys)
		})
	}
}

func TestLoadMalformed(t *testing.T) {
	_, err := Load(writeFile(t, "bad.json", `{"repositories": [`))
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "nameless.json", `[{"stars": 1}]`))
	assert.Error(t, err)
}

func TestLoadYAMLDates(t *testing.T) {
	repos, err := Load(writeFile(t, "r.yaml", "- name: a\n  lastCommitDate: 2023-05-06T07:08:09Z\n"))
	require.NoError(t, err)
	require.Len(t, repos, 1)
	assert.Equal(t, time.Date(2023, 5, 6, 7, 8, 9, 0, time.UTC), repos[0].LastCommitDate.UTC())
}

func TestFilter(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	repos := []models.Repository{
		{ProjectKey: "popular", Stars: 100, Forks: 10, Commits: 500, Watchers: 20, OpenIssues: 3, Contributors: 8,
			LastCommitDate: time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)},
		{ProjectKey: "stale", Stars: 100, Forks: 10, Commits: 500, Watchers: 20, OpenIssues: 3, Contributors: 8,
			LastCommitDate: time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)},
		{ProjectKey: "tiny", Stars: 1, Forks: 0, Commits: 3, Watchers: 1, Contributors: 1,
			LastCommitDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		{ProjectKey: "undated", Stars: 100, Forks: 10, Commits: 500, Watchers: 20, OpenIssues: 3, Contributors: 8},
	}

	testCases := []struct {
		name       string
		thresholds Thresholds
		expected   []string
	}{
		{"no thresholds keeps everything", Thresholds{}, []string{"popular", "stale", "tiny", "undated"}},
		{"popularity", Thresholds{MinStars: 50, MinForks: 5}, []string{"popular", "stale", "undated"}},
		{"recency", Thresholds{MaxLastCommitYears: 2}, []string{"popular", "tiny"}},
		{"everything", Thresholds{MinStars: 50, MinOpenIssues: 1, MaxLastCommitYears: 1}, []string{"popular"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var keys []string
			for _, r := range Filter(repos, tc.thresholds, now) {
				keys = append(keys, r.ProjectKey)
			}
			assert.Equal(t, tc.expected, keys)
		})
	}
}

func TestWriteThenLoad(t *testing.T) {
	repos := []models.Repository{
		{ProjectKey: "a", Owner: "o", Name: "a", Stars: 4},
		{ProjectKey: "b", Owner: "o", Name: "b", Forks: 2},
	}
	settings := &Thresholds{MinStars: 1}

	for _, name := range []string{"out.json", "out.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, Write(path, repos, settings))

			loaded, err := Load(path)
			require.NoError(t, err)
			require.Len(t, loaded, 2)
			assert.Equal(t, "a", loaded[0].ProjectKey)
			assert.Equal(t, 4, loaded[0].Stars)
			assert.Equal(t, 2, loaded[1].Forks)
		})
	}
}
