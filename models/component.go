package models

import "strings"

const (
	// NamespaceSeparator splits the project prefix from the in-project path.
	NamespaceSeparator = ":"
	pathSeparator      = "/"
)

// NormalizedComponent identifies a file independently of how the service
// prefixed its component key.
type NormalizedComponent struct {
	Project string `json:"project" yaml:"project"`
	File    string `json:"file" yaml:"file"`
}

// NormalizeComponent splits a raw component key such as "proj:lib/a/b.dart"
// into (proj, b.dart). A key without a namespace separator is used for both
// fields.
func NormalizeComponent(raw string) NormalizedComponent {
	project, rest, found := strings.Cut(raw, NamespaceSeparator)
	if !found {
		return NormalizedComponent{Project: raw, File: raw}
	}
	if i := strings.LastIndex(rest, pathSeparator); i >= 0 {
		rest = rest[i+1:]
	}
	return NormalizedComponent{Project: project, File: rest}
}

// String encodes the component as "project:file".
func (c NormalizedComponent) String() string {
	if c.Project == c.File {
		return c.Project
	}
	return c.Project + NamespaceSeparator + c.File
}
