package models

import "strings"

// Severity is the analysis service's issue severity.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityMinor    Severity = "MINOR"
	SeverityMajor    Severity = "MAJOR"
	SeverityCritical Severity = "CRITICAL"
	SeverityBlocker  Severity = "BLOCKER"
	SeverityUnknown  Severity = "UNKNOWN"
)

// Severities lists every severity in declaration order.
var Severities = []Severity{
	SeverityInfo,
	SeverityMinor,
	SeverityMajor,
	SeverityCritical,
	SeverityBlocker,
	SeverityUnknown,
}

// ParseSeverity maps a raw severity string onto a known value.
// Anything unrecognised becomes SeverityUnknown.
func ParseSeverity(raw string) Severity {
	s := Severity(strings.ToUpper(strings.TrimSpace(raw)))
	switch s {
	case SeverityInfo, SeverityMinor, SeverityMajor, SeverityCritical, SeverityBlocker:
		return s
	default:
		return SeverityUnknown
	}
}

// Rank returns the declaration index of the severity.
func (s Severity) Rank() int {
	for i, v := range Severities {
		if v == s {
			return i
		}
	}
	return len(Severities) - 1
}

// UnmarshalText normalises decoded values so unknown strings never leak through.
func (s *Severity) UnmarshalText(text []byte) error {
	*s = ParseSeverity(string(text))
	return nil
}
