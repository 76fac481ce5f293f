// Package models defines data structures for state tokens, verdicts, feature
// vectors, predictions and alerts.
package models

import (
	"fmt"
	"strings"
)

// Severity is an ordered threat level. The zero value is SeverityNone.
type Severity int

// Severity levels, lowest first.
const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = [...]string{
	SeverityNone:     "none",
	SeverityLow:      "low",
	SeverityMedium:   "medium",
	SeverityHigh:     "high",
	SeverityCritical: "critical",
}

// String returns the lowercase name of the level.
func (s Severity) String() string {
	if s < SeverityNone || s > SeverityCritical {
		return fmt.Sprintf("severity(%d)", int(s))
	}
	return severityNames[s]
}

// ParseSeverity maps a level name to its Severity.
func ParseSeverity(name string) (Severity, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for i, s := range severityNames {
		if s == n {
			return Severity(i), nil
		}
	}
	return SeverityNone, fmt.Errorf("unknown severity %q", name)
}

// Compare returns -1, 0 or +1 depending on whether s is lower than, equal to
// or higher than other.
func (s Severity) Compare(other Severity) int {
	switch {
	case s < other:
		return -1
	case s > other:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether s is the same as or higher than min.
func (s Severity) AtLeast(min Severity) bool {
	return s.Compare(min) >= 0
}

// MaxSeverity returns the highest of the given levels, or SeverityNone.
func MaxSeverity(levels ...Severity) Severity {
	out := SeverityNone
	for _, l := range levels {
		if l.Compare(out) > 0 {
			out = l
		}
	}
	return out
}

// MarshalText encodes the level as its name.
func (s Severity) MarshalText() ([]byte, error) {
	if s < SeverityNone || s > SeverityCritical {
		return nil, fmt.Errorf("invalid severity %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a level name.
func (s *Severity) UnmarshalText(text []byte) error {
	v, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Max returns the higher of s and other.
func (s Severity) Max(other Severity) Severity {
	if other.Compare(s) > 0 {
		return other
	}
	return s
}
