// Package model defines the core data types shared across revpad.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Language selects which rule subset applies to a source text.
type Language string

const (
	LanguageJavaScript Language = "javascript"
	LanguagePython     Language = "python"
	LanguageHTML       Language = "html"
	LanguageCSS        Language = "css"
	LanguageJSON       Language = "json"
)

var languages = []Language{
	LanguageJavaScript,
	LanguagePython,
	LanguageHTML,
	LanguageCSS,
	LanguageJSON,
}

// Languages returns the supported languages in declaration order.
func Languages() []Language {
	out := make([]Language, len(languages))
	copy(out, languages)
	return out
}

// Valid reports whether l is one of the supported languages.
func (l Language) Valid() bool {
	for _, known := range languages {
		if l == known {
			return true
		}
	}
	return false
}

func (l Language) String() string {
	return string(l)
}

// Severity orders issues by importance. Higher values are more severe.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// ParseSeverity converts a severity name back into a Severity.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info":
		return SeverityInfo, nil
	case "warning", "warn":
		return SeverityWarning, nil
	case "error":
		return SeverityError, nil
	default:
		return SeverityInfo, fmt.Errorf("unknown severity %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	if s < SeverityInfo || s > SeverityError {
		return nil, fmt.Errorf("invalid severity %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Issue is a single located finding produced by one rule match.
type Issue struct {
	Line       int      `json:"line"`
	Severity   Severity `json:"severity"`
	Message    string   `json:"message"`
	Suggestion string   `json:"suggestion,omitempty"`
	Rule       string   `json:"rule"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%d: [%s] %s (%s)", i.Line, i.Severity, i.Message, i.Rule)
}

// SeverityCounts holds issue counts by severity.
type SeverityCounts struct {
	Errors   int `json:"errors"`
	Warnings int `json:"warnings"`
	Infos    int `json:"infos"`
}

// Total returns the number of counted issues.
func (c SeverityCounts) Total() int {
	return c.Errors + c.Warnings + c.Infos
}

// ReviewResult is the outcome of analysing one source text.
type ReviewResult struct {
	Issues  []Issue `json:"issues"`
	Score   int     `json:"score"`
	Summary string  `json:"summary"`
}

// Counts returns the issue counts by severity.
func (r ReviewResult) Counts() SeverityCounts {
	var c SeverityCounts
	for _, is := range r.Issues {
		switch is.Severity {
		case SeverityError:
			c.Errors++
		case SeverityWarning:
			c.Warnings++
		default:
			c.Infos++
		}
	}
	return c
}

// MaxSeverity returns the highest severity among the issues and false when
// there are none.
func (r ReviewResult) MaxSeverity() (Severity, bool) {
	if len(r.Issues) == 0 {
		return SeverityInfo, false
	}
	max := SeverityInfo
	for _, is := range r.Issues {
		if is.Severity > max {
			max = is.Severity
		}
	}
	return max, true
}

// CodeReview is a persisted snapshot of an analysed source and its result.
type CodeReview struct {
	ID        string       `json:"id"`
	Code      string       `json:"code"`
	Language  Language     `json:"language"`
	Result    ReviewResult `json:"result"`
	Timestamp time.Time    `json:"timestamp"`
}
