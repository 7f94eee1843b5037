// Package analysis runs the rule catalog over a source text and scores the
// result.
package analysis

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sprite-ai/revpad/internal/model"
	"github.com/sprite-ai/revpad/internal/rules"
)

// Penalties subtracted from the score per issue.
const (
	ErrorPenalty   = 15
	WarningPenalty = 5
	InfoPenalty    = 1

	MaxScore = 100
)

// UnsupportedLanguageError is returned for a language the catalog has no
// rules for.
type UnsupportedLanguageError struct {
	Language model.Language
}

func (e *UnsupportedLanguageError) Error() string {
	return fmt.Sprintf("unsupported language %q", string(e.Language))
}

// Analyzer runs a catalog with an optional set of disabled rules. The zero
// value uses the built-in catalog with every rule enabled. An Analyzer holds
// no per-call state and is safe for concurrent use.
type Analyzer struct {
	Catalog  *rules.Catalog
	Disabled map[string]bool
}

// New returns an analyzer over the built-in catalog with the given rules
// disabled.
func New(disabled []string) *Analyzer {
	a := &Analyzer{Catalog: rules.Default()}
	if len(disabled) > 0 {
		a.Disabled = make(map[string]bool, len(disabled))
		for _, id := range disabled {
			a.Disabled[id] = true
		}
	}
	return a
}

// Analyze reviews source with the built-in catalog.
func Analyze(source string, lang model.Language) (model.ReviewResult, error) {
	var a Analyzer
	return a.Analyze(source, lang)
}

// Analyze reviews source in the given language.
func (a *Analyzer) Analyze(source string, lang model.Language) (model.ReviewResult, error) {
	return a.AnalyzeContext(context.Background(), source, lang)
}

// AnalyzeContext is Analyze with a context checked between rules. When ctx is
// done the analysis stops and ctx.Err() is returned.
func (a *Analyzer) AnalyzeContext(ctx context.Context, source string, lang model.Language) (model.ReviewResult, error) {
	catalog := a.Catalog
	if catalog == nil {
		catalog = rules.Default()
	}

	rs := catalog.For(lang)
	if len(rs) == 0 {
		return model.ReviewResult{}, &UnsupportedLanguageError{Language: lang}
	}

	src := rules.NewSource(source, lang)
	n := src.Lines()

	var found []ranked
	for order, r := range rs {
		if err := ctx.Err(); err != nil {
			return model.ReviewResult{}, err
		}
		if a.Disabled[r.ID] {
			continue
		}
		for _, m := range r.Match(src) {
			if m.Line < 1 || m.Line > n {
				continue
			}
			found = append(found, ranked{issue: r.Issue(m), order: order})
		}
	}

	sort.SliceStable(found, func(i, j int) bool {
		a, b := found[i], found[j]
		if a.issue.Line != b.issue.Line {
			return a.issue.Line < b.issue.Line
		}
		if a.issue.Severity != b.issue.Severity {
			return a.issue.Severity > b.issue.Severity
		}
		return a.order < b.order
	})

	issues := make([]model.Issue, len(found))
	for i, f := range found {
		issues[i] = f.issue
	}
	return Result(issues), nil
}

// ranked carries the catalog position of the rule that produced an issue.
type ranked struct {
	issue model.Issue
	order int
}

// Result derives the score and summary for an already ordered issue list.
func Result(issues []model.Issue) model.ReviewResult {
	if issues == nil {
		issues = []model.Issue{}
	}
	r := model.ReviewResult{Issues: issues}
	counts := r.Counts()
	r.Score = Score(counts)
	r.Summary = Summary(counts, r.Score)
	return r
}

// Score is MaxScore minus the penalty of every issue, floored at 0.
func Score(c model.SeverityCounts) int {
	s := MaxScore - (ErrorPenalty*c.Errors + WarningPenalty*c.Warnings + InfoPenalty*c.Infos)
	if s < 0 {
		return 0
	}
	return s
}

// Tier names the score band.
func Tier(score int) string {
	switch {
	case score >= 85:
		return "minor issues"
	case score >= 50:
		return "needs attention"
	default:
		return "major issues"
	}
}

// Summary renders a one-line description of the counts, e.g.
// "1 error, 2 warnings; score 75: needs attention".
func Summary(c model.SeverityCounts, score int) string {
	if c.Total() == 0 {
		return "no issues"
	}
	var parts []string
	if c.Errors > 0 {
		parts = append(parts, plural(c.Errors, "error"))
	}
	if c.Warnings > 0 {
		parts = append(parts, plural(c.Warnings, "warning"))
	}
	if c.Infos > 0 {
		parts = append(parts, fmt.Sprintf("%d info", c.Infos))
	}
	return fmt.Sprintf("%s; score %d: %s", strings.Join(parts, ", "), score, Tier(score))
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
