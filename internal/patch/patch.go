// Package patch reviews the lines a unified diff adds.
//
// Each hunk's new side is rebuilt from its context and added lines and
// analysed on its own; only issues that land on added lines are kept, and
// their line numbers are translated to the new file. Rules that need the
// whole document are run only for files the diff creates, since a hunk is
// never a complete document otherwise.
package patch

import (
	"context"
	"log/slog"
	"runtime"
	"sort"
	"strings"

	"github.com/bluekeyes/go-gitdiff/gitdiff"
	"golang.org/x/sync/errgroup"

	"github.com/sprite-ai/revpad/internal/analysis"
	"github.com/sprite-ai/revpad/internal/diff"
	"github.com/sprite-ai/revpad/internal/logging"
	"github.com/sprite-ai/revpad/internal/model"
	"github.com/sprite-ai/revpad/internal/rules"
)

// FileReview is the review of one file in the diff.
type FileReview struct {
	Path     string             `json:"path"`
	Language model.Language     `json:"language,omitempty"`
	Result   model.ReviewResult `json:"result"`
	// Skipped explains why the file was not analysed.
	Skipped string `json:"skipped,omitempty"`
}

// Report is the review of a whole diff.
type Report struct {
	Files  []FileReview         `json:"files"`
	Counts model.SeverityCounts `json:"counts"`
}

// Issues returns the number of issues across all files.
func (r *Report) Issues() int {
	return r.Counts.Total()
}

// MaxSeverity returns the highest severity found, and false when the diff is
// clean.
func (r *Report) MaxSeverity() (model.Severity, bool) {
	var (
		max   model.Severity
		found bool
	)
	for _, f := range r.Files {
		if s, ok := f.Result.MaxSeverity(); ok && (!found || s > max) {
			max, found = s, true
		}
	}
	return max, found
}

// Reviewer analyses diffs.
type Reviewer struct {
	Analyzer *analysis.Analyzer
	// Concurrency bounds the files analysed at once. Zero uses GOMAXPROCS.
	Concurrency int
	Logger      *slog.Logger
}

// Review analyses every file of ds. Files are reviewed concurrently; the
// report lists them sorted by name.
func (r *Reviewer) Review(ctx context.Context, ds *diff.DiffSet) (*Report, error) {
	base := r.Analyzer
	if base == nil {
		base = &analysis.Analyzer{}
	}
	logger := r.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	limit := r.Concurrency
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}

	files := make([]FileReview, len(ds.Files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, f := range ds.Files {
		g.Go(func() error {
			fr, err := reviewFile(gctx, base, f)
			if err != nil {
				return err
			}
			if fr.Skipped != "" {
				logger.Debug("file skipped", "path", fr.Path, "reason", fr.Skipped)
			}
			files[i] = fr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})
	report := &Report{Files: files}
	for _, f := range files {
		c := f.Result.Counts()
		report.Counts.Errors += c.Errors
		report.Counts.Warnings += c.Warnings
		report.Counts.Infos += c.Infos
	}
	return report, nil
}

func reviewFile(ctx context.Context, base *analysis.Analyzer, f *diff.File) (FileReview, error) {
	fr := FileReview{Path: f.Name(), Result: analysis.Result(nil)}

	switch {
	case f.IsDeleted:
		fr.Skipped = "deleted"
		return fr, nil
	case f.IsBinary:
		fr.Skipped = "binary"
		return fr, nil
	}
	lang, ok := f.Language()
	if !ok {
		fr.Skipped = "unsupported language"
		return fr, nil
	}
	fr.Language = lang

	a := base
	if !f.IsNew {
		a = withoutDocumentRules(base, lang)
	}

	var issues []model.Issue
	for _, frag := range f.Fragments {
		found, err := reviewFragment(ctx, a, lang, frag)
		if err != nil {
			return FileReview{}, err
		}
		issues = append(issues, found...)
	}

	sort.SliceStable(issues, func(i, j int) bool {
		return issues[i].Line < issues[j].Line
	})
	fr.Result = analysis.Result(issues)
	return fr, nil
}

// reviewFragment analyses the new side of one hunk and returns the issues on
// its added lines, numbered as in the new file.
func reviewFragment(ctx context.Context, a *analysis.Analyzer, lang model.Language, frag *gitdiff.TextFragment) ([]model.Issue, error) {
	var (
		text    strings.Builder
		newLine []int
		added   []bool
	)
	line := int(frag.NewPosition)
	if line < 1 {
		line = 1
	}
	for _, l := range frag.Lines {
		if l.Op == gitdiff.OpDelete {
			continue
		}
		text.WriteString(l.Line)
		if !strings.HasSuffix(l.Line, "\n") {
			text.WriteByte('\n')
		}
		newLine = append(newLine, line)
		added = append(added, l.Op == gitdiff.OpAdd)
		line++
	}
	if len(newLine) == 0 {
		return nil, nil
	}

	res, err := a.AnalyzeContext(ctx, text.String(), lang)
	if err != nil {
		return nil, err
	}

	var out []model.Issue
	for _, is := range res.Issues {
		idx := is.Line - 1
		if idx < 0 || idx >= len(newLine) || !added[idx] {
			continue
		}
		is.Line = newLine[idx]
		out = append(out, is)
	}
	return out, nil
}

// withoutDocumentRules returns an analyzer that also skips the
// document-scope rules of lang.
func withoutDocumentRules(base *analysis.Analyzer, lang model.Language) *analysis.Analyzer {
	catalog := base.Catalog
	if catalog == nil {
		catalog = rules.Default()
	}
	disabled := make(map[string]bool, len(base.Disabled))
	for id, off := range base.Disabled {
		disabled[id] = off
	}
	for _, r := range catalog.For(lang) {
		if r.Scope == rules.ScopeDocument {
			disabled[r.ID] = true
		}
	}
	return &analysis.Analyzer{Catalog: catalog, Disabled: disabled}
}
