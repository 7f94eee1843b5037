package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/sajari/fuzzy"
	"github.com/spf13/cobra"

	"github.com/sprite-ai/revpad/internal/export"
	"github.com/sprite-ai/revpad/internal/model"
	"github.com/sprite-ai/revpad/internal/rules"
	"github.com/sprite-ai/revpad/internal/worker"
)

func newAnalyzeCmd(a *app) *cobra.Command {
	var (
		lang   string
		format string
		failOn string
		output string
		save   bool
	)

	cmd := &cobra.Command{
		Use:   "analyze [file|-]",
		Short: "Review a source file and print the report",
		Long: `Review a single source file and print its issues, score and summary.
Reads standard input when the file is "-" or omitted.

Exit codes:
  0  no issues at or above --fail-on
  1  issues at or above --fail-on found
  2  the review could not be run`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := "-"
			if len(args) == 1 {
				name = args[0]
			}

			threshold, enabled, err := parseFailOn(failOn)
			if err != nil {
				return err
			}
			if _, err := export.Get(format); err != nil {
				return err
			}
			language, err := resolveLanguage(lang, name)
			if err != nil {
				return err
			}
			src, err := readSource(cmd.InOrStdin(), name, a.cfg.Analysis.MaxSourceBytes)
			if err != nil {
				return err
			}

			o, err := a.analyzeOnce(cmd.Context(), worker.Request{Source: src, Language: language})
			if err != nil {
				return err
			}
			a.logger.Debug("analysis finished", "file", name, "issues", len(o.Result.Issues), "elapsed", o.Elapsed)

			if save {
				id, err := a.saveReview(cmd.Context(), model.CodeReview{Code: src, Language: language, Result: o.Result})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Saved review %s\n", id)
			}

			doc := export.Document{
				Title:     displayName(name),
				Language:  language,
				Code:      src,
				Result:    o.Result,
				Timestamp: time.Now(),
			}
			if err := writeDocument(cmd.OutOrStdout(), doc, format, output); err != nil {
				return err
			}
			return failOnIssues(o.Result, threshold, enabled)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&lang, "lang", "l", "", "language: javascript, python, html, css, json (default from the file extension)")
	f.StringVarP(&format, "format", "f", "text", "output format: "+strings.Join(export.Formats(), ", "))
	f.StringVar(&failOn, "fail-on", "warning", "lowest severity that exits 1: info, warning, error, none")
	f.StringVarP(&output, "output", "o", "", "write the report to a file instead of stdout")
	f.BoolVar(&save, "save", false, "save the review to the store")
	return cmd
}

// readSource reads name, or stdin for "-", refusing sources over max bytes.
func readSource(stdin io.Reader, name string, max int) (string, error) {
	var r io.Reader = stdin
	if name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return "", err
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(io.LimitReader(r, int64(max)+1))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", displayName(name), err)
	}
	if len(data) > max {
		return "", fmt.Errorf("%s exceeds the %d byte source limit", displayName(name), max)
	}
	return string(data), nil
}

func displayName(name string) string {
	if name == "-" {
		return "stdin"
	}
	return filepath.Base(name)
}

var languageAliases = map[string]model.Language{
	"js":  model.LanguageJavaScript,
	"mjs": model.LanguageJavaScript,
	"py":  model.LanguagePython,
	"htm": model.LanguageHTML,
}

// resolveLanguage picks the language from the flag, or from the file name
// when the flag is empty.
func resolveLanguage(flag, name string) (model.Language, error) {
	if flag == "" {
		if name == "-" {
			return "", fmt.Errorf("cannot infer the language of stdin; use --lang")
		}
		lang, ok := rules.DetectLanguage(name)
		if !ok {
			return "", fmt.Errorf("cannot infer the language of %s; use --lang", name)
		}
		return lang, nil
	}

	v := strings.ToLower(strings.TrimSpace(flag))
	if lang := model.Language(v); lang.Valid() {
		return lang, nil
	}
	if lang, ok := languageAliases[v]; ok {
		return lang, nil
	}

	msg := fmt.Sprintf("unsupported language %q", flag)
	if s := suggestLanguage(v); s != "" {
		msg += fmt.Sprintf("; did you mean %q?", s)
	}
	return "", fmt.Errorf("%s", msg)
}

// suggestLanguage returns the closest supported language name, or "".
func suggestLanguage(word string) string {
	m := fuzzy.NewModel()
	m.SetThreshold(1)
	words := make([]string, 0, len(model.Languages()))
	for _, l := range model.Languages() {
		words = append(words, string(l))
	}
	m.Train(words)

	if s := m.Suggestions(word, false); len(s) > 0 {
		return s[0]
	}
	return ""
}

// parseFailOn parses the --fail-on value. enabled is false for "none".
func parseFailOn(v string) (threshold model.Severity, enabled bool, err error) {
	if strings.EqualFold(v, "none") {
		return 0, false, nil
	}
	s, err := model.ParseSeverity(v)
	if err != nil {
		return 0, false, fmt.Errorf("--fail-on: %w", err)
	}
	return s, true, nil
}

// failOnIssues returns an ExitIssues error when res has an issue at or above
// threshold.
func failOnIssues(res model.ReviewResult, threshold model.Severity, enabled bool) error {
	if !enabled {
		return nil
	}
	if max, ok := res.MaxSeverity(); ok && max >= threshold {
		return &exitError{code: ExitIssues}
	}
	return nil
}

// writeDocument renders doc to path, or to out when path is empty. Text
// output to a terminal is coloured unless NO_COLOR is set.
func writeDocument(out io.Writer, doc export.Document, format, path string) error {
	if path != "" {
		return export.WriteFile(doc, format, path)
	}
	var w export.Writer
	if strings.EqualFold(format, "text") || format == "" {
		w = &export.TextWriter{Color: colorEnabled(out)}
	} else {
		var err error
		if w, err = export.Get(format); err != nil {
			return err
		}
	}
	return w.Write(out, doc)
}

func colorEnabled(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isTerminal(w)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
