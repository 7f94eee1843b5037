package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/revpad/internal/diff"
	"github.com/sprite-ai/revpad/internal/export"
	"github.com/sprite-ai/revpad/internal/patch"
)

func newPatchCmd(a *app) *cobra.Command {
	var (
		format       string
		failOn       string
		contextLines int
		concurrency  int
	)

	cmd := &cobra.Command{
		Use:   "patch [file|-|<range>]",
		Short: "Review the lines a unified diff adds",
		Long: `Review only the lines a change adds. The diff is read from a file, from
stdin ("-"), or from git for a commit range. With no argument the
uncommitted changes against HEAD are reviewed.

Examples:
  revpad patch                     # working tree vs HEAD
  revpad patch HEAD~1..HEAD        # last commit
  git diff main | revpad patch -   # any diff on stdin`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			threshold, enabled, err := parseFailOn(failOn)
			if err != nil {
				return err
			}
			if format != "text" && format != "json" {
				return fmt.Errorf("unsupported output format: %s", format)
			}

			raw, err := loadDiff(cmd, args, contextLines)
			if err != nil {
				return err
			}
			ds, err := diff.Parse(raw)
			if err != nil {
				return fmt.Errorf("parsing diff: %w", err)
			}

			r := &patch.Reviewer{
				Analyzer:    a.analyzer(),
				Concurrency: concurrency,
				Logger:      a.logger,
			}
			report, err := r.Review(cmd.Context(), ds)
			if err != nil {
				return err
			}
			a.logger.Debug("patch reviewed", "files", len(report.Files), "issues", report.Issues())

			out := cmd.OutOrStdout()
			if format == "json" {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				writePatchText(out, ds, report, colorEnabled(out))
			}

			if max, ok := report.MaxSeverity(); enabled && ok && max >= threshold {
				return &exitError{code: ExitIssues}
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&format, "format", "f", "text", "output format: text, json")
	f.StringVar(&failOn, "fail-on", "warning", "lowest severity that exits 1: info, warning, error, none")
	f.IntVarP(&contextLines, "context", "C", 3, "lines of context when reading from git")
	f.IntVarP(&concurrency, "jobs", "j", 0, "files analysed at once (default GOMAXPROCS)")
	return cmd
}

// loadDiff reads the diff named by args: stdin, a file, a git range, or the
// working tree.
func loadDiff(cmd *cobra.Command, args []string, contextLines int) (string, error) {
	if len(args) == 0 {
		return diff.GitDiffWorktree(cmd.Context(), ".", contextLines)
	}
	arg := args[0]
	if arg == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), nil
	}
	if fi, err := os.Stat(arg); err == nil && !fi.IsDir() {
		data, err := os.ReadFile(arg)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	return diff.GitDiffRange(cmd.Context(), ".", arg, contextLines)
}

func writePatchText(out io.Writer, ds *diff.DiffSet, report *patch.Report, color bool) {
	if files, added, deleted := ds.Stats(); files > 0 {
		fmt.Fprintf(out, "%d file(s) changed, +%d -%d\n\n", files, added, deleted)
	}
	for _, f := range report.Files {
		if f.Skipped != "" {
			fmt.Fprintf(out, "%s: skipped (%s)\n", f.Path, f.Skipped)
			continue
		}
		fmt.Fprintf(out, "%s (%s): %s\n", f.Path, f.Language, f.Result.Summary)
		for _, is := range f.Result.Issues {
			label := export.SeverityIcon(is.Severity) + " " + is.Severity.String()
			if color {
				label = export.SeverityStyle(is.Severity).Render(label)
			}
			fmt.Fprintf(out, "  %4d  %s  %s [%s]\n", is.Line, label, is.Message, is.Rule)
		}
	}

	if len(report.Files) == 0 {
		fmt.Fprintln(out, "No changes to review.")
		return
	}
	fmt.Fprintln(out, strings.Repeat("─", 60))
	c := report.Counts
	fmt.Fprintf(out, "%d file(s), %d error(s), %d warning(s), %d info\n", len(report.Files), c.Errors, c.Warnings, c.Infos)
}
