package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/revpad/internal/export"
	"github.com/sprite-ai/revpad/internal/logging"
	"github.com/sprite-ai/revpad/internal/model"
	"github.com/sprite-ai/revpad/internal/tui"
	"github.com/sprite-ai/revpad/internal/worker"
)

func newReviewCmd(a *app) *cobra.Command {
	var (
		lang   string
		noSave bool
		plain  bool
	)

	cmd := &cobra.Command{
		Use:   "review <file>",
		Short: "Open an interactive review of a file",
		Long: `Open a terminal view of a source file with its issues in the gutter.

Keys: n/N jump between issues, r re-reads the file and analyses it again,
s saves the review, ? shows all keys, q quits.

When stdout is not a terminal the text report is printed instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if name == "-" {
				return errors.New("review needs a file; use analyze for stdin")
			}
			language, err := resolveLanguage(lang, name)
			if err != nil {
				return err
			}
			max := a.cfg.Analysis.MaxSourceBytes
			src, err := readSource(nil, name, max)
			if err != nil {
				return err
			}

			if plain || !isTerminal(cmd.OutOrStdout()) {
				o, err := a.analyzeOnce(cmd.Context(), worker.Request{Source: src, Language: language})
				if err != nil {
					return err
				}
				doc := export.Document{Title: displayName(name), Language: language, Code: src, Result: o.Result, Timestamp: time.Now()}
				return writeDocument(cmd.OutOrStdout(), doc, "text", "")
			}

			// stderr shares the terminal with the view.
			a.logger = logging.Discard()

			opts := tui.Options{
				Title:    name,
				Language: language,
				Source:   src,
				Reload:   func() (string, error) { return readSource(nil, name, max) },
				Session:  a.newSession(),
			}
			if lang == "" {
				opts.Filename = name
			}
			if !noSave {
				opts.Save = func(r model.CodeReview) (string, error) {
					ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
					defer cancel()
					return a.saveReview(ctx, r)
				}
			}
			if err := tui.Run(opts); err != nil {
				return fmt.Errorf("review view: %w", err)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&lang, "lang", "l", "", "language (default from the file extension)")
	f.BoolVar(&noSave, "no-save", false, "disable saving from the view")
	f.BoolVar(&plain, "plain", false, "print the text report instead of opening the view")
	return cmd
}
