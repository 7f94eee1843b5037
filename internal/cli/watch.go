package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/sprite-ai/revpad/internal/export"
	"github.com/sprite-ai/revpad/internal/model"
	"github.com/sprite-ai/revpad/internal/worker"
)

func newWatchCmd(a *app) *cobra.Command {
	var lang string

	cmd := &cobra.Command{
		Use:   "watch <file>",
		Short: "Re-analyse a file every time it is written",
		Long: `Watch a file and print a fresh report each time it is saved.

Analyses run one at a time; a write that arrives while an analysis is
still running is dropped and logged.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			language, err := resolveLanguage(lang, name)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sess := a.newSession()
			defer sess.Close()

			out := cmd.OutOrStdout()
			color := colorEnabled(out)
			w := &fileWatcher{
				path:   name,
				lang:   language,
				max:    a.cfg.Analysis.MaxSourceBytes,
				sess:   sess,
				logger: a.logger,
				report: func(src string, o worker.Outcome) {
					printWatchReport(out, color, name, language, src, o)
				},
			}
			return w.run(ctx)
		},
	}

	cmd.Flags().StringVarP(&lang, "lang", "l", "", "language (default from the file extension)")
	return cmd
}

// fileWatcher re-analyses one file on every write through a single-flight
// session.
type fileWatcher struct {
	path   string
	lang   model.Language
	max    int
	sess   *worker.Session
	logger *slog.Logger

	// report receives each delivered outcome, one call at a time and in
	// submission order.
	report func(src string, o worker.Outcome)
	// ready, when set, is closed once the file is being watched.
	ready chan struct{}

	wg sync.WaitGroup
	// reported is closed when the latest submission's report returns.
	reported chan struct{}
}

// run analyses the file once and then on every write until ctx is done.
func (w *fileWatcher) run(ctx context.Context) error {
	target, err := filepath.Abs(w.path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(target); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	// Editors often replace the file rather than write it in place, so the
	// directory is watched and events are filtered by name.
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(target), err)
	}
	if w.ready != nil {
		close(w.ready)
	}
	w.logger.Info("watching file", "path", target, "language", w.lang)

	defer w.wg.Wait()
	w.trigger(ctx, target)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.trigger(ctx, target)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)

		case <-ctx.Done():
			w.logger.Info("watch stopped")
			return nil
		}
	}
}

// trigger submits the current file content. A write that lands while an
// analysis is running is dropped. Only the run loop calls trigger.
func (w *fileWatcher) trigger(ctx context.Context, target string) {
	src, err := readSource(nil, target, w.max)
	if err != nil {
		w.logger.Warn("cannot read file", "path", target, "error", err)
		return
	}

	ch, err := w.sess.Submit(ctx, worker.Request{Source: src, Language: w.lang})
	switch {
	case errors.Is(err, worker.ErrBusy):
		w.logger.Warn("change dropped, analysis in progress", "path", target)
		return
	case err != nil:
		w.logger.Error("submit failed", "error", err)
		return
	}

	prev := w.reported
	reported := make(chan struct{})
	w.reported = reported

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer close(reported)
		o, ok := <-ch
		if prev != nil {
			<-prev
		}
		if !ok {
			return
		}
		w.report(src, o)
	}()
}

func printWatchReport(out io.Writer, color bool, name string, lang model.Language, src string, o worker.Outcome) {
	stamp := time.Now().Format("15:04:05")
	if o.Err != nil {
		fmt.Fprintf(out, "[%s] %s: analysis failed: %v\n\n", stamp, displayName(name), o.Err)
		return
	}
	fmt.Fprintf(out, "[%s] %s analysed in %s\n", stamp, displayName(name), o.Elapsed.Round(time.Millisecond))
	doc := export.Document{Title: displayName(name), Language: lang, Code: src, Result: o.Result, Timestamp: time.Now()}
	w := &export.TextWriter{Color: color}
	if err := w.Write(out, doc); err != nil {
		return
	}
	fmt.Fprintln(out)
}
