// Package cli wires the revpad commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/revpad/internal/analysis"
	"github.com/sprite-ai/revpad/internal/config"
	"github.com/sprite-ai/revpad/internal/logging"
	"github.com/sprite-ai/revpad/internal/metrics"
	"github.com/sprite-ai/revpad/internal/model"
	"github.com/sprite-ai/revpad/internal/store"
	"github.com/sprite-ai/revpad/internal/worker"
)

// Exit codes.
const (
	ExitClean  = 0
	ExitIssues = 1
	ExitError  = 2
)

// exitError carries a process exit code out of a command. A nil err means
// the command itself succeeded.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

// ExitCode maps an error returned by Execute onto a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitClean
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return ExitError
}

// app is the state shared by every command of one invocation.
type app struct {
	configPath string
	logLevel   string
	logFormat  string
	sets       []string

	cfg     config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// load resolves the effective config and builds the logger.
func (a *app) load(stderr io.Writer) error {
	overrides := make(map[string]string)
	for _, kv := range a.sets {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("--set %q: expected key=value", kv)
		}
		overrides[strings.TrimSpace(key)] = value
	}
	if a.logLevel != "" {
		overrides["log.level"] = a.logLevel
	}
	if a.logFormat != "" {
		overrides["log.format"] = a.logFormat
	}

	cfg, err := config.Load(a.configPath, overrides)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: stderr})
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

func (a *app) analyzer() *analysis.Analyzer {
	return analysis.New(a.cfg.Analysis.DisabledRules)
}

func (a *app) newSession() *worker.Session {
	return worker.NewSession(worker.Options{
		Timeout: a.cfg.Analysis.Timeout,
		Analyze: a.analyzer().AnalyzeContext,
		Logger:  a.logger,
		Metrics: a.metrics,
	})
}

func (a *app) openStore() (*store.BadgerStore, error) {
	return store.Open(store.Config{
		Dir:      a.cfg.Store.Dir,
		InMemory: a.cfg.Store.InMemory,
		Logger:   a.logger,
	})
}

// saveReview persists one review and closes the store again.
func (a *app) saveReview(ctx context.Context, review model.CodeReview) (string, error) {
	st, err := a.openStore()
	if err != nil {
		return "", err
	}
	defer st.Close()

	id, err := st.Save(ctx, review)
	if err != nil {
		return "", fmt.Errorf("saving review: %w", err)
	}
	a.logger.Info("review saved", "id", id, "language", review.Language)
	return id, nil
}

// analyzeOnce runs a single analysis through a worker session so the CLI gets
// the same timeout and fault handling as the server.
func (a *app) analyzeOnce(ctx context.Context, req worker.Request) (worker.Outcome, error) {
	sess := a.newSession()
	defer sess.Close()

	ch, err := sess.Submit(ctx, req)
	if err != nil {
		return worker.Outcome{}, err
	}
	o, ok := <-ch
	if !ok {
		if err := ctx.Err(); err != nil {
			return worker.Outcome{}, err
		}
		return worker.Outcome{}, worker.ErrClosed
	}
	return o, o.Err
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "revpad",
		Short: "Static code review for JavaScript, Python, HTML, CSS and JSON",
		Long: `revpad reviews source code against a catalog of per-language rules
and reports located issues, a quality score and a one-line summary.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd.ErrOrStderr())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/revpad/config.yaml)")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&a.logFormat, "log-format", "", "log format: text, json")
	pf.StringArrayVar(&a.sets, "set", nil, "override a config key, e.g. --set analysis.timeout=2s")

	root.AddCommand(
		newAnalyzeCmd(a),
		newReviewCmd(a),
		newWatchCmd(a),
		newPatchCmd(a),
		newReviewsCmd(a),
		newRulesCmd(a),
		newConfigCmd(a),
		newServeCmd(a),
		newVersionCmd(),
	)
	return root
}

// Execute runs the root command against the process arguments.
func Execute() error {
	root := newRootCmd()
	err := root.ExecuteContext(context.Background())
	if err != nil {
		var ee *exitError
		if !errors.As(err, &ee) || ee.err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
	}
	return err
}
