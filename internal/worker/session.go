// Package worker runs analyses off the caller's goroutine.
//
// A Session owns at most one in-flight analysis. Submit never blocks: it
// starts the analysis on its own goroutine and hands back a channel that
// yields exactly one Outcome and is then closed. A cancelled run closes the
// channel without sending, so callers can select on it without tracking
// which request is current.
//
// Every run is bounded by a watchdog. Go cannot stop a goroutine from the
// outside, so an analysis that overruns is abandoned: the session reports
// the timeout and becomes Idle at once, and the analyzer notices its context
// at the next rule boundary and exits.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sprite-ai/revpad/internal/analysis"
	"github.com/sprite-ai/revpad/internal/logging"
	"github.com/sprite-ai/revpad/internal/metrics"
	"github.com/sprite-ai/revpad/internal/model"
)

// DefaultTimeout bounds a single analysis when Options.Timeout is unset.
const DefaultTimeout = 5 * time.Second

// State is the lifecycle state of a session.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

// Request is one analysis to run.
type Request struct {
	Source   string
	Language model.Language
}

// Outcome is the single value delivered for a finished run. Exactly one of
// Result and Err is meaningful.
type Outcome struct {
	Result  model.ReviewResult
	Err     error
	Elapsed time.Duration
}

// AnalyzeFunc performs the analysis. It should return promptly once ctx is
// done.
type AnalyzeFunc func(ctx context.Context, source string, lang model.Language) (model.ReviewResult, error)

// Options configure a session. Zero values select defaults.
type Options struct {
	Timeout time.Duration
	Analyze AnalyzeFunc
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// OnTransition is called with the session lock held on every state
	// change. It must not call back into the session.
	OnTransition func(from, to State)
}

// Session is a single-flight execution boundary. It is safe for concurrent
// use.
type Session struct {
	id           string
	timeout      time.Duration
	analyze      AnalyzeFunc
	logger       *slog.Logger
	metrics      *metrics.Metrics
	onTransition func(from, to State)

	mu     sync.Mutex
	state  State
	closed bool
	gen    uint64
	cancel context.CancelFunc
	out    chan Outcome
}

// NewSession creates an Idle session.
func NewSession(opts Options) *Session {
	s := &Session{
		id:           uuid.NewString(),
		timeout:      opts.Timeout,
		analyze:      opts.Analyze,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		onTransition: opts.OnTransition,
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}
	if s.analyze == nil {
		var a analysis.Analyzer
		s.analyze = a.AnalyzeContext
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	s.logger = s.logger.With("session", s.id)
	s.metrics.SessionOpened()
	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Submit starts an analysis and returns the channel its outcome will be
// delivered on. It fails with ErrBusy while a run is in flight and with
// ErrClosed after Close. Cancelling ctx has the same effect as Cancel.
func (s *Session) Submit(ctx context.Context, req Request) (<-chan Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if s.state == StateRunning {
		s.metrics.Rejected()
		s.logger.Debug("submission rejected", "language", req.Language)
		return nil, ErrBusy
	}

	s.gen++
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	out := make(chan Outcome, 1)
	s.cancel = cancel
	s.out = out
	s.transition(StateRunning)

	go s.run(runCtx, s.gen, req, out)
	return out, nil
}

// Cancel aborts the in-flight run, if any. The run's channel is closed
// without a value and the session returns to Idle. It reports whether a run
// was cancelled.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return false
	}
	s.abort()
	s.logger.Info("analysis cancelled")
	return true
}

// Close cancels any in-flight run and rejects further submissions. It is
// safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.state == StateRunning {
		s.abort()
	}
	s.closed = true
	s.metrics.SessionClosed()
	s.logger.Debug("session closed")
}

// abort drops the current run. Callers hold s.mu.
func (s *Session) abort() {
	s.gen++
	s.cancel()
	close(s.out)
	s.cancel, s.out = nil, nil
	s.transition(StateIdle)
}

func (s *Session) transition(to State) {
	from := s.state
	s.state = to
	s.logger.Debug("session transition", "from", from, "to", to)
	if s.onTransition != nil {
		s.onTransition(from, to)
	}
}

func (s *Session) run(ctx context.Context, gen uint64, req Request, out chan Outcome) {
	start := time.Now()

	done := make(chan Outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				s.logger.Error("analyzer panic", "panic", p, "stack", string(debug.Stack()))
				done <- Outcome{Err: &Error{Kind: KindInternalFault, Detail: fmt.Sprint(p)}}
			}
		}()
		res, err := s.analyze(ctx, req.Source, req.Language)
		done <- Outcome{Result: res, Err: err}
	}()

	var o Outcome
	select {
	case o = <-done:
	case <-ctx.Done():
		o = Outcome{Err: ctx.Err()}
	}
	o.Elapsed = time.Since(start)

	cancelled := false
	switch {
	case errors.Is(o.Err, context.DeadlineExceeded):
		o.Err = &Error{
			Kind:   KindTimeout,
			Detail: fmt.Sprintf("analysis exceeded %s", s.timeout),
			Err:    o.Err,
		}
	case errors.Is(o.Err, context.Canceled):
		cancelled = true
	default:
		o.Err = classify(o.Err)
	}

	s.finish(ctx, gen, req, o, cancelled, out)
}

func (s *Session) finish(ctx context.Context, gen uint64, req Request, o Outcome, cancelled bool, out chan Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lang := string(req.Language)

	// Superseded by Cancel or Close, which already closed out.
	if gen != s.gen {
		s.metrics.ObserveAnalysis(lang, metrics.OutcomeCancelled, o.Elapsed)
		return
	}

	s.cancel()
	s.cancel, s.out = nil, nil

	if cancelled {
		s.metrics.ObserveAnalysis(lang, metrics.OutcomeCancelled, o.Elapsed)
		s.logger.Info("analysis cancelled by caller context", "cause", context.Cause(ctx))
		close(out)
		s.transition(StateIdle)
		return
	}

	if o.Err != nil {
		kind, _ := KindOf(o.Err)
		s.metrics.ObserveAnalysis(lang, metrics.OutcomeFailed, o.Elapsed)
		s.logger.Warn("analysis failed", "language", lang, "kind", kind, "error", o.Err)
		s.transition(StateFailed)
	} else {
		s.metrics.ObserveAnalysis(lang, metrics.OutcomeCompleted, o.Elapsed)
		s.logger.Debug("analysis completed", "language", lang, "issues", len(o.Result.Issues), "elapsed", o.Elapsed)
		s.transition(StateCompleted)
	}

	out <- o
	close(out)
	s.transition(StateIdle)
}
