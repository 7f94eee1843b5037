package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sprite-ai/revpad/internal/analysis"
	"github.com/sprite-ai/revpad/internal/metrics"
	"github.com/sprite-ai/revpad/internal/model"
	"github.com/sprite-ai/revpad/internal/rules"
)

// blockingAnalyzer returns an AnalyzeFunc that waits for release and ignores
// its context, like a matcher stuck on adversarial input.
func blockingAnalyzer(t *testing.T) (AnalyzeFunc, chan struct{}, func()) {
	t.Helper()
	started := make(chan struct{}, 1)
	unblock := make(chan struct{})
	var once sync.Once
	release := func() { once.Do(func() { close(unblock) }) }
	t.Cleanup(release)

	fn := func(ctx context.Context, source string, lang model.Language) (model.ReviewResult, error) {
		started <- struct{}{}
		<-unblock
		return analysis.Result(nil), nil
	}
	return fn, started, release
}

func receive(t *testing.T, ch <-chan Outcome) (Outcome, bool) {
	t.Helper()
	select {
	case o, ok := <-ch:
		return o, ok
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outcome")
		return Outcome{}, false
	}
}

func TestSessionCompletes(t *testing.T) {
	var transitions []string
	s := NewSession(Options{
		OnTransition: func(from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	defer s.Close()

	ch, err := s.Submit(context.Background(), Request{Source: "console.log('x')\n", Language: model.LanguageJavaScript})
	require.NoError(t, err)

	o, ok := receive(t, ch)
	require.True(t, ok)
	require.NoError(t, o.Err)
	require.Len(t, o.Result.Issues, 1)
	assert.Equal(t, "js-console", o.Result.Issues[0].Rule)
	assert.Equal(t, 95, o.Result.Score)

	_, ok = <-ch
	assert.False(t, ok, "channel must be closed after the single outcome")

	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, []string{"idle->running", "running->completed", "completed->idle"}, transitions)
}

func TestSessionRejectsWhileRunning(t *testing.T) {
	fn, started, release := blockingAnalyzer(t)
	m := metrics.New()
	s := NewSession(Options{Analyze: fn, Metrics: m})
	defer s.Close()

	ch, err := s.Submit(context.Background(), Request{Language: model.LanguageCSS})
	require.NoError(t, err)
	<-started
	assert.Equal(t, StateRunning, s.State())

	_, err = s.Submit(context.Background(), Request{Language: model.LanguageCSS})
	assert.ErrorIs(t, err, ErrBusy)
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(`
# HELP revpad_submissions_rejected_total Submissions rejected because a session was busy
# TYPE revpad_submissions_rejected_total counter
revpad_submissions_rejected_total 1
`), "revpad_submissions_rejected_total"))

	release()
	o, ok := receive(t, ch)
	require.True(t, ok)
	assert.NoError(t, o.Err)

	// Ready for re-submission once idle.
	ch, err = s.Submit(context.Background(), Request{Source: "a {}\n", Language: model.LanguageCSS})
	require.NoError(t, err)
	_, ok = receive(t, ch)
	assert.True(t, ok)
}

func TestSessionTimeout(t *testing.T) {
	fn, started, _ := blockingAnalyzer(t)
	s := NewSession(Options{Analyze: fn, Timeout: 20 * time.Millisecond})
	defer s.Close()

	ch, err := s.Submit(context.Background(), Request{Language: model.LanguagePython})
	require.NoError(t, err)
	<-started

	o, ok := receive(t, ch)
	require.True(t, ok)
	kind, isBoundary := KindOf(o.Err)
	require.True(t, isBoundary, "expected a boundary error, got %v", o.Err)
	assert.Equal(t, KindTimeout, kind)
	assert.ErrorIs(t, o.Err, context.DeadlineExceeded)
	assert.Equal(t, StateIdle, s.State())
}

func TestSessionRecoversPanics(t *testing.T) {
	s := NewSession(Options{Analyze: func(ctx context.Context, source string, lang model.Language) (model.ReviewResult, error) {
		panic("matcher exploded")
	}})
	defer s.Close()

	ch, err := s.Submit(context.Background(), Request{Language: model.LanguageHTML})
	require.NoError(t, err)

	o, ok := receive(t, ch)
	require.True(t, ok)
	kind, _ := KindOf(o.Err)
	assert.Equal(t, KindInternalFault, kind)
	assert.Contains(t, o.Err.Error(), "matcher exploded")
	assert.Equal(t, StateIdle, s.State())
}

func TestSessionRecoversPanickingRule(t *testing.T) {
	catalog := rules.NewCatalog(map[model.Language][]rules.Rule{
		model.LanguageJSON: {{
			ID:      "explode",
			Message: "boom",
			Match: func(src *rules.Source) []rules.Match {
				var m map[string]int
				m["x"] = 1
				return nil
			},
		}},
	})
	a := &analysis.Analyzer{Catalog: catalog}
	s := NewSession(Options{Analyze: a.AnalyzeContext})
	defer s.Close()

	ch, err := s.Submit(context.Background(), Request{Source: "{}", Language: model.LanguageJSON})
	require.NoError(t, err)

	o, _ := receive(t, ch)
	kind, _ := KindOf(o.Err)
	assert.Equal(t, KindInternalFault, kind)
}

func TestSessionUnsupportedLanguage(t *testing.T) {
	s := NewSession(Options{})
	defer s.Close()

	ch, err := s.Submit(context.Background(), Request{Source: "puts 1", Language: "ruby"})
	require.NoError(t, err)

	o, _ := receive(t, ch)
	kind, _ := KindOf(o.Err)
	assert.Equal(t, KindUnsupportedLanguage, kind)

	var ule *analysis.UnsupportedLanguageError
	assert.True(t, errors.As(o.Err, &ule))
	assert.Equal(t, StateIdle, s.State())
}

func TestSessionCancel(t *testing.T) {
	fn, started, release := blockingAnalyzer(t)
	s := NewSession(Options{Analyze: fn})
	defer s.Close()

	assert.False(t, s.Cancel(), "nothing to cancel while idle")

	ch, err := s.Submit(context.Background(), Request{Language: model.LanguageJavaScript})
	require.NoError(t, err)
	<-started

	assert.True(t, s.Cancel())
	assert.Equal(t, StateIdle, s.State())

	_, ok := receive(t, ch)
	assert.False(t, ok, "a cancelled run must not deliver an outcome")

	// The abandoned analyzer finishing later must not disturb the session.
	release()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateIdle, s.State())

	ch, err = s.Submit(context.Background(), Request{Source: "let a = 1;\n", Language: model.LanguageJavaScript})
	require.NoError(t, err)
	o, ok := receive(t, ch)
	require.True(t, ok)
	assert.NoError(t, o.Err)
}

func TestSessionParentContextCancel(t *testing.T) {
	fn, started, _ := blockingAnalyzer(t)
	s := NewSession(Options{Analyze: fn})
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := s.Submit(ctx, Request{Language: model.LanguageCSS})
	require.NoError(t, err)
	<-started

	cancel()
	_, ok := receive(t, ch)
	assert.False(t, ok)
	assert.Equal(t, StateIdle, s.State())
}

func TestSessionClose(t *testing.T) {
	fn, started, _ := blockingAnalyzer(t)
	m := metrics.New()
	s := NewSession(Options{Analyze: fn, Metrics: m})

	ch, err := s.Submit(context.Background(), Request{Language: model.LanguageCSS})
	require.NoError(t, err)
	<-started

	s.Close()
	s.Close()

	_, ok := receive(t, ch)
	assert.False(t, ok)

	_, err = s.Submit(context.Background(), Request{Language: model.LanguageCSS})
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(`
# HELP revpad_sessions_open Execution sessions that have not been closed
# TYPE revpad_sessions_open gauge
revpad_sessions_open 0
`), "revpad_sessions_open"))
}

func TestSessionsRunConcurrently(t *testing.T) {
	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := NewSession(Options{})
			defer s.Close()
			ch, err := s.Submit(context.Background(), Request{Source: "x = 1 \nprint(x)\n", Language: model.LanguagePython})
			if err != nil {
				errs <- err
				return
			}
			o := <-ch
			if o.Err != nil {
				errs <- o.Err
				return
			}
			if len(o.Result.Issues) != 2 {
				errs <- errors.New("unexpected issue count")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestErrorFormatting(t *testing.T) {
	err := &Error{Kind: KindTimeout, Detail: "analysis exceeded 5s"}
	assert.Equal(t, "analysis_timeout: analysis exceeded 5s", err.Error())
	assert.Equal(t, "internal_fault", (&Error{Kind: KindInternalFault}).Error())

	_, ok := KindOf(errors.New("plain"))
	assert.False(t, ok)
}
