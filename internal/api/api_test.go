package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sprite-ai/revpad/internal/analysis"
	"github.com/sprite-ai/revpad/internal/config"
	"github.com/sprite-ai/revpad/internal/metrics"
	"github.com/sprite-ai/revpad/internal/model"
	"github.com/sprite-ai/revpad/internal/rules"
	"github.com/sprite-ai/revpad/internal/store"
)

func newTestServer(t *testing.T, mutate func(*Options)) *Server {
	t.Helper()
	opts := Options{Config: config.Default()}
	if mutate != nil {
		mutate(&opts)
	}
	return New(opts)
}

func withStore(t *testing.T) func(*Options) {
	return func(o *Options) {
		st, err := store.OpenInMemory()
		if err != nil {
			t.Fatalf("open store: %v", err)
		}
		t.Cleanup(func() { st.Close() })
		o.Store = st
	}
}

// blockingAnalyzer returns an analyzer whose only javascript rule blocks
// until the test ends. Its css rule returns at once.
func blockingAnalyzer(t *testing.T) *analysis.Analyzer {
	release := make(chan struct{})
	var once sync.Once
	t.Cleanup(func() { once.Do(func() { close(release) }) })

	return &analysis.Analyzer{Catalog: rules.NewCatalog(map[model.Language][]rules.Rule{
		model.LanguageJavaScript: {{
			ID:       "slow",
			Severity: model.SeverityInfo,
			Message:  "slow",
			Match: func(*rules.Source) []rules.Match {
				<-release
				return nil
			},
		}},
		model.LanguageCSS: {{
			ID:       "fast",
			Severity: model.SeverityInfo,
			Message:  "fast",
			Match:    func(*rules.Source) []rules.Match { return nil },
		}},
	})}
}

func do(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("json decode %q: %v", w.Body.String(), err)
	}
	return v
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, kind string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("expected %d, got %d: %s", status, w.Code, w.Body.String())
	}
	resp := decode[errorResponse](t, w)
	if resp.Kind != kind {
		t.Errorf("expected kind %q, got %q", kind, resp.Kind)
	}
	if resp.Error == "" {
		t.Error("expected an error message")
	}
}

func TestHealthEndpoint(t *testing.T) {
	w := do(t, newTestServer(t, nil), http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if resp := decode[map[string]string](t, w); resp["status"] != "ok" {
		t.Errorf("expected status ok, got %q", resp["status"])
	}
}

func TestLanguagesEndpoint(t *testing.T) {
	w := do(t, newTestServer(t, nil), http.MethodGet, "/api/languages", nil)
	langs := decode[[]languageJSON](t, w)
	if len(langs) != 5 {
		t.Fatalf("expected 5 languages, got %d", len(langs))
	}
	if langs[0].Name != model.LanguageJavaScript {
		t.Errorf("expected javascript first, got %q", langs[0].Name)
	}
	if langs[4].Name != model.LanguageJSON || langs[4].Rules != 3 {
		t.Errorf("expected json with 3 rules, got %+v", langs[4])
	}
}

func TestRulesEndpoint(t *testing.T) {
	srv := newTestServer(t, func(o *Options) {
		o.Config.Analysis.DisabledRules = []string{"css-important"}
	})

	w := do(t, srv, http.MethodGet, "/api/rules?language=css", nil)
	list := decode[[]ruleJSON](t, w)
	if len(list) != len(rules.For(model.LanguageCSS)) {
		t.Fatalf("expected %d css rules, got %d", len(rules.For(model.LanguageCSS)), len(list))
	}
	for _, r := range list {
		if r.ID == "css-important" && r.Enabled {
			t.Error("css-important should be reported as disabled")
		}
	}

	w = do(t, srv, http.MethodGet, "/api/rules", nil)
	if all := decode[[]ruleJSON](t, w); len(all) != len(rules.All()) {
		t.Errorf("expected %d rules, got %d", len(rules.All()), len(all))
	}

	expectError(t, do(t, srv, http.MethodGet, "/api/rules?language=ruby", nil),
		http.StatusBadRequest, "unsupported_language")
}

func TestAnalyzeEndpoint(t *testing.T) {
	w := do(t, newTestServer(t, nil), http.MethodPost, "/api/analyze",
		analyzeRequest{Source: "console.log('x')\n", Language: model.LanguageJavaScript})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	res := decode[model.ReviewResult](t, w)
	if len(res.Issues) != 1 {
		t.Fatalf("expected 1 issue, got %v", res.Issues)
	}
	is := res.Issues[0]
	if is.Line != 1 || is.Severity != model.SeverityWarning || is.Suggestion == "" {
		t.Errorf("unexpected issue %+v", is)
	}
	if res.Score != 95 || res.Summary != "1 warning; score 95: minor issues" {
		t.Errorf("unexpected score/summary %d %q", res.Score, res.Summary)
	}
}

func TestAnalyzeEmptyJSON(t *testing.T) {
	w := do(t, newTestServer(t, nil), http.MethodPost, "/api/analyze",
		analyzeRequest{Source: "", Language: model.LanguageJSON})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"issues": []`) {
		t.Errorf("expected an empty issue list, got %s", w.Body.String())
	}
	if res := decode[model.ReviewResult](t, w); res.Score != 100 || res.Summary != "no issues" {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestAnalyzeRequestErrors(t *testing.T) {
	srv := newTestServer(t, func(o *Options) {
		o.Config.Analysis.MaxSourceBytes = 16
	})

	tests := []struct {
		name   string
		body   any
		status int
		kind   string
	}{
		{"invalid json", "{bad json", http.StatusBadRequest, "bad_request"},
		{"unknown field", `{"diff": "x"}`, http.StatusBadRequest, "bad_request"},
		{"missing language", analyzeRequest{Source: "x"}, http.StatusBadRequest, "bad_request"},
		{"unsupported language", analyzeRequest{Source: "puts 1", Language: "ruby"}, http.StatusBadRequest, "unsupported_language"},
		{"too large", analyzeRequest{Source: strings.Repeat("a", 17), Language: model.LanguageCSS}, http.StatusRequestEntityTooLarge, "source_too_large"},
		{"body too large", analyzeRequest{Source: strings.Repeat("a", 8192), Language: model.LanguageCSS}, http.StatusRequestEntityTooLarge, "source_too_large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectError(t, do(t, srv, http.MethodPost, "/api/analyze", tt.body), tt.status, tt.kind)
		})
	}
}

func TestAnalyzeAcceptsEscapedSourceAtLimit(t *testing.T) {
	const max = 8192
	srv := newTestServer(t, func(o *Options) {
		o.Config.Analysis.MaxSourceBytes = max
	})
	// Every control byte is encoded as a six byte \u00XX escape.
	source := strings.Repeat("\x01", max)
	w := do(t, srv, http.MethodPost, "/api/analyze", analyzeRequest{Source: source, Language: model.LanguageCSS})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAnalyzeTimeout(t *testing.T) {
	srv := newTestServer(t, func(o *Options) {
		o.Config.Analysis.Timeout = 20 * time.Millisecond
		o.Analyzer = blockingAnalyzer(t)
	})
	w := do(t, srv, http.MethodPost, "/api/analyze",
		analyzeRequest{Source: "let a = 1;", Language: model.LanguageJavaScript})
	expectError(t, w, http.StatusGatewayTimeout, "analysis_timeout")
}

func TestAnalyzePanicIsInternalFault(t *testing.T) {
	srv := newTestServer(t, func(o *Options) {
		o.Analyzer = &analysis.Analyzer{Catalog: rules.NewCatalog(map[model.Language][]rules.Rule{
			model.LanguageCSS: {{
				ID:      "boom",
				Message: "boom",
				Match:   func(*rules.Source) []rules.Match { panic("boom") },
			}},
		})}
	})
	w := do(t, srv, http.MethodPost, "/api/analyze",
		analyzeRequest{Source: "a {}", Language: model.LanguageCSS})
	expectError(t, w, http.StatusInternalServerError, "internal_fault")
}

func TestAnalyzeRateLimited(t *testing.T) {
	srv := newTestServer(t, func(o *Options) {
		o.Config.Server.RateLimit = 0.001
		o.Config.Server.Burst = 1
	})
	req := analyzeRequest{Source: "a {}", Language: model.LanguageCSS}

	if w := do(t, srv, http.MethodPost, "/api/analyze", req); w.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", w.Code)
	}
	w := do(t, srv, http.MethodPost, "/api/analyze", req)
	expectError(t, w, http.StatusTooManyRequests, "rate_limited")
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected a Retry-After header")
	}

	// Reads are not limited.
	if w := do(t, srv, http.MethodGet, "/api/languages", nil); w.Code != http.StatusOK {
		t.Errorf("expected 200 for languages, got %d", w.Code)
	}
}

func TestClientLimiterSweepsIdleHosts(t *testing.T) {
	l := newClientLimiter(0.001, 1)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	if !l.allow("10.0.0.1:4000") {
		t.Fatal("first request should be allowed")
	}
	if l.allow("10.0.0.1:4001") {
		t.Fatal("second request from the same host should be limited")
	}
	l.allow("10.0.0.2:4000")
	if got := l.size(); got != 2 {
		t.Fatalf("expected 2 tracked hosts, got %d", got)
	}

	now = now.Add(limiterIdle / 2)
	l.allow("10.0.0.2:4000")

	now = now.Add(limiterIdle)
	if !l.allow("10.0.0.3:4000") {
		t.Fatal("new host should be allowed")
	}
	if got := l.size(); got != 1 {
		t.Errorf("expected idle hosts to be swept, %d tracked", got)
	}
	if !l.allow("10.0.0.1:4000") {
		t.Error("a swept host starts with a full bucket")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	srv := newTestServer(t, func(o *Options) { o.Metrics = m })

	do(t, srv, http.MethodPost, "/api/analyze", analyzeRequest{Source: "a {}", Language: model.LanguageCSS})

	w := do(t, srv, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{
		`revpad_analyses_total{language="css",outcome="completed"} 1`,
		"revpad_sessions_open 0",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestReviewsLifecycle(t *testing.T) {
	srv := newTestServer(t, withStore(t))

	w := do(t, srv, http.MethodPost, "/api/reviews",
		saveReviewRequest{Code: "console.log('x')\n", Language: model.LanguageJavaScript})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	id := decode[saveReviewResponse](t, w).ID
	if id == "" {
		t.Fatal("expected an id")
	}

	given := model.ReviewResult{Issues: []model.Issue{}, Score: 100, Summary: "no issues"}
	w = do(t, srv, http.MethodPost, "/api/reviews",
		saveReviewRequest{Code: "a {}", Language: model.LanguageCSS, Result: &given})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	list := decode[[]model.CodeReview](t, do(t, srv, http.MethodGet, "/api/reviews", nil))
	if len(list) != 2 || list[0].ID != id {
		t.Fatalf("expected two reviews, first %s, got %+v", id, list)
	}

	got := decode[model.CodeReview](t, do(t, srv, http.MethodGet, "/api/reviews/"+id, nil))
	if got.Result.Score != 95 || got.Language != model.LanguageJavaScript {
		t.Errorf("unexpected stored review %+v", got)
	}

	w = do(t, srv, http.MethodGet, "/api/reviews/"+id+"/export?format=markdown", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("export: expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/markdown") {
		t.Errorf("unexpected content type %q", ct)
	}
	if !strings.Contains(w.Body.String(), "console.log") {
		t.Error("export should include the source")
	}

	expectError(t, do(t, srv, http.MethodGet, "/api/reviews/"+id+"/export?format=pdf", nil),
		http.StatusBadRequest, "bad_request")

	if w := do(t, srv, http.MethodDelete, "/api/reviews/"+id, nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", w.Code)
	}
	expectError(t, do(t, srv, http.MethodGet, "/api/reviews/"+id, nil), http.StatusNotFound, "not_found")
	expectError(t, do(t, srv, http.MethodDelete, "/api/reviews/"+id, nil), http.StatusNotFound, "not_found")
}

func TestSaveReviewRejectsUnsupportedLanguage(t *testing.T) {
	srv := newTestServer(t, withStore(t))
	w := do(t, srv, http.MethodPost, "/api/reviews", saveReviewRequest{Code: "puts 1", Language: "ruby"})
	expectError(t, w, http.StatusBadRequest, "unsupported_language")
}

func TestReviewsWithoutStore(t *testing.T) {
	srv := newTestServer(t, nil)
	expectError(t, do(t, srv, http.MethodGet, "/api/reviews", nil), http.StatusServiceUnavailable, "store_error")
}

// --- WebSocket ---

func dialWS(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msgType string, data any) {
	t.Helper()
	msg := wsMessage{Type: msgType}
	if data != nil {
		raw, _ := json.Marshal(data)
		msg.Data = raw
	}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("ws write %s: %v", msgType, err)
	}
}

func expectMsg(t *testing.T, conn *websocket.Conn, msgType string) wsMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg wsMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ws read (want %s): %v", msgType, err)
	}
	if msg.Type != msgType {
		t.Fatalf("expected %q message, got %q: %s", msgType, msg.Type, msg.Data)
	}
	return msg
}

func TestWebSocketAnalyzeAndSave(t *testing.T) {
	var st store.Store
	srv := newTestServer(t, func(o *Options) {
		withStore(t)(o)
		st = o.Store
	})
	conn := dialWS(t, srv)

	send(t, conn, wsMsgAnalyze, wsAnalyze{Source: "console.log('x')\n", Language: model.LanguageJavaScript})
	expectMsg(t, conn, wsMsgAccepted)
	msg := expectMsg(t, conn, wsMsgResult)

	var res wsResult
	if err := json.Unmarshal(msg.Data, &res); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if res.Result.Score != 95 || len(res.Result.Issues) != 1 {
		t.Errorf("unexpected result %+v", res.Result)
	}

	send(t, conn, wsMsgSave, nil)
	msg = expectMsg(t, conn, wsMsgSaved)
	var saved wsSaved
	if err := json.Unmarshal(msg.Data, &saved); err != nil {
		t.Fatalf("unmarshal saved: %v", err)
	}

	review, err := st.Load(context.Background(), saved.ID)
	if err != nil {
		t.Fatalf("load saved review: %v", err)
	}
	if review.Code != "console.log('x')\n" || review.Result.Score != 95 {
		t.Errorf("unexpected saved review %+v", review)
	}
}

func TestWebSocketBusyAndCancel(t *testing.T) {
	srv := newTestServer(t, func(o *Options) { o.Analyzer = blockingAnalyzer(t) })
	conn := dialWS(t, srv)
	req := wsAnalyze{Source: "let a = 1;", Language: model.LanguageJavaScript}

	send(t, conn, wsMsgAnalyze, req)
	expectMsg(t, conn, wsMsgAccepted)

	send(t, conn, wsMsgAnalyze, req)
	expectMsg(t, conn, wsMsgBusy)

	send(t, conn, wsMsgCancel, nil)
	expectMsg(t, conn, wsMsgCancelled)

	// Nothing left to cancel, and the session accepts new work.
	send(t, conn, wsMsgCancel, nil)
	expectMsg(t, conn, wsMsgError)
	send(t, conn, wsMsgAnalyze, req)
	expectMsg(t, conn, wsMsgAccepted)
}

func TestWebSocketCancelThenAnalyzeKeepsOrder(t *testing.T) {
	srv := newTestServer(t, func(o *Options) {
		o.Analyzer = blockingAnalyzer(t)
		o.Config.Server.RateLimit = 0
	})
	conn := dialWS(t, srv)
	slow := wsAnalyze{Source: "let a = 1;", Language: model.LanguageJavaScript}
	fast := wsAnalyze{Source: "a {}", Language: model.LanguageCSS}

	for i := 0; i < 25; i++ {
		send(t, conn, wsMsgAnalyze, slow)
		expectMsg(t, conn, wsMsgAccepted)

		send(t, conn, wsMsgCancel, nil)
		send(t, conn, wsMsgAnalyze, fast)
		expectMsg(t, conn, wsMsgCancelled)
		expectMsg(t, conn, wsMsgAccepted)
		expectMsg(t, conn, wsMsgResult)
	}
}

func TestWebSocketAnalyzeRateLimited(t *testing.T) {
	srv := newTestServer(t, func(o *Options) {
		o.Config.Server.RateLimit = 0.001
		o.Config.Server.Burst = 1
	})
	conn := dialWS(t, srv)
	req := wsAnalyze{Source: "a {}", Language: model.LanguageCSS}

	send(t, conn, wsMsgAnalyze, req)
	expectMsg(t, conn, wsMsgAccepted)
	expectMsg(t, conn, wsMsgResult)

	send(t, conn, wsMsgAnalyze, req)
	msg := expectMsg(t, conn, wsMsgError)
	var e wsError
	if err := json.Unmarshal(msg.Data, &e); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if e.Kind != kindRateLimited {
		t.Errorf("expected rate_limited, got %+v", e)
	}
}

func TestWebSocketErrors(t *testing.T) {
	conn := dialWS(t, newTestServer(t, nil))

	readError := func() wsError {
		t.Helper()
		msg := expectMsg(t, conn, wsMsgError)
		var e wsError
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			t.Fatalf("unmarshal error: %v", err)
		}
		return e
	}

	send(t, conn, "approve", nil)
	if e := readError(); e.Kind != kindBadRequest || !strings.Contains(e.Detail, "approve") {
		t.Errorf("unexpected error %+v", e)
	}

	send(t, conn, wsMsgSave, nil)
	if e := readError(); e.Kind != kindBadRequest {
		t.Errorf("expected bad_request for an early save, got %+v", e)
	}

	send(t, conn, wsMsgAnalyze, wsAnalyze{Source: "puts 1", Language: "ruby"})
	expectMsg(t, conn, wsMsgAccepted)
	if e := readError(); e.Kind != "unsupported_language" {
		t.Errorf("expected unsupported_language, got %+v", e)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{nope")); err != nil {
		t.Fatalf("ws write: %v", err)
	}
	if e := readError(); e.Kind != kindBadRequest {
		t.Errorf("expected bad_request for malformed json, got %+v", e)
	}
}
