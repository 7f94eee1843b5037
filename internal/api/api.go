// Package api implements the revpad HTTP and WebSocket server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sprite-ai/revpad/internal/analysis"
	"github.com/sprite-ai/revpad/internal/config"
	"github.com/sprite-ai/revpad/internal/logging"
	"github.com/sprite-ai/revpad/internal/metrics"
	"github.com/sprite-ai/revpad/internal/store"
	"github.com/sprite-ai/revpad/internal/worker"
)

// Error kinds reported by the API in addition to the worker kinds.
const (
	kindBadRequest  = "bad_request"
	kindTooLarge    = "source_too_large"
	kindRateLimited = "rate_limited"
	kindNotFound    = "not_found"
	kindStore       = "store_error"
)

// Options configure a Server. Store, Metrics and Logger may be nil.
type Options struct {
	Config   config.Config
	Analyzer *analysis.Analyzer
	Store    store.Store
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Server is the revpad HTTP API server.
type Server struct {
	cfg      config.Config
	analyzer *analysis.Analyzer
	store    store.Store
	metrics  *metrics.Metrics
	logger   *slog.Logger
	limiter  *clientLimiter

	mux    *http.ServeMux
	server *http.Server
}

// New creates a new API server.
func New(opts Options) *Server {
	s := &Server{
		cfg:      opts.Config,
		analyzer: opts.Analyzer,
		store:    opts.Store,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
	}
	if s.cfg.Analysis.MaxSourceBytes <= 0 {
		s.cfg.Analysis.MaxSourceBytes = config.Default().Analysis.MaxSourceBytes
	}
	if s.analyzer == nil {
		s.analyzer = analysis.New(s.cfg.Analysis.DisabledRules)
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	if s.cfg.Server.RateLimit > 0 {
		s.limiter = newClientLimiter(rate.Limit(s.cfg.Server.RateLimit), s.cfg.Server.Burst)
	}

	s.mux = http.NewServeMux()
	s.registerRoutes()
	s.server = &http.Server{
		Addr:         s.cfg.Server.Listen(),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
	s.mux.HandleFunc("GET /api/languages", s.handleLanguages)
	s.mux.HandleFunc("GET /api/rules", s.handleRules)
	s.mux.HandleFunc("POST /api/analyze", s.limit(s.handleAnalyze))
	s.mux.HandleFunc("POST /api/reviews", s.limit(s.handleSaveReview))
	s.mux.HandleFunc("GET /api/reviews", s.handleListReviews)
	s.mux.HandleFunc("GET /api/reviews/{id}", s.handleGetReview)
	s.mux.HandleFunc("DELETE /api/reviews/{id}", s.handleDeleteReview)
	s.mux.HandleFunc("GET /api/reviews/{id}/export", s.handleExportReview)
	s.mux.HandleFunc("GET /api/ws", s.handleWebSocket)
}

// ListenAndServe starts the HTTP server and blocks until ctx is done, then
// shuts the server down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("revpad API server listening", "addr", ln.Addr().String())

	errc := make(chan error, 1)
	go func() { errc <- s.server.Serve(ln) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.logRequests(s.mux)
}

// newSession opens a worker session bound to the server's analyzer.
func (s *Server) newSession(logger *slog.Logger) *worker.Session {
	return worker.NewSession(worker.Options{
		Timeout: s.cfg.Analysis.Timeout,
		Analyze: s.analyzer.AnalyzeContext,
		Logger:  logger,
		Metrics: s.metrics,
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController and the websocket upgrader reach the
// underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/ws" {
			// Hijacked connections never report a status.
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed", time.Since(start),
		)
	})
}

// limiterIdle is how long a host's bucket is kept after its last request.
const limiterIdle = 10 * time.Minute

// clientLimiter keeps one token bucket per remote host. Buckets idle for
// longer than idle are swept on the next request after that.
type clientLimiter struct {
	limit rate.Limit
	burst int
	idle  time.Duration
	now   func() time.Time

	mu        sync.Mutex
	clients   map[string]*clientBucket
	lastSweep time.Time
}

type clientBucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func newClientLimiter(limit rate.Limit, burst int) *clientLimiter {
	if burst < 1 {
		burst = 1
	}
	return &clientLimiter{
		limit:   limit,
		burst:   burst,
		idle:    limiterIdle,
		now:     time.Now,
		clients: make(map[string]*clientBucket),
	}
}

func (l *clientLimiter) allow(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	now := l.now()

	l.mu.Lock()
	if now.Sub(l.lastSweep) >= l.idle {
		for h, b := range l.clients {
			if now.Sub(b.seen) >= l.idle {
				delete(l.clients, h)
			}
		}
		l.lastSweep = now
	}
	b, ok := l.clients[host]
	if !ok {
		b = &clientBucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.clients[host] = b
	}
	b.seen = now
	l.mu.Unlock()
	return b.lim.AllowN(now, 1)
}

// size reports the number of tracked hosts.
func (l *clientLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

func (s *Server) limit(next http.HandlerFunc) http.HandlerFunc {
	if s.limiter == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(r.RemoteAddr) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, kindRateLimited, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

// errorResponse is the body of every non-2xx JSON response.
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		slog.Default().Warn("json encode failed", "error", err)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Kind: kind})
}

// readJSON decodes a JSON request body of at most limit bytes into v.
func readJSON(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	if r.Body == nil {
		return fmt.Errorf("empty request body")
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// bodyLimit is the request size accepted for a source of at most
// maxSourceBytes. A control byte escapes to six bytes (\u00XX); the rest
// covers the envelope.
func bodyLimit(maxSourceBytes int) int64 {
	return int64(maxSourceBytes)*6 + 4096
}

// writeDecodeError reports a failed readJSON.
func writeDecodeError(w http.ResponseWriter, err error) {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		writeError(w, http.StatusRequestEntityTooLarge, kindTooLarge, "request body too large")
		return
	}
	writeError(w, http.StatusBadRequest, kindBadRequest, "invalid request: "+err.Error())
}
