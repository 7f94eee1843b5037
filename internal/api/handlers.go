package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sprite-ai/revpad/internal/export"
	"github.com/sprite-ai/revpad/internal/model"
	"github.com/sprite-ai/revpad/internal/rules"
	"github.com/sprite-ai/revpad/internal/store"
	"github.com/sprite-ai/revpad/internal/worker"
)

// --- Health ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Catalog ---

type languageJSON struct {
	Name  model.Language `json:"name"`
	Rules int            `json:"rules"`
}

func (s *Server) handleLanguages(w http.ResponseWriter, r *http.Request) {
	catalog := s.catalog()
	resp := make([]languageJSON, 0, len(model.Languages()))
	for _, lang := range model.Languages() {
		resp = append(resp, languageJSON{Name: lang, Rules: len(catalog.For(lang))})
	}
	writeJSON(w, http.StatusOK, resp)
}

type ruleJSON struct {
	ID          string           `json:"id"`
	Severity    model.Severity   `json:"severity"`
	Description string           `json:"description"`
	Scope       string           `json:"scope"`
	Languages   []model.Language `json:"languages"`
	Enabled     bool             `json:"enabled"`
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	catalog := s.catalog()
	list := catalog.All()
	if lang := model.Language(r.URL.Query().Get("language")); lang != "" {
		if !lang.Valid() {
			writeError(w, http.StatusBadRequest, string(worker.KindUnsupportedLanguage), "unsupported language: "+string(lang))
			return
		}
		list = catalog.For(lang)
	}

	resp := make([]ruleJSON, 0, len(list))
	for _, rule := range list {
		resp = append(resp, ruleJSON{
			ID:          rule.ID,
			Severity:    rule.Severity,
			Description: rule.Description,
			Scope:       rule.Scope.String(),
			Languages:   catalog.LanguagesOf(rule.ID),
			Enabled:     !s.analyzer.Disabled[rule.ID],
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) catalog() *rules.Catalog {
	if s.analyzer.Catalog != nil {
		return s.analyzer.Catalog
	}
	return rules.Default()
}

// --- Analyze ---

type analyzeRequest struct {
	Source   string         `json:"source"`
	Language model.Language `json:"language"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := readJSON(w, r, bodyLimit(s.cfg.Analysis.MaxSourceBytes), &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if !s.checkSource(w, req.Source, req.Language) {
		return
	}

	result, err := s.analyze(r.Context(), req.Source, req.Language)
	if err != nil {
		s.writeAnalysisError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// checkSource validates a source before it is analysed and writes the error
// response when it is not acceptable.
func (s *Server) checkSource(w http.ResponseWriter, source string, lang model.Language) bool {
	if lang == "" {
		writeError(w, http.StatusBadRequest, kindBadRequest, "language is required")
		return false
	}
	if len(source) > s.cfg.Analysis.MaxSourceBytes {
		writeError(w, http.StatusRequestEntityTooLarge, kindTooLarge,
			fmt.Sprintf("source is %d bytes, the limit is %d", len(source), s.cfg.Analysis.MaxSourceBytes))
		return false
	}
	return true
}

// analyze runs one analysis through a short-lived worker session.
func (s *Server) analyze(ctx context.Context, source string, lang model.Language) (model.ReviewResult, error) {
	sess := s.newSession(s.logger)
	defer sess.Close()

	ch, err := sess.Submit(ctx, worker.Request{Source: source, Language: lang})
	if err != nil {
		return model.ReviewResult{}, err
	}
	o, ok := <-ch
	if !ok {
		if err := ctx.Err(); err != nil {
			return model.ReviewResult{}, err
		}
		return model.ReviewResult{}, worker.ErrClosed
	}
	return o.Result, o.Err
}

func (s *Server) writeAnalysisError(w http.ResponseWriter, err error) {
	if errors.Is(err, context.Canceled) {
		// The client went away; nobody is left to read a response.
		s.logger.Debug("analysis abandoned by client")
		return
	}

	kind, status, known := statusOf(err)
	if !known {
		s.logger.Error("analysis failed", "error", err)
	}
	writeError(w, status, kind, err.Error())
}

// statusOf maps an analysis error onto its API kind and HTTP status. It
// reports false for errors outside the worker taxonomy.
func statusOf(err error) (string, int, bool) {
	kind, ok := worker.KindOf(err)
	if !ok {
		return string(worker.KindInternalFault), http.StatusInternalServerError, false
	}
	switch kind {
	case worker.KindUnsupportedLanguage:
		return string(kind), http.StatusBadRequest, true
	case worker.KindTimeout:
		return string(kind), http.StatusGatewayTimeout, true
	default:
		return string(kind), http.StatusInternalServerError, true
	}
}

// --- Reviews ---

type saveReviewRequest struct {
	Code     string              `json:"code"`
	Language model.Language      `json:"language"`
	Result   *model.ReviewResult `json:"result,omitempty"`
}

type saveReviewResponse struct {
	ID string `json:"id"`
}

func (s *Server) handleSaveReview(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	var req saveReviewRequest
	if err := readJSON(w, r, bodyLimit(s.cfg.Analysis.MaxSourceBytes), &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if !s.checkSource(w, req.Code, req.Language) {
		return
	}

	var result model.ReviewResult
	if req.Result != nil {
		if !req.Language.Valid() {
			writeError(w, http.StatusBadRequest, string(worker.KindUnsupportedLanguage), "unsupported language: "+string(req.Language))
			return
		}
		result = *req.Result
	} else {
		var err error
		result, err = s.analyze(r.Context(), req.Code, req.Language)
		if err != nil {
			s.writeAnalysisError(w, err)
			return
		}
	}

	id, err := s.save(r.Context(), model.CodeReview{Code: req.Code, Language: req.Language, Result: result})
	if err != nil {
		writeError(w, http.StatusInternalServerError, kindStore, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, saveReviewResponse{ID: id})
}

func (s *Server) save(ctx context.Context, review model.CodeReview) (string, error) {
	id, err := s.store.Save(ctx, review)
	if err != nil {
		s.logger.Error("saving review", "error", err)
		return "", err
	}
	s.metrics.Saved()
	s.logger.Info("review saved", "id", id, "language", review.Language)
	return id, nil
}

func (s *Server) handleListReviews(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	reviews, err := s.store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, kindStore, err.Error())
		return
	}
	if reviews == nil {
		reviews = []model.CodeReview{}
	}
	writeJSON(w, http.StatusOK, reviews)
}

func (s *Server) handleGetReview(w http.ResponseWriter, r *http.Request) {
	review, ok := s.loadReview(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, review)
}

func (s *Server) handleDeleteReview(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	err := s.store.Delete(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, kindNotFound, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, kindStore, err.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleExportReview(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "markdown"
	}
	writer, err := export.Get(format)
	if err != nil {
		writeError(w, http.StatusBadRequest, kindBadRequest, err.Error())
		return
	}
	review, ok := s.loadReview(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := writer.Write(&buf, export.FromReview(review)); err != nil {
		writeError(w, http.StatusInternalServerError, kindStore, "rendering review: "+err.Error())
		return
	}
	w.Header().Set("Content-Type", export.ContentType(format))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (s *Server) loadReview(w http.ResponseWriter, r *http.Request) (model.CodeReview, bool) {
	if !s.requireStore(w) {
		return model.CodeReview{}, false
	}
	review, err := s.store.Load(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, kindNotFound, err.Error())
		return model.CodeReview{}, false
	case err != nil:
		writeError(w, http.StatusInternalServerError, kindStore, err.Error())
		return model.CodeReview{}, false
	}
	return review, true
}

func (s *Server) requireStore(w http.ResponseWriter) bool {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, kindStore, "no review store configured")
		return false
	}
	return true
}
