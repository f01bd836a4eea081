// internal/api/server.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/user/shadowshift/internal/classifier"
	"github.com/user/shadowshift/internal/draft"
	"github.com/user/shadowshift/internal/normalize"
	"github.com/user/shadowshift/internal/poller"
	"github.com/user/shadowshift/internal/thread"
	"github.com/user/shadowshift/internal/types"
)

const (
	defaultThreshold    = 0.5
	defaultActThreshold = 0.45
	defaultInboxLimit   = 20
	maxBodyBytes        = 1 << 20
)

// ModelSource returns the currently loaded model, or nil.
type ModelSource interface {
	Get() *classifier.Model
}

// Poller is the part of the orchestrator the API exposes.
type Poller interface {
	RunOnce(ctx context.Context) (poller.Stats, error)
	LastRunStats() poller.Stats
	LastEvents() map[types.Source][]normalize.Record
	ThreadEvents(source types.Source, threadID string) ([]types.Event, bool)
}

// Config holds the server's collaborators. Poller and Store may be nil, in
// which case their endpoints answer 503.
type Config struct {
	Models     ModelSource
	Drafter    poller.Drafter
	Poller     Poller
	Store      types.SuggestionStore
	Normalizer *normalize.Normalizer
	ModelPath  string
	Window     int
	Logger     *zap.Logger
}

// Server is the HTTP surface over the classifier, the drafter and the poller.
type Server struct {
	cfg    Config
	logger *zap.Logger
	mux    *http.ServeMux
}

// NewServer creates a Server and registers its routes.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Window < 1 {
		cfg.Window = thread.DefaultWindow
	}
	if cfg.Normalizer == nil {
		cfg.Normalizer = normalize.New(nil)
	}
	s := &Server{
		cfg:    cfg,
		logger: cfg.Logger,
		mux:    http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /config", s.handleConfig)
	s.mux.HandleFunc("POST /recommend", s.handleRecommend)
	s.mux.HandleFunc("POST /batch", s.handleBatch)
	s.mux.HandleFunc("POST /act", s.handleAct)
	s.mux.HandleFunc("POST /poll/now", s.handlePollNow)
	s.mux.HandleFunc("GET /poll/stats", s.handlePollStats)
	s.mux.HandleFunc("GET /inbox", s.handleInbox)
	s.mux.HandleFunc("GET /suggestions", s.handleSuggestions)
	s.mux.HandleFunc("POST /draft/from-thread", s.handleDraftFromThread)
	s.mux.HandleFunc("POST /draft/free", s.handleDraftFree)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

// model returns the loaded model or writes 503.
func (s *Server) model(w http.ResponseWriter) (*classifier.Model, bool) {
	var m *classifier.Model
	if s.cfg.Models != nil {
		m = s.cfg.Models.Get()
	}
	if !m.Fitted() {
		writeError(w, http.StatusServiceUnavailable, "model not ready")
		return nil, false
	}
	return m, true
}

func threshold(v *float64, def float64) (float64, error) {
	t := def
	if v != nil {
		t = *v
	}
	return t, classifier.ValidateThreshold(t)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"ready": false, "model_path": s.cfg.ModelPath, "model_saved": false}
	if s.cfg.Models != nil {
		if m := s.cfg.Models.Get(); m.Fitted() {
			resp["ready"] = true
			resp["fitted_at"] = m.FittedAt().Format(time.RFC3339)
		}
	}
	if s.cfg.ModelPath != "" {
		_, err := os.Stat(s.cfg.ModelPath)
		resp["model_saved"] = err == nil
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"ngram_range": nil, "n_neighbors": nil, "max_df": nil, "ready": false}
	if s.cfg.Models != nil {
		if m := s.cfg.Models.Get(); m.Fitted() {
			o := m.Options()
			resp["ngram_range"] = []int{o.NgramMin, o.NgramMax}
			resp["n_neighbors"] = o.Neighbors
			resp["max_df"] = o.MaxDF
			resp["ready"] = true
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type recommendRequest struct {
	State     string   `json:"state"`
	Threshold *float64 `json:"threshold"`
}

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	var req recommendRequest
	if !decode(w, r, &req) {
		return
	}
	m, ok := s.model(w)
	if !ok {
		return
	}
	if isBlank(req.State) {
		writeError(w, http.StatusUnprocessableEntity, "state cannot be empty")
		return
	}
	t, err := threshold(req.Threshold, defaultThreshold)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	p, err := m.PredictWithThreshold(req.State, t)
	if err != nil {
		s.internalError(w, "recommend", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type batchRequest struct {
	States    []string `json:"states"`
	Threshold *float64 `json:"threshold"`
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !decode(w, r, &req) {
		return
	}
	m, ok := s.model(w)
	if !ok {
		return
	}
	if len(req.States) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "states cannot be empty")
		return
	}
	t, err := threshold(req.Threshold, defaultThreshold)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	out := make([]types.Prediction, 0, len(req.States))
	for _, st := range req.States {
		p, err := m.PredictWithThreshold(st, t)
		if err != nil {
			s.internalError(w, "batch", err)
			return
		}
		out = append(out, p)
	}
	writeJSON(w, http.StatusOK, out)
}

type actRequest struct {
	Source    string           `json:"source"`
	State     string           `json:"state"`
	Events    []map[string]any `json:"events"`
	Threshold *float64         `json:"threshold"`
	draft.Options
}

type actResponse struct {
	Action     types.Action `json:"action"`
	Confidence float64      `json:"confidence"`
	Subject    string       `json:"subject"`
	Body       string       `json:"body"`
	Model      string       `json:"model"`
	UsedState  string       `json:"used_state"`
}

func (s *Server) handleAct(w http.ResponseWriter, r *http.Request) {
	var req actRequest
	if !decode(w, r, &req) {
		return
	}
	src, err := types.ParseSource(req.Source)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	t, err := threshold(req.Threshold, defaultActThreshold)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	state := req.State
	if isBlank(state) {
		if len(req.Events) == 0 {
			writeError(w, http.StatusUnprocessableEntity, "provide either state or events")
			return
		}
		if state, err = s.stateFromFields(src, req.Events); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
	}

	pred := types.Prediction{Action: types.ActionReply, Confidence: 0.5}
	if s.cfg.Models != nil {
		if m := s.cfg.Models.Get(); m.Fitted() {
			if p, err := m.PredictWithThreshold(state, t); err == nil {
				pred = p
			}
		}
	}

	if req.MaxWords <= 0 {
		req.MaxWords = draft.DefaultEmailWords
	}
	res, ok := s.draft(r.Context(), w, state, src, req.Options)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, actResponse{
		Action:     pred.Action,
		Confidence: pred.Confidence,
		Subject:    res.Subject,
		Body:       res.Body,
		Model:      res.Model,
		UsedState:  state,
	})
}

func (s *Server) handlePollNow(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Poller == nil {
		writeError(w, http.StatusServiceUnavailable, "poller not configured")
		return
	}
	// The cycle is shared process state and runs to completion even if the
	// client goes away.
	stats, err := s.cfg.Poller.RunOnce(context.WithoutCancel(r.Context()))
	if errors.Is(err, types.ErrCycleInProgress) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.internalError(w, "poll", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handlePollStats(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Poller == nil {
		writeError(w, http.StatusServiceUnavailable, "poller not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Poller.LastRunStats())
}

func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Poller == nil {
		writeError(w, http.StatusServiceUnavailable, "poller not configured")
		return
	}
	last := s.cfg.Poller.LastEvents()
	out := make(map[types.Source][]normalize.Record, len(last))
	for src, records := range last {
		if records == nil {
			records = []normalize.Record{}
		}
		out[src] = records
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "suggestion store not configured")
		return
	}
	src, err := types.ParseSource(r.URL.Query().Get("source"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	limit := defaultInboxLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}
	items, err := s.cfg.Store.Tail(r.Context(), src, limit)
	if err != nil {
		s.internalError(w, "tail suggestions", err)
		return
	}
	if items == nil {
		items = []*types.Suggestion{}
	}
	writeJSON(w, http.StatusOK, items)
}

type draftFromThreadRequest struct {
	Source   string `json:"source"`
	ThreadID string `json:"thread_id"`
	draft.Options
}

type draftResponse struct {
	State   string `json:"state"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Model   string `json:"model"`
}

func (s *Server) handleDraftFromThread(w http.ResponseWriter, r *http.Request) {
	var req draftFromThreadRequest
	if !decode(w, r, &req) {
		return
	}
	src, err := types.ParseSource(req.Source)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if s.cfg.Poller == nil {
		writeError(w, http.StatusServiceUnavailable, "poller not configured")
		return
	}
	events, ok := s.cfg.Poller.ThreadEvents(src, req.ThreadID)
	if !ok {
		writeError(w, http.StatusNotFound, "thread not found in last poll")
		return
	}
	state, err := thread.Serialize(events, s.cfg.Window)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.respondDraft(r.Context(), w, state, src, req.Options)
}

type draftFreeRequest struct {
	Source   string           `json:"source"`
	Messages []map[string]any `json:"messages"`
	draft.Options
}

func (s *Server) handleDraftFree(w http.ResponseWriter, r *http.Request) {
	var req draftFreeRequest
	if !decode(w, r, &req) {
		return
	}
	src, err := types.ParseSource(req.Source)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "messages cannot be empty")
		return
	}
	state, err := s.stateFromFields(src, req.Messages)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.respondDraft(r.Context(), w, state, src, req.Options)
}

func (s *Server) respondDraft(ctx context.Context, w http.ResponseWriter, state string, src types.Source, opts draft.Options) {
	if opts.MaxWords <= 0 {
		opts.MaxWords = draft.DefaultEmailWords
	}
	res, ok := s.draft(ctx, w, state, src, opts)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, draftResponse{State: state, Subject: res.Subject, Body: res.Body, Model: res.Model})
}

// draft calls the drafter, clamping message lengths for chat and vcs.
func (s *Server) draft(ctx context.Context, w http.ResponseWriter, state string, src types.Source, opts draft.Options) (draft.Result, bool) {
	if s.cfg.Drafter == nil {
		writeError(w, http.StatusServiceUnavailable, "drafter not configured")
		return draft.Result{}, false
	}
	if src != types.SourceMail {
		opts.MaxWords = min(opts.MaxWords, draft.MaxMessageWords)
	}
	res, err := s.cfg.Drafter.Draft(ctx, state, src, opts)
	if err != nil {
		s.logger.Error("draft failed", zap.String("source", string(src)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("LLM draft failed: %v", err))
		return draft.Result{}, false
	}
	return res, true
}

// stateFromFields normalizes loosely keyed records into one thread and
// serializes it.
func (s *Server) stateFromFields(src types.Source, rows []map[string]any) (string, error) {
	records := make([]normalize.Record, 0, len(rows))
	for _, f := range rows {
		records = append(records, normalize.GenericRecord{Source: src, Fields: f})
	}
	events := s.cfg.Normalizer.NormalizeAll(records)
	thread.Sort(events)
	return thread.Serialize(events, s.cfg.Window)
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error("request failed", zap.String("op", op), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
