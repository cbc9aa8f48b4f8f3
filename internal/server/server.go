// Package server exposes the evaluator over HTTP.
//
// Routes:
//
//	POST /v1/utterances   evaluate one utterance, answer with the outcome
//	GET  /v1/interactions the in-memory interaction log
//	GET  /v1/history      persisted history, newest first (?limit=N)
//	GET  /healthz         liveness
//	GET  /readyz          readiness
//	GET  /metrics         Prometheus scrape endpoint
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/intensifier/dicio/internal/eval"
	"github.com/intensifier/dicio/internal/health"
	"github.com/intensifier/dicio/internal/history"
	"github.com/intensifier/dicio/internal/observe"
	"github.com/intensifier/dicio/pkg/skill"
)

// maxBodyBytes bounds the size of a request body.
const maxBodyBytes = 64 << 10

// defaultHistoryLimit is the number of records /v1/history returns without
// a limit parameter.
const defaultHistoryLimit = 50

// Server routes HTTP requests to the evaluator.
type Server struct {
	eval    *eval.Evaluator
	history history.Store
	health  *health.Handler
	metrics *observe.Metrics
	scrape  http.Handler
}

// Option configures a [Server].
type Option func(*Server)

// WithHistory serves /v1/history from s. Without it the route answers 404.
func WithHistory(s history.Store) Option {
	return func(srv *Server) { srv.history = s }
}

// WithHealth serves the liveness and readiness probes of h.
func WithHealth(h *health.Handler) Option {
	return func(srv *Server) { srv.health = h }
}

// WithMetrics records request metrics to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(srv *Server) { srv.metrics = m }
}

// WithScrapeHandler replaces the /metrics handler. The default is
// [promhttp.Handler].
func WithScrapeHandler(h http.Handler) Option {
	return func(srv *Server) { srv.scrape = h }
}

// New creates a Server answering with ev.
func New(ev *eval.Evaluator, opts ...Option) *Server {
	s := &Server{eval: ev}
	for _, o := range opts {
		o(s)
	}
	if s.health == nil {
		s.health = health.New()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.scrape == nil {
		s.scrape = promhttp.Handler()
	}
	return s
}

// Handler returns the root handler with tracing, metrics and request logging
// applied. Probe and scrape requests are logged at debug level.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/utterances", s.handleUtterance)
	mux.HandleFunc("GET /v1/interactions", s.handleInteractions)
	mux.HandleFunc("GET /v1/history", s.handleHistory)
	mux.Handle("GET /metrics", s.scrape)
	s.health.Register(mux)

	return observe.Middleware(s.metrics, "/healthz", "/readyz", "/metrics")(mux)
}

// ─── Request and response bodies ─────────────────────────────────────────────

// utteranceRequest is the body of POST /v1/utterances. Either Text or
// Alternatives must be set; Text is ranked first.
type utteranceRequest struct {
	Text         string   `json:"text,omitempty"`
	Alternatives []string `json:"alternatives,omitempty"`
}

// outcomeResponse is the JSON form of [eval.Outcome].
type outcomeResponse struct {
	Question   string     `json:"question"`
	Answer     string     `json:"answer"`
	Error      string     `json:"error,omitempty"`
	Skill      skill.Info `json:"skill"`
	Fallback   bool       `json:"fallback"`
	Confidence float64    `json:"confidence"`
	Continues  bool       `json:"continues"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ─── Handlers ────────────────────────────────────────────────────────────────

func (s *Server) handleUtterance(w http.ResponseWriter, r *http.Request) {
	var req utteranceRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}

	utterances := req.Alternatives
	if req.Text != "" {
		utterances = append([]string{req.Text}, utterances...)
	}

	out, err := s.eval.Evaluate(r.Context(), utterances)
	switch {
	case errors.Is(err, eval.ErrNoUtterance):
		writeError(w, http.StatusBadRequest, err)
		return
	case err != nil:
		observe.Logger(r.Context()).Warn("server: evaluate failed", "err", err)
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	resp := outcomeResponse{
		Question:   out.Question,
		Answer:     out.Answer,
		Skill:      out.Skill,
		Fallback:   out.Fallback,
		Confidence: out.Confidence,
		Continues:  out.Continues,
	}
	if out.Err != nil {
		resp.Error = out.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleInteractions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.eval.State())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, errors.New("history is disabled"))
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}

	records, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		observe.Logger(r.Context()).Error("server: read history", "err", err)
		writeError(w, http.StatusInternalServerError, errors.New("history unavailable"))
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("server: write response", "err", err)
	}
}
