// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/okian/trackpick/internal/domain/engine"
	"github.com/okian/trackpick/internal/domain/model"
	"github.com/okian/trackpick/internal/domain/scoring"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to the service implementation.
type Dependencies interface {
	Submit(ctx context.Context, target model.Target, idempotencyKey string) (id string, replay bool, err error)
	PullPending(ctx context.Context) ([]model.PendingRequest, error)
	SubmitCandidates(ctx context.Context, requestID string, candidates []model.Candidate) ([]engine.IngestResult, error)
	ReportOutcome(ctx context.Context, requestID, candidateID string, outcome model.Outcome) error
	Get(ctx context.Context, requestID string) (model.TrackRequest, error)
	Retire(ctx context.Context, requestID string) error
	Status(ctx context.Context) (model.Status, error)
	PullDispatches(ctx context.Context, limit int) ([]model.Command, error)
	ScoreBreakdown(target model.Target, candidate model.Candidate) scoring.Breakdown
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler     *HealthHandler
	statsHandler      *StatsHandler
	requestsHandler   *RequestsHandler
	candidatesHandler *CandidatesHandler
	dispatchesHandler *DispatchesHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:     NewHealthHandler(),
		statsHandler:      NewStatsHandler(deps, statsProvider),
		requestsHandler:   NewRequestsHandler(deps),
		candidatesHandler: NewCandidatesHandler(deps),
		dispatchesHandler: NewDispatchesHandler(deps),
	}
}

// Routes returns a chi router carrying every API route.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	s.Register(r)
	return r
}

// Register attaches all HTTP routes to r.
func (s *Server) Register(r chi.Router) {
	r.Get("/healthz", s.healthHandler.HandleHealth)
	r.Get("/metrics", s.healthHandler.HandleMetrics)
	r.Get("/stats", s.statsHandler.HandleStats)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.statsHandler.HandleStatus)
		r.Post("/score", s.dispatchesHandler.HandleScore)
		r.Get("/dispatches", s.dispatchesHandler.HandlePull)

		r.Route("/requests", func(r chi.Router) {
			r.Post("/", s.requestsHandler.HandleSubmit)
			r.Get("/pending", s.requestsHandler.HandlePending)
			r.Get("/{id}", s.requestsHandler.HandleGet)
			r.Delete("/{id}", s.requestsHandler.HandleRetire)
			r.Post("/{id}/candidates", s.candidatesHandler.HandleCandidates)
			r.Post("/{id}/outcome", s.candidatesHandler.HandleOutcome)
		})
	})
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeDomainError maps err onto its HTTP status and error code.
func writeDomainError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	writeError(w, status, code, err)
}

// decodeJSON reads a single JSON document from r into v, rejecting unknown
// fields and trailing data.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return decodeBody(w, r, v, true)
}

// decodeLenientJSON is decodeJSON for bodies carrying peer-reported data:
// unknown fields are ignored.
func decodeLenientJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return decodeBody(w, r, v, false)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any, strict bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("%w: trailing data after JSON body", ErrBadRequest)
	}
	return nil
}
