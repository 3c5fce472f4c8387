package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/okian/trackpick/internal/domain/model"
)

// IdempotencyHeader carries the caller's idempotency key on submit.
const IdempotencyHeader = "Idempotency-Key"

// submitRequest mirrors the OpenAPI schema for POST /v1/requests.
type submitRequest struct {
	Artist         string `json:"artist"`
	Title          string `json:"title"`
	Album          string `json:"album,omitempty"`
	DurationSec    int    `json:"duration_sec,omitempty"`
	Extension      string `json:"extension,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

func (s submitRequest) target() model.Target {
	return model.Target{
		Artist:      s.Artist,
		Title:       s.Title,
		Album:       s.Album,
		DurationSec: s.DurationSec,
		Extension:   s.Extension,
	}
}

type submitResponse struct {
	ID     string `json:"id"`
	Replay bool   `json:"replay"`
}

// RequestsHandler serves the request lifecycle endpoints.
type RequestsHandler struct {
	deps Dependencies
}

// NewRequestsHandler creates a new requests handler.
func NewRequestsHandler(deps Dependencies) *RequestsHandler {
	return &RequestsHandler{deps: deps}
}

// HandleSubmit handles POST /v1/requests. A replayed idempotency key answers
// 200 with the original id, a fresh request answers 201.
func (h *RequestsHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	var body submitRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeDomainError(w, err)
		return
	}
	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if key == "" {
		key = strings.TrimSpace(body.IdempotencyKey)
	}

	id, replay, err := h.deps.Submit(r.Context(), body.target(), key)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	status := http.StatusCreated
	if replay {
		status = http.StatusOK
	}
	w.Header().Set("Location", "/v1/requests/"+id)
	writeJSON(w, status, submitResponse{ID: id, Replay: replay})
}

// HandlePending handles GET /v1/requests/pending.
func (h *RequestsHandler) HandlePending(w http.ResponseWriter, r *http.Request) {
	pending, err := h.deps.PullPending(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if pending == nil {
		pending = []model.PendingRequest{}
	}
	writeJSON(w, http.StatusOK, pending)
}

// HandleGet handles GET /v1/requests/{id}.
func (h *RequestsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := requestID(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	req, err := h.deps.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// HandleRetire handles DELETE /v1/requests/{id}. Only terminal requests can
// be retired.
func (h *RequestsHandler) HandleRetire(w http.ResponseWriter, r *http.Request) {
	id, err := requestID(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.deps.Retire(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func requestID(r *http.Request) (string, error) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		return "", ErrMissingID
	}
	return id, nil
}
