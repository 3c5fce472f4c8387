package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/okian/trackpick/internal/domain/engine"
	"github.com/okian/trackpick/internal/domain/model"
)

// maxCandidatesPerBatch bounds a single candidates submission.
const maxCandidatesPerBatch = 500

type candidatesRequest struct {
	Candidates []json.RawMessage `json:"candidates"`
}

type candidatesResponse struct {
	Results []engine.IngestResult `json:"results"`
}

type outcomeRequest struct {
	CandidateID string        `json:"candidate_id"`
	Outcome     model.Outcome `json:"outcome"`
}

// CandidatesHandler serves search results and download outcomes.
type CandidatesHandler struct {
	deps Dependencies
}

// NewCandidatesHandler creates a new candidates handler.
func NewCandidatesHandler(deps Dependencies) *CandidatesHandler {
	return &CandidatesHandler{deps: deps}
}

// HandleCandidates handles POST /v1/requests/{id}/candidates.
// Candidates are peer data and decode leniently: fields that do not parse
// count as absent, and an entry naming no peer or file is reported as
// malformed in its result. Candidates for a request that already ended are
// accepted and dropped; the per-candidate results say so.
func (h *CandidatesHandler) HandleCandidates(w http.ResponseWriter, r *http.Request) {
	id, err := requestID(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var body candidatesRequest
	if err := decodeLenientJSON(w, r, &body); err != nil {
		writeDomainError(w, err)
		return
	}
	switch {
	case len(body.Candidates) == 0:
		writeDomainError(w, fmt.Errorf("%w: no candidates", ErrBadRequest))
		return
	case len(body.Candidates) > maxCandidatesPerBatch:
		writeDomainError(w, fmt.Errorf("%w: at most %d candidates per batch", ErrBadRequest, maxCandidatesPerBatch))
		return
	}
	candidates := make([]model.Candidate, len(body.Candidates))
	for i, raw := range body.Candidates {
		// Entries that are not objects stay zero and come back malformed.
		_ = json.Unmarshal(raw, &candidates[i])
	}

	results, err := h.deps.SubmitCandidates(r.Context(), id, candidates)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, candidatesResponse{Results: results})
}

// HandleOutcome handles POST /v1/requests/{id}/outcome and answers with the
// request as it stands afterwards.
func (h *CandidatesHandler) HandleOutcome(w http.ResponseWriter, r *http.Request) {
	id, err := requestID(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var body outcomeRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeDomainError(w, err)
		return
	}
	if strings.TrimSpace(body.CandidateID) == "" {
		writeDomainError(w, fmt.Errorf("%w: missing candidate_id", ErrBadRequest))
		return
	}

	if err := h.deps.ReportOutcome(r.Context(), id, body.CandidateID, body.Outcome); err != nil {
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
