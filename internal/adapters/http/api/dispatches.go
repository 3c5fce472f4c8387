package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/okian/trackpick/internal/domain/model"
	"github.com/okian/trackpick/internal/domain/scoring"
)

// maxPullLimit caps a single dispatch pull.
const maxPullLimit = 1000

type scoreRequest struct {
	Target    model.Target    `json:"target"`
	Candidate model.Candidate `json:"candidate"`
}

type scoreResponse struct {
	CandidateID string            `json:"candidate_id"`
	Total       int               `json:"total"`
	Breakdown   scoring.Breakdown `json:"breakdown"`
}

// DispatchesHandler serves pulled download commands and score previews.
type DispatchesHandler struct {
	deps Dependencies
}

// NewDispatchesHandler creates a new dispatches handler.
func NewDispatchesHandler(deps Dependencies) *DispatchesHandler {
	return &DispatchesHandler{deps: deps}
}

// HandlePull handles GET /v1/dispatches?limit=N. Each command is handed out
// once; limit defaults to maxPullLimit.
func (h *DispatchesHandler) HandlePull(w http.ResponseWriter, r *http.Request) {
	limit := maxPullLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeDomainError(w, fmt.Errorf("%w: limit must be a positive integer", ErrBadRequest))
			return
		}
		limit = min(n, maxPullLimit)
	}

	cmds, err := h.deps.PullDispatches(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if cmds == nil {
		cmds = []model.Command{}
	}
	writeJSON(w, http.StatusOK, cmds)
}

// HandleScore handles POST /v1/score. It scores a candidate against a target
// without touching any request; the candidate decodes as leniently as on
// ingestion.
func (h *DispatchesHandler) HandleScore(w http.ResponseWriter, r *http.Request) {
	var body scoreRequest
	if err := decodeLenientJSON(w, r, &body); err != nil {
		writeDomainError(w, err)
		return
	}
	b := h.deps.ScoreBreakdown(body.Target, body.Candidate)
	writeJSON(w, http.StatusOK, scoreResponse{
		CandidateID: body.Candidate.ID(),
		Total:       b.Total(),
		Breakdown:   b,
	})
}
