// Package model contains domain models passed between layers.
package model

import (
	"strings"
	"time"
)

// State is the lifecycle state of a track request.
type State string

// Request states.
const (
	StatePending    State = "pending"
	StateDispatched State = "dispatched"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateExhausted  State = "exhausted"
)

// Terminal reports whether no further engine-driven transitions can occur.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateExhausted:
		return true
	default:
		return false
	}
}

// Phase is the trigger scheduler position of a request.
type Phase string

// Trigger phases.
const (
	PhaseWaiting     Phase = "waiting"
	PhaseEarlyWindow Phase = "early_window"
	PhaseLateWindow  Phase = "late_window"
	PhaseCommitted   Phase = "committed"
)

// Target describes the track a caller wants.
type Target struct {
	Artist      string `json:"artist"`
	Title       string `json:"title"`
	Album       string `json:"album,omitempty"`
	DurationSec int    `json:"duration_sec,omitempty"` // 0 when unknown
	Extension   string `json:"extension,omitempty"`    // preferred extension, e.g. ".mp3"
}

// Query returns the "artist - title" string used for searching and filename matching.
func (t Target) Query() string {
	artist := strings.TrimSpace(t.Artist)
	title := strings.TrimSpace(t.Title)
	if artist == "" {
		return title
	}
	return artist + " - " + title
}

// TrackRequest is one user-initiated download intent.
// Values handed out by the engine are copies; mutating them has no effect.
type TrackRequest struct {
	ID        string    `json:"id"`
	Target    Target    `json:"target"`
	Query     string    `json:"query"`
	State     State     `json:"state"`
	Phase     Phase     `json:"phase"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Shortlist []ScoredCandidate `json:"shortlist"`
	Attempted []string          `json:"attempted"`

	Active       *ScoredCandidate `json:"active,omitempty"`
	ActiveSince  *time.Time       `json:"active_since,omitempty"`
	Accepted     *ScoredCandidate `json:"accepted,omitempty"`
	Attempts     int              `json:"attempts"`
	CommittedAt  *time.Time       `json:"committed_at,omitempty"`
	CommitReason string           `json:"commit_reason,omitempty"`
	EndReason    string           `json:"end_reason,omitempty"`
}

// Clone returns a deep copy of r.
func (r TrackRequest) Clone() TrackRequest { //nolint:gocritic // value receiver keeps snapshots immutable
	out := r
	out.Shortlist = append([]ScoredCandidate(nil), r.Shortlist...)
	out.Attempted = append([]string(nil), r.Attempted...)
	if r.Active != nil {
		a := *r.Active
		out.Active = &a
	}
	if r.Accepted != nil {
		a := *r.Accepted
		out.Accepted = &a
	}
	if r.ActiveSince != nil {
		t := *r.ActiveSince
		out.ActiveSince = &t
	}
	if r.CommittedAt != nil {
		t := *r.CommittedAt
		out.CommittedAt = &t
	}
	return out
}

// PendingRequest is what a search client needs to issue a search.
type PendingRequest struct {
	ID        string    `json:"id"`
	Target    Target    `json:"target"`
	Query     string    `json:"query"`
	CreatedAt time.Time `json:"created_at"`
}

// Status is a health snapshot across all requests.
type Status struct {
	PendingCount    int `json:"pending_count"`
	DispatchedCount int `json:"dispatched_count"`
	CompletedCount  int `json:"completed_count"`
	FailedCount     int `json:"failed_count"`
	ExhaustedCount  int `json:"exhausted_count"`
}
