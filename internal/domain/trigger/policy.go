// Package trigger decides when a request commits to a candidate and owns the
// per-request timers that drive those decisions.
package trigger

import (
	"time"

	"github.com/okian/trackpick/internal/domain/model"
)

// Default policy values.
const (
	DefaultEarlyWindow    = 15 * time.Second
	DefaultLateWindow     = 30 * time.Second
	DefaultHighConfidence = 100
	DefaultLateFloor      = 50
)

// Action is what the engine must do after an evaluation.
type Action int

// Actions.
const (
	ActionNone Action = iota
	ActionCommit
	ActionExhaust
)

func (a Action) String() string {
	switch a {
	case ActionCommit:
		return "commit"
	case ActionExhaust:
		return "exhaust"
	default:
		return "none"
	}
}

// Commit and end reasons.
const (
	ReasonHighConfidence = "high_confidence"
	ReasonEarlyWindow    = "early_window"
	ReasonLateWindow     = "late_window"
	ReasonBestEffort     = "best_effort"
	ReasonNoCandidates   = "no_candidates"
)

// Policy holds the thresholds of the commit state machine.
type Policy struct {
	EarlyWindow    time.Duration
	LateWindow     time.Duration
	HighConfidence int // commit immediately when the best score exceeds this
	LateFloor      int // after LateWindow, a score above this is a regular commit
}

// DefaultPolicy returns the 15s/30s, 100/50 policy.
func DefaultPolicy() Policy {
	return Policy{
		EarlyWindow:    DefaultEarlyWindow,
		LateWindow:     DefaultLateWindow,
		HighConfidence: DefaultHighConfidence,
		LateFloor:      DefaultLateFloor,
	}
}

// Decision is the outcome of one evaluation.
type Decision struct {
	Action Action
	Reason string
	Phase  model.Phase // phase the request is in after the evaluation
}

// PhaseAt returns the time-derived phase for a request that has not committed.
func (p Policy) PhaseAt(elapsed time.Duration) model.Phase {
	switch {
	case elapsed >= p.LateWindow:
		return model.PhaseLateWindow
	case elapsed >= p.EarlyWindow:
		return model.PhaseEarlyWindow
	default:
		return model.PhaseWaiting
	}
}

// Decide evaluates the state machine. best is the score of the best
// dispatchable candidate and hasCandidate reports whether one exists at all.
// A committed request never commits again automatically.
func (p Policy) Decide(phase model.Phase, elapsed time.Duration, best int, hasCandidate bool) Decision {
	if phase == model.PhaseCommitted {
		return Decision{Action: ActionNone, Phase: model.PhaseCommitted}
	}
	next := p.PhaseAt(elapsed)

	if hasCandidate && best > p.HighConfidence {
		reason := ReasonHighConfidence
		if elapsed >= p.EarlyWindow {
			reason = ReasonEarlyWindow
		}
		return Decision{Action: ActionCommit, Reason: reason, Phase: model.PhaseCommitted}
	}

	if elapsed >= p.LateWindow {
		switch {
		case hasCandidate && best > p.LateFloor:
			return Decision{Action: ActionCommit, Reason: ReasonLateWindow, Phase: model.PhaseCommitted}
		case hasCandidate:
			return Decision{Action: ActionCommit, Reason: ReasonBestEffort, Phase: model.PhaseCommitted}
		default:
			return Decision{Action: ActionExhaust, Reason: ReasonNoCandidates, Phase: next}
		}
	}

	return Decision{Action: ActionNone, Phase: next}
}
