package api

import (
	"errors"
	"net/http"

	service "github.com/okian/trackpick/internal/app"
	"github.com/okian/trackpick/internal/domain/engine"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest = errors.New("bad request")
	ErrMissingID  = errors.New("missing request id")
)

// classify returns the HTTP status and stable error code for err.
func classify(err error) (status int, code string) {
	switch {
	case errors.Is(err, ErrBadRequest), errors.Is(err, ErrMissingID):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, engine.ErrInvalidTarget):
		return http.StatusBadRequest, "invalid_target"
	case errors.Is(err, engine.ErrInvalidOutcome):
		return http.StatusBadRequest, "invalid_outcome"
	case errors.Is(err, engine.ErrUnknownRequest):
		return http.StatusNotFound, "unknown_request"
	case errors.Is(err, engine.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, engine.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, engine.ErrNotTerminal):
		return http.StatusConflict, "not_terminal"
	case errors.Is(err, service.ErrPullDisabled):
		return http.StatusConflict, "pull_disabled"
	case errors.Is(err, service.ErrBusy):
		return http.StatusTooManyRequests, "busy"
	case errors.Is(err, service.ErrNotStarted), errors.Is(err, engine.ErrClosed):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
