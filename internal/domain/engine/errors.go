package engine

import "errors"

// Sentinel kinds for engine errors.
var (
	ErrUnknownRequest    = errors.New("unknown request")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrNotFound          = errors.New("request not found")
	ErrNotTerminal       = errors.New("request is not in a terminal state")
	ErrInvalidTarget     = errors.New("invalid target")
	ErrInvalidOutcome    = errors.New("invalid outcome")
	ErrClosed            = errors.New("engine closed")
)
