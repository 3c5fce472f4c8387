package worker

import "errors"

// Sentinel kinds for worker errors.
var (
	ErrUnknownCommand = errors.New("no handler for command kind")
)
