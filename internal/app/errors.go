package service

import "errors"

var (
	// ErrNotStarted is returned by boundary operations before Start or after Stop.
	ErrNotStarted = errors.New("service not started")
	// ErrBusy is returned by Submit while the command outbox is full.
	ErrBusy = errors.New("service busy")
	// ErrPullDisabled is returned by PullDispatches when downloads are pushed by webhook.
	ErrPullDisabled = errors.New("pull delivery disabled")
)
