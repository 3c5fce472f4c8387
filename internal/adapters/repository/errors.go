package repository

import "errors"

// Sentinel kinds for repository errors.
var (
	ErrNotFound = errors.New("request not found")
	ErrClosed   = errors.New("repository closed")
)
