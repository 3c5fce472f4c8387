package delivery

import "errors"

var (
	// ErrMailboxFull is returned when the pull mailbox cannot take another command.
	ErrMailboxFull = errors.New("mailbox full")
	// ErrUnexpectedStatus is returned when a collaborator answers with a non-2xx status.
	ErrUnexpectedStatus = errors.New("unexpected status")
	// ErrWrongKind is returned when a handler receives a command it does not serve.
	ErrWrongKind = errors.New("wrong command kind")
)
