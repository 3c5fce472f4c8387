package worker

import (
	"context"
	"fmt"

	"github.com/okian/trackpick/internal/domain/model"
)

// Handler delivers one command to its collaborator.
type Handler interface {
	Handle(ctx context.Context, cmd model.Command) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, cmd model.Command) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, cmd model.Command) error { //nolint:gocritic // hugeParam: commands are values
	return f(ctx, cmd)
}

// Dispatcher routes commands to the handler registered for their kind.
// Register every handler before the pool starts.
type Dispatcher struct {
	handlers map[model.CommandKind]Handler
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[model.CommandKind]Handler)}
}

// Register sets the handler for kind, replacing any previous one.
func (d *Dispatcher) Register(kind model.CommandKind, h Handler) {
	d.handlers[kind] = h
}

// Dispatch delivers cmd.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd model.Command) error { //nolint:gocritic // hugeParam: commands are values
	h, ok := d.handlers[cmd.Kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Kind)
	}
	return h.Handle(ctx, cmd)
}
