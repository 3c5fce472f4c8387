// Package delivery contains the collaborators outbox commands are delivered
// to: a pull mailbox drained by the transfer client, a webhook pushing
// downloads to it, and the post-processor notifier.
package delivery

import (
	"context"
	"fmt"
	"sync"

	"github.com/okian/trackpick/internal/domain/model"
	"github.com/okian/trackpick/pkg/logger"
)

// DefaultMailboxCapacity bounds the pull mailbox.
const DefaultMailboxCapacity = 10_000

// Mailbox buffers download commands until the transfer client pulls them.
type Mailbox struct {
	mu       sync.Mutex
	items    []model.Command
	capacity int
	logger   logger.Logger
}

// NewMailbox creates a mailbox holding at most capacity commands.
func NewMailbox(capacity int, l logger.Logger) *Mailbox {
	if capacity <= 0 {
		capacity = DefaultMailboxCapacity
	}
	if l == nil {
		l = logger.Get().Named("mailbox")
	}
	return &Mailbox{capacity: capacity, logger: l}
}

// Handle stores a download command. A command for a request that already has
// one buffered replaces it: only the latest attempt is worth pulling.
func (m *Mailbox) Handle(ctx context.Context, cmd model.Command) error { //nolint:gocritic // hugeParam: commands are values
	if cmd.Kind != model.CommandDownload {
		return fmt.Errorf("mailbox: %w: %s", ErrWrongKind, cmd.Kind)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.items {
		if m.items[i].RequestID == cmd.RequestID {
			m.logger.Debug(ctx, "buffered download superseded",
				logger.String("request_id", cmd.RequestID),
				logger.Int("old_attempt", m.items[i].Attempt),
				logger.Int("attempt", cmd.Attempt),
			)
			m.items[i] = cmd
			return nil
		}
	}
	if len(m.items) >= m.capacity {
		return fmt.Errorf("mailbox: %w (%d)", ErrMailboxFull, m.capacity)
	}
	m.items = append(m.items, cmd)
	m.logger.Debug(ctx, "download queued for pull",
		logger.String("request_id", cmd.RequestID),
		logger.Int("attempt", cmd.Attempt),
	)
	return nil
}

// Drain removes and returns up to limit commands in arrival order.
// A limit <= 0 drains everything. When live is non-nil, commands it rejects
// are discarded without counting against limit.
func (m *Mailbox) Drain(limit int, live func(model.Command) bool) []model.Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Command
	taken := 0
	for _, cmd := range m.items {
		if limit > 0 && len(out) == limit {
			break
		}
		taken++
		if live != nil && !live(cmd) {
			continue
		}
		out = append(out, cmd)
	}
	m.items = append(m.items[:0], m.items[taken:]...)
	return out
}

// Len returns the number of buffered commands.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
