package engine

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/okian/trackpick/internal/domain/scoring"
	"github.com/okian/trackpick/internal/domain/trigger"
	"github.com/okian/trackpick/pkg/logger"
)

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithClock sets the clock driving timers and timestamps.
func WithClock(clock clockwork.Clock) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithPolicy sets the commit policy.
func WithPolicy(p trigger.Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithScorer sets the candidate scorer.
func WithScorer(s *scoring.Scorer) Option {
	return func(e *Engine) {
		if s != nil {
			e.scorer = s
		}
	}
}

// WithShortlistSize sets how many candidates each request retains.
func WithShortlistSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.capacity = n
		}
	}
}

// WithDispatchTimeout sets how long an attempt may stay without an outcome
// before it is failed. Zero disables the timeout.
func WithDispatchTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.dispatchTimeout = d
		}
	}
}

// WithRequestTimeout sets how long a request may stay live before it fails.
// Zero disables the timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.requestTimeout = d
		}
	}
}

// WithShardCount sets the number of shards of the request map.
func WithShardCount(n int) Option {
	return func(e *Engine) { e.shards = n }
}

// WithSink sets where commands are emitted.
func WithSink(s Sink) Option {
	return func(e *Engine) {
		if s != nil {
			e.sink = s
		}
	}
}

// WithJournal sets where request snapshots are persisted.
func WithJournal(j Journal) Option {
	return func(e *Engine) {
		if j != nil {
			e.journal = j
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}
