package repository

import (
	"time"

	"github.com/okian/trackpick/pkg/logger"
)

// JournalOption applies a configuration option to the Journal.
type JournalOption func(*Journal)

// WithFlushInterval sets how long Run gathers writes before flushing.
func WithFlushInterval(interval time.Duration) JournalOption {
	return func(j *Journal) {
		if interval > 0 {
			j.interval = interval
		}
	}
}

// WithJournalLogger sets the journal logger.
func WithJournalLogger(l logger.Logger) JournalOption {
	return func(j *Journal) {
		if l != nil {
			j.logger = l
		}
	}
}
