package service

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/okian/trackpick/internal/config"
	"github.com/okian/trackpick/internal/domain/trigger"
	"github.com/okian/trackpick/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithConfig applies every setting of cfg.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg == nil {
			return
		}
		s.policy = trigger.Policy{
			EarlyWindow:    cfg.EarlyWindow(),
			LateWindow:     cfg.LateWindow(),
			HighConfidence: cfg.HighConfidenceScore,
			LateFloor:      cfg.LateFloorScore,
		}
		s.shortlistSize = cfg.ShortlistSize
		s.preferredExt = cfg.PreferredExtension
		s.dispatchTimeout = cfg.DispatchTimeout()
		s.requestTimeout = cfg.RequestTimeout()
		s.queueSize = cfg.QueueSize
		s.workerCount = cfg.WorkerCount
		s.shardCount = cfg.ShardCount
		s.dedupeSize = cfg.DedupeSize
		s.dedupeTTL = cfg.DedupeTTL()
		s.dbPath = cfg.DBPath
		s.journalFlush = cfg.JournalFlush()
		if cfg.DeliveryMode == config.DeliveryWebhook {
			s.webhookURL = cfg.WebhookURL
		}
		s.postProcessURL = cfg.PostProcessURL
		s.httpTimeout = cfg.HTTPClientTimeout()
	}
}

// WithWorkerCount sets the number of delivery workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the command outbox.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets the size of the idempotency cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithShardCount sets the number of shards of the request map.
func WithShardCount(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.shardCount = n
		}
	}
}

// WithPolicy sets the commit policy.
func WithPolicy(p trigger.Policy) Option {
	return func(s *Service) { s.policy = p }
}

// WithDispatchTimeout sets the per-attempt outcome deadline. Zero disables it.
func WithDispatchTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.dispatchTimeout = d
		}
	}
}

// WithRequestTimeout sets the per-request deadline. Zero disables it.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.requestTimeout = d
		}
	}
}

// WithDBPath enables persistence in the SQLite database at path.
func WithDBPath(path string) Option {
	return func(s *Service) { s.dbPath = path }
}

// WithWebhook pushes download commands to url instead of the pull mailbox.
func WithWebhook(url string) Option {
	return func(s *Service) { s.webhookURL = url }
}

// WithPostProcessURL sets where accepted candidates are posted.
func WithPostProcessURL(url string) Option {
	return func(s *Service) { s.postProcessURL = url }
}

// WithClock sets the clock driving request timers.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
