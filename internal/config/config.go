// Package config defines service configuration structures and loading hooks.
//
// Conventions:
//   - Durations are configured in milliseconds and exposed as time.Duration
//     through accessor methods.
//   - Provide New() to build a Config with defaults.
//   - Validation failures wrap ErrInvalidConfig.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Delivery modes for download commands.
const (
	DeliveryPull    = "pull"
	DeliveryWebhook = "webhook"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects the log encoding: text or json.
	LogFormat string `koanf:"log_format"`
	// LogFile, when set, tees logs into a rotating file.
	LogFile       string `koanf:"log_file"`
	LogMaxSizeMB  int    `koanf:"log_max_size_mb"`
	LogMaxBackups int    `koanf:"log_max_backups"`
	LogMaxAgeDays int    `koanf:"log_max_age_days"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// Trigger windows and thresholds.
	EarlyWindowMS       int `koanf:"early_window_ms"`
	LateWindowMS        int `koanf:"late_window_ms"`
	HighConfidenceScore int `koanf:"high_confidence_score"`
	LateFloorScore      int `koanf:"late_floor_score"`

	// ShortlistSize bounds the per-request shortlist.
	ShortlistSize int `koanf:"shortlist_size"`

	// PreferredExtension earns the extension bonus when a target names none.
	PreferredExtension string `koanf:"preferred_extension"`

	// DispatchTimeoutMS fails an attempt with no reported outcome. 0 disables.
	DispatchTimeoutMS int `koanf:"dispatch_timeout_ms"`

	// RequestTimeoutMS fails a request that is still live after it. 0 disables.
	RequestTimeoutMS int `koanf:"request_timeout_ms"`

	// QueueSize bounds the command outbox.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of delivery workers.
	WorkerCount int `koanf:"worker_count"`

	// ShardCount configures the number of shards of the request map.
	ShardCount int `koanf:"shard_count"`

	// DedupeSize and DedupeTTLMS bound the submission idempotency cache.
	DedupeSize  int `koanf:"dedupe_size"`
	DedupeTTLMS int `koanf:"dedupe_ttl_ms"`

	// DBPath is the SQLite file holding the request set. Empty disables persistence.
	DBPath string `koanf:"db_path"`

	// JournalFlushMS is the write-behind interval of the persistence journal.
	JournalFlushMS int `koanf:"journal_flush_ms"`

	// DeliveryMode selects how download commands reach the transfer client:
	// pull (mailbox drained over HTTP) or webhook (POSTed to WebhookURL).
	DeliveryMode string `koanf:"delivery_mode"`
	WebhookURL   string `koanf:"webhook_url"`

	// PostProcessURL receives accepted candidates. Empty only logs them.
	PostProcessURL string `koanf:"postprocess_url"`

	// HTTPClientTimeoutMS bounds outbound webhook calls.
	HTTPClientTimeoutMS int `koanf:"http_client_timeout_ms"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:            "info",
		LogFormat:           "text",
		LogMaxSizeMB:        100,
		LogMaxBackups:       3,
		LogMaxAgeDays:       28,
		Addr:                ":9080",
		EarlyWindowMS:       15_000,
		LateWindowMS:        30_000,
		HighConfidenceScore: 100,
		LateFloorScore:      50,
		ShortlistSize:       5,
		PreferredExtension:  ".mp3",
		DispatchTimeoutMS:   60_000,
		RequestTimeoutMS:    300_000,
		QueueSize:           10_000,
		WorkerCount:         4,
		ShardCount:          32,
		DedupeSize:          50_000,
		DedupeTTLMS:         3_600_000,
		JournalFlushMS:      200,
		DeliveryMode:        DeliveryPull,
		HTTPClientTimeoutMS: 10_000,
	}
}

// Validate checks field ranges and cross-field constraints.
func (c *Config) Validate() error {
	var problems []string
	check := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	check(c.Addr != "", "addr must not be empty")
	check(c.LogFormat == "text" || c.LogFormat == "json", "log_format must be text or json")
	check(c.EarlyWindowMS >= 0, "early_window_ms must be >= 0")
	check(c.LateWindowMS >= c.EarlyWindowMS, "late_window_ms must be >= early_window_ms")
	check(c.HighConfidenceScore >= 0, "high_confidence_score must be >= 0")
	check(c.LateFloorScore >= 0, "late_floor_score must be >= 0")
	check(c.ShortlistSize > 0, "shortlist_size must be > 0")
	check(c.DispatchTimeoutMS >= 0, "dispatch_timeout_ms must be >= 0")
	check(c.RequestTimeoutMS >= 0, "request_timeout_ms must be >= 0")
	check(c.QueueSize > 0, "queue_size must be > 0")
	check(c.WorkerCount > 0, "worker_count must be > 0")
	check(c.ShardCount > 0, "shard_count must be > 0")
	check(c.DedupeSize > 0, "dedupe_size must be > 0")
	check(c.DedupeTTLMS > 0, "dedupe_ttl_ms must be > 0")
	check(c.JournalFlushMS > 0, "journal_flush_ms must be > 0")
	check(c.HTTPClientTimeoutMS > 0, "http_client_timeout_ms must be > 0")
	switch c.DeliveryMode {
	case DeliveryPull:
	case DeliveryWebhook:
		check(c.WebhookURL != "", "webhook_url is required in webhook mode")
	default:
		problems = append(problems, "delivery_mode must be pull or webhook")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// EarlyWindow returns the early commit window.
func (c *Config) EarlyWindow() time.Duration { return ms(c.EarlyWindowMS) }

// LateWindow returns the late commit window.
func (c *Config) LateWindow() time.Duration { return ms(c.LateWindowMS) }

// DispatchTimeout returns the per-attempt outcome deadline.
func (c *Config) DispatchTimeout() time.Duration { return ms(c.DispatchTimeoutMS) }

// RequestTimeout returns the per-request deadline.
func (c *Config) RequestTimeout() time.Duration { return ms(c.RequestTimeoutMS) }

// DedupeTTL returns how long idempotency keys are remembered.
func (c *Config) DedupeTTL() time.Duration { return ms(c.DedupeTTLMS) }

// JournalFlush returns the journal flush interval.
func (c *Config) JournalFlush() time.Duration { return ms(c.JournalFlushMS) }

// HTTPClientTimeout returns the outbound HTTP timeout.
func (c *Config) HTTPClientTimeout() time.Duration { return ms(c.HTTPClientTimeoutMS) }
