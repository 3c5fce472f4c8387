// Package service wires configuration into the engine and its adapters and
// implements the operations the HTTP API depends on.
package service

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/okian/trackpick/internal/adapters/delivery"
	eventqueue "github.com/okian/trackpick/internal/adapters/mq/queue"
	workerpool "github.com/okian/trackpick/internal/adapters/mq/worker"
	"github.com/okian/trackpick/internal/adapters/repository"
	"github.com/okian/trackpick/internal/domain/dedupe"
	"github.com/okian/trackpick/internal/domain/engine"
	"github.com/okian/trackpick/internal/domain/model"
	"github.com/okian/trackpick/internal/domain/scoring"
	"github.com/okian/trackpick/internal/domain/shortlist"
	"github.com/okian/trackpick/internal/domain/trigger"
	"github.com/okian/trackpick/pkg/logger"
	"github.com/okian/trackpick/pkg/metrics"
)

const (
	stopTimeout     = 30 * time.Second
	metricsInterval = 5 * time.Second
)

// Service owns the engine and its adapters for the lifetime of the process.
type Service struct {
	mu sync.RWMutex

	// Core components
	engine     *engine.Engine
	deduper    dedupe.Deduper
	outbox     *eventqueue.InMemoryQueue
	workerPool *workerpool.Pool
	mailbox    *delivery.Mailbox
	journal    *repository.Journal
	store      *repository.SQLiteStore

	// Configuration
	policy          trigger.Policy
	shortlistSize   int
	preferredExt    string
	dispatchTimeout time.Duration
	requestTimeout  time.Duration
	workerCount     int
	queueSize       int
	shardCount      int
	dedupeSize      int
	dedupeTTL       time.Duration
	dbPath          string
	journalFlush    time.Duration
	webhookURL      string
	postProcessURL  string
	httpTimeout     time.Duration
	clock           clockwork.Clock

	// State
	started bool
	cancel  context.CancelFunc
	bg      sync.WaitGroup

	logger logger.Logger
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		policy:          trigger.DefaultPolicy(),
		shortlistSize:   shortlist.DefaultCapacity,
		dispatchTimeout: engine.DefaultDispatchTimeout,
		requestTimeout:  engine.DefaultRequestTimeout,
		workerCount:     4,
		queueSize:       10_000,
		shardCount:      repository.DefaultShardCount,
		dedupeSize:      50_000,
		dedupeTTL:       time.Hour,
		journalFlush:    200 * time.Millisecond,
		httpTimeout:     10 * time.Second,
		clock:           clockwork.NewRealClock(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start initializes the components, restores persisted requests and starts
// the workers. Calling Start on a started service is a no-op.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	s.logger.Info(ctx, "starting trackpick service...")

	var (
		snapshots []model.TrackRequest
		journal   engine.Journal
	)
	if s.dbPath != "" {
		store, err := repository.NewSQLiteStore(s.dbPath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		snapshots, err = store.LoadAll(ctx)
		if err != nil {
			_ = store.Close()
			return fmt.Errorf("load requests: %w", err)
		}
		s.store = store
		s.journal = repository.NewJournal(store,
			repository.WithFlushInterval(s.journalFlush),
			repository.WithJournalLogger(s.logger.Named("journal")),
		)
		journal = s.journal
		metrics.UpdateRepositoryRecords(len(snapshots))
	}

	s.outbox = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.queueSize))

	engineOpts := []engine.Option{
		engine.WithClock(s.clock),
		engine.WithPolicy(s.policy),
		engine.WithScorer(scoring.New(scoring.WithPreferredExtension(s.preferredExt))),
		engine.WithShortlistSize(s.shortlistSize),
		engine.WithDispatchTimeout(s.dispatchTimeout),
		engine.WithRequestTimeout(s.requestTimeout),
		engine.WithShardCount(s.shardCount),
		engine.WithSink(s.outbox),
		engine.WithLogger(s.logger.Named("engine")),
	}
	if journal != nil {
		engineOpts = append(engineOpts, engine.WithJournal(journal))
	}
	s.engine = engine.New(engineOpts...)

	s.deduper = dedupe.NewInMemoryDeduper(
		dedupe.WithMaxSize(s.dedupeSize),
		dedupe.WithTTL(s.dedupeTTL),
	)

	dispatcher := workerpool.NewDispatcher()
	// One client for both collaborators so they share a connection pool.
	httpOpts := []delivery.Option{delivery.WithHTTPClient(&http.Client{Timeout: s.httpTimeout})}
	if s.webhookURL != "" {
		dispatcher.Register(model.CommandDownload, delivery.NewWebhook(s.webhookURL,
			append(httpOpts, delivery.WithLogger(s.logger.Named("webhook")))...))
	} else {
		s.mailbox = delivery.NewMailbox(s.queueSize, s.logger.Named("mailbox"))
		dispatcher.Register(model.CommandDownload, s.mailbox)
	}
	dispatcher.Register(model.CommandPostProcess, delivery.NewPostProcessor(s.postProcessURL,
		append(httpOpts, delivery.WithLogger(s.logger.Named("postprocess")))...))

	// Background work outlives the caller's ctx; Stop cancels it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	s.workerPool = workerpool.NewPool(s.workerCount, s.outbox, dispatcher, s.engine,
		workerpool.WithLogger(s.logger),
		workerpool.WithDeliveryTimeout(s.httpTimeout))
	s.workerPool.Start(runCtx)

	if s.journal != nil {
		s.bg.Add(1)
		go func() {
			defer s.bg.Done()
			s.journal.Run(runCtx)
		}()
	}
	p := parts{engine: s.engine, outbox: s.outbox, deduper: s.deduper, mailbox: s.mailbox}
	journalRef := s.journal
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		metricsLoop(runCtx, s.clock, p, journalRef)
	}()

	restored := 0
	if len(snapshots) > 0 {
		restored = s.engine.Restore(ctx, snapshots)
	}

	s.started = true
	s.logger.Info(ctx, "trackpick service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queue_size", s.queueSize),
		logger.Int("dedupe_size", s.dedupeSize),
		logger.Bool("persistent", s.store != nil),
		logger.Bool("webhook", s.webhookURL != ""),
		logger.Int("restored", restored),
	)
	return nil
}

// Stop gracefully shuts down the service: timers first, then the outbox is
// drained by the workers, then the journal is flushed.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	s.logger.Info(ctx, "stopping trackpick service...")

	s.engine.Close()

	if err := s.workerPool.Shutdown(ctx); err != nil {
		s.logger.Error(ctx, "worker pool shutdown failed", logger.Error(err))
	}

	if s.journal != nil {
		if err := s.journal.Close(ctx); err != nil {
			s.logger.Error(ctx, "journal close failed", logger.Error(err))
		}
		s.journal = nil
		s.store = nil
	}

	s.cancel()
	s.bg.Wait()

	s.started = false
	s.logger.Info(ctx, "trackpick service stopped")
}

// parts is the set of components a boundary call works with.
type parts struct {
	engine  *engine.Engine
	outbox  *eventqueue.InMemoryQueue
	deduper dedupe.Deduper
	mailbox *delivery.Mailbox
}

func (s *Service) running() (parts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return parts{}, ErrNotStarted
	}
	return parts{engine: s.engine, outbox: s.outbox, deduper: s.deduper, mailbox: s.mailbox}, nil
}

// Submit creates a request for target. A non-empty idempotency key seen
// within the dedupe TTL returns the original request id with replay set.
func (s *Service) Submit(ctx context.Context, target model.Target, idempotencyKey string) (id string, replay bool, err error) { //nolint:gocritic // hugeParam: targets are values
	p, err := s.running()
	if err != nil {
		return "", false, err
	}
	if p.outbox.Len(ctx) >= p.outbox.Cap() {
		metrics.RecordErrorByComponent("service", "outbox_full")
		return "", false, ErrBusy
	}

	id, replay, err = p.deduper.Resolve(ctx, idempotencyKey, func() (string, error) {
		return p.engine.Enqueue(ctx, target)
	})
	if err != nil {
		return "", false, err
	}
	if replay {
		metrics.RecordIdempotentReplay()
		s.logger.Debug(ctx, "idempotent submit replayed",
			logger.String("request_id", id),
		)
	}
	return id, replay, nil
}

// PullPending lists the requests a search client should search for.
func (s *Service) PullPending(_ context.Context) ([]model.PendingRequest, error) {
	p, err := s.running()
	if err != nil {
		return nil, err
	}
	return p.engine.ListPending(), nil
}

// SubmitCandidates ingests a batch of search results for one request.
func (s *Service) SubmitCandidates(ctx context.Context, requestID string, candidates []model.Candidate) ([]engine.IngestResult, error) {
	p, err := s.running()
	if err != nil {
		return nil, err
	}
	return p.engine.IngestBatch(ctx, requestID, candidates)
}

// ReportOutcome applies a download result.
func (s *Service) ReportOutcome(ctx context.Context, requestID, candidateID string, outcome model.Outcome) error {
	p, err := s.running()
	if err != nil {
		return err
	}
	return p.engine.ReportOutcome(ctx, requestID, candidateID, outcome)
}

// Get returns a request snapshot.
func (s *Service) Get(_ context.Context, requestID string) (model.TrackRequest, error) {
	p, err := s.running()
	if err != nil {
		return model.TrackRequest{}, err
	}
	return p.engine.Get(requestID)
}

// Retire removes a terminal request and releases its idempotency key, so a
// later submission with that key creates a new request.
func (s *Service) Retire(ctx context.Context, requestID string) error {
	p, err := s.running()
	if err != nil {
		return err
	}
	if err := p.engine.Retire(ctx, requestID); err != nil {
		return err
	}
	p.deduper.Forget(ctx, requestID)
	return nil
}

// Status counts requests per state.
func (s *Service) Status(_ context.Context) (model.Status, error) {
	p, err := s.running()
	if err != nil {
		return model.Status{}, err
	}
	return p.engine.Status(), nil
}

// PullDispatches drains up to limit download commands from the pull mailbox.
// Commands superseded by a fallback or a terminal transition are discarded.
func (s *Service) PullDispatches(_ context.Context, limit int) ([]model.Command, error) {
	p, err := s.running()
	if err != nil {
		return nil, err
	}
	if p.mailbox == nil {
		return nil, ErrPullDisabled
	}
	return p.mailbox.Drain(limit, func(cmd model.Command) bool {
		return p.engine.InFlight(cmd.RequestID, cmd.Attempt, cmd.Candidate.ID)
	}), nil
}

// ScoreBreakdown explains how a candidate would score against target.
func (s *Service) ScoreBreakdown(target model.Target, candidate model.Candidate) scoring.Breakdown { //nolint:gocritic // hugeParam: values
	return scoring.New(scoring.WithPreferredExtension(s.preferredExt)).Breakdown(target, candidate)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":     s.started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"dedupeSize":  s.dedupeSize,
		"persistent":  s.dbPath != "",
		"delivery":    "pull",
	}
	if s.webhookURL != "" {
		stats["delivery"] = "webhook"
	}

	if s.started {
		st := s.engine.Status()
		stats["requests"] = s.engine.Len()
		stats["pending"] = st.PendingCount
		stats["dispatched"] = st.DispatchedCount
		stats["completed"] = st.CompletedCount
		stats["failed"] = st.FailedCount
		stats["exhausted"] = st.ExhaustedCount
		stats["queueLength"] = s.outbox.Len(context.Background())
		stats["idempotencyKeys"] = s.deduper.Size()
		if s.mailbox != nil {
			stats["mailboxLength"] = s.mailbox.Len()
		}
		if s.journal != nil {
			stats["journalBacklog"] = s.journal.Backlog()
		}
	}

	return stats
}

// metricsLoop refreshes the gauges that are not updated on the hot path.
func metricsLoop(ctx context.Context, clock clockwork.Clock, p parts, journal *repository.Journal) {
	ticker := clock.NewTicker(metricsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			refreshGauges(ctx, p, journal)
		}
	}
}

func refreshGauges(ctx context.Context, p parts, journal *repository.Journal) {
	st := p.engine.Status()
	metrics.UpdateRequestsByState(string(model.StatePending), st.PendingCount)
	metrics.UpdateRequestsByState(string(model.StateDispatched), st.DispatchedCount)
	metrics.UpdateRequestsByState(string(model.StateCompleted), st.CompletedCount)
	metrics.UpdateRequestsByState(string(model.StateFailed), st.FailedCount)
	metrics.UpdateRequestsByState(string(model.StateExhausted), st.ExhaustedCount)
	metrics.UpdateQueueSize(p.outbox.Len(ctx))
	if journal != nil {
		metrics.UpdateJournalBacklog(journal.Backlog())
	}
}
