// Package worker delivers outbox commands to external collaborators.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/okian/trackpick/internal/domain/model"
	"github.com/okian/trackpick/pkg/logger"
	"github.com/okian/trackpick/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerCount  = 4
	poolShutdownTimeout = 30 * time.Second
)

// Command abstracts what workers read off the queue.
type Command = model.Command

// Queue defines how workers receive commands.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Command
}

// FailureReporter is told when a download command could not be delivered, so
// the attempt can be failed and the next candidate tried.
type FailureReporter interface {
	ReportDeliveryFailure(ctx context.Context, cmd Command, cause error)
}

// Worker processes commands from the queue.
type Worker interface {
	// Run starts the worker loop until ctx is canceled or the queue closes.
	Run(ctx context.Context)

	// Shutdown stops the worker without draining the queue.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker for delivering commands.
type InMemoryWorker struct {
	queue      Queue
	dispatcher *Dispatcher
	reporter   FailureReporter
	name       string
	active     *atomic.Int64

	deliveryTimeout time.Duration

	// Shutdown control
	shutdown chan struct{}
	done     chan struct{}

	// Logging
	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(queue Queue, dispatcher *Dispatcher, reporter FailureReporter, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:      queue,
		dispatcher: dispatcher,
		reporter:   reporter,
		name:       "worker",
		active:     &atomic.Int64{},
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
	}

	for _, opt := range opts {
		opt(w)
	}

	if w.logger == nil {
		w.logger = logger.Get()
	}
	w.logger = w.logger.Named(w.name)

	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	commands := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case cmd, ok := <-commands:
			if !ok {
				return
			}
			w.process(ctx, cmd)
		}
	}
}

// Shutdown gracefully stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	close(w.shutdown)

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// process delivers one command. A failed download delivery is reported back
// so the engine can move on; failed post-process notifications are only logged.
func (w *InMemoryWorker) process(ctx context.Context, cmd Command) { //nolint:gocritic // hugeParam: Command must be passed by value for channel semantics
	metrics.UpdateWorkerActiveCount(int(w.active.Add(1)))
	defer func() { metrics.UpdateWorkerActiveCount(int(w.active.Add(-1))) }()

	deliverCtx := ctx
	if w.deliveryTimeout > 0 {
		var cancel context.CancelFunc
		deliverCtx, cancel = context.WithTimeout(ctx, w.deliveryTimeout)
		defer cancel()
	}

	start := time.Now()
	err := w.dispatcher.Dispatch(deliverCtx, cmd)
	elapsed := time.Since(start).Seconds()

	if err == nil {
		metrics.RecordDelivery(string(cmd.Kind), "ok", elapsed)
		w.logger.Debug(ctx, "command delivered",
			logger.String("kind", string(cmd.Kind)),
			logger.String("request_id", cmd.RequestID),
			logger.Int("attempt", cmd.Attempt),
		)
		return
	}

	metrics.RecordDelivery(string(cmd.Kind), "error", elapsed)
	metrics.RecordErrorByComponent("worker", string(cmd.Kind))
	w.logger.Error(ctx, "command delivery failed",
		logger.String("kind", string(cmd.Kind)),
		logger.String("request_id", cmd.RequestID),
		logger.Int("attempt", cmd.Attempt),
		logger.Error(err),
	)

	if cmd.Kind == model.CommandDownload && w.reporter != nil {
		w.reporter.ReportDeliveryFailure(ctx, cmd, err)
	}
}

// Pool manages multiple workers sharing one queue.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	logger  logger.Logger
}

// NewPool creates a new worker pool.
func NewPool(workerCount int, queue Queue, dispatcher *Dispatcher, reporter FailureReporter, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = defaultWorkerCount
	}

	pool := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   queue,
	}

	active := &atomic.Int64{}
	for i := 0; i < workerCount; i++ {
		name := "worker-" + strconv.Itoa(i)
		wopts := append([]Option{WithName(name)}, opts...)
		w := NewInMemoryWorker(queue, dispatcher, reporter, wopts...)
		w.active = active
		pool.workers[i] = w
	}
	pool.logger = pool.workers[0].logger

	metrics.UpdateWorkerCount(workerCount)
	metrics.UpdateWorkerActiveCount(0)

	return pool
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, worker := range p.workers {
		go worker.Run(ctx)
	}
}

// Shutdown closes the queue, lets the workers drain it and waits for them.
// Workers still busy when ctx (or the pool timeout) expires are abandoned.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var timedOut bool
	for i, worker := range p.workers {
		select {
		case <-worker.done:
		case <-shutdownCtx.Done():
			timedOut = true
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
		}
	}
	if timedOut {
		return fmt.Errorf("worker pool shutdown: %w", shutdownCtx.Err())
	}
	return nil
}
