package repository

import (
	"context"
	"sync"
	"time"

	"github.com/okian/trackpick/internal/domain/model"
	"github.com/okian/trackpick/pkg/logger"
	"github.com/okian/trackpick/pkg/metrics"
)

// Journal persists request snapshots behind the engine's back. Record and
// Forget never block on I/O: they coalesce into a pending set that Run
// flushes to the Store. Only the latest snapshot of a request is written.
type Journal struct {
	store    Store
	interval time.Duration
	logger   logger.Logger

	mu      sync.Mutex
	pending map[string]*journalOp
	closed  bool

	signal  chan struct{}
	stop    chan struct{}
	done    chan struct{}
	running bool
}

type journalOp struct {
	req    model.TrackRequest
	delete bool
}

// NewJournal creates a journal writing to store.
func NewJournal(store Store, opts ...JournalOption) *Journal {
	j := &Journal{
		store:    store,
		interval: 200 * time.Millisecond,
		pending:  make(map[string]*journalOp),
		signal:   make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(j)
	}
	if j.logger == nil {
		j.logger = logger.Get().Named("journal")
	}
	return j
}

// Record schedules a snapshot write.
func (j *Journal) Record(r model.TrackRequest) { //nolint:gocritic // snapshot passed by value
	j.enqueue(r.ID, &journalOp{req: r})
}

// Forget schedules the removal of a request.
func (j *Journal) Forget(id string) {
	j.enqueue(id, &journalOp{req: model.TrackRequest{ID: id}, delete: true})
}

func (j *Journal) enqueue(id string, op *journalOp) {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return
	}
	j.pending[id] = op
	n := len(j.pending)
	j.mu.Unlock()

	metrics.UpdateJournalBacklog(n)
	select {
	case j.signal <- struct{}{}:
	default:
	}
}

// Backlog returns the number of unflushed operations.
func (j *Journal) Backlog() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.pending)
}

// Run flushes pending operations until ctx is cancelled or Close is called.
// Writes are grouped: after a signal, Run waits one interval before flushing.
func (j *Journal) Run(ctx context.Context) {
	j.mu.Lock()
	j.running = true
	j.mu.Unlock()
	defer close(j.done)

	timer := time.NewTimer(j.interval)
	if !timer.Stop() {
		<-timer.C
	}
	armed := false

	for {
		select {
		case <-ctx.Done():
			_ = j.Flush(context.Background())
			return
		case <-j.stop:
			_ = j.Flush(context.Background())
			return
		case <-j.signal:
			if !armed {
				timer.Reset(j.interval)
				armed = true
			}
		case <-timer.C:
			armed = false
			_ = j.Flush(ctx)
		}
	}
}

// Flush writes every pending operation. Failed operations are put back unless
// a newer one for the same request arrived meanwhile.
func (j *Journal) Flush(ctx context.Context) error {
	j.mu.Lock()
	if len(j.pending) == 0 {
		j.mu.Unlock()
		return nil
	}
	batch := j.pending
	j.pending = make(map[string]*journalOp, len(batch))
	j.mu.Unlock()

	start := time.Now()
	saves := make([]model.TrackRequest, 0, len(batch))
	var deletes []string
	for id, op := range batch {
		if op.delete {
			deletes = append(deletes, id)
			continue
		}
		saves = append(saves, op.req)
	}

	var firstErr error
	if err := j.store.SaveBatch(ctx, saves); err != nil {
		firstErr = err
		metrics.RecordJournalWrite("save", "error")
		metrics.RecordErrorByComponent("journal", "save")
		j.logger.Error(ctx, "failed to persist requests", logger.Int("count", len(saves)), logger.Error(err))
		for i := range saves {
			j.requeue(saves[i].ID, batch[saves[i].ID])
		}
	} else if len(saves) > 0 {
		metrics.RecordJournalWrite("save", "ok")
	}

	for _, id := range deletes {
		if err := j.store.Delete(ctx, id); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			metrics.RecordJournalWrite("delete", "error")
			metrics.RecordErrorByComponent("journal", "delete")
			j.logger.Error(ctx, "failed to delete request", logger.String("request_id", id), logger.Error(err))
			j.requeue(id, batch[id])
			continue
		}
		metrics.RecordJournalWrite("delete", "ok")
	}

	metrics.RecordJournalFlush(time.Since(start).Seconds())
	metrics.UpdateJournalBacklog(j.Backlog())
	return firstErr
}

func (j *Journal) requeue(id string, op *journalOp) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return
	}
	if _, newer := j.pending[id]; !newer {
		j.pending[id] = op
	}
}

// Close stops Run, flushes what is left and closes the store.
func (j *Journal) Close(ctx context.Context) error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return ErrClosed
	}
	running := j.running
	j.mu.Unlock()

	if running {
		close(j.stop)
		select {
		case <-j.done:
		case <-ctx.Done():
			j.logger.Warn(ctx, "journal shutdown timed out")
		}
	} else if err := j.Flush(ctx); err != nil {
		j.logger.Error(ctx, "final flush failed", logger.Error(err))
	}

	j.mu.Lock()
	j.closed = true
	j.mu.Unlock()
	return j.store.Close()
}
