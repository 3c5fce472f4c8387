package repository

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/okian/trackpick/internal/domain/model"
	"github.com/okian/trackpick/pkg/logger"
)

func sampleRequest(id string, state model.State, created time.Time) model.TrackRequest {
	return model.TrackRequest{
		ID:        id,
		Target:    model.Target{Artist: "Daft Punk", Title: "One More Time", DurationSec: 320},
		Query:     "Daft Punk - One More Time",
		State:     state,
		Phase:     model.PhaseWaiting,
		CreatedAt: created,
		UpdatedAt: created,
		Shortlist: []model.ScoredCandidate{{ID: "c1", RequestID: id, Score: 90, Seq: 1}},
		Attempted: []string{"c0"},
	}
}

func TestShardedMap_BasicOperations(t *testing.T) {
	m := NewShardedMap[int](4)

	if m.ShardCount() != 4 {
		t.Fatalf("expected 4 shards, got %d", m.ShardCount())
	}
	if NewShardedMap[int](0).ShardCount() != DefaultShardCount {
		t.Errorf("expected default shard count")
	}

	m.Set("a", 1)
	if v, ok := m.Get("a"); !ok || v != 1 {
		t.Errorf("expected a=1, got %d %v", v, ok)
	}

	if v, stored := m.SetIfAbsent("a", 2); stored || v != 1 {
		t.Errorf("SetIfAbsent should keep existing value, got %d %v", v, stored)
	}
	if v, stored := m.SetIfAbsent("b", 3); !stored || v != 3 {
		t.Errorf("SetIfAbsent should store new value, got %d %v", v, stored)
	}
	if m.Len() != 2 {
		t.Errorf("expected len 2, got %d", m.Len())
	}

	if !m.Delete("a") || m.Delete("a") {
		t.Errorf("Delete should report existence once")
	}
	if _, ok := m.Get("a"); ok {
		t.Errorf("a should be gone")
	}
}

func TestShardedMap_Range(t *testing.T) {
	m := NewShardedMap[int](8)
	for i := 0; i < 100; i++ {
		m.Set(fmt.Sprintf("k%d", i), i)
	}

	sum := 0
	m.Range(func(_ string, v int) bool {
		sum += v
		return true
	})
	if sum != 4950 {
		t.Errorf("expected sum 4950, got %d", sum)
	}

	seen := 0
	m.Range(func(string, int) bool {
		seen++
		return seen < 10
	})
	if seen != 10 {
		t.Errorf("Range should stop early, saw %d", seen)
	}
}

func TestShardedMap_Concurrent(t *testing.T) {
	m := NewShardedMap[int](16)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("g%d-%d", g, i)
				m.Set(key, i)
				m.Get(key)
				if i%2 == 0 {
					m.Delete(key)
				}
			}
		}(g)
	}
	wg.Wait()
	if m.Len() != 800 {
		t.Errorf("expected 800 entries, got %d", m.Len())
	}
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "trackpick.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_SaveLoad(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	r := sampleRequest("r1", model.StatePending, created)
	if err := s.Save(ctx, r); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.Load(ctx, "r1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Query != r.Query || !got.CreatedAt.Equal(created) || len(got.Shortlist) != 1 || got.Attempted[0] != "c0" {
		t.Errorf("round trip mismatch: %+v", got)
	}

	r.State = model.StateDispatched
	if err := s.Save(ctx, r); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, _ = s.Load(ctx, "r1")
	if got.State != model.StateDispatched {
		t.Errorf("expected upserted state, got %s", got.State)
	}

	if _, err := s.Load(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStore_BatchAndDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	batch := []model.TrackRequest{
		sampleRequest("late", model.StateCompleted, base.Add(2*time.Second)),
		sampleRequest("early", model.StatePending, base),
		sampleRequest("mid", model.StatePending, base.Add(time.Second)),
	}
	if err := s.SaveBatch(ctx, batch); err != nil {
		t.Fatalf("save batch: %v", err)
	}
	if err := s.SaveBatch(ctx, nil); err != nil {
		t.Fatalf("empty batch: %v", err)
	}

	all, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	if len(all) != 3 || all[0].ID != "early" || all[1].ID != "mid" || all[2].ID != "late" {
		t.Fatalf("expected creation order, got %v", all)
	}

	counts, err := s.CountByState(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts[model.StatePending] != 2 || counts[model.StateCompleted] != 1 {
		t.Errorf("unexpected counts %v", counts)
	}

	if err := s.Delete(ctx, "mid"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, "never-existed"); err != nil {
		t.Fatalf("delete unknown: %v", err)
	}
	all, _ = s.LoadAll(ctx)
	if len(all) != 2 {
		t.Errorf("expected 2 after delete, got %d", len(all))
	}
}

// flakyStore fails the first n SaveBatch calls.
type flakyStore struct {
	Store
	mu       sync.Mutex
	failures int
	saves    int
}

func (f *flakyStore) SaveBatch(ctx context.Context, rs []model.TrackRequest) error {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return errors.New("disk full")
	}
	f.saves += len(rs)
	f.mu.Unlock()
	return f.Store.SaveBatch(ctx, rs)
}

func TestJournal_Flush(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	j := NewJournal(store, WithJournalLogger(logger.Nop()))
	now := time.Now().UTC()

	r := sampleRequest("r1", model.StatePending, now)
	j.Record(r)
	r.State = model.StateDispatched
	j.Record(r)
	j.Record(sampleRequest("r2", model.StatePending, now))

	if j.Backlog() != 2 {
		t.Fatalf("expected coalesced backlog of 2, got %d", j.Backlog())
	}
	if err := j.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if j.Backlog() != 0 {
		t.Errorf("backlog should be empty after flush")
	}

	got, err := store.Load(ctx, "r1")
	if err != nil || got.State != model.StateDispatched {
		t.Errorf("expected latest snapshot, got %v %v", got.State, err)
	}

	j.Forget("r2")
	if err := j.Flush(ctx); err != nil {
		t.Fatalf("flush delete: %v", err)
	}
	if _, err := store.Load(ctx, "r2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("r2 should be deleted, got %v", err)
	}
}

func TestJournal_RetryAfterFailure(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyStore{Store: newTestStore(t), failures: 1}
	j := NewJournal(flaky, WithJournalLogger(logger.Nop()))

	j.Record(sampleRequest("r1", model.StatePending, time.Now()))
	if err := j.Flush(ctx); err == nil {
		t.Fatal("expected first flush to fail")
	}
	if j.Backlog() != 1 {
		t.Fatalf("failed write should be requeued, backlog %d", j.Backlog())
	}
	if err := j.Flush(ctx); err != nil {
		t.Fatalf("second flush: %v", err)
	}
	if _, err := flaky.Load(ctx, "r1"); err != nil {
		t.Errorf("expected r1 persisted after retry: %v", err)
	}
}

func TestJournal_Run(t *testing.T) {
	store := newTestStore(t)
	j := NewJournal(store, WithJournalLogger(logger.Nop()), WithFlushInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go j.Run(ctx)

	j.Record(sampleRequest("r1", model.StatePending, time.Now()))

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := store.Load(context.Background(), "r1"); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("journal did not flush in time")
		}
		time.Sleep(5 * time.Millisecond)
	}

	j.Record(sampleRequest("r2", model.StatePending, time.Now()))
	if err := j.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := j.Close(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("second close should return ErrClosed, got %v", err)
	}
}
