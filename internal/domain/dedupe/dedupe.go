// Package dedupe maps submission idempotency keys to the requests they created.
package dedupe

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Deduper remembers which request a submission key produced so a retried
// submission returns the original id instead of creating a second request.
type Deduper interface {
	// Resolve returns the id recorded for key, or calls create and records
	// its id. existed reports whether the id came from an earlier submission.
	// An empty key is never recorded; create is always called.
	Resolve(ctx context.Context, key string, create func() (string, error)) (id string, existed bool, err error)

	// Forget drops the key that produced id, so a retired request is never
	// replayed. Unknown ids are ignored.
	Forget(ctx context.Context, id string)

	Size() int64
}

// inMemoryDeduper keeps keys in an expiring LRU. The mutex spans lookup and
// create so two concurrent submissions with one key create one request.
type inMemoryDeduper struct {
	mu      sync.Mutex
	keys    *expirable.LRU[string, string]
	maxSize int
	ttl     time.Duration

	// byID is the reverse index, trimmed by the LRU's eviction callback.
	// It has its own lock because evictions fire under the LRU's lock.
	idxMu sync.Mutex
	byID  map[string]string
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: 50000,
		ttl:     time.Hour,
		byID:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(d)
	}
	size := d.maxSize
	if size < 0 {
		size = 0 // unbounded
	}
	d.keys = expirable.NewLRU[string, string](size, d.evicted, d.ttl)
	return d
}

func (d *inMemoryDeduper) Resolve(ctx context.Context, key string, create func() (string, error)) (string, bool, error) {
	if key == "" {
		id, err := create()
		return id, false, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if id, ok := d.keys.Get(key); ok {
		return id, true, nil
	}
	id, err := create()
	if err != nil {
		return "", false, err
	}
	// An expired entry may linger until the LRU sweeps it; drop it first so
	// its id leaves the index.
	d.keys.Remove(key)
	d.idxMu.Lock()
	d.byID[id] = key
	d.idxMu.Unlock()
	d.keys.Add(key, id)
	return id, false, nil
}

func (d *inMemoryDeduper) Forget(ctx context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.idxMu.Lock()
	key, ok := d.byID[id]
	delete(d.byID, id)
	d.idxMu.Unlock()
	if !ok {
		return
	}
	if current, live := d.keys.Peek(key); live && current == id {
		d.keys.Remove(key)
	}
}

func (d *inMemoryDeduper) evicted(key, id string) {
	d.idxMu.Lock()
	defer d.idxMu.Unlock()
	if d.byID[id] == key {
		delete(d.byID, id)
	}
}

// Size returns the current number of live keys.
func (d *inMemoryDeduper) Size() int64 {
	return int64(d.keys.Len())
}
