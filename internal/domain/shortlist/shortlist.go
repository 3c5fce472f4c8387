// Package shortlist keeps the bounded, ranked set of fallback candidates of a
// single request together with the ids that were already tried.
//
// A List is not safe for concurrent use; the engine serializes access per
// request.
package shortlist

import (
	"github.com/okian/trackpick/internal/domain/model"
)

// DefaultCapacity is the number of candidates retained per request.
const DefaultCapacity = 5

// Reject reasons reported by Insert.
const (
	ReasonAttempted = "attempted"
	ReasonDuplicate = "duplicate"
	ReasonLowScore  = "low_score"
)

// Result describes the effect of an Insert.
type Result struct {
	Inserted bool
	Reason   string                 // set when Inserted is false
	Evicted  *model.ScoredCandidate // entry pushed out to make room
}

// List is a descending-by-score sequence of at most Capacity candidates.
// Equal scores keep arrival order.
type List struct {
	capacity  int
	items     []model.ScoredCandidate
	attempted map[string]struct{}
	order     []string // attempted ids in the order they were tried
	pinned    string
}

// New creates an empty list. A capacity <= 0 falls back to DefaultCapacity.
func New(capacity int) *List {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &List{
		capacity:  capacity,
		items:     make([]model.ScoredCandidate, 0, capacity),
		attempted: make(map[string]struct{}),
	}
}

// Insert places c by score. The lowest unpinned entry is evicted only when the
// list is full and c scores strictly higher than it.
func (l *List) Insert(c model.ScoredCandidate) Result {
	if _, ok := l.attempted[c.ID]; ok {
		return Result{Reason: ReasonAttempted}
	}
	for i := range l.items {
		if l.items[i].ID == c.ID {
			return Result{Reason: ReasonDuplicate}
		}
	}

	var evicted *model.ScoredCandidate
	if len(l.items) >= l.capacity {
		victim := l.lowestUnpinned()
		if victim < 0 || c.Score <= l.items[victim].Score {
			return Result{Reason: ReasonLowScore}
		}
		e := l.items[victim]
		evicted = &e
		l.items = append(l.items[:victim], l.items[victim+1:]...)
	}

	// after every entry with an equal or higher score
	pos := len(l.items)
	for i := range l.items {
		if c.Score > l.items[i].Score {
			pos = i
			break
		}
	}
	l.items = append(l.items, model.ScoredCandidate{})
	copy(l.items[pos+1:], l.items[pos:])
	l.items[pos] = c

	return Result{Inserted: true, Evicted: evicted}
}

func (l *List) lowestUnpinned() int {
	for i := len(l.items) - 1; i >= 0; i-- {
		if l.items[i].ID != l.pinned {
			return i
		}
	}
	return -1
}

// Best returns the highest-ranked entry that is not currently pinned.
func (l *List) Best() (model.ScoredCandidate, bool) {
	for _, c := range l.items {
		if c.ID != l.pinned {
			return c, true
		}
	}
	return model.ScoredCandidate{}, false
}

// BestScore returns the score of Best, or 0 when the list is empty.
func (l *List) BestScore() int {
	c, ok := l.Best()
	if !ok {
		return 0
	}
	return c.Score
}

// Get returns the entry with the given id.
func (l *List) Get(id string) (model.ScoredCandidate, bool) {
	for _, c := range l.items {
		if c.ID == id {
			return c, true
		}
	}
	return model.ScoredCandidate{}, false
}

// Pin protects id from eviction while its attempt is in flight.
func (l *List) Pin(id string) { l.pinned = id }

// Unpin clears the pinned entry.
func (l *List) Unpin() { l.pinned = "" }

// Pinned returns the pinned id, if any.
func (l *List) Pinned() string { return l.pinned }

// MarkAttempted removes id from the list and remembers it so it is never
// offered again. Marking an id that is not in the list still records it.
func (l *List) MarkAttempted(id string) {
	for i := range l.items {
		if l.items[i].ID == id {
			l.items = append(l.items[:i], l.items[i+1:]...)
			break
		}
	}
	if l.pinned == id {
		l.pinned = ""
	}
	if _, ok := l.attempted[id]; ok {
		return
	}
	l.attempted[id] = struct{}{}
	l.order = append(l.order, id)
}

// Attempted reports whether id was already tried.
func (l *List) Attempted(id string) bool {
	_, ok := l.attempted[id]
	return ok
}

// Items returns a copy of the ranked entries.
func (l *List) Items() []model.ScoredCandidate {
	return append([]model.ScoredCandidate(nil), l.items...)
}

// AttemptedIDs returns the tried ids in the order they were marked.
func (l *List) AttemptedIDs() []string {
	return append([]string(nil), l.order...)
}

// Len returns the number of ranked entries.
func (l *List) Len() int { return len(l.items) }

// Cap returns the capacity.
func (l *List) Cap() int { return l.capacity }

// Reset drops every ranked entry. The attempted set is kept.
func (l *List) Reset() {
	l.items = l.items[:0]
	l.pinned = ""
}

// Restore rebuilds a list from persisted entries. Items are re-inserted so the
// ordering invariant holds even if the stored slice was not sorted.
func Restore(capacity int, items []model.ScoredCandidate, attempted []string) *List {
	l := New(capacity)
	for _, id := range attempted {
		l.MarkAttempted(id)
	}
	for _, c := range items {
		l.Insert(c)
	}
	return l
}
