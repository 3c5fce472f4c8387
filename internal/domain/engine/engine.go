// Package engine owns the live track requests: it ingests scored candidates,
// decides when to commit to one, and walks the shortlist on failure.
//
// Every request is guarded by its own mutex. Ingestion, outcome reports and
// timer callbacks for one request are serialized on that mutex, so a
// candidate ingested before a timer fires is always visible to it. Different
// requests never share a lock.
package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/okian/trackpick/internal/adapters/repository"
	"github.com/okian/trackpick/internal/domain/model"
	"github.com/okian/trackpick/internal/domain/scoring"
	"github.com/okian/trackpick/internal/domain/shortlist"
	"github.com/okian/trackpick/internal/domain/trigger"
	"github.com/okian/trackpick/pkg/logger"
	"github.com/okian/trackpick/pkg/metrics"
)

// Default timeouts.
const (
	DefaultDispatchTimeout = 60 * time.Second
	DefaultRequestTimeout  = 5 * time.Minute
)

// Reasons recorded on commits and terminal transitions, in addition to the
// trigger reasons.
const (
	ReasonFallback           = "fallback"
	ReasonSuccess            = "success"
	ReasonReportedFailure    = "reported_failure"
	ReasonDispatchTimeout    = "dispatch_timeout"
	ReasonDeliveryFailed     = "delivery_failed"
	ReasonShortlistExhausted = "shortlist_exhausted"
	ReasonRequestTimeout     = "request_timeout"
	ReasonTerminal           = "terminal"
	ReasonMalformed          = "malformed"
)

// Sink receives the commands the engine emits. Enqueue must not block.
type Sink interface {
	Enqueue(ctx context.Context, cmd model.Command) bool
}

// Journal persists request snapshots. Implementations must not block.
type Journal interface {
	Record(r model.TrackRequest)
	Forget(id string)
}

type discardSink struct{}

func (discardSink) Enqueue(context.Context, model.Command) bool { return true }

type discardJournal struct{}

func (discardJournal) Record(model.TrackRequest) {}
func (discardJournal) Forget(string)             {}

// entry is the engine-owned state of one request.
type entry struct {
	mu       sync.Mutex
	req      model.TrackRequest // Shortlist and Attempted live in list
	list     *shortlist.List
	schedule *trigger.Schedule
}

// IngestResult reports what happened to one candidate.
type IngestResult struct {
	CandidateID string      `json:"candidate_id"`
	Score       int         `json:"score"`
	Inserted    bool        `json:"inserted"`
	Reason      string      `json:"reason,omitempty"` // why it was not inserted
	State       model.State `json:"state"`            // request state after ingestion
}

// Engine is the request queue plus the selection logic around it.
type Engine struct {
	clock           clockwork.Clock
	policy          trigger.Policy
	scorer          *scoring.Scorer
	capacity        int
	dispatchTimeout time.Duration
	requestTimeout  time.Duration
	shards          int
	sink            Sink
	journal         Journal
	logger          logger.Logger

	sched    *trigger.Scheduler
	requests *repository.ShardedMap[*entry]
	seq      atomic.Uint64
	closed   atomic.Bool
}

// New creates an engine with configuration options.
func New(opts ...Option) *Engine {
	e := &Engine{
		clock:           clockwork.NewRealClock(),
		policy:          trigger.DefaultPolicy(),
		scorer:          scoring.New(),
		capacity:        shortlist.DefaultCapacity,
		dispatchTimeout: DefaultDispatchTimeout,
		requestTimeout:  DefaultRequestTimeout,
		sink:            discardSink{},
		journal:         discardJournal{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logger.Get().Named("engine")
	}
	e.sched = trigger.NewScheduler(e.clock, e.policy)
	e.requests = repository.NewShardedMap[*entry](e.shards)
	return e
}

// Enqueue creates a Pending request for target and starts its timers.
func (e *Engine) Enqueue(ctx context.Context, target model.Target) (string, error) { //nolint:gocritic // hugeParam: targets are values
	if e.closed.Load() {
		return "", ErrClosed
	}
	target.Artist = strings.TrimSpace(target.Artist)
	target.Title = strings.TrimSpace(target.Title)
	target.Album = strings.TrimSpace(target.Album)
	target.Extension = model.NormalizeExt(target.Extension)
	if target.Title == "" {
		return "", fmt.Errorf("%w: title is required", ErrInvalidTarget)
	}
	if target.DurationSec < 0 {
		target.DurationSec = 0
	}

	now := e.sched.Now()
	en := &entry{
		req: model.TrackRequest{
			ID:        uuid.NewString(),
			Target:    target,
			Query:     target.Query(),
			State:     model.StatePending,
			Phase:     model.PhaseWaiting,
			CreatedAt: now,
			UpdatedAt: now,
		},
		list:     shortlist.New(e.capacity),
		schedule: e.sched.NewSchedule(),
	}

	en.mu.Lock()
	defer en.mu.Unlock()
	e.requests.Set(en.req.ID, en)
	e.armWindows(en)
	e.armDeadline(en)
	e.persist(en)

	metrics.RecordRequestSubmitted()
	e.logger.Info(ctx, "request enqueued",
		logger.String("request_id", en.req.ID),
		logger.String("query", en.req.Query),
	)
	return en.req.ID, nil
}

// Ingest scores a candidate and offers it to the request's shortlist. A
// Pending request is re-evaluated right after the insertion. Candidates for
// terminal requests are dropped without error.
func (e *Engine) Ingest(ctx context.Context, requestID string, raw model.Candidate) (IngestResult, error) { //nolint:gocritic // hugeParam: candidates are values
	en, ok := e.requests.Get(requestID)
	if !ok {
		return IngestResult{}, fmt.Errorf("ingest into %s: %w", requestID, ErrUnknownRequest)
	}

	en.mu.Lock()
	defer en.mu.Unlock()
	return e.ingestLocked(ctx, en, raw), nil
}

// IngestBatch ingests candidates in order, evaluating after each one.
func (e *Engine) IngestBatch(ctx context.Context, requestID string, raws []model.Candidate) ([]IngestResult, error) {
	en, ok := e.requests.Get(requestID)
	if !ok {
		return nil, fmt.Errorf("ingest into %s: %w", requestID, ErrUnknownRequest)
	}

	en.mu.Lock()
	defer en.mu.Unlock()
	out := make([]IngestResult, 0, len(raws))
	for i := range raws {
		out = append(out, e.ingestLocked(ctx, en, raws[i]))
	}
	return out, nil
}

func (e *Engine) ingestLocked(ctx context.Context, en *entry, raw model.Candidate) IngestResult { //nolint:gocritic // hugeParam: candidates are values
	raw.Extension = raw.Ext()
	if raw.SizeBytes < 0 {
		raw.SizeBytes = 0
	}
	id := raw.ID()

	if !raw.HasIdentity() {
		metrics.RecordCandidateDropped(ReasonMalformed)
		e.logger.Debug(ctx, "candidate without peer or filename dropped",
			logger.String("request_id", en.req.ID),
		)
		return IngestResult{CandidateID: id, Reason: ReasonMalformed, State: en.req.State}
	}
	if en.req.State.Terminal() {
		metrics.RecordCandidateDropped(ReasonTerminal)
		e.logger.Debug(ctx, "candidate for finished request dropped",
			logger.String("request_id", en.req.ID),
			logger.String("state", string(en.req.State)),
		)
		return IngestResult{CandidateID: id, Reason: ReasonTerminal, State: en.req.State}
	}

	sc := model.ScoredCandidate{
		ID:        id,
		RequestID: en.req.ID,
		Candidate: raw,
		Score:     e.scorer.Score(en.req.Target, raw),
		Seq:       e.seq.Add(1),
		ArrivedAt: e.sched.Now(),
	}
	res := en.list.Insert(sc)
	if !res.Inserted {
		metrics.RecordCandidateDropped(res.Reason)
		e.logger.Debug(ctx, "candidate dropped",
			logger.String("request_id", en.req.ID),
			logger.String("candidate_id", id),
			logger.Int("score", sc.Score),
			logger.String("reason", res.Reason),
		)
		return IngestResult{CandidateID: id, Score: sc.Score, Reason: res.Reason, State: en.req.State}
	}

	metrics.RecordCandidateIngested()
	if res.Evicted != nil {
		metrics.RecordShortlistEviction()
	}
	en.req.UpdatedAt = sc.ArrivedAt

	if en.req.State == model.StatePending {
		e.evaluate(ctx, en)
	}
	e.persist(en)
	return IngestResult{CandidateID: id, Score: sc.Score, Inserted: true, State: en.req.State}
}

// evaluate runs the commit state machine for a Pending request.
// Caller holds en.mu.
func (e *Engine) evaluate(ctx context.Context, en *entry) {
	if en.req.State != model.StatePending {
		return
	}
	best, ok := en.list.Best()
	d := e.policy.Decide(en.req.Phase, e.sched.Since(en.req.CreatedAt), best.Score, ok)

	switch d.Action {
	case trigger.ActionCommit:
		e.commit(ctx, en, best, d.Reason)
	case trigger.ActionExhaust:
		en.req.Phase = d.Phase
		e.finish(ctx, en, model.StateExhausted, d.Reason)
	default:
		if en.req.Phase != d.Phase {
			en.req.Phase = d.Phase
			en.req.UpdatedAt = e.sched.Now()
		}
	}
}

// commit dispatches c. Caller holds en.mu.
func (e *Engine) commit(ctx context.Context, en *entry, c model.ScoredCandidate, reason string) { //nolint:gocritic // hugeParam: candidates are values
	now := e.sched.Now()
	active := c
	since := now

	en.req.State = model.StateDispatched
	en.req.Phase = model.PhaseCommitted
	en.req.Active = &active
	en.req.ActiveSince = &since
	en.req.Attempts++
	en.req.CommitReason = reason
	en.req.UpdatedAt = now
	if en.req.CommittedAt == nil {
		committed := now
		en.req.CommittedAt = &committed
		metrics.RecordCommitLatency(now.Sub(en.req.CreatedAt).Seconds())
	}
	en.list.Pin(c.ID)

	en.schedule.Cancel(trigger.TimerEarly)
	en.schedule.Cancel(trigger.TimerLate)
	e.armDispatch(en)

	metrics.RecordCommit(reason)
	e.logger.Info(ctx, "committed to candidate",
		logger.String("request_id", en.req.ID),
		logger.String("candidate_id", c.ID),
		logger.String("filename", c.Candidate.Filename),
		logger.Int("score", c.Score),
		logger.Int("attempt", en.req.Attempts),
		logger.String("reason", reason),
		logger.Duration("elapsed", now.Sub(en.req.CreatedAt)),
	)

	e.emit(ctx, model.Command{
		Kind:      model.CommandDownload,
		RequestID: en.req.ID,
		Attempt:   en.req.Attempts,
		Target:    en.req.Target,
		Candidate: c,
		Reason:    reason,
		IssuedAt:  now,
	})
}

// failAttempt records the active candidate as attempted and dispatches the
// next one, or exhausts the request. Caller holds en.mu.
func (e *Engine) failAttempt(ctx context.Context, en *entry, reason string) {
	failed := en.req.Active
	en.list.MarkAttempted(failed.ID)
	en.req.Active = nil
	en.req.ActiveSince = nil
	en.schedule.Cancel(trigger.TimerDispatch)

	e.logger.Info(ctx, "attempt failed",
		logger.String("request_id", en.req.ID),
		logger.String("candidate_id", failed.ID),
		logger.Int("attempt", en.req.Attempts),
		logger.String("reason", reason),
	)

	next, ok := en.list.Best()
	if !ok {
		e.finish(ctx, en, model.StateExhausted, ReasonShortlistExhausted)
		return
	}
	metrics.RecordFallback()
	e.commit(ctx, en, next, ReasonFallback)
}

// finish moves the request to a terminal state and releases its timers and
// shortlist. Caller holds en.mu.
func (e *Engine) finish(ctx context.Context, en *entry, state model.State, reason string) {
	en.req.State = state
	en.req.EndReason = reason
	en.req.Active = nil
	en.req.ActiveSince = nil
	en.req.UpdatedAt = e.sched.Now()
	en.schedule.Stop()
	en.list.Reset()

	metrics.RecordRequestTerminal(string(state))
	e.logger.Info(ctx, "request finished",
		logger.String("request_id", en.req.ID),
		logger.String("state", string(state)),
		logger.String("reason", reason),
		logger.Int("attempts", en.req.Attempts),
	)
}

// ReportOutcome applies the result of the active download attempt.
func (e *Engine) ReportOutcome(ctx context.Context, requestID, candidateID string, outcome model.Outcome) error {
	if !outcome.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidOutcome, outcome)
	}
	en, ok := e.requests.Get(requestID)
	if !ok {
		return fmt.Errorf("report outcome for %s: %w", requestID, ErrUnknownRequest)
	}

	en.mu.Lock()
	defer en.mu.Unlock()

	if en.req.State != model.StateDispatched {
		e.logger.Warn(ctx, "outcome rejected",
			logger.String("request_id", requestID),
			logger.String("state", string(en.req.State)),
		)
		return fmt.Errorf("report outcome for %s in state %s: %w", requestID, en.req.State, ErrInvalidTransition)
	}
	if en.req.Active == nil || en.req.Active.ID != candidateID {
		e.logger.Warn(ctx, "outcome for inactive candidate rejected",
			logger.String("request_id", requestID),
			logger.String("candidate_id", candidateID),
		)
		return fmt.Errorf("report outcome for %s: candidate %s is not in flight: %w", requestID, candidateID, ErrInvalidTransition)
	}

	metrics.RecordOutcome(string(outcome))
	if outcome == model.OutcomeFailure {
		e.failAttempt(ctx, en, ReasonReportedFailure)
		e.persist(en)
		return nil
	}

	accepted := *en.req.Active
	attempt := en.req.Attempts
	en.req.Accepted = &accepted
	e.finish(ctx, en, model.StateCompleted, ReasonSuccess)
	e.persist(en)
	e.emit(ctx, model.Command{
		Kind:      model.CommandPostProcess,
		RequestID: requestID,
		Attempt:   attempt,
		Target:    en.req.Target,
		Candidate: accepted,
		Reason:    ReasonSuccess,
		IssuedAt:  en.req.UpdatedAt,
	})
	return nil
}

// ReportDeliveryFailure fails the attempt carried by cmd if it is still the
// one in flight. Stale reports are ignored.
func (e *Engine) ReportDeliveryFailure(ctx context.Context, cmd model.Command, cause error) { //nolint:gocritic // hugeParam: commands are values
	en, ok := e.requests.Get(cmd.RequestID)
	if !ok {
		return
	}
	en.mu.Lock()
	defer en.mu.Unlock()

	if !e.inFlight(en, cmd.Attempt, cmd.Candidate.ID) {
		return
	}
	e.logger.Warn(ctx, "download command could not be delivered",
		logger.String("request_id", cmd.RequestID),
		logger.Int("attempt", cmd.Attempt),
		logger.Error(cause),
	)
	e.failAttempt(ctx, en, ReasonDeliveryFailed)
	e.persist(en)
}

// InFlight reports whether attempt of candidateID is still the request's
// current download. Commands superseded by a fallback or a terminal
// transition are not in flight.
func (e *Engine) InFlight(requestID string, attempt int, candidateID string) bool {
	en, ok := e.requests.Get(requestID)
	if !ok {
		return false
	}
	en.mu.Lock()
	defer en.mu.Unlock()
	return e.inFlight(en, attempt, candidateID)
}

func (e *Engine) inFlight(en *entry, attempt int, candidateID string) bool {
	return en.req.State == model.StateDispatched &&
		en.req.Attempts == attempt &&
		en.req.Active != nil &&
		(candidateID == "" || en.req.Active.ID == candidateID)
}

// Get returns a snapshot of the request.
func (e *Engine) Get(requestID string) (model.TrackRequest, error) {
	en, ok := e.requests.Get(requestID)
	if !ok {
		return model.TrackRequest{}, fmt.Errorf("get %s: %w", requestID, ErrNotFound)
	}
	en.mu.Lock()
	defer en.mu.Unlock()
	return snapshot(en), nil
}

// ListPending returns the Pending requests, oldest first.
func (e *Engine) ListPending() []model.PendingRequest {
	var out []model.PendingRequest
	e.requests.Range(func(_ string, en *entry) bool {
		en.mu.Lock()
		if en.req.State == model.StatePending {
			out = append(out, model.PendingRequest{
				ID:        en.req.ID,
				Target:    en.req.Target,
				Query:     en.req.Query,
				CreatedAt: en.req.CreatedAt,
			})
		}
		en.mu.Unlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Retire removes a terminal request once the caller has consumed it.
func (e *Engine) Retire(ctx context.Context, requestID string) error {
	en, ok := e.requests.Get(requestID)
	if !ok {
		return fmt.Errorf("retire %s: %w", requestID, ErrNotFound)
	}
	en.mu.Lock()
	defer en.mu.Unlock()

	if !en.req.State.Terminal() {
		return fmt.Errorf("retire %s in state %s: %w", requestID, en.req.State, ErrNotTerminal)
	}
	en.schedule.Stop()
	e.requests.Delete(requestID)
	e.journal.Forget(requestID)
	e.logger.Debug(ctx, "request retired", logger.String("request_id", requestID))
	return nil
}

// Status counts requests per state.
func (e *Engine) Status() model.Status {
	var s model.Status
	e.requests.Range(func(_ string, en *entry) bool {
		en.mu.Lock()
		state := en.req.State
		en.mu.Unlock()
		switch state {
		case model.StatePending:
			s.PendingCount++
		case model.StateDispatched:
			s.DispatchedCount++
		case model.StateCompleted:
			s.CompletedCount++
		case model.StateFailed:
			s.FailedCount++
		case model.StateExhausted:
			s.ExhaustedCount++
		}
		return true
	})
	return s
}

// Len returns the number of requests held, live and terminal.
func (e *Engine) Len() int { return e.requests.Len() }

// Restore re-inserts persisted requests. Window and deadline timers are armed
// relative to each request's original creation time, and the dispatch timeout
// relative to the start of the attempt in flight, so a restart grants no
// extra time. The download command of an attempt in flight is emitted again.
// Requests already present are skipped. It returns how many were restored.
func (e *Engine) Restore(ctx context.Context, reqs []model.TrackRequest) int {
	restored := 0
	for i := range reqs {
		r := reqs[i].Clone()
		if r.ID == "" {
			continue
		}
		en := &entry{
			list:     shortlist.Restore(e.capacity, r.Shortlist, r.Attempted),
			schedule: e.sched.NewSchedule(),
		}
		for _, c := range r.Shortlist {
			e.bumpSeq(c.Seq)
		}
		r.Shortlist = nil
		r.Attempted = nil
		en.req = r

		en.mu.Lock()
		if _, stored := e.requests.SetIfAbsent(r.ID, en); !stored {
			en.mu.Unlock()
			continue
		}
		restored++

		switch {
		case r.State.Terminal():
			en.schedule.Stop()
		case r.State == model.StateDispatched && r.Active != nil:
			en.list.Pin(r.Active.ID)
			e.armDispatch(en)
			e.armDeadline(en)
			e.emit(ctx, model.Command{
				Kind:      model.CommandDownload,
				RequestID: r.ID,
				Attempt:   r.Attempts,
				Target:    r.Target,
				Candidate: *r.Active,
				Reason:    r.CommitReason,
				IssuedAt:  e.sched.Now(),
			})
		default:
			// Pending, or Dispatched without an attempt on record.
			en.req.State = model.StatePending
			if en.req.Phase == model.PhaseCommitted {
				en.req.Phase = e.policy.PhaseAt(e.sched.Since(r.CreatedAt))
			}
			e.armWindows(en)
			e.armDeadline(en)
		}
		en.mu.Unlock()
	}

	e.logger.Info(ctx, "requests restored", logger.Int("count", restored))
	return restored
}

func (e *Engine) bumpSeq(seen uint64) {
	for {
		cur := e.seq.Load()
		if seen <= cur || e.seq.CompareAndSwap(cur, seen) {
			return
		}
	}
}

// Close stops every timer. Later Enqueue calls fail with ErrClosed.
func (e *Engine) Close() {
	if e.closed.Swap(true) {
		return
	}
	e.requests.Range(func(_ string, en *entry) bool {
		en.mu.Lock()
		en.schedule.Stop()
		en.mu.Unlock()
		return true
	})
}

// Timers. Callbacks re-acquire the entry lock and re-check state, so a timer
// that raced a transition does nothing.

func (e *Engine) armWindows(en *entry) {
	id := en.req.ID
	en.schedule.At(trigger.TimerEarly, en.req.CreatedAt.Add(e.policy.EarlyWindow), func() { e.onWindow(id) })
	en.schedule.At(trigger.TimerLate, en.req.CreatedAt.Add(e.policy.LateWindow), func() { e.onWindow(id) })
}

func (e *Engine) armDeadline(en *entry) {
	if e.requestTimeout <= 0 {
		return
	}
	id := en.req.ID
	en.schedule.At(trigger.TimerDeadline, en.req.CreatedAt.Add(e.requestTimeout), func() { e.onDeadline(id) })
}

func (e *Engine) armDispatch(en *entry) {
	if e.dispatchTimeout <= 0 || en.req.ActiveSince == nil {
		return
	}
	id := en.req.ID
	attempt := en.req.Attempts
	en.schedule.At(trigger.TimerDispatch, en.req.ActiveSince.Add(e.dispatchTimeout), func() { e.onDispatchTimeout(id, attempt) })
}

func (e *Engine) onWindow(id string) {
	en, ok := e.requests.Get(id)
	if !ok {
		return
	}
	ctx := context.Background()
	en.mu.Lock()
	defer en.mu.Unlock()
	if en.req.State != model.StatePending {
		return
	}
	e.evaluate(ctx, en)
	e.persist(en)
}

func (e *Engine) onDispatchTimeout(id string, attempt int) {
	en, ok := e.requests.Get(id)
	if !ok {
		return
	}
	ctx := context.Background()
	en.mu.Lock()
	defer en.mu.Unlock()
	if !e.inFlight(en, attempt, "") {
		return
	}
	e.logger.Warn(ctx, "no outcome reported in time",
		logger.String("request_id", id),
		logger.Int("attempt", attempt),
		logger.Duration("timeout", e.dispatchTimeout),
	)
	e.failAttempt(ctx, en, ReasonDispatchTimeout)
	e.persist(en)
}

func (e *Engine) onDeadline(id string) {
	en, ok := e.requests.Get(id)
	if !ok {
		return
	}
	ctx := context.Background()
	en.mu.Lock()
	defer en.mu.Unlock()
	if en.req.State.Terminal() {
		return
	}
	e.finish(ctx, en, model.StateFailed, ReasonRequestTimeout)
	e.persist(en)
}

// emit hands cmd to the sink. A rejected download is left to the dispatch
// timeout. Caller holds en.mu.
func (e *Engine) emit(ctx context.Context, cmd model.Command) { //nolint:gocritic // hugeParam: commands are values
	if e.sink.Enqueue(ctx, cmd) {
		return
	}
	metrics.RecordErrorByComponent("engine", "outbox_rejected")
	e.logger.Warn(ctx, "outbox rejected command",
		logger.String("kind", string(cmd.Kind)),
		logger.String("request_id", cmd.RequestID),
		logger.Int("attempt", cmd.Attempt),
	)
}

func (e *Engine) persist(en *entry) {
	e.journal.Record(snapshot(en))
}

// snapshot copies the request state. Caller holds en.mu.
func snapshot(en *entry) model.TrackRequest {
	r := en.req.Clone()
	r.Shortlist = en.list.Items()
	r.Attempted = en.list.AttemptedIDs()
	return r
}
