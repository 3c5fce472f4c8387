package simulate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/okian/trackpick/internal/domain/model"
	"github.com/okian/trackpick/pkg/logger"
)

// pullBatch is how many dispatches the transfer client takes per poll.
const pullBatch = 100

// replayEvery resubmits every n-th request with the same key.
const replayEvery = 10

type run struct {
	cfg     *Config
	client  *Client
	catalog *Catalog
	log     logger.Logger

	mu        sync.Mutex
	offers    map[string][]model.Candidate
	offered   map[string]bool
	succeeded map[string]string
	failed    map[string]map[string]bool
	report    Report
	problems  []string
}

func newRun(cfg *Config, log logger.Logger) *run {
	return &run{
		cfg:       cfg,
		client:    NewClient(cfg.BaseURL, cfg.Timeout),
		catalog:   NewCatalog(cfg.Seed),
		log:       log,
		offers:    make(map[string][]model.Candidate),
		offered:   make(map[string]bool),
		succeeded: make(map[string]string),
		failed:    make(map[string]map[string]bool),
	}
}

// Run executes a complete simulation against the service at cfg.BaseURL,
// which must deliver downloads in pull mode.
func Run(ctx context.Context, cfg *Config) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := logger.Named("simulate")
	start := time.Now()
	r := newRun(cfg, log)

	log.Info(ctx, "starting simulation",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("requests", cfg.Requests),
		logger.Int("workers", cfg.Workers),
		logger.Int("candidatesPerRequest", cfg.CandidatesPerRequest),
		logger.Float64("failureRate", cfg.FailureRate),
		logger.Int64("seed", int64(cfg.Seed))) //nolint:gosec // seed is only logged

	if err := r.client.Health(ctx); err != nil {
		return nil, err
	}

	ids, err := r.submitAll(ctx)
	if err != nil {
		return nil, err
	}

	// Loops stop between polls, never mid-call.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.searchLoop(ctx, stop)
	}()
	go func() {
		defer wg.Done()
		r.transferLoop(ctx, stop)
	}()

	final, waitErr := r.awaitTerminal(ctx, ids)
	close(stop)
	wg.Wait()

	verifyErr := r.verify(final)
	if cfg.Retire {
		r.retire(ctx, final)
	}

	r.report.Duration = time.Since(start)
	r.logReport(ctx)

	report := r.report
	return &report, errors.Join(waitErr, verifyErr)
}

// submitAll creates every request with a pool of submitters and records the
// candidates the peer network will offer for each.
func (r *run) submitAll(ctx context.Context) ([]string, error) {
	targets := r.catalog.Targets(r.cfg.Requests)
	offers := make([][]model.Candidate, len(targets))
	for i, t := range targets {
		offers[i] = r.catalog.Candidates(t, r.cfg.CandidatesPerRequest)
	}

	runID := uuid.NewString()
	ids := make([]string, len(targets))
	errs := make([]error, len(targets))
	jobs := make(chan int, r.cfg.Workers)
	var wg sync.WaitGroup

	for w := 0; w < r.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				key := runID + "-" + strconv.Itoa(i)
				id, _, err := r.client.Submit(ctx, targets[i], key)
				if err != nil {
					errs[i] = fmt.Errorf("submit request %d: %w", i, err)
					continue
				}
				ids[i] = id
				if i%replayEvery == 0 {
					r.checkReplay(ctx, targets[i], key, id)
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := range targets {
			select {
			case <-ctx.Done():
				return
			case jobs <- i:
			}
		}
	}()
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("submit requests: %w", err)
	}

	r.mu.Lock()
	for i, id := range ids {
		r.offers[id] = offers[i]
	}
	r.report.Requests = len(ids)
	r.mu.Unlock()

	r.log.Info(ctx, "requests submitted", logger.Int("count", len(ids)))
	return ids, nil
}

func (r *run) checkReplay(ctx context.Context, target model.Target, key, want string) { //nolint:gocritic // hugeParam: targets are values
	id, replay, err := r.client.Submit(ctx, target, key)
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case err != nil:
		r.problems = append(r.problems, fmt.Sprintf("replay of %s failed: %v", key, err))
	case !replay || id != want:
		r.problems = append(r.problems, fmt.Sprintf("replay of %s returned %s (replay=%t), want %s", key, id, replay, want))
	default:
		r.report.Replays++
	}
}

// searchLoop plays the peer network: each pending request gets its results
// in two bursts, the second on a later poll.
func (r *run) searchLoop(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		pending, err := r.client.Pending(ctx)
		if err != nil && ctx.Err() == nil {
			r.log.Warn(ctx, "pending poll failed", logger.Error(err))
		}
		for _, p := range pending {
			batch := r.takeOffers(p.ID)
			if len(batch) == 0 {
				continue
			}
			results, err := r.client.SubmitCandidates(ctx, p.ID, batch)
			if err != nil {
				if ctx.Err() == nil && !IsStatus(err, http.StatusNotFound) {
					r.log.Warn(ctx, "submitting candidates failed", logger.String("request_id", p.ID), logger.Error(err))
				}
				continue
			}
			r.mu.Lock()
			r.report.CandidatesSent += len(results)
			r.mu.Unlock()
			if r.cfg.Verbose {
				r.log.Debug(ctx, "candidates offered", logger.String("request_id", p.ID), logger.Int("count", len(results)))
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

// takeOffers removes and returns the next burst of candidates for id.
func (r *run) takeOffers(id string) []model.Candidate {
	r.mu.Lock()
	defer r.mu.Unlock()
	left := r.offers[id]
	if len(left) == 0 {
		return nil
	}
	n := len(left)
	if !r.offered[id] {
		n = (n + 1) / 2
		r.offered[id] = true
	}
	batch := left[:n]
	r.offers[id] = left[n:]
	return batch
}

// transferLoop plays the transfer client: pull downloads, "download" them
// and report back.
func (r *run) transferLoop(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		cmds, err := r.client.PullDispatches(ctx, pullBatch)
		if err != nil && ctx.Err() == nil {
			r.log.Warn(ctx, "dispatch poll failed", logger.Error(err))
		}
		for _, cmd := range cmds {
			if cmd.Kind != model.CommandDownload {
				continue
			}
			r.download(ctx, cmd)
		}

		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

func (r *run) download(ctx context.Context, cmd model.Command) { //nolint:gocritic // hugeParam: commands are values
	outcome := model.OutcomeSuccess
	if r.catalog.Fails(cmd.Candidate.ID, r.cfg.FailureRate) {
		outcome = model.OutcomeFailure
	}

	err := r.client.ReportOutcome(ctx, cmd.RequestID, cmd.Candidate.ID, outcome)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.Dispatches++
	switch {
	case IsStatus(err, http.StatusConflict), IsStatus(err, http.StatusNotFound):
		r.report.StaleOutcomes++
	case err != nil:
		if ctx.Err() == nil {
			r.problems = append(r.problems, fmt.Sprintf("outcome for %s failed: %v", cmd.RequestID, err))
		}
	case outcome == model.OutcomeSuccess:
		r.report.Successes++
		r.succeeded[cmd.RequestID] = cmd.Candidate.ID
	default:
		r.report.Failures++
		if r.failed[cmd.RequestID] == nil {
			r.failed[cmd.RequestID] = make(map[string]bool)
		}
		r.failed[cmd.RequestID][cmd.Candidate.ID] = true
	}
}

// awaitTerminal polls until every request reached a terminal state or the
// deadline passes. It returns the last snapshot of every request it saw.
func (r *run) awaitTerminal(ctx context.Context, ids []string) (map[string]model.TrackRequest, error) {
	final := make(map[string]model.TrackRequest, len(ids))
	open := append([]string(nil), ids...)
	deadline := time.NewTimer(r.cfg.Deadline)
	defer deadline.Stop()
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		still := open[:0]
		for _, id := range open {
			req, err := r.client.Get(ctx, id)
			if err != nil {
				still = append(still, id)
				continue
			}
			final[id] = req
			if !req.State.Terminal() {
				still = append(still, id)
			}
		}
		open = still
		if len(open) == 0 {
			return final, nil
		}

		select {
		case <-ctx.Done():
			return final, fmt.Errorf("await terminal states: %w", ctx.Err())
		case <-deadline.C:
			r.mu.Lock()
			r.report.Unfinished = len(open)
			r.mu.Unlock()
			return final, fmt.Errorf("%w: %d requests still open after %s", ErrVerification, len(open), r.cfg.Deadline)
		case <-ticker.C:
		}
	}
}

// verify checks every terminal request against what the transfer client did.
func (r *run) verify(final map[string]model.TrackRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(final))
	for id := range final {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	problems := append([]string(nil), r.problems...)
	for _, id := range ids {
		req := final[id]
		switch req.State {
		case model.StateCompleted:
			r.report.Completed++
			switch {
			case req.Accepted == nil:
				problems = append(problems, id+": completed without an accepted candidate")
			case req.Accepted.ID != r.succeeded[id]:
				problems = append(problems, fmt.Sprintf("%s: accepted %s, but success was reported for %q", id, req.Accepted.ID, r.succeeded[id]))
			case r.failed[id][req.Accepted.ID]:
				problems = append(problems, fmt.Sprintf("%s: accepted %s after it failed", id, req.Accepted.ID))
			}
		case model.StateExhausted:
			r.report.Exhausted++
			if req.Accepted != nil {
				problems = append(problems, id+": exhausted with an accepted candidate")
			}
		case model.StateFailed:
			r.report.Failed++
		}
		if req.State.Terminal() && (req.Active != nil || len(req.Shortlist) > 0) {
			problems = append(problems, id+": terminal request still holds candidates")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrVerification, strings.Join(problems, "; "))
	}
	return nil
}

func (r *run) retire(ctx context.Context, final map[string]model.TrackRequest) {
	retired := 0
	for id, req := range final {
		if !req.State.Terminal() {
			continue
		}
		if err := r.client.Retire(ctx, id); err != nil {
			r.log.Warn(ctx, "retire failed", logger.String("request_id", id), logger.Error(err))
			continue
		}
		retired++
	}
	r.mu.Lock()
	r.report.Retired = retired
	r.mu.Unlock()
}

func (r *run) logReport(ctx context.Context) {
	rep := r.report
	var perSecond float64
	if rep.Duration > 0 {
		perSecond = float64(rep.Requests) / rep.Duration.Seconds()
	}
	r.log.Info(ctx, "final statistics",
		logger.Int("requests", rep.Requests),
		logger.Int("replays", rep.Replays),
		logger.Int("candidatesSent", rep.CandidatesSent),
		logger.Int("dispatches", rep.Dispatches),
		logger.Int("successes", rep.Successes),
		logger.Int("failures", rep.Failures),
		logger.Int("staleOutcomes", rep.StaleOutcomes),
		logger.Int("completed", rep.Completed),
		logger.Int("exhausted", rep.Exhausted),
		logger.Int("failed", rep.Failed),
		logger.Int("unfinished", rep.Unfinished),
		logger.Int("retired", rep.Retired),
		logger.Duration("duration", rep.Duration),
		logger.Float64("requestsPerSecond", perSecond))
}
