package delivery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/okian/trackpick/internal/domain/model"
	"github.com/okian/trackpick/pkg/logger"
)

// Accepted is everything the post-processor learns about a finished request.
type Accepted struct {
	RequestID  string                `json:"request_id"`
	Target     model.Target          `json:"target"`
	Candidate  model.ScoredCandidate `json:"candidate"`
	Attempt    int                   `json:"attempt"`
	AcceptedAt time.Time             `json:"accepted_at"`
}

// PostProcessor hands accepted candidates to the tagging/renaming step.
// Without a URL it only logs them.
type PostProcessor struct {
	url  string
	opts options
}

// NewPostProcessor creates a notifier. url may be empty.
func NewPostProcessor(url string, opts ...Option) *PostProcessor {
	o := buildOptions("postprocess", opts)
	return &PostProcessor{url: strings.TrimRight(url, "/"), opts: o}
}

// Handle notifies the post-processor of an accepted candidate.
func (p *PostProcessor) Handle(ctx context.Context, cmd model.Command) error { //nolint:gocritic // hugeParam: commands are values
	if cmd.Kind != model.CommandPostProcess {
		return fmt.Errorf("postprocess: %w: %s", ErrWrongKind, cmd.Kind)
	}
	a := Accepted{
		RequestID:  cmd.RequestID,
		Target:     cmd.Target,
		Candidate:  cmd.Candidate,
		Attempt:    cmd.Attempt,
		AcceptedAt: cmd.IssuedAt,
	}
	p.opts.logger.Info(ctx, "track accepted",
		logger.String("request_id", a.RequestID),
		logger.String("query", a.Target.Query()),
		logger.String("peer", a.Candidate.Candidate.Peer),
		logger.String("filename", a.Candidate.Candidate.Filename),
		logger.Int("score", a.Candidate.Score),
	)
	if p.url == "" {
		return nil
	}
	if err := postJSON(ctx, p.opts.client, p.url, a); err != nil {
		return fmt.Errorf("postprocess %s: %w", p.url, err)
	}
	return nil
}
