package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/okian/trackpick/internal/domain/model"
	"github.com/okian/trackpick/pkg/logger"
)

// Webhook pushes download commands to the transfer client.
type Webhook struct {
	url    string
	client *http.Client
	logger logger.Logger
}

// NewWebhook creates a webhook posting to url.
func NewWebhook(url string, opts ...Option) *Webhook {
	o := buildOptions("webhook", opts)
	return &Webhook{url: strings.TrimRight(url, "/"), client: o.client, logger: o.logger}
}

// Handle POSTs cmd as JSON. Any transport error or non-2xx answer fails the
// delivery.
func (w *Webhook) Handle(ctx context.Context, cmd model.Command) error { //nolint:gocritic // hugeParam: commands are values
	if cmd.Kind != model.CommandDownload {
		return fmt.Errorf("webhook: %w: %s", ErrWrongKind, cmd.Kind)
	}
	start := time.Now()
	if err := postJSON(ctx, w.client, w.url, cmd); err != nil {
		return fmt.Errorf("webhook %s: %w", w.url, err)
	}
	w.logger.Debug(ctx, "download pushed",
		logger.String("request_id", cmd.RequestID),
		logger.Int("attempt", cmd.Attempt),
		logger.Duration("took", time.Since(start)),
	)
	return nil
}

func postJSON(ctx context.Context, client *http.Client, url string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req) //nolint:gosec // url comes from configuration
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	return nil
}
