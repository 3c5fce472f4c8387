package simulate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/okian/trackpick/internal/domain/engine"
	"github.com/okian/trackpick/internal/domain/model"
)

// StatusError is returned when the service answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, strings.TrimSpace(e.Body))
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

// Client is a small JSON client for the trackpick HTTP API.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

func (c *Client) do(ctx context.Context, method, path string, header http.Header, in, out any) (int, error) {
	var body io.Reader = http.NoBody
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("marshal request body: %w", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return resp.StatusCode, &StatusError{Code: resp.StatusCode, Body: string(data)}
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response body: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// Health checks GET /healthz.
func (c *Client) Health(ctx context.Context) error {
	if _, err := c.do(ctx, http.MethodGet, "/healthz", nil, nil, nil); err != nil {
		return fmt.Errorf("%w: %w", ErrUnhealthy, err)
	}
	return nil
}

// Submit creates a request. replay is true when the key was seen before.
func (c *Client) Submit(ctx context.Context, target model.Target, key string) (id string, replay bool, err error) { //nolint:gocritic // hugeParam: targets are values
	h := http.Header{}
	if key != "" {
		h.Set("Idempotency-Key", key)
	}
	var out struct {
		ID     string `json:"id"`
		Replay bool   `json:"replay"`
	}
	if _, err := c.do(ctx, http.MethodPost, "/v1/requests", h, target, &out); err != nil {
		return "", false, err
	}
	return out.ID, out.Replay, nil
}

// Pending lists requests still collecting candidates.
func (c *Client) Pending(ctx context.Context) ([]model.PendingRequest, error) {
	var out []model.PendingRequest
	_, err := c.do(ctx, http.MethodGet, "/v1/requests/pending", nil, nil, &out)
	return out, err
}

// SubmitCandidates offers search results for a request.
func (c *Client) SubmitCandidates(ctx context.Context, id string, candidates []model.Candidate) ([]engine.IngestResult, error) {
	in := struct {
		Candidates []model.Candidate `json:"candidates"`
	}{Candidates: candidates}
	var out struct {
		Results []engine.IngestResult `json:"results"`
	}
	_, err := c.do(ctx, http.MethodPost, "/v1/requests/"+url.PathEscape(id)+"/candidates", nil, in, &out)
	return out.Results, err
}

// PullDispatches takes up to limit download commands.
func (c *Client) PullDispatches(ctx context.Context, limit int) ([]model.Command, error) {
	var out []model.Command
	_, err := c.do(ctx, http.MethodGet, "/v1/dispatches?limit="+strconv.Itoa(limit), nil, nil, &out)
	return out, err
}

// ReportOutcome reports the result of a download.
func (c *Client) ReportOutcome(ctx context.Context, id, candidateID string, outcome model.Outcome) error {
	in := struct {
		CandidateID string        `json:"candidate_id"`
		Outcome     model.Outcome `json:"outcome"`
	}{CandidateID: candidateID, Outcome: outcome}
	_, err := c.do(ctx, http.MethodPost, "/v1/requests/"+url.PathEscape(id)+"/outcome", nil, in, nil)
	return err
}

// Get fetches a request.
func (c *Client) Get(ctx context.Context, id string) (model.TrackRequest, error) {
	var out model.TrackRequest
	_, err := c.do(ctx, http.MethodGet, "/v1/requests/"+url.PathEscape(id), nil, nil, &out)
	return out, err
}

// Retire forgets a terminal request.
func (c *Client) Retire(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/v1/requests/"+url.PathEscape(id), nil, nil, nil)
	return err
}
