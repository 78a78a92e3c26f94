// Package runclient talks to the remote run service: thread lifecycle,
// checkpointed state reads/writes, and the per-run event stream.
package runclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/flitsinc/go-chatbridge/internal/record"
)

// StatusError is a non-2xx reply from the run service, kept structured so
// callers can log status and detail separately.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("run service returned %d: %s", e.Code, e.Detail)
}

type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient swaps the underlying HTTP client (tests).
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) { cl.http.Timeout = d }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read response: %w", method, path, err)
	}
	if resp.StatusCode >= 300 {
		detail := strings.TrimSpace(string(payload))
		if len(detail) > 512 {
			detail = detail[:512]
		}
		return &StatusError{Code: resp.StatusCode, Detail: detail}
	}
	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("%s %s: decode response: %w", method, path, err)
		}
	}
	return nil
}

// CreateThread ensures a thread exists for the given graph. Creating an
// already-existing thread is a no-op on the service side.
func (c *Client) CreateThread(ctx context.Context, threadID, graphID string) error {
	body := map[string]string{
		"thread_id": threadID,
		"graph_id":  graphID,
		"if_exists": "do_nothing",
	}
	return c.doJSON(ctx, http.MethodPost, "/threads", body, nil)
}

type stateEnvelope struct {
	Values record.Values `json:"values"`
}

// ThreadState reads the thread's current checkpointed values. Reads shortly
// after a write may return stale data; callers retry (see internal/backfill).
func (c *Client) ThreadState(ctx context.Context, threadID string) (record.Values, error) {
	var env stateEnvelope
	if err := c.doJSON(ctx, http.MethodGet, "/threads/"+threadID+"/state", nil, &env); err != nil {
		return record.Values{}, err
	}
	return env.Values, nil
}

// UpdateThreadState submits a partial state delta. The service combines it
// with the stored value through the merge reducers, so concurrent writers
// never blind-overwrite each other.
func (c *Client) UpdateThreadState(ctx context.Context, threadID string, values record.Values) error {
	return c.doJSON(ctx, http.MethodPost, "/threads/"+threadID+"/state", stateEnvelope{Values: values}, nil)
}

// ThreadMetadata reads the thread's routing/context metadata.
func (c *Client) ThreadMetadata(ctx context.Context, threadID string) (map[string]any, error) {
	var out struct {
		Metadata map[string]any `json:"metadata"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/threads/"+threadID+"/metadata", nil, &out); err != nil {
		return nil, err
	}
	return out.Metadata, nil
}

// MergeThreadMetadata merges partial metadata into the thread. Best-effort
// callers log the error and move on.
func (c *Client) MergeThreadMetadata(ctx context.Context, threadID string, partial map[string]any) error {
	body := map[string]any{"metadata": partial}
	return c.doJSON(ctx, http.MethodPatch, "/threads/"+threadID+"/metadata", body, nil)
}
