// Package client talks to a stagehand API server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"stagehand/internal/api"
	"stagehand/internal/delta"
	"stagehand/internal/diff"
	apperr "stagehand/internal/errors"
	"stagehand/internal/repo"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: time.Second * 10,
		},
	}
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) Changes(ctx context.Context) ([]delta.Delta, error) {
	var deltas []delta.Delta
	if err := c.do(ctx, http.MethodGet, "/api/changes", nil, &deltas); err != nil {
		return nil, err
	}
	return deltas, nil
}

func (c *Client) Diff(ctx context.Context, path string) (*diff.Details, error) {
	var details diff.Details
	query := url.Values{"path": {path}}.Encode()
	if err := c.do(ctx, http.MethodGet, "/api/diff?"+query, nil, &details); err != nil {
		return nil, err
	}
	return &details, nil
}

func (c *Client) Stage(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodPost, "/api/stage", api.PathRequest{Path: path}, nil)
}

func (c *Client) Unstage(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodPost, "/api/unstage", api.PathRequest{Path: path}, nil)
}

func (c *Client) Undo(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/undo", nil, nil)
}

func (c *Client) Redo(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/redo", nil, nil)
}

func (c *Client) History(ctx context.Context) (repo.Snapshot, error) {
	var snapshot repo.Snapshot
	err := c.do(ctx, http.MethodGet, "/api/history", nil, &snapshot)
	return snapshot, err
}

func (c *Client) ClearHistory(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/history", nil, nil)
}

// do sends one request. Error responses decode into *apperr.Error so callers
// can match them with errors.Is.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var typed apperr.Error
		if err := json.NewDecoder(resp.Body).Decode(&typed); err != nil || typed.Type == "" {
			return fmt.Errorf("unexpected status: %s", resp.Status)
		}
		return &typed
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
