package http

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

	"github.com/fyrsmithlabs/specd/internal/coordinator"
	"github.com/fyrsmithlabs/specd/internal/docstore"
	"github.com/fyrsmithlabs/specd/internal/faults"
)

const maxResponseBytes = 16 << 20

// Client implements API against a running server.
type Client struct {
	baseURL string
	http    *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// Advance blocks for a whole worker session.
		http: &http.Client{Timeout: 30 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) List(ctx context.Context) ([]*docstore.Specification, error) {
	var resp ListResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/specs", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Specs, nil
}

func (c *Client) Get(ctx context.Context, id string) (*docstore.Specification, error) {
	var spec docstore.Specification
	if err := c.do(ctx, http.MethodGet, specPath(id), nil, &spec); err != nil {
		return nil, err
	}
	return &spec, nil
}

func (c *Client) Create(ctx context.Context, req CreateRequest) (*docstore.Specification, error) {
	var spec docstore.Specification
	if err := c.do(ctx, http.MethodPost, "/api/v1/specs", req, &spec); err != nil {
		return nil, err
	}
	return &spec, nil
}

func (c *Client) AddTask(ctx context.Context, id string, req TaskRequest) (docstore.Task, error) {
	var task docstore.Task
	err := c.do(ctx, http.MethodPost, specPath(id, "tasks"), req, &task)
	return task, err
}

func (c *Client) Attach(ctx context.Context, id string, kind docstore.ArtifactKind, req ArtifactRequest) error {
	return c.do(ctx, http.MethodPost, specPath(id, "artifacts", string(kind)), req, nil)
}

func (c *Client) Advance(ctx context.Context, id string) (coordinator.NextAction, error) {
	var action coordinator.NextAction
	err := c.do(ctx, http.MethodPost, specPath(id, "advance"), nil, &action)
	return action, err
}

func (c *Client) Approve(ctx context.Context, id string) (*docstore.Specification, error) {
	var spec docstore.Specification
	if err := c.do(ctx, http.MethodPost, specPath(id, "approve"), nil, &spec); err != nil {
		return nil, err
	}
	return &spec, nil
}

func (c *Client) Abort(ctx context.Context, id string) (bool, error) {
	var resp AbortResponse
	err := c.do(ctx, http.MethodPost, specPath(id, "abort"), nil, &resp)
	return resp.Aborted, err
}

func (c *Client) Status(ctx context.Context, id string) (*coordinator.StatusInfo, error) {
	var info coordinator.StatusInfo
	if err := c.do(ctx, http.MethodGet, specPath(id, "status"), nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func specPath(id string, rest ...string) string {
	parts := append([]string{"/api/v1/specs", url.PathEscape(id)}, rest...)
	return strings.Join(parts, "/")
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%w: %v", docstore.ErrInvalidInput, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s %s: %v", ErrServerUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrServerUnavailable, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var er ErrorResponse
		if err := json.Unmarshal(data, &er); err != nil || er.Code == "" {
			er = ErrorResponse{Code: faults.CodeInternal, Class: faults.ClassUnknown, Message: strings.TrimSpace(string(data))}
		}
		return &APIError{Status: resp.StatusCode, Reason: er.Code, Kind: er.Class, Message: er.Message, Details: er.Details}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
