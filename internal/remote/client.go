package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/starford/perth/internal/apperr"
)

const requestTimeout = 15 * time.Second

// Client is the HTTP implementation of Backend.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a Client for the backend at baseURL, authenticating every
// request with apiKey.
func NewClient(baseURL, apiKey string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: requestTimeout},
		logger:  logger,
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("remote: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote: %s %s: %w: %w", req.Method, req.URL.Path, apperr.ErrRemoteFailure, err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return nil, fmt.Errorf("remote: %s %s: status %d: %w", req.Method, req.URL.Path, resp.StatusCode, apperr.ErrAuthRequired)
	case resp.StatusCode >= 300:
		resp.Body.Close()
		return nil, fmt.Errorf("remote: %s %s: status %d: %w", req.Method, req.URL.Path, resp.StatusCode, apperr.ErrRemoteFailure)
	}
	return resp, nil
}

// Select implements Backend.
func (c *Client) Select(ctx context.Context, table, owner string) ([]json.RawMessage, error) {
	path := fmt.Sprintf("/v1/%s?owner=%s", table, url.QueryEscape(owner))
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var rows []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("remote: decode %s rows: %w: %w", table, apperr.ErrRemoteFailure, err)
	}
	return rows, nil
}

// Upsert implements Backend.
func (c *Client) Upsert(ctx context.Context, table string, row any) error {
	payload, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("remote: encode %s row: %w", table, err)
	}
	req, err := c.newRequest(ctx, http.MethodPut, "/v1/"+table, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Delete implements Backend.
func (c *Client) Delete(ctx context.Context, table, id string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/v1/"+table+"/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Ping probes backend reachability. Used by the connectivity monitor; a
// failed probe is not an error condition, just an offline signal.
func (c *Client) Ping(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+"/v1/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}
