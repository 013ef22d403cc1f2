package neurogenx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the server (e.g. "http://localhost:8080").
	BaseURL string

	// APIKey is the admin key exchanged for a bearer token. Leave empty
	// for servers running without auth.
	APIKey string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with Timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the NeuroGenX run API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL  string
	client   *http.Client
	tokenMgr *tokenManager // nil without an APIKey
}

// NewClient creates a Client from the given configuration.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("neurogenx: BaseURL is required")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	c := &Client{baseURL: baseURL, client: httpClient}
	if cfg.APIKey != "" {
		c.tokenMgr = newTokenManager(baseURL, cfg.APIKey, httpClient)
	}
	return c, nil
}

// StartRun submits a run. The run executes in the background; poll it with
// GetRun or WaitForRun.
func (c *Client) StartRun(ctx context.Context, req StartRunRequest) (*StartRunResponse, error) {
	var resp StartRunResponse
	if err := c.do(ctx, http.MethodPost, "/v1/runs", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetRun returns a snapshot of a run.
func (c *Client) GetRun(ctx context.Context, runID uuid.UUID) (*Run, error) {
	var resp Run
	if err := c.do(ctx, http.MethodGet, "/v1/runs/"+runID.String(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListOptions filters ListRuns.
type ListOptions struct {
	Status RunStatus
	Limit  int
}

// ListRuns returns runs held in the server's memory, newest first.
func (c *Client) ListRuns(ctx context.Context, opts *ListOptions) ([]Run, error) {
	params := url.Values{}
	if opts != nil {
		if opts.Status != "" {
			params.Set("status", string(opts.Status))
		}
		if opts.Limit > 0 {
			params.Set("limit", strconv.Itoa(opts.Limit))
		}
	}
	path := "/v1/runs"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	var resp []Run
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// CancelRun asks a run to stop. It returns once the server accepted the
// request; the run reaches "cancelled" shortly after.
func (c *Client) CancelRun(ctx context.Context, runID uuid.UUID) error {
	return c.do(ctx, http.MethodPost, "/v1/runs/"+runID.String()+"/cancel", nil, nil)
}

// WaitForRun polls a run every interval until it is terminal or ctx is
// done. On ctx expiry it returns the last snapshot seen with ctx.Err().
func (c *Client) WaitForRun(ctx context.Context, runID uuid.UUID, interval time.Duration) (*Run, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var last *Run
	for {
		run, err := c.GetRun(ctx, runID)
		if err != nil {
			if ctx.Err() != nil && last != nil {
				return last, ctx.Err()
			}
			return nil, err
		}
		last = run
		if run.Status.Terminal() {
			return run, nil
		}
		select {
		case <-ctx.Done():
			return run, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Champion returns the current champion manifest.
func (c *Client) Champion(ctx context.Context) (*ChampionManifest, error) {
	var resp ChampionManifest
	if err := c.do(ctx, http.MethodGet, "/v1/champion", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health checks the server's health status. It never sends credentials.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("neurogenx: create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("neurogenx: GET /health: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var out HealthResponse
	if err := handleResponse(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

// apiEnvelope is the server's standard response wrapper.
type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// apiErrorEnvelope is the server's standard error response wrapper.
type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body, dest any) error {
	var encoded []byte
	if body != nil {
		var err error
		if encoded, err = json.Marshal(body); err != nil {
			return fmt.Errorf("neurogenx: marshal request body: %w", err)
		}
	}

	err := c.send(ctx, method, path, encoded, dest)
	// A token revoked by a server restart with ephemeral keys: fetch a new
	// one and retry once.
	if c.tokenMgr != nil && IsUnauthorized(err) {
		c.tokenMgr.invalidate()
		err = c.send(ctx, method, path, encoded, dest)
	}
	return err
}

func (c *Client) send(ctx context.Context, method, path string, encoded []byte, dest any) error {
	var rdr io.Reader
	if encoded != nil {
		rdr = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("neurogenx: create request: %w", err)
	}
	if encoded != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokenMgr != nil {
		token, err := c.tokenMgr.getToken(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("neurogenx: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("neurogenx: read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}
	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("neurogenx: decode response envelope: %w", err)
	}
	if envelope.Data == nil {
		return fmt.Errorf("neurogenx: response has no data")
	}
	return json.Unmarshal(envelope.Data, dest)
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}
	return apiErr
}
