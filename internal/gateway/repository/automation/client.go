// Package automation is the REST transport to the remote design-automation
// service. Submission is the only operation the gateway needs: everything
// after submission flows back through the callback surface.
package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// TokenSource supplies the bearer token for the automation API. Acquiring
// and refreshing tokens is an external concern.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource returns a fixed token, typically injected from the
// environment by whatever owns the OAuth exchange.
type StaticTokenSource string

func (s StaticTokenSource) Token(context.Context) (string, error) {
	token := strings.TrimSpace(string(s))
	if token == "" {
		return "", fmt.Errorf("automation access token is not configured")
	}
	return token, nil
}

// Submitter is the slice of the client the orchestration layer depends on.
type Submitter interface {
	CreateWorkItem(ctx context.Context, wi WorkItem) (string, error)
}

type ClientConfig struct {
	BaseURL    string
	Retries    int
	RetryDelay time.Duration
}

type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	retries    int
	retryDelay time.Duration
}

func NewClient(cfg ClientConfig, tokens TokenSource) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("automation base url is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token source is required")
	}
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = 2 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retries:    retries,
		retryDelay: delay,
	}, nil
}

// CreateWorkItem submits one workitem and returns the handle assigned by
// the remote service. Transient failures (network errors, 429, 5xx) are
// retried with exponential backoff up to the configured attempt count.
func (c *Client) CreateWorkItem(ctx context.Context, wi WorkItem) (string, error) {
	payload, err := json.Marshal(wi)
	if err != nil {
		return "", fmt.Errorf("marshal workitem: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<(attempt-1))
			log.Warn().
				Err(lastErr).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("retrying workitem submission")
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		handle, retryable, err := c.createOnce(ctx, payload)
		if err == nil {
			return handle, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return "", fmt.Errorf("create workitem: %w", lastErr)
}

func (c *Client) createOnce(ctx context.Context, payload []byte) (handle string, retryable bool, err error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return "", false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/workitems", bytes.NewReader(payload))
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", true, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", true, err
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", true, fmt.Errorf("automation service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", false, fmt.Errorf("automation service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out createWorkItemResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", false, fmt.Errorf("decode workitem response: %w", err)
	}
	if strings.TrimSpace(out.ID) == "" {
		return "", false, fmt.Errorf("workitem response is missing an id")
	}
	return out.ID, false, nil
}

var _ Submitter = (*Client)(nil)
