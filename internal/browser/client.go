package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/AI-static/Aether/internal/content"
)

// ClientConfig controls the provider HTTP client.
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxElapsed time.Duration
}

// Client implements Provider over the provider's REST API.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
	logger     *zap.Logger
	// newBackOff is swapped out in tests to avoid real retry waits.
	newBackOff func() backoff.BackOff
}

// NewClient builds a provider client. BaseURL and APIKey are required.
func NewClient(cfg ClientConfig, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("provider base URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("provider API key is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxElapsed <= 0 {
		cfg.MaxElapsed = 2 * time.Minute
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.Named("browser.client"),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = cfg.MaxElapsed
			b.MaxInterval = 30 * time.Second
			return b
		},
	}, nil
}

type createSessionRequest struct {
	ContextID     string   `json:"context_id,omitempty"`
	Viewport      viewport `json:"viewport"`
	Locales       []string `json:"locales,omitempty"`
	Stealth       bool     `json:"stealth"`
	SolveCaptchas bool     `json:"solve_captchas"`
}

type viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type extractResponse struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data"`
	Message string         `json:"message"`
}

// CreateSession provisions a remote browser and returns its CDP endpoint.
func (c *Client) CreateSession(ctx context.Context, opts content.SessionOptions) (SessionInfo, error) {
	req := createSessionRequest{
		ContextID: opts.ContextID,
		Viewport: viewport{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		},
		Locales:       opts.Locales,
		Stealth:       opts.Stealth,
		SolveCaptchas: opts.SolveCaptchas,
	}

	var info SessionInfo
	if err := c.post(ctx, "/v1/sessions", req, &info); err != nil {
		return SessionInfo{}, fmt.Errorf("create session: %w", err)
	}
	if info.ID == "" || info.CDPEndpoint == "" {
		return SessionInfo{}, fmt.Errorf("create session: provider returned incomplete session info")
	}
	return info, nil
}

// DestroySession releases the remote browser. One attempt only; destroy is
// best-effort cleanup and callers must not block on it.
func (c *Client) DestroySession(ctx context.Context, sessionID string) error {
	url := fmt.Sprintf("%s/v1/sessions/%s", c.cfg.BaseURL, sessionID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("destroy session: %w", err)
	}
	httpReq.Header.Set("X-API-Key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("destroy session: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("destroy session: provider status %d", resp.StatusCode)
	}
	return nil
}

// Extract runs the provider's structured-extraction primitive.
func (c *Client) Extract(ctx context.Context, req ExtractRequest) (map[string]any, error) {
	var out extractResponse
	path := fmt.Sprintf("/v1/sessions/%s/extract", req.SessionID)
	if err := c.post(ctx, path, req, &out); err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	if !out.Success {
		return nil, fmt.Errorf("extract: provider reported failure: %s", valueOr(out.Message, "no detail"))
	}
	return out.Data, nil
}

// Act runs the provider's page-action primitive.
func (c *Client) Act(ctx context.Context, req ActRequest) (ActResult, error) {
	var out ActResult
	path := fmt.Sprintf("/v1/sessions/%s/act", req.SessionID)
	if err := c.post(ctx, path, req, &out); err != nil {
		return ActResult{}, fmt.Errorf("act: %w", err)
	}
	return out, nil
}

// post sends a JSON request with exponential-backoff retries. Network errors
// and 429/5xx responses retry; everything else is permanent.
func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("X-API-Key", c.cfg.APIKey)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			c.logger.Warn("provider request failed, retrying", zap.String("path", path), zap.Error(err))
			return fmt.Errorf("do request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode >= 300 {
			err := fmt.Errorf("provider status %d: %s", resp.StatusCode, string(respBody))
			switch resp.StatusCode {
			case http.StatusTooManyRequests, http.StatusInternalServerError,
				http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
				c.logger.Warn("provider returned transient error, retrying",
					zap.String("path", path), zap.Int("status", resp.StatusCode))
				return err
			default:
				return backoff.Permanent(err)
			}
		}

		if out != nil {
			if err := json.Unmarshal(respBody, out); err != nil {
				return backoff.Permanent(fmt.Errorf("decode response: %w", err))
			}
		}
		return nil
	}

	return backoff.Retry(operation, backoff.WithContext(c.newBackOff(), ctx))
}

func valueOr(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}
