package browser

import (
	"context"

	"github.com/AI-static/Aether/internal/content"
)

// SessionInfo identifies a live provider-side browser session.
type SessionInfo struct {
	ID          string `json:"id"`
	CDPEndpoint string `json:"cdp_endpoint"`
}

// ExtractRequest asks the provider to pull structured data from a page.
type ExtractRequest struct {
	SessionID   string         `json:"-"`
	PageURL     string         `json:"page_url"`
	Instruction string         `json:"instruction"`
	Schema      map[string]any `json:"schema,omitempty"`
	TextOnly    bool           `json:"text_only"`
}

// ActRequest asks the provider to perform a UI action on a page.
type ActRequest struct {
	SessionID   string `json:"-"`
	PageURL     string `json:"page_url"`
	Instruction string `json:"instruction"`
}

// ActResult reports the outcome of an act call.
type ActResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Provider is the remote browser-automation service. Implementations must be
// safe for concurrent use.
type Provider interface {
	// CreateSession provisions a browser with the given options applied and
	// returns its identity plus remote-debugging endpoint.
	CreateSession(ctx context.Context, opts content.SessionOptions) (SessionInfo, error)
	// DestroySession releases the provider-side browser.
	DestroySession(ctx context.Context, sessionID string) error
	// Extract runs the provider's schema-guided extraction primitive against
	// the session's page at req.PageURL.
	Extract(ctx context.Context, req ExtractRequest) (map[string]any, error)
	// Act runs the provider's page-action primitive.
	Act(ctx context.Context, req ActRequest) (ActResult, error)
}
