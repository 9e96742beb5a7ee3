package content

import (
	"context"
	"time"
)

// SessionOptions configures a remote browser session at creation time.
type SessionOptions struct {
	// ContextID names a persistent browsing profile on the provider side.
	// Sessions sharing a ContextID see the same cookies and storage. Empty
	// means an ephemeral profile.
	ContextID      string
	ViewportWidth  int
	ViewportHeight int
	Locales        []string
	Stealth        bool
	SolveCaptchas  bool
}

// Page is one tab inside an active browser session.
type Page interface {
	// Navigate loads the URL and waits for the document to become ready.
	Navigate(ctx context.Context, url string) error
	// WaitVisible blocks until the selector matches a visible element or the
	// timeout elapses.
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	// SetCookies injects cookies into the session's shared cookie jar.
	SetCookies(ctx context.Context, cookies []Cookie) error
	// EvaluateInto runs a JavaScript expression and unmarshals the result
	// into out. Pass nil to discard the result.
	EvaluateInto(ctx context.Context, expression string, out any) error
	// Extract asks the provider's AI primitive for structured data from the
	// current page.
	Extract(ctx context.Context, instruction string, schema map[string]any) (map[string]any, error)
	// Act asks the provider's AI primitive to perform a UI action on the
	// current page.
	Act(ctx context.Context, instruction string) error
	// Location reports the page's current URL.
	Location(ctx context.Context) (string, error)
	// Close releases the tab. Safe to call more than once.
	Close()
}

// Session is one lifecycle-managed remote browser used by a connector.
// Sessions move Uninitialized -> Active -> Closed and never reopen; callers
// wanting a fresh browser open a new Session.
type Session interface {
	ID() string
	// ContextID reports the persistent profile bound at creation, if any.
	ContextID() string
	// NewPage opens a tab. Returns ErrSessionClosed unless the session is
	// Active.
	NewPage(ctx context.Context) (Page, error)
	// Close destroys the remote browser. Idempotent.
	Close()
}

// SessionOpener creates ready-to-use browser sessions.
type SessionOpener interface {
	OpenSession(ctx context.Context, opts SessionOptions) (Session, error)
}
