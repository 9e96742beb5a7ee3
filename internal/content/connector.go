package content

import (
	"context"
	"time"

	"github.com/AI-static/Aether/internal/platform"
)

// Capability names one optional connector feature, surfaced to callers via
// the platform listing.
type Capability string

// Capabilities a connector may declare. Extract and Monitor are universal.
const (
	CapExtract Capability = "extract"
	CapMonitor Capability = "monitor"
	CapHarvest Capability = "harvest"
	CapPublish Capability = "publish"
	CapLogin   Capability = "login"
	CapSearch  Capability = "search"
)

// Connector is the per-platform acquisition contract. Implementations own at
// most one live browser session at a time; the session is never shared across
// connector instances. Operations a platform does not support return
// ErrUnsupportedOperation.
type Connector interface {
	// Platform reports which platform this connector serves.
	Platform() platform.Platform

	// InitSession tears down any existing session and establishes a fresh one
	// with the platform's viewport and locale. A non-empty contextID attaches
	// the session to a saved browser context from a prior login; empty means
	// ephemeral. Idempotent; provider-side failure comes back as an error.
	InitSession(ctx context.Context, contextID string) error

	// ExtractContentStream extracts every URL in the batch through one shared
	// browsing context, at most concurrency pages in flight. Results arrive on
	// the returned channel in completion order, one per URL; the channel is
	// closed once the last result is delivered and the shared context and
	// session have been torn down.
	ExtractContentStream(ctx context.Context, urls []string, concurrency int) (<-chan ExtractionResult, error)

	// MonitorChanges re-extracts the URLs every interval and emits one
	// ChangeEvent per URL whose snapshot changed. The stream runs until ctx is
	// cancelled; cancellation releases the underlying session.
	MonitorChanges(ctx context.Context, urls []string, interval time.Duration) (<-chan ChangeEvent, error)

	// HarvestUserContent lists a user's content history, newest first.
	HarvestUserContent(ctx context.Context, userID string, opts HarvestOptions) ([]map[string]any, error)

	// PublishContent pushes content to the platform.
	PublishContent(ctx context.Context, req PublishRequest) (PublishReceipt, error)

	// LoginWithCookies seeds a fresh session with cookies, verifies the login
	// against an authenticated-only page element, and returns a durable
	// context identifier later operations can reuse.
	LoginWithCookies(ctx context.Context, creds LoginCredentials) (string, error)

	// SearchAndExtract runs a platform search and extracts the top results.
	SearchAndExtract(ctx context.Context, keyword string, limit int) ([]map[string]any, error)

	// ExtractByCreator lists content for a creator id (harvest keyed by id).
	ExtractByCreator(ctx context.Context, creatorID string, limit int) ([]map[string]any, error)

	// Capabilities reports which optional operations this connector supports.
	Capabilities() []Capability

	// Cleanup releases the current session. Safe to call repeatedly and
	// required on every teardown path; cleanup must never rely on GC timing.
	Cleanup()
}
