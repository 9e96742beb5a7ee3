package connector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	sysclock "github.com/AI-static/Aether/internal/clock/system"
	"github.com/AI-static/Aether/internal/content"
	"github.com/AI-static/Aether/internal/events"
	uuidgen "github.com/AI-static/Aether/internal/id/uuid"
	"github.com/AI-static/Aether/internal/platform"
)

// Deps bundles the collaborators a connector needs. Opener is required;
// every other field falls back to a working default so tests supply only
// what they assert on.
type Deps struct {
	Opener  content.SessionOpener
	Pacer   *Pacer
	Emitter events.Emitter
	Logger  *zap.Logger
	Clock   content.Clock
	IDs     content.IDGenerator
}

func (d Deps) withDefaults() Deps {
	if d.Pacer == nil {
		d.Pacer = NewPacer(nil, 0)
	}
	if d.Emitter == nil {
		d.Emitter = events.NopEmitter{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Clock == nil {
		d.Clock = sysclock.New()
	}
	if d.IDs == nil {
		d.IDs = uuidgen.New()
	}
	return d
}

// Base carries the session lifecycle every connector shares: at most one
// session at a time, torn down and replaced on re-init, released
// deterministically at the end of each operation. Concrete connectors embed
// Base and override the operations their platform supports; the rest answer
// content.ErrUnsupportedOperation.
//
// Lifecycle calls are serialized. A connector instance runs one top-level
// operation at a time; its session is never shared across operations.
type Base struct {
	platform platform.Platform
	opts     content.SessionOptions
	deps     Deps

	mu      sync.Mutex
	session content.Session
}

// NewBase builds the shared connector core for pf. opts seeds every session
// the connector opens; a per-call context id overrides opts.ContextID.
func NewBase(pf platform.Platform, opts content.SessionOptions, deps Deps) *Base {
	return &Base{platform: pf, opts: opts, deps: deps.withDefaults()}
}

// Platform reports which platform this connector serves.
func (b *Base) Platform() platform.Platform { return b.platform }

// Logger exposes the connector logger to embedders.
func (b *Base) Logger() *zap.Logger { return b.deps.Logger }

// Now reads the connector clock.
func (b *Base) Now() time.Time { return b.deps.Clock.Now() }

// Pace blocks until the platform's next navigation slot.
func (b *Base) Pace(ctx context.Context) error {
	return b.deps.Pacer.Wait(ctx, b.platform)
}

// InitSession tears down any existing session and opens a fresh one. A
// non-empty contextID binds the new session to a saved browser context from
// a prior login.
func (b *Base) InitSession(ctx context.Context, contextID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeLocked()
	_, err := b.openLocked(ctx, contextID)
	return err
}

// EnsureSession returns the active session, silently opening an ephemeral
// one when none exists.
func (b *Base) EnsureSession(ctx context.Context) (content.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session != nil {
		return b.session, nil
	}
	return b.openLocked(ctx, "")
}

// ReleaseSession closes the current session, if any. Safe to call repeatedly
// and required on every teardown path; session cleanup never relies on GC
// timing.
func (b *Base) ReleaseSession() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeLocked()
}

// Cleanup implements the connector contract's idempotent resource release.
func (b *Base) Cleanup() { b.ReleaseSession() }

func (b *Base) openLocked(ctx context.Context, contextID string) (content.Session, error) {
	opts := b.opts
	if contextID != "" {
		opts.ContextID = contextID
	}
	sess, err := b.deps.Opener.OpenSession(ctx, opts)
	if err != nil {
		b.deps.Logger.Warn("session init failed",
			zap.String("platform", string(b.platform)),
			zap.Error(err))
		return nil, err
	}
	b.session = sess
	b.deps.Emitter.Emit(events.Event{
		TS:       b.deps.Clock.Now(),
		Kind:     events.KindSessionOpen,
		Platform: string(b.platform),
	})
	b.deps.Logger.Debug("session ready",
		zap.String("platform", string(b.platform)),
		zap.String("session_id", sess.ID()))
	return sess, nil
}

func (b *Base) closeLocked() {
	if b.session == nil {
		return
	}
	b.session.Close()
	b.session = nil
	b.deps.Emitter.Emit(events.Event{
		TS:       b.deps.Clock.Now(),
		Kind:     events.KindSessionClose,
		Platform: string(b.platform),
	})
}

// Unsupported builds the canonical error for an operation this platform does
// not implement.
func (b *Base) Unsupported(op string) error {
	return fmt.Errorf("%s: %s: %w", b.platform, op, content.ErrUnsupportedOperation)
}

// HarvestUserContent is unsupported unless a connector overrides it.
func (b *Base) HarvestUserContent(ctx context.Context, userID string, opts content.HarvestOptions) ([]map[string]any, error) {
	return nil, b.Unsupported("harvest_user_content")
}

// PublishContent is unsupported unless a connector overrides it.
func (b *Base) PublishContent(ctx context.Context, req content.PublishRequest) (content.PublishReceipt, error) {
	return content.PublishReceipt{}, b.Unsupported("publish_content")
}

// LoginWithCookies is unsupported unless a connector overrides it.
func (b *Base) LoginWithCookies(ctx context.Context, creds content.LoginCredentials) (string, error) {
	return "", b.Unsupported("login_with_cookies")
}

// SearchAndExtract is unsupported unless a connector overrides it.
func (b *Base) SearchAndExtract(ctx context.Context, keyword string, limit int) ([]map[string]any, error) {
	return nil, b.Unsupported("search_and_extract")
}

// ExtractByCreator is unsupported unless a connector overrides it.
func (b *Base) ExtractByCreator(ctx context.Context, creatorID string, limit int) ([]map[string]any, error) {
	return nil, b.Unsupported("extract_by_creator")
}

// Capabilities reports the universally supported operations. Connectors with
// more override this.
func (b *Base) Capabilities() []content.Capability {
	return []content.Capability{content.CapExtract, content.CapMonitor}
}

// VisitPage runs fn against a freshly navigated page: session acquired (or
// reused), navigation paced, page closed and session released afterwards.
// Single-page operations like harvest and search build on this.
func (b *Base) VisitPage(ctx context.Context, url string, fn func(ctx context.Context, page content.Page) error) error {
	sess, err := b.EnsureSession(ctx)
	if err != nil {
		return content.NewSessionError("acquire", err)
	}
	defer b.ReleaseSession()

	if err := b.Pace(ctx); err != nil {
		return err
	}
	page, err := sess.NewPage(ctx)
	if err != nil {
		return fmt.Errorf("open page: %w", err)
	}
	defer page.Close()

	if err := page.Navigate(ctx, url); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	return fn(ctx, page)
}

// LoginParams names the platform-specific pieces of a cookie login: where to
// navigate and which authenticated-only element proves the cookies took.
type LoginParams struct {
	HomeURL        string
	VerifySelector string
	VerifyTimeout  time.Duration
}

// CookieLogin runs the shared cookie-login flow: a fresh session bound to a
// newly minted context id, cookies injected before navigation, login proven
// by an authenticated-only element appearing on the platform home. The
// session is released afterwards; the provider keeps the authenticated
// profile durable under the returned context id.
func (b *Base) CookieLogin(ctx context.Context, creds content.LoginCredentials, params LoginParams) (string, error) {
	if len(creds.Cookies) == 0 {
		return "", fmt.Errorf("%s login: no cookies supplied: %w", b.platform, content.ErrInvalidInput)
	}
	contextID, err := b.deps.IDs.NewContextID()
	if err != nil {
		return "", fmt.Errorf("%s login: mint context id: %w", b.platform, err)
	}
	if err := b.InitSession(ctx, contextID); err != nil {
		return "", err
	}
	defer b.ReleaseSession()

	sess, err := b.EnsureSession(ctx)
	if err != nil {
		return "", err
	}
	page, err := sess.NewPage(ctx)
	if err != nil {
		return "", fmt.Errorf("%s login: open page: %w", b.platform, err)
	}
	defer page.Close()

	if err := page.SetCookies(ctx, creds.Cookies); err != nil {
		return "", fmt.Errorf("%s login: seed cookies: %w", b.platform, err)
	}
	if err := b.Pace(ctx); err != nil {
		return "", err
	}
	if err := page.Navigate(ctx, params.HomeURL); err != nil {
		return "", fmt.Errorf("%s login: navigate home: %w", b.platform, err)
	}
	timeout := params.VerifyTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if err := page.WaitVisible(ctx, params.VerifySelector, timeout); err != nil {
		return "", fmt.Errorf("%s login verification failed: %w", b.platform, err)
	}
	b.deps.Logger.Info("cookie login verified",
		zap.String("platform", string(b.platform)),
		zap.String("source", creds.Source),
		zap.String("source_id", creds.SourceID),
		zap.String("context_id", contextID))
	return contextID, nil
}
