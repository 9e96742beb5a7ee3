package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/AI-static/Aether/internal/content"
)

// State tracks the session lifecycle. Transitions are one-way:
// Uninitialized -> Active -> Closed. A Closed session never reopens; callers
// open a new one instead.
type State int

const (
	StateUninitialized State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SessionConfig carries the per-session tunables that Pages inherit.
type SessionConfig struct {
	NavTimeout time.Duration
	PageSettle time.Duration
}

// Session wraps one provider-side browser plus its chromedp attachment.
type Session struct {
	provider Provider
	opts     content.SessionOptions
	cfg      SessionConfig
	logger   *zap.Logger

	mu          sync.Mutex
	state       State
	info        SessionInfo
	allocCtx    context.Context
	allocCancel context.CancelFunc

	closeOnce sync.Once
}

var _ content.Session = (*Session)(nil)

// NewSession builds an Uninitialized session. Call Init before use.
func NewSession(p Provider, opts content.SessionOptions, cfg SessionConfig, logger *zap.Logger) *Session {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 60 * time.Second
	}
	if cfg.PageSettle <= 0 {
		cfg.PageSettle = 2 * time.Second
	}
	return &Session{
		provider: p,
		opts:     opts,
		cfg:      cfg,
		logger:   logger.Named("browser.session"),
	}
}

// Init provisions the provider browser and prepares the chromedp allocator.
// Calling Init on an Active session is a no-op; on a Closed session it
// returns ErrSessionClosed.
func (s *Session) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateActive:
		return nil
	case StateClosed:
		return content.ErrSessionClosed
	}

	info, err := s.provider.CreateSession(ctx, s.opts)
	if err != nil {
		return content.NewSessionError("init", err)
	}

	// NoModifyURL keeps the provider's signed websocket URL intact. The
	// allocator dials lazily on the first page action.
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(
		context.Background(), info.CDPEndpoint, chromedp.NoModifyURL)

	s.info = info
	s.allocCtx = allocCtx
	s.allocCancel = allocCancel
	s.state = StateActive

	s.logger.Info("session initialized",
		zap.String("session_id", info.ID),
		zap.String("context_id", s.opts.ContextID))
	return nil
}

// ID reports the provider session identifier, empty until Init succeeds.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info.ID
}

// ContextID reports the persistent profile bound at creation, if any.
func (s *Session) ContextID() string {
	return s.opts.ContextID
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// NewPage opens a tab in the remote browser.
func (s *Session) NewPage(ctx context.Context) (content.Page, error) {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return nil, content.ErrSessionClosed
	}
	parent := s.allocCtx
	s.mu.Unlock()

	tabCtx, tabCancel := chromedp.NewContext(parent)
	return &page{
		session: s,
		ctx:     tabCtx,
		cancel:  tabCancel,
		cfg:     s.cfg,
	}, nil
}

// Close tears down the chromedp attachment and destroys the provider
// browser. Idempotent; never blocks on a dead caller context.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		prev := s.state
		s.state = StateClosed
		info := s.info
		allocCancel := s.allocCancel
		s.mu.Unlock()

		if prev != StateActive {
			return
		}
		if allocCancel != nil {
			allocCancel()
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.provider.DestroySession(ctx, info.ID); err != nil {
			s.logger.Warn("session destroy failed",
				zap.String("session_id", info.ID), zap.Error(err))
			return
		}
		s.logger.Info("session closed", zap.String("session_id", info.ID))
	})
}

// Opener creates and initializes sessions in one step.
type Opener struct {
	provider Provider
	cfg      SessionConfig
	logger   *zap.Logger
}

var _ content.SessionOpener = (*Opener)(nil)

// NewOpener builds a SessionOpener over the given provider.
func NewOpener(p Provider, cfg SessionConfig, logger *zap.Logger) *Opener {
	return &Opener{provider: p, cfg: cfg, logger: logger}
}

// OpenSession creates a session and brings it to the Active state. On
// initialization failure nothing is left behind to clean up.
func (o *Opener) OpenSession(ctx context.Context, opts content.SessionOptions) (content.Session, error) {
	s := NewSession(o.provider, opts, o.cfg, o.logger)
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	return s, nil
}
