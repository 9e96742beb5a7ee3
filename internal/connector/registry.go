package connector

import (
	"sync"

	"go.uber.org/zap"

	"github.com/AI-static/Aether/internal/content"
	"github.com/AI-static/Aether/internal/platform"
)

// Factory constructs the connector serving pf. It fails with
// content.ErrUnsupportedPlatform (wrapped) for platforms it cannot serve.
type Factory func(pf platform.Platform) (content.Connector, error)

// Registry lazily builds and caches one connector per platform for the life
// of the process. Connectors are cheap to keep resident; sessions are not,
// so cached connectors still (re)acquire a session per operation. The
// registry is explicitly owned state handed to request handlers, never a
// package-level singleton.
type Registry struct {
	factory Factory
	logger  *zap.Logger

	mu    sync.Mutex
	cache map[platform.Platform]content.Connector
}

// NewRegistry builds a Registry around factory.
func NewRegistry(factory Factory, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		factory: factory,
		logger:  logger,
		cache:   make(map[platform.Platform]content.Connector),
	}
}

// Get returns the cached connector for pf, constructing and caching one on
// first use. Construction failures are not cached; unknown platforms fail
// fast on every call.
func (r *Registry) Get(pf platform.Platform) (content.Connector, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.cache[pf]; ok {
		return conn, nil
	}
	conn, err := r.factory(pf)
	if err != nil {
		return nil, err
	}
	r.cache[pf] = conn
	r.logger.Info("connector ready", zap.String("platform", string(pf)))
	return conn, nil
}

// CleanupAll releases every cached connector's resources. Connectors stay
// cached and usable afterwards; operations re-acquire sessions on demand.
// Called on shutdown.
func (r *Registry) CleanupAll() {
	r.mu.Lock()
	conns := make([]content.Connector, 0, len(r.cache))
	for _, conn := range r.cache {
		conns = append(conns, conn)
	}
	r.mu.Unlock()
	for _, conn := range conns {
		conn.Cleanup()
	}
}
