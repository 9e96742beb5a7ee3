package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	sysclock "github.com/AI-static/Aether/internal/clock/system"
	"github.com/AI-static/Aether/internal/config"
	"github.com/AI-static/Aether/internal/connector"
	"github.com/AI-static/Aether/internal/content"
	uuidgen "github.com/AI-static/Aether/internal/id/uuid"
	"github.com/AI-static/Aether/internal/interaction"
	"github.com/AI-static/Aether/internal/metrics"
	"github.com/AI-static/Aether/internal/task"
)

const (
	// requestTimeout bounds the non-streaming routes. The SSE routes are
	// mounted outside the wrapper because http.TimeoutHandler buffers its
	// response, which would hold every frame until the deadline.
	requestTimeout = 60 * time.Second
	// enqueueTimeout keeps a wedged queue from holding a submission open.
	enqueueTimeout = 5 * time.Second
)

// Deps bundles the server's collaborators. Logger, IDs, and Clock default;
// the rest are required.
type Deps struct {
	Store     task.Store
	Catalog   *task.Catalog
	Exec      *task.Executor
	Queue     interaction.Enqueuer
	Confirmer *interaction.Handler
	Router    *connector.Router
	IDs       content.IDGenerator
	Clock     content.Clock
	Logger    *zap.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.IDs == nil {
		d.IDs = uuidgen.New()
	}
	if d.Clock == nil {
		d.Clock = sysclock.New()
	}
	return d
}

// Server wires HTTP handlers to the connector router and the task backend.
type Server struct {
	router chi.Router
	deps   Deps
	cfg    config.Config
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config) *Server {
	metrics.Init()
	s := &Server{deps: deps.withDefaults(), cfg: cfg}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.deps.Logger))
	r.Use(metrics.Middleware)
	r.Use(recoverMiddleware(s.deps.Logger))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/extract", s.extract)
		r.Post("/monitor", s.monitor)

		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(requestTimeout))

			r.Post("/harvest", s.harvest)
			r.Post("/publish", s.publish)
			r.Post("/login", s.login)
			r.Get("/platforms", s.platforms)
			r.Post("/search-and-extract", s.searchAndExtract)
			r.Post("/extract-by-creator", s.extractByCreator)

			r.Route("/tasks", func(r chi.Router) {
				r.Post("/", s.createTask)
				r.Get("/", s.listTasks)
				r.Route("/{task_id}", func(r chi.Router) {
					r.Get("/", s.getTask)
					r.Post("/retry", s.retryTask)
					r.Post("/confirm", s.confirmTask)
					r.Get("/logs", s.taskLogs)
				})
			})

			r.Get("/workflows", s.listWorkflows)
			r.Get("/workflows/savings", s.workflowSavings)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	// In-memory dependencies are always ready; downstream checks would go here.
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// statusForError maps a domain failure to a transport status. The sentinel
// mapping lives here and nowhere else, so connectors and workflows never
// reason about HTTP.
func statusForError(err error) int {
	switch {
	case errors.Is(err, task.ErrNotFound),
		errors.Is(err, content.ErrUnsupportedPlatform):
		return http.StatusNotFound
	case errors.Is(err, interaction.ErrBadState):
		return http.StatusConflict
	case errors.Is(err, content.ErrInvalidInput),
		errors.Is(err, task.ErrUnknownTaskType):
		return http.StatusBadRequest
	case errors.Is(err, content.ErrUnsupportedOperation):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.Any("error", rec),
						zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// responseWriter captures the status code for request logging and forwards
// the optional interfaces streaming and websocket upgrades depend on.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
