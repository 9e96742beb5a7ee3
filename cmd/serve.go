package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/AI-static/Aether/internal/api"
	"github.com/AI-static/Aether/internal/browser"
	"github.com/AI-static/Aether/internal/bus"
	busmemory "github.com/AI-static/Aether/internal/bus/memory"
	buspubsub "github.com/AI-static/Aether/internal/bus/pubsub"
	"github.com/AI-static/Aether/internal/config"
	"github.com/AI-static/Aether/internal/connector"
	"github.com/AI-static/Aether/internal/connector/generic"
	"github.com/AI-static/Aether/internal/connector/wechat"
	"github.com/AI-static/Aether/internal/connector/xiaohongshu"
	"github.com/AI-static/Aether/internal/content"
	"github.com/AI-static/Aether/internal/dispatcher"
	"github.com/AI-static/Aether/internal/events"
	"github.com/AI-static/Aether/internal/events/sinks"
	"github.com/AI-static/Aether/internal/interaction"
	"github.com/AI-static/Aether/internal/logging"
	"github.com/AI-static/Aether/internal/metrics"
	"github.com/AI-static/Aether/internal/platform"
	"github.com/AI-static/Aether/internal/queue"
	queuememory "github.com/AI-static/Aether/internal/queue/memory"
	"github.com/AI-static/Aether/internal/storage/gcs"
	"github.com/AI-static/Aether/internal/storage/local"
	storagememory "github.com/AI-static/Aether/internal/storage/memory"
	"github.com/AI-static/Aether/internal/storage/postgres"
	"github.com/AI-static/Aether/internal/task"
	"github.com/AI-static/Aether/internal/worker"
	"github.com/AI-static/Aether/internal/workflow"
)

// taskQueueTopic carries task ids when the bus backs the queue. Only used
// with the pubsub bus; the memory queue is channel-backed.
const taskQueueTopic = "task-queue"

// newServeCmd creates the serve command.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the acquisition HTTP service.",
		Long: `serve starts the HTTP API, the task worker pool, and the platform
connector registry, then blocks until SIGINT or SIGTERM.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer func() {
		// Sync flushes buffered entries; stderr sync errors are expected on
		// some platforms and safe to ignore.
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := buildTaskStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("task store: %w", err)
	}
	defer closeStore()

	msgBus, closeBus, err := buildBus(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("bus: %w", err)
	}
	defer closeBus()

	blobs, closeBlobs, err := buildBlobStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("blob store: %w", err)
	}
	defer closeBlobs()

	hub, err := buildEventHub(cfg, msgBus, logger)
	if err != nil {
		return fmt.Errorf("event hub: %w", err)
	}

	provider, err := browser.NewClient(browser.ClientConfig{
		BaseURL: cfg.Provider.BaseURL,
		APIKey:  cfg.Provider.APIKey,
		Timeout: time.Duration(cfg.Provider.TimeoutSeconds) * time.Second,
		// MaxElapsed allows MaxRetries full-timeout attempts.
		MaxElapsed: time.Duration(cfg.Provider.MaxRetries+1) * time.Duration(cfg.Provider.TimeoutSeconds) * time.Second,
	}, logger)
	if err != nil {
		return fmt.Errorf("browser provider: %w", err)
	}
	opener := browser.NewOpener(provider, browser.SessionConfig{
		NavTimeout: cfg.NavTimeout(),
		PageSettle: cfg.PageSettle(),
	}, logger)

	delays, err := pacerDelays(cfg)
	if err != nil {
		return fmt.Errorf("platform pacing: %w", err)
	}
	pacer := connector.NewPacer(delays, 0)

	registry := connector.NewRegistry(connectorFactory(cfg, opener, pacer, hub, logger), logger)
	router := connector.NewRouter(registry, connector.RouterConfig{
		DefaultConcurrency: cfg.Extract.DefaultConcurrency,
		MaxConcurrency:     cfg.Extract.MaxConcurrency,
		MaxBatchSize:       cfg.Extract.MaxBatchSize,
		MinMonitorInterval: time.Duration(cfg.Monitor.MinIntervalSec) * time.Second,
	}, logger)

	exec := task.NewExecutor(task.Deps{
		Store:  store,
		Logger: logger.Named("executor"),
	})
	catalog := task.NewCatalog()
	if err := workflow.Register(catalog, workflow.Deps{
		Router: router,
		Store:  store,
		Bus:    msgBus,
		Blobs:  blobs,
		Logger: logger.Named("workflow"),
	}, workflow.Config{}); err != nil {
		return fmt.Errorf("register workflows: %w", err)
	}

	taskQueue := buildQueue(cfg, msgBus, logger)
	workers := make([]*worker.Worker, 0, cfg.Tasks.Workers)
	for i := 0; i < cfg.Tasks.Workers; i++ {
		workers = append(workers, worker.New(
			taskQueue, store, catalog, exec,
			worker.Config{DefaultTimeout: cfg.TaskTimeout()},
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	dispatch := dispatcher.New(taskQueue, workers, logger.Named("dispatcher"))

	confirmer := interaction.NewHandler(interaction.Deps{
		Store:  store,
		Exec:   exec,
		Bus:    msgBus,
		Queue:  dispatch,
		Logger: logger.Named("interaction"),
	})

	server := api.NewServer(api.Deps{
		Store:     store,
		Catalog:   catalog,
		Exec:      exec,
		Queue:     dispatch,
		Confirmer: confirmer,
		Router:    router,
		Logger:    logger.Named("api"),
	}, cfg)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		dispatch.Run(ctx)
	}()

	go func() {
		logger.Info("http server listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	// Workers drain in-flight tasks before the queue and sessions go away.
	<-dispatchDone
	if err := taskQueue.Close(); err != nil {
		logger.Warn("queue close failed", zap.Error(err))
	}
	registry.CleanupAll()
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Warn("event hub close failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

func buildLogger(cfg config.Config) (*zap.Logger, error) {
	var file *logging.FileConfig
	if cfg.Logging.File != "" {
		file = &logging.FileConfig{
			Path:       cfg.Logging.File,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
			Compress:   cfg.Logging.Compress,
		}
	}
	return logging.New(cfg.Logging.Development, file)
}

func buildTaskStore(ctx context.Context, cfg config.Config) (task.Store, func(), error) {
	switch cfg.Database.Provider {
	case "postgres":
		store, err := postgres.NewTaskStore(ctx, postgres.TaskStoreConfig{
			DSN:      cfg.Database.DSN,
			Table:    cfg.Database.Table,
			MaxConns: cfg.Database.MaxConns,
			MinConns: cfg.Database.MinConns,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		return store, store.Close, nil
	default:
		return storagememory.NewTaskStore(), func() {}, nil
	}
}

func buildBus(ctx context.Context, cfg config.Config, logger *zap.Logger) (bus.Bus, func(), error) {
	if cfg.Bus.Provider == "pubsub" {
		b, err := buspubsub.New(ctx, cfg.Bus.ProjectID, logger.Named("bus"))
		if err != nil {
			return nil, nil, err
		}
		return b, func() {
			if err := b.Close(); err != nil {
				logger.Warn("bus close failed", zap.Error(err))
			}
		}, nil
	}
	b := busmemory.New()
	return b, b.Close, nil
}

func buildBlobStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (content.BlobStore, func(), error) {
	switch cfg.Blobs.Provider {
	case "local":
		store, err := local.New(local.Config{BaseDir: cfg.Blobs.Dir})
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("gcs client: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{
			Bucket: cfg.Blobs.Bucket,
			Prefix: cfg.Blobs.Prefix,
		})
		if err != nil {
			if closeErr := client.Close(); closeErr != nil {
				logger.Warn("gcs client close failed", zap.Error(closeErr))
			}
			return nil, nil, err
		}
		return store, func() {
			if err := client.Close(); err != nil {
				logger.Warn("gcs client close failed", zap.Error(err))
			}
		}, nil
	default:
		return storagememory.NewBlobStore(), func() {}, nil
	}
}

func buildEventHub(cfg config.Config, publisher bus.Publisher, logger *zap.Logger) (*events.Hub, error) {
	hubSinks := []events.Sink{sinks.NewLogSink(logger.Named("events"))}
	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("prometheus sink: %w", err)
	}
	hubSinks = append(hubSinks, promSink)
	if cfg.Bus.EventTopic != "" {
		hubSinks = append(hubSinks, sinks.NewBusSink(publisher, cfg.Bus.EventTopic, logger.Named("events")))
	}
	return events.NewHub(events.Config{Logger: logger.Named("events")}, hubSinks...), nil
}

// buildQueue picks the queue backend. A pubsub bus carries the queue too,
// so replicas share one backlog; the memory bus pairs with the in-process
// channel queue.
func buildQueue(cfg config.Config, msgBus bus.Bus, logger *zap.Logger) queue.Queue {
	if cfg.Bus.Provider == "pubsub" {
		return queue.NewBusQueue(msgBus, taskQueueTopic, logger.Named("queue"))
	}
	return queuememory.NewQueue(cfg.Tasks.QueueDepth)
}

// pacerDelays maps configured platform names to navigation delays.
func pacerDelays(cfg config.Config) (map[platform.Platform]time.Duration, error) {
	delays := make(map[platform.Platform]time.Duration, len(cfg.Platform))
	for name, pc := range cfg.Platform {
		pf, err := platform.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("platforms.%s: %w", name, err)
		}
		if pc.MinNavDelayMs > 0 {
			delays[pf] = time.Duration(pc.MinNavDelayMs) * time.Millisecond
		}
	}
	return delays, nil
}

// connectorFactory builds the per-platform connector with session defaults
// from browser config plus any per-platform overrides.
func connectorFactory(cfg config.Config, opener content.SessionOpener, pacer *connector.Pacer, emitter events.Emitter, logger *zap.Logger) connector.Factory {
	return func(pf platform.Platform) (content.Connector, error) {
		deps := connector.Deps{
			Opener:  opener,
			Pacer:   pacer,
			Emitter: emitter,
			Logger:  logger.Named("connector").With(zap.String("platform", string(pf))),
		}
		opts := sessionOptions(cfg, pf)
		switch pf {
		case platform.Xiaohongshu:
			return xiaohongshu.New(opts, deps), nil
		case platform.Wechat:
			return wechat.New(opts, deps), nil
		case platform.Generic:
			return generic.New(opts, generic.Config{}, deps), nil
		default:
			return nil, fmt.Errorf("platform %q: %w", pf, content.ErrUnsupportedPlatform)
		}
	}
}

func sessionOptions(cfg config.Config, pf platform.Platform) content.SessionOptions {
	locale := cfg.Browser.Locale
	if override, ok := cfg.Platform[string(pf)]; ok && override.Locale != "" {
		locale = override.Locale
	}
	opts := content.SessionOptions{
		ViewportWidth:  cfg.Browser.ViewportWidth,
		ViewportHeight: cfg.Browser.ViewportHeight,
		Stealth:        cfg.Browser.Stealth,
		SolveCaptchas:  cfg.Browser.SolveCaptchas,
	}
	if locale != "" {
		opts.Locales = []string{locale}
	}
	return opts
}
