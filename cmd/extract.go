package cmd

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AI-static/Aether/internal/browser"
	"github.com/AI-static/Aether/internal/config"
	"github.com/AI-static/Aether/internal/connector"
	"github.com/AI-static/Aether/internal/events"
	"github.com/AI-static/Aether/internal/platform"
)

var (
	extractPlatform    string
	extractConcurrency int
)

// newExtractCmd creates the extract command.
func newExtractCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract URL [URL...]",
		Short: "Extract structured content from URLs and print NDJSON.",
		Long: `extract runs one extraction batch outside the HTTP service and writes
one JSON result per line to stdout. URLs are grouped by detected platform
unless --platform forces a single connector for the whole batch.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runExtract,
	}

	cmd.Flags().StringVar(&extractPlatform, "platform", "", "force one platform for the whole batch (xiaohongshu|wechat|generic)")
	cmd.Flags().IntVar(&extractConcurrency, "concurrency", 0, "in-flight pages per platform group (0 = config default)")

	return cmd
}

func runExtract(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	var pf platform.Platform
	if extractPlatform != "" {
		if pf, err = platform.Parse(extractPlatform); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := browser.NewClient(browser.ClientConfig{
		BaseURL: cfg.Provider.BaseURL,
		APIKey:  cfg.Provider.APIKey,
		Timeout: time.Duration(cfg.Provider.TimeoutSeconds) * time.Second,
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

	registry := connector.NewRegistry(connectorFactory(cfg, opener, pacer, events.NopEmitter{}, logger), logger)
	defer registry.CleanupAll()
	router := connector.NewRouter(registry, connector.RouterConfig{
		DefaultConcurrency: cfg.Extract.DefaultConcurrency,
		MaxConcurrency:     cfg.Extract.MaxConcurrency,
		MaxBatchSize:       cfg.Extract.MaxBatchSize,
		MinMonitorInterval: time.Duration(cfg.Monitor.MinIntervalSec) * time.Second,
	}, logger)

	results, err := router.Extract(ctx, args, pf, extractConcurrency)
	if err != nil {
		return fmt.Errorf("start extraction: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	var failed int
	for res := range results {
		if !res.Success {
			failed++
		}
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d extractions failed", failed, len(args))
	}
	return nil
}
