package cli

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/jaecopzm/postcraft-sub000/internal/alerts"
	"github.com/jaecopzm/postcraft-sub000/internal/api"
	"github.com/jaecopzm/postcraft-sub000/internal/config"
	"github.com/jaecopzm/postcraft-sub000/internal/gate"
	"github.com/jaecopzm/postcraft-sub000/internal/identity"
	"github.com/jaecopzm/postcraft-sub000/internal/logging"
	"github.com/jaecopzm/postcraft-sub000/internal/metrics"
	"github.com/jaecopzm/postcraft-sub000/internal/quota"
	"github.com/jaecopzm/postcraft-sub000/internal/ratelimit"
	"github.com/jaecopzm/postcraft-sub000/internal/store"
	"github.com/jaecopzm/postcraft-sub000/internal/telegram"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s", "server", "run"},
	Short:   "Start the admission service",
	Long: `Start the HTTP admission service.

The server exposes the admission endpoint consumed by the product backend,
plus usage, account and health endpoints.

Example:
  postcraft-quota serve --config config.yaml`,
	RunE: runServe,
}

var serveFlags struct {
	Host string
	Port int
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.Host, "host", "", "Server host (overrides config)")
	serveCmd.Flags().IntVar(&serveFlags.Port, "port", 0, "Server port (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(globalFlags.Config)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if serveFlags.Host != "" {
		cfg.Server.Host = serveFlags.Host
	}
	if serveFlags.Port != 0 {
		cfg.Server.HTTPPort = serveFlags.Port
	}

	logger := logging.NewLogger(
		logging.WithLevel(logging.LogLevel(cfg.Server.LogLevel)),
	)
	m := metrics.NewMetrics("postcraft")

	st, err := store.New(context.Background(), cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}

	if globalFlags.Verbose {
		log.Printf("Store backend: %s", st.Backend())
	}

	var alertSvc *alerts.Service
	var sender alerts.Sender
	if cfg.Alerts.Telegram.Enabled {
		notifier, err := telegram.NewNotifier(cfg.Alerts.Telegram.BotToken, cfg.Alerts.Telegram.ChatID)
		if err != nil {
			log.Printf("Telegram setup warning: %v", err)
		} else {
			sender = notifier
		}
	}
	alertSvc = alerts.NewService(alerts.Config{
		Enabled:            cfg.Alerts.Enabled,
		Debounce:           cfg.Alerts.Debounce,
		RateLimitPerMinute: cfg.Alerts.RateLimitPerMinute,
	}, sender, logger)
	alertSvc.Start()
	defer alertSvc.Stop()

	limiter := ratelimit.NewLimiter(st, ratelimit.Options{
		Metrics:      m,
		Logger:       logger,
		FailOpen:     cfg.Limits.FailOpen(),
		StoreTimeout: cfg.Store.Timeout,
		Notifier:     alertSvc,
	})
	ledger := quota.NewLedger(st, &cfg.Quota, quota.Options{
		Metrics:      m,
		Logger:       logger,
		FailOpen:     cfg.Limits.FailOpen(),
		StoreTimeout: cfg.Store.Timeout,
		Notifier:     alertSvc,
	})
	resolver := identity.NewResolver(st)
	admissionGate := gate.New(resolver, ledger, limiter, &cfg.Limits)

	server := api.NewServer(cfg.Server, cfg.API, admissionGate, st, m, logger)

	if err := loader.StartWatcher(); err != nil {
		log.Printf("Config watcher warning: %v", err)
	}
	defer loader.StopWatcher()
	loader.SetOnChange(func(newCfg *config.Config) {
		logger.Info("configuration reloaded",
			"fail_mode", newCfg.Limits.FailMode,
			"rules", len(newCfg.Limits.Rules),
		)
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run()
	}()

	if cfg.Alerts.Telegram.Enabled {
		go telegram.Notify(cfg.Alerts.Telegram.BotToken, cfg.Alerts.Telegram.ChatID,
			fmt.Sprintf("postcraft-quota started on %s:%d", cfg.Server.Host, cfg.Server.HTTPPort))
	}

	signalCh := api.SetupSignalHandler()

	select {
	case err := <-errCh:
		return err
	case sig := <-signalCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	// Give in-flight alert deliveries a moment before the deferred Stop.
	time.Sleep(100 * time.Millisecond)
	return nil
}
