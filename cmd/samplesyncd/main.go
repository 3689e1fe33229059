package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/okaera/samplesync/internal/cleanup"
	"github.com/okaera/samplesync/internal/config"
	"github.com/okaera/samplesync/internal/device/mx10"
	"github.com/okaera/samplesync/internal/device/sim"
	"github.com/okaera/samplesync/internal/http/rest"
	"github.com/okaera/samplesync/internal/logctx"
	"github.com/okaera/samplesync/internal/notifier"
	"github.com/okaera/samplesync/internal/packs"
	"github.com/okaera/samplesync/internal/storage"
	"github.com/okaera/samplesync/internal/storage/sqlite"
	"github.com/okaera/samplesync/internal/telemetry"
	"github.com/okaera/samplesync/internal/transfer"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewTraceHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}),
	))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("samplesync starting...", "log_level", cfg.LogLevel, "device_driver", cfg.DeviceDriver)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	journal := sqlite.NewInstrumentedJournalRepository(database, tel)

	// =========================================================================
	// Start Device Transport
	device, err := buildDeviceTransport(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to build device transport: %w", err)
	}

	transport := transfer.NewInstrumentedDeviceTransport(device, tel, cfg.DeviceDriver)

	// =========================================================================
	// Start Orchestrator
	fetcher := packs.NewFetcher(cfg.PackStoreBaseURL, cfg.PackStoreToken, cfg.DeviceKind, cfg.PackStoreTimeout, tel)

	orch := transfer.NewOrchestrator(transfer.NewStore(), transport, fetcher, journal, tel)
	defer orch.Close()

	// =========================================================================
	// Start Notification
	setupNotification(ctx, orch, cfg)

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, orch, journal, tel, cfg)

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("watching device...",
		"device_driver", cfg.DeviceDriver,
		"probe_interval", cfg.ProbeInterval.String(),
		"journal_retention", cfg.KeepJournalFor.String(),
	)

	// =========================================================================
	// Start Initialisation
	if cfg.InitialiseOnStart {
		go func() {
			if err := orch.InitialiseDeviceSamples(ctx); err != nil {
				logger.Error("device initialisation failed", "err", err)
			}
		}()
	}

	// =========================================================================
	// Start Cleanup
	setupCleanup(ctx, journal, cfg)

	// =========================================================================
	// Start Main Loop
	ticker := time.NewTicker(cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-serverErrors:
			return fmt.Errorf("server error: %w", err)
		case <-ctx.Done():
			logger.Info("start shutdown")

			// Give outstanding requests a deadline for completion.
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
			defer cancel()

			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error("failed to gracefully shutdown the server", "err", err)

				if err = server.Close(); err != nil {
					return fmt.Errorf("could not stop server gracefully: %w", err)
				}
			}

			return nil
		case <-ticker.C:
			// Periodic probes keep the snapshot fresh. A busy device is
			// fine; the next tick tries again.
			if _, err := orch.CheckDeviceSampleSupport(ctx); err != nil {
				logger.Debug("periodic probe skipped", "err", err)
			}
		}
	}
}

func setupNotification(ctx context.Context, orch *transfer.Orchestrator, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	var notif notifier.Notifier
	if cfg.DiscordWebhookURL != "" {
		notif = notifier.NewDiscordNotifier(cfg.DiscordWebhookURL)
	}

	notify := func(content string) {
		if notif == nil {
			return
		}

		if notifyErr := notif.Notify(content); notifyErr != nil {
			logger.Error("failed to send notification", "err", notifyErr)
		}
	}

	go func() {
		for event := range orch.OnTransferFailed {
			logger.Error("transfer operation failed", "operation", event.Operation, "err", event.Err)
			notify("❌ " + event.Operation + " failed: " + event.Err.Error())
		}
	}()

	go func() {
		for event := range orch.OnTransferFinished {
			logger.Info("transfer operation finished", "operation", event.Operation)
			notify("✅ " + event.Operation + " completed")
		}
	}()
}

// This is an abstract factory for the device transport.
func buildDeviceTransport(ctx context.Context, cfg *config.Config) (transfer.DeviceTransport, error) {
	switch cfg.DeviceDriver {
	case "mx10":
		client := mx10.NewClient(cfg.BridgeBaseURL, cfg.BridgeAPIURLPath, cfg.BridgePairingCode, cfg.BridgeTimeout, cfg.BridgeInsecure)
		if err := client.Handshake(ctx); err != nil {
			return nil, fmt.Errorf("bridge handshake error: %w", err)
		}

		return client, nil
	case "sim":
		return sim.NewDevice(), nil
	}

	return nil, fmt.Errorf("invalid device driver: %s", cfg.DeviceDriver)
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(ctx context.Context, orch *transfer.Orchestrator, journal storage.JournalReadRepository, tel *telemetry.Telemetry, cfg *config.Config) *http.Server {
	handler := rest.NewHandler(cfg.API.Username, cfg.API.Password, orch, journal, tel)

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Method(http.MethodGet, "/metrics", tel.Handler())
	r.Mount("/", handler.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

func setupCleanup(ctx context.Context, journal storage.TransferJournal, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	go func() {
		cleanupTicker := time.NewTicker(cfg.CleanupInterval)
		defer cleanupTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Info("cleanup goroutine shutting down.")

				return
			case <-cleanupTicker.C:
				if err := cleanup.PruneJournal(ctx, journal, cfg.KeepJournalFor); err != nil {
					logger.Error("failed to prune journal", "err", err)
				}
			}
		}
	}()
}
