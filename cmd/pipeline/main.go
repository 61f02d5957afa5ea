package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/betlabs/kwai-pipeline/internal/api"
	"github.com/betlabs/kwai-pipeline/internal/attribution"
	"github.com/betlabs/kwai-pipeline/internal/bootstrap"
	"github.com/betlabs/kwai-pipeline/internal/config"
	"github.com/betlabs/kwai-pipeline/internal/debugconsole"
	"github.com/betlabs/kwai-pipeline/internal/dispatch"
	"github.com/betlabs/kwai-pipeline/internal/pkg/logger"
	"github.com/betlabs/kwai-pipeline/internal/registry"
	"github.com/betlabs/kwai-pipeline/internal/relay"
	"github.com/betlabs/kwai-pipeline/internal/repurchase"
	"github.com/betlabs/kwai-pipeline/internal/store"
)

func main() {
	cfgPath := os.Getenv("CONFIG_FILE")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.LoadFromEnv(cfgPath)
	if err != nil {
		logger.Error("config load failed", "error", err.Error())
		os.Exit(1)
	}
	if cfg.Debug {
		logger.SetLevel(logger.DEBUG)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	kv := openStore(cfg)
	session := attribution.NewStore(kv)

	landingURL := cfg.Pipeline.LandingURL
	if landingURL != "" {
		if captured, err := session.Capture(ctx, landingURL); err != nil {
			logger.Warn("attribution capture failed", "error", err.Error())
		} else if captured {
			logger.Info("attribution captured from landing URL")
		}
	}

	settingsClient := &http.Client{Timeout: cfg.Registry.Timeout()}
	reg := registry.New(kv, settingsClient, cfg.Registry.SettingsURL, cfg.Registry.CacheTTL())
	dests, err := reg.Load(ctx, landingURL)
	if err != nil {
		// Misconfiguration degrades to a quiet no-op host, never a crash.
		if errors.Is(err, registry.ErrNoDestinations) || errors.Is(err, registry.ErrConfigFetch) {
			logger.Warn("no tracking destinations available", "error", err.Error())
		} else {
			logger.Error("destination load failed", "error", err.Error())
		}
	}

	relayClient := relay.NewClient(cfg.Relay.BaseURL, nil)
	ledger := repurchase.NewLedger(kv)

	debugOn := cfg.Debug || registry.DebugEnabled(landingURL)
	var recorder *debugconsole.Recorder
	if debugOn {
		recorder = debugconsole.NewRecorder(debugconsole.DefaultCapacity)
	}

	// The bootstrap registry and the dispatcher reference each other: the
	// registry gates dispatches, and first readiness triggers the initial
	// page view for that destination alone. onReady only fires after probing
	// starts, well past this wiring block.
	var dispatcher *dispatch.Dispatcher
	probe := bootstrap.NewSDKProbe(nil, cfg.Vendor.SDKBaseURL)
	boot := bootstrap.NewRegistry(probe, cfg.Bootstrap.ProbeInterval(), cfg.Bootstrap.MaxAttempts,
		func(dest registry.Destination) {
			if _, err := dispatcher.InitialPageView(ctx, dest, landingURL); err != nil {
				logger.Warn("initial page view failed",
					"pixel_id", dest.PublicID, "error", err.Error())
			}
		})

	opts := []dispatch.Option{dispatch.WithLedger(ledger)}
	if cfg.Vendor.TestFlag {
		opts = append(opts, dispatch.WithTestFlag(true))
	}
	if recorder != nil {
		opts = append(opts, dispatch.WithObserver(recorder))
	}
	dispatcher = dispatch.New(session, dests, boot, relayClient, opts...)

	boot.InstallLoader()
	for _, dest := range dests {
		if err := boot.LoadInstance(ctx, dest); err != nil {
			logger.Warn("instance load failed", "pixel_id", dest.PublicID, "error", err.Error())
		}
	}

	scheduler := repurchase.NewScheduler(ledger, dispatcher, cfg.Scheduler.Grace(), cfg.Scheduler.Interval())
	scheduler.Start(ctx)

	handler := api.NewHandler(session, dispatcher, boot, recorder, cfg.Pipeline.AllowedOrigins)

	addr := fmt.Sprintf("%s:%d", cfg.Pipeline.Host, cfg.Pipeline.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler.Routes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("pipeline service listening",
			"addr", addr, "destinations", len(dests), "debug", debugOn)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen failed", "error", err.Error())
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down pipeline service")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
}

// openStore selects the durable KV backend: Redis when configured, otherwise
// the JSON file store.
func openStore(cfg *config.Config) store.KV {
	if cfg.Storage.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.RedisAddr,
			Password: cfg.Storage.RedisPassword,
			DB:       cfg.Storage.RedisDB,
		})
		if err := client.Ping(context.Background()).Err(); err == nil {
			logger.Info("storage backend: redis", "addr", cfg.Storage.RedisAddr)
			return store.NewRedisStore(client, cfg.Storage.KeyPrefix)
		}
		logger.Warn("redis unreachable, falling back to file store", "addr", cfg.Storage.RedisAddr)
	}

	fs, err := store.NewFileStore(cfg.Storage.FilePath)
	if err != nil {
		logger.Warn("file store open failed, using in-memory store", "error", err.Error())
		fs, _ = store.NewFileStore("")
	}
	logger.Info("storage backend: file", "path", cfg.Storage.FilePath)
	return fs
}
