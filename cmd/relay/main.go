package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/betlabs/kwai-pipeline/internal/config"
	"github.com/betlabs/kwai-pipeline/internal/pkg/logger"
	"github.com/betlabs/kwai-pipeline/internal/relay"
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

	vendor := relay.NewVendorClient(cfg.Vendor.APIURL, cfg.Vendor.VendorTimeout(), cfg.Vendor.MaxRetries)

	var creds relay.CredentialStore
	if cfg.Relay.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.Relay.DatabaseURL)
		if err != nil {
			logger.Error("database open failed", "error", err.Error())
			os.Exit(1)
		}
		defer db.Close()
		db.SetMaxOpenConns(10)
		db.SetConnMaxLifetime(5 * time.Minute)
		creds = relay.NewPGCredentialStore(db)
		logger.Info("credential store: postgres")
	} else if len(cfg.Relay.Credentials) > 0 {
		creds = relay.NewStaticCredentialStore(cfg.Relay.Credentials)
		logger.Info("credential store: static", "pixels", len(cfg.Relay.Credentials))
	}

	handler := relay.NewHandler(vendor, creds, cfg.Vendor.MaxRetries, cfg.Relay.AllowedOrigins)

	addr := fmt.Sprintf("%s:%d", cfg.Relay.Host, cfg.Relay.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler.Routes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("relay service listening", "addr", addr, "vendor", cfg.Vendor.APIURL)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen failed", "error", err.Error())
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down relay service")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}
