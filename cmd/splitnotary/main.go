// Command splitnotary runs a standalone notary shared by a splitledger
// network.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mmynk/splitledger/internal/config"
	"github.com/mmynk/splitledger/internal/identity"
	"github.com/mmynk/splitledger/internal/middleware"
	"github.com/mmynk/splitledger/internal/notary"
	"github.com/mmynk/splitledger/internal/service"
	"github.com/mmynk/splitledger/pkg/api"
	"github.com/mmynk/splitledger/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.SetupWithLevel(logging.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Notary failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if err := cfg.ValidateNotary(); err != nil {
		return err
	}
	key, err := identity.KeyPairFromSeed(cfg.NotaryKeySeed)
	if err != nil {
		return fmt.Errorf("invalid NOTARY_KEY_SEED: %w", err)
	}

	if cfg.NotaryBackend == config.BackendSQLite {
		if err := os.MkdirAll(filepath.Dir(cfg.NotaryDBPath), 0o755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	backend, closeBackend, err := notary.OpenBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBackend()

	mux := http.NewServeMux()
	mux.Handle(api.NewNotaryServiceHandler(service.NewNotaryService(notary.NewService(backend, key, logger))))
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           h2c.NewHandler(middleware.RequestLogging(logger, mux), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Notary listening", "key", key.PublicKey(), "backend", cfg.NotaryBackend, "address", cfg.ListenAddr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
