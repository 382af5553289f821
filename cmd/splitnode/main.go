// Command splitnode runs one party of a splitledger network: the operator
// API, the peer endpoint other parties deliver transactions to, and either a
// client of a remote notary or an in-process one.
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

	"connectrpc.com/connect"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mmynk/splitledger/internal/auth"
	"github.com/mmynk/splitledger/internal/config"
	"github.com/mmynk/splitledger/internal/flow"
	"github.com/mmynk/splitledger/internal/identity"
	"github.com/mmynk/splitledger/internal/metrics"
	"github.com/mmynk/splitledger/internal/middleware"
	"github.com/mmynk/splitledger/internal/notary"
	"github.com/mmynk/splitledger/internal/service"
	"github.com/mmynk/splitledger/internal/storage/sqlite"
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
		logger.Error("Node failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if err := cfg.ValidateNode(); err != nil {
		return err
	}

	self, err := identity.KeyPairFromSeed(cfg.NodeKeySeed)
	if err != nil {
		return fmt.Errorf("invalid NODE_KEY_SEED: %w", err)
	}
	directory, err := identity.LoadNetwork(cfg.NetworkFile)
	if err != nil {
		return err
	}
	me, err := directory.ResolveParty(cfg.NodeName)
	if err != nil {
		return err
	}
	if me.Key != self.PublicKey() {
		return fmt.Errorf("NODE_KEY_SEED does not match the key of %s in %s", cfg.NodeName, cfg.NetworkFile)
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()
	logger.Info("Storage initialized", "database", cfg.DBPath)

	authenticator := auth.NewPasswordAuthenticator(store)
	op, err := authenticator.Provision(ctx, cfg.OperatorUser, cfg.OperatorPasswordHash, cfg.OperatorPassword)
	if err != nil {
		return fmt.Errorf("failed to seed operator: %w", err)
	}
	if op != nil {
		logger.Info("Operator account ready", "username", op.Username)
	}
	jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.TokenTTL, cfg.NodeName)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	httpClient := &http.Client{Timeout: 30 * time.Second}
	mux := http.NewServeMux()

	var finalizer notary.Notary
	if cfg.NotaryBackend == config.BackendRemote {
		finalizer = notary.NewClient(httpClient, cfg.NotaryURL)
		logger.Info("Using remote notary", "url", cfg.NotaryURL)
	} else {
		notaryKey, err := identity.KeyPairFromSeed(cfg.NotaryKeySeed)
		if err != nil {
			return fmt.Errorf("invalid NOTARY_KEY_SEED: %w", err)
		}
		if notaryKey.PublicKey() != directory.Notary().Key {
			return fmt.Errorf("NOTARY_KEY_SEED does not match the notary key in %s", cfg.NetworkFile)
		}
		backend, closeBackend, err := notary.OpenBackend(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeBackend()
		svc := notary.NewService(backend, notaryKey, logger)
		finalizer = svc
		mux.Handle(api.NewNotaryServiceHandler(service.NewNotaryService(svc)))
		logger.Info("Running in-process notary", "backend", cfg.NotaryBackend)
	}

	coord, err := flow.New(flow.Config{
		Self:             self,
		Directory:        directory,
		Notary:           finalizer,
		Store:            store,
		Messenger:        service.NewPeerMessenger(httpClient),
		Logger:           logger,
		Metrics:          m,
		PageSize:         cfg.PageSize,
		ConflictRetries:  cfg.ConflictRetries,
		MaxParallelSends: cfg.MaxParallelSends,
	})
	if err != nil {
		return err
	}

	mux.Handle(api.NewAuthServiceHandler(service.NewAuthService(authenticator, jwtManager, logger)))
	mux.Handle(api.NewPeerServiceHandler(service.NewPeerService(coord, logger)))
	mux.Handle(api.NewLedgerServiceHandler(
		service.NewLedgerService(coord, store, directory, cfg.PageSize, logger),
		connect.WithInterceptors(middleware.RequireAuth(jwtManager), middleware.LoggingInterceptor(logger)),
	))
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	handler := middleware.RequestLogging(logger, middleware.CORS(mux))
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Node listening", "party", cfg.NodeName, "key", self.PublicKey(), "address", cfg.ListenAddr)
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
