// Command commitd runs the commitment lifecycle and compliance engine.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/commitlabs/core/pkg/api"
	"github.com/commitlabs/core/pkg/attestation"
	"github.com/commitlabs/core/pkg/auth"
	"github.com/commitlabs/core/pkg/commitment"
	"github.com/commitlabs/core/pkg/config"
	"github.com/commitlabs/core/pkg/observability"
	"github.com/commitlabs/core/pkg/oracle"
	"github.com/commitlabs/core/pkg/ratelimit"
	"github.com/commitlabs/core/pkg/receipt"
	"github.com/commitlabs/core/pkg/timelock"
	"github.com/commitlabs/core/pkg/token"
)

func main() {
	if err := run(); err != nil {
		slog.Error("commitd exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry is opt-in: without an endpoint the provider stays no-op.
	obsCfg := observability.DefaultConfig()
	obsCfg.Enabled = cfg.OTLPEndpoint != ""
	if cfg.OTLPEndpoint != "" {
		obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
	}
	provider, err := observability.New(ctx, obsCfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	// Engine-level rate limiting shares one store with the HTTP edge so
	// quotas hold across replicas when Redis is configured.
	limitStore := newLimitStore(cfg, logger)
	limiter := ratelimit.New(limitStore)

	notifier := observability.FanoutNotifier{
		commitment.NewSlogNotifier(logger),
		observability.NewMetricsNotifier(provider),
	}

	tokens := token.NewLedger()
	receipts := receipt.NewRegistry()

	ledger := commitment.NewLedger(commitment.Config{
		Admin:    cfg.Admin,
		Account:  cfg.VaultAccount,
		Assets:   tokens,
		Receipts: receipts,
		Limiter:  limiter,
		Notifier: notifier,
		Logger:   logger,
	})

	attStore, err := newAttestationStore(cfg, logger)
	if err != nil {
		return err
	}
	engine := attestation.NewEngine(attestation.Config{
		Admin:    cfg.Admin,
		Core:     ledger,
		Store:    attStore,
		Notifier: notifier,
		Logger:   logger,
	})

	prices := oracle.New(oracle.Config{
		Admin:    cfg.Admin,
		Notifier: notifier,
		Logger:   logger,
	})

	queue := timelock.NewQueue(timelock.Config{
		Admin:    cfg.Admin,
		Notifier: notifier,
		Logger:   logger,
	})

	applyProfiles(cfg, ledger, prices, logger)

	server := &api.Server{
		Ledger:   ledger,
		Engine:   engine,
		Oracle:   prices,
		Timelock: queue,
		Caller: func(r *http.Request) string {
			return auth.GetActor(r.Context())
		},
	}

	handler := buildHandler(cfg, server, limitStore)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("commitd listening", "addr", httpServer.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func newLimitStore(cfg *config.Config, logger *slog.Logger) ratelimit.Store {
	if cfg.RedisURL == "" {
		return ratelimit.NewMemoryStore()
	}
	logger.Info("rate limit store: redis", "addr", cfg.RedisURL)
	return ratelimit.NewRedisStore(cfg.RedisURL, os.Getenv("REDIS_PASSWORD"), 0)
}

func newAttestationStore(cfg *config.Config, logger *slog.Logger) (attestation.Store, error) {
	if cfg.DatabasePath == "" || cfg.DatabasePath == ":memory:" {
		return attestation.NewMemoryStore(), nil
	}
	db, err := sql.Open("sqlite", cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	logger.Info("attestation store: sqlite", "path", cfg.DatabasePath)
	return attestation.NewSQLiteStore(db)
}

// applyProfiles seeds per-function quotas and the oracle staleness window
// from the balanced risk-class profile when a profiles directory is present.
func applyProfiles(cfg *config.Config, ledger *commitment.Ledger, prices *oracle.Oracle, logger *slog.Logger) {
	dir := os.Getenv("PROFILES_DIR")
	if dir == "" {
		dir = "pkg/config/profiles"
	}
	profile, err := config.LoadProfile(dir, "balanced")
	if err != nil {
		logger.Warn("policy profile not loaded, using engine defaults", "error", err)
		return
	}

	for _, rl := range profile.RateLimits {
		window := time.Duration(rl.WindowMs) * time.Millisecond
		if err := ledger.SetRateLimit(cfg.Admin, rl.Function, window, rl.MaxCalls); err != nil {
			logger.Warn("rate limit not applied", "function", rl.Function, "error", err)
		}
	}
	if profile.Oracle.MaxStalenessSeconds > 0 {
		window := time.Duration(profile.Oracle.MaxStalenessSeconds) * time.Second
		if err := prices.SetMaxStaleness(cfg.Admin, window); err != nil {
			logger.Warn("oracle staleness not applied", "error", err)
		}
	}
	logger.Info("policy profile applied", "profile", profile.Code)
}

func buildHandler(cfg *config.Config, server *api.Server, limitStore ratelimit.Store) http.Handler {
	mux := server.Routes()

	idempotency := api.NewIdempotencyStore(24 * time.Hour)

	var handler http.Handler = mux
	handler = api.IdempotencyMiddleware(idempotency)(handler)
	handler = auth.RateLimitMiddleware(limitStore, ratelimit.Rule{
		Window:   time.Minute,
		MaxCalls: 600,
	})(handler)
	handler = auth.NewMiddleware(auth.NewJWTValidator(cfg.JWTSecret))(handler)
	handler = auth.CORSMiddleware(nil)(handler)
	handler = auth.RequestIDMiddleware(handler)
	return handler
}
