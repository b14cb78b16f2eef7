package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/example/clinic-finance/internal/api"
	"github.com/example/clinic-finance/internal/auth"
	"github.com/example/clinic-finance/internal/commission"
	"github.com/example/clinic-finance/internal/config"
	"github.com/example/clinic-finance/internal/ledger"
	"github.com/example/clinic-finance/internal/refdata"
	"github.com/example/clinic-finance/internal/settings"
	"github.com/example/clinic-finance/pkg/audit"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := ledger.Migrate(ctx, pool); err != nil {
		logger.Error("ledger migration failed", "error", err)
		os.Exit(1)
	}
	if err := refdata.Migrate(ctx, pool); err != nil {
		logger.Error("refdata migration failed", "error", err)
		os.Exit(1)
	}

	settingsStore, err := settings.Open(cfg.SettingsDBPath)
	if err != nil {
		logger.Error("failed to open settings store", "error", err, "path", cfg.SettingsDBPath)
		os.Exit(1)
	}

	trail := audit.NewTrail(1000)

	ledgerStore := ledger.NewStore(pool)
	engine := ledger.NewEngine(ledgerStore, trail, logger)
	checker := ledger.NewValidator(ledgerStore)

	commissions := commission.NewService(
		commission.NewStore(pool), engine, settingsStore, trail, logger)

	users := auth.NewUserStore(pool)
	tokens := &auth.TokenIssuer{
		Secret: []byte(cfg.TokenSecret),
		Issuer: cfg.TokenIssuer,
		TTL:    cfg.TokenTTL,
	}

	router := api.NewRouter(api.Dependencies{
		Logger:      logger,
		Tokens:      tokens,
		Users:       users,
		Accounts:    ledgerStore,
		Ledger:      engine,
		Checker:     checker,
		Commissions: commissions,
		Settings:    settingsStore,
		Feed:        refdata.NewPGFeed(pool),
		Audit:       trail,
		Recorder:    trail,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("clinic finance api listening", "addr", cfg.ListenAddr, "env", cfg.Environment)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
