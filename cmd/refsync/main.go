// refsync loads a practice management export into the reference tables
// the commission entry screens read from. Run it from cron after each
// upstream export; re-running the same file is harmless.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/example/clinic-finance/internal/refdata"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	_ = godotenv.Load()

	file := flag.String("file", "", "path to the export JSON file")
	flag.Parse()

	if *file == "" {
		logger.Error("missing -file argument")
		os.Exit(2)
	}

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(2)
	}

	raw, err := os.ReadFile(*file)
	if err != nil {
		logger.Error("failed to read export", "error", err, "file", *file)
		os.Exit(1)
	}

	var snap refdata.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		logger.Error("failed to parse export", "error", err, "file", *file)
		os.Exit(1)
	}

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := refdata.Migrate(ctx, pool); err != nil {
		logger.Error("refdata migration failed", "error", err)
		os.Exit(1)
	}

	feed := refdata.NewPGFeed(pool)
	if err := feed.Sync(ctx, &snap); err != nil {
		logger.Error("sync failed", "error", err)
		os.Exit(1)
	}

	logger.Info("reference data synced",
		"branches", len(snap.Branches),
		"doctors", len(snap.Doctors),
		"collections", len(snap.Collections),
	)
}
