// maintenance runs one-off memory store maintenance: marking memories stale
// after an embedding model change, and purging stale rows. Run mark-stale
// first, re-embed via the write path, then purge-stale.
//
// Usage:
//
//	maintenance mark-stale -model <current-model>
//	maintenance purge-stale
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/reviewloop/hub/internal/repository"
	"github.com/reviewloop/hub/pkg/database"
)

const (
	exitSuccess = 0
	exitFailure = 1
)

func main() {
	os.Exit(run())
}

func run() int {
	// Load .env for consistency with the main API server (godotenv.Load() there).
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env file", "error", err)
	}

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: maintenance <mark-stale|purge-stale> [flags]")

		return exitFailure
	}

	command := os.Args[1]

	markStaleFlags := flag.NewFlagSet("mark-stale", flag.ExitOnError)
	model := markStaleFlags.String("model", "", "current embedding model; rows embedded with any other model are marked stale")

	switch command {
	case "mark-stale":
		if err := markStaleFlags.Parse(os.Args[2:]); err != nil {
			return exitFailure
		}

		if *model == "" {
			fmt.Fprintln(os.Stderr, "mark-stale: -model is required")

			return exitFailure
		}
	case "purge-stale":
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", command)

		return exitFailure
	}

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		slog.Error("DATABASE_URL is required")

		return exitFailure
	}

	ctx := context.Background()

	db, err := database.NewPostgresPool(ctx, databaseURL, database.WithAfterConnect(pgxvec.RegisterTypes))
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)

		return exitFailure
	}
	defer db.Close()

	repo := repository.NewMemoriesRepository(db)

	switch command {
	case "mark-stale":
		marked, err := repo.MarkStale(ctx, *model)
		if err != nil {
			slog.Error("Mark stale failed", "error", err)

			return exitFailure
		}

		fmt.Printf("Marked %d memory row(s) stale (model != %s).\n", marked, *model)
	case "purge-stale":
		purged, err := repo.PurgeStaleEmbeddings(ctx)
		if err != nil {
			slog.Error("Purge stale failed", "error", err)

			return exitFailure
		}

		fmt.Printf("Purged %d stale memory row(s).\n", purged)
	}

	return exitSuccess
}
