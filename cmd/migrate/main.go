// Command migrate manages the recurring-token schema with goose, using the
// same embedded migrations the server applies at boot.
//
// Usage:
//
//	go run ./cmd/migrate up              # apply all pending migrations
//	go run ./cmd/migrate down            # roll back the last migration
//	go run ./cmd/migrate redo            # roll back and re-apply the last migration
//	go run ./cmd/migrate status          # list migrations and when they ran
//	go run ./cmd/migrate version         # print the current schema version
//	go run ./cmd/migrate up-to <version>
//	go run ./cmd/migrate down-to <version>
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/mbd888/checkoutkit/internal/logging"
	"github.com/mbd888/checkoutkit/migrations"
)

const usage = "usage: migrate up|down|redo|status|version|up-to <version>|down-to <version>"

func main() {
	_ = godotenv.Load()
	logger := logging.New(os.Getenv("LOG_LEVEL"), "text")

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	if err := run(context.Background(), logger, os.Getenv("DATABASE_URL"), os.Args[1], os.Args[2:]); err != nil {
		logger.Error("migration failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, dbURL, command string, args []string) error {
	if dbURL == "" {
		return errors.New("DATABASE_URL is required")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations.FS)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	switch command {
	case "up":
		results, err := provider.Up(ctx)
		logResults(logger, results...)
		return err
	case "down":
		result, err := provider.Down(ctx)
		logResults(logger, result)
		return err
	case "redo":
		down, err := provider.Down(ctx)
		logResults(logger, down)
		if err != nil {
			return err
		}
		up, err := provider.UpByOne(ctx)
		logResults(logger, up)
		return err
	case "up-to", "down-to":
		version, err := versionArg(args)
		if err != nil {
			return err
		}
		var results []*goose.MigrationResult
		if command == "up-to" {
			results, err = provider.UpTo(ctx, version)
		} else {
			results, err = provider.DownTo(ctx, version)
		}
		logResults(logger, results...)
		return err
	case "status":
		statuses, err := provider.Status(ctx)
		if err != nil {
			return err
		}
		for _, st := range statuses {
			attrs := []any{"version", st.Source.Version, "file", st.Source.Path, "state", st.State}
			if !st.AppliedAt.IsZero() {
				attrs = append(attrs, "applied_at", st.AppliedAt)
			}
			logger.Info("migration", attrs...)
		}
		return nil
	case "version":
		version, err := provider.GetDBVersion(ctx)
		if err != nil {
			return err
		}
		logger.Info("schema version", "version", version)
		return nil
	default:
		return fmt.Errorf("unknown command %q; %s", command, usage)
	}
}

func versionArg(args []string) (int64, error) {
	if len(args) != 1 {
		return 0, errors.New("a target version is required")
	}
	v, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid version %q: %w", args[0], err)
	}
	return v, nil
}

func logResults(logger *slog.Logger, results ...*goose.MigrationResult) {
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		logger.Info("migration applied",
			"version", r.Source.Version,
			"file", r.Source.Path,
			"direction", r.Direction,
			"duration", r.Duration,
		)
	}
}
