package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/duckmesh/duckxfer/internal/config"
	jobspostgres "github.com/duckmesh/duckxfer/internal/jobs/postgres"
	"github.com/duckmesh/duckxfer/internal/migrations"
)

func main() {
	direction := flag.String("direction", "up", "up, down or status")
	steps := flag.Int("steps", 0, "migrations to apply (0 = all) or roll back (0 = 1)")
	timeout := flag.Duration("timeout", 30*time.Second, "overall deadline")
	flag.Parse()

	if err := run(*direction, *steps, *timeout, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "duckxfer-migrate: %v\n", err)
		os.Exit(1)
	}
}

func run(direction string, steps int, timeout time.Duration, out io.Writer) error {
	cfg, err := config.LoadFromEnv("duckxfer-migrate")
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.Ledger.DSN == "" {
		return fmt.Errorf("DUCKXFER_LEDGER_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	db, err := jobspostgres.Open(ctx, jobspostgres.DBConfig{DSN: cfg.Ledger.DSN, ApplicationName: cfg.Service.Name})
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	return migrate(ctx, migrations.NewRunner(), db, direction, steps, out)
}

func migrate(ctx context.Context, runner *migrations.Runner, db *sql.DB, direction string, steps int, out io.Writer) error {
	switch direction {
	case "up":
		applied, err := runner.Up(ctx, db, steps)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "applied %d migration(s)\n", applied)
	case "down":
		rolledBack, err := runner.Down(ctx, db, steps)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "rolled back %d migration(s)\n", rolledBack)
	case "status":
		states, err := runner.Status(ctx, db)
		if err != nil {
			return err
		}
		for _, state := range states {
			applied := "pending"
			if state.Applied {
				applied = "applied " + state.AppliedAt.UTC().Format(time.RFC3339)
			}
			_, _ = fmt.Fprintf(out, "%06d %-32s %s\n", state.Version, state.Name, applied)
		}
	default:
		return fmt.Errorf("invalid direction %q", direction)
	}
	return nil
}
