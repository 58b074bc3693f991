package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/spf13/pflag"

	"github.com/saviobatista/ogn-feed/internal/db/migrations"
	"github.com/saviobatista/ogn-feed/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	_ = godotenv.Load()

	fs := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: migrate [flags] [up|down|status]\n")
		fs.PrintDefaults()
	}
	dbURL := fs.String("db", os.Getenv("DB_CONN_STR"), "database connection string (default $DB_CONN_STR)")
	rollback := fs.Bool("rollback", false, "roll back the last migration, same as \"down\"")
	logLevel := fs.StringP("log-level", "l", "info", "debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	action := "up"
	if *rollback {
		action = "down"
	}
	switch fs.NArg() {
	case 0:
	case 1:
		action = fs.Arg(0)
	default:
		return fmt.Errorf("expected at most one action, got %d", fs.NArg())
	}

	if *dbURL == "" {
		return fmt.Errorf("database connection string is required (--db or DB_CONN_STR)")
	}

	db, err := sql.Open("postgres", *dbURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	logger := logging.New(stderr, logging.Options{Level: *logLevel})
	return execute(ctx, db, action, stdout, logger)
}

// execute runs one migrator action against an open database
func execute(ctx context.Context, db *sql.DB, action string, stdout io.Writer, logger *log.Logger) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	migrator := migrations.New(db, logger)

	switch action {
	case "up":
		if err := migrator.Migrate(ctx, migrations.All); err != nil {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
	case "down":
		if err := migrator.Rollback(ctx, migrations.All); err != nil {
			return fmt.Errorf("failed to rollback migration: %w", err)
		}
	case "status":
		statuses, err := migrator.Status(ctx, migrations.All)
		if err != nil {
			return err
		}
		for _, s := range statuses {
			state := "pending"
			if s.Applied {
				state = "applied"
			}
			fmt.Fprintf(stdout, "%-24s %s\n", s.Name, state)
		}
	default:
		return fmt.Errorf("unknown action %q", action)
	}
	return nil
}
