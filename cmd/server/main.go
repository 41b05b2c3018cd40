// Package main implements the entry point for the gradeflow server, which
// runs the AI grading pipeline over uploaded exams and serves task progress
// and generated documents over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/phrazzld/gradeflow/internal/config"
	"github.com/phrazzld/gradeflow/internal/platform/gemini"
	"github.com/phrazzld/gradeflow/internal/platform/logger"
	"github.com/phrazzld/gradeflow/internal/platform/postgres"
)

// flags holds the parsed command line.
type flags struct {
	configPath string
	migrate    string
}

func parseFlags(args []string) (flags, error) {
	fs := flag.NewFlagSet("gradeflow", flag.ContinueOnError)
	var f flags
	fs.StringVar(&f.configPath, "config", "", "path to a config file (default: ./config.yaml when present)")
	fs.StringVar(&f.migrate, "migrate", "", "run a migration command (up, down, status, version) and exit")
	if err := fs.Parse(args); err != nil {
		return flags{}, err
	}
	return f, nil
}

func main() {
	f, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	if err := run(context.Background(), f); err != nil {
		log.Fatalf("gradeflow: %v", err)
	}
}

func run(ctx context.Context, f flags) error {
	cfg, err := config.LoadFrom(f.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	l, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	l.Info("server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"database", cfg.Database.URL != "",
		"nats", cfg.Events.NATSURL != "")

	if f.migrate != "" {
		return runMigrations(ctx, cfg, f.migrate, l)
	}

	app, err := bootstrap(ctx, cfg, l)
	if err != nil {
		return err
	}
	return app.Run(ctx)
}

// runMigrations applies a goose command to the configured database.
func runMigrations(ctx context.Context, cfg *config.Config, command string, l *slog.Logger) error {
	if cfg.Database.URL == "" {
		return fmt.Errorf("migrations need database.url to be set")
	}
	db, err := postgres.Open(ctx, cfg.Database, l)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			l.Error("error closing database connection", "error", err)
		}
	}()
	return postgres.Migrate(ctx, db, command, l)
}

// bootstrap opens the external connections and builds the application.
func bootstrap(ctx context.Context, cfg *config.Config, l *slog.Logger) (*application, error) {
	provider, err := gemini.NewProvider(ctx, l.With("component", "gemini_provider"), cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM provider: %w", err)
	}

	deps := externalDeps{provider: provider}

	if cfg.Database.URL != "" {
		deps.db, err = postgres.Open(ctx, cfg.Database, l)
		if err != nil {
			return nil, err
		}
	} else {
		l.Warn("database.url not set, documents are kept in memory and the roster starts empty")
	}

	return newApplication(ctx, cfg, l, deps)
}
