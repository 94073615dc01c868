// Package app wires a workspace into a ready engine: database, migrations,
// config and logging.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"workdesk/internal/config"
	"workdesk/internal/db"
	"workdesk/internal/engine"
	"workdesk/internal/logging"
	"workdesk/internal/migrate"
)

type Options struct {
	Workspace string
	// ConfigPath overrides <workspace>/workdesk.yml.
	ConfigPath string
	// LogLevel overrides config.logging.level when set.
	LogLevel  string
	LogWriter io.Writer
}

type App struct {
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
	Logger logging.Logger
}

// Open prepares the workspace and returns an engine bound to it. Missing
// config falls back to the defaults.
func Open(ctx context.Context, opts Options) (*App, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	logger := logging.New(cfg.Logging, opts.LogWriter)

	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	applied, err := migrate.Migrate(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	for _, name := range applied {
		logger.Debug("applied migration %s", name)
	}

	eng, err := engine.New(conn, cfg, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &App{DB: conn, Config: cfg, Engine: eng, Logger: logger}, nil
}

func loadConfig(opts Options) (*config.Config, error) {
	if opts.ConfigPath != "" {
		return config.FromFile(opts.ConfigPath)
	}
	return config.LoadOptional(opts.Workspace)
}

func (a *App) Close() error {
	if a == nil || a.DB == nil {
		return nil
	}
	return a.DB.Close()
}
