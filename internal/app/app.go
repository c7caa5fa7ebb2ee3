package app

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"litekit/internal/config"
	"litekit/internal/persist"
	"litekit/internal/platform/logger"
	"litekit/internal/platform/sqlite"
)

// schema is the built-in migration set applied on startup.
var schema = []sqlite.Migration{
	{
		Version: 1,
		Up: `CREATE TABLE notes (
			id INTEGER PRIMARY KEY,
			body TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		Down: "DROP TABLE notes",
	},
	{
		Version: 2,
		Up:      "CREATE INDEX idx_notes_created_at ON notes (created_at)",
		Down:    "DROP INDEX idx_notes_created_at",
	},
}

// App wires application components.
type App struct {
	cfg config.Config
	log *slog.Logger
}

// New creates a new App instance and loads configuration.
func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.New(logger.Options{
		Env:          cfg.Env,
		ConsoleLevel: cfg.Log.ConsoleLevel,
		FileLevel:    cfg.Log.FileLevel,
		File:         cfg.Log.File,
		App:          "litekit",
	})
	return &App{cfg: cfg, log: log}, nil
}

// Run starts the application.
func (a *App) Run() error {
	a.log.Info("starting")
	defer func() { _ = logger.Close(a.log) }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := sqlite.DefaultDBOptions()
	opts.WALMode = a.cfg.DB.WAL
	opts.ForeignKeys = a.cfg.DB.ForeignKeys
	opts.BusyTimeout = a.cfg.DB.BusyTimeout

	db, err := sqlite.OpenWithOptions(ctx, a.cfg.DB.Path, opts)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	applied, err := db.Migrate(ctx, schema)
	if err != nil {
		return err
	}
	version, err := db.MigrationVersion(ctx)
	if err != nil {
		return err
	}
	a.log.Info("database ready",
		slog.String("path", a.cfg.DB.Path),
		slog.Any("applied", applied),
		slog.Int("version", version))

	if a.cfg.Persist.Enabled {
		p := persist.New(db, persist.NewFileStorage(a.cfg.Persist.Dir), persist.Options{
			Debounce: a.cfg.Persist.Debounce,
			CronSpec: a.cfg.Persist.Cron,
			Logger:   a.log,
		})
		if err := p.Start(); err != nil {
			return err
		}
		defer func() {
			if err := p.Stop(context.Background()); err != nil {
				a.log.Error("persister stop failed", slog.Any("error", err))
			}
		}()
	}

	<-ctx.Done()
	a.log.Info("shutting down")
	return nil
}
