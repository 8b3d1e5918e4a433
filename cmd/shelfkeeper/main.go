package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"shelfkeeper/internal/api"
	"shelfkeeper/internal/cloud"
	"shelfkeeper/internal/config"
	"shelfkeeper/internal/db"
	"shelfkeeper/internal/library"
	"shelfkeeper/internal/ops"
	"shelfkeeper/internal/scheduler"
)

// Injected at build time via -ldflags; defaults to "dev".
var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// ── Logging (initial — overridden below once config is loaded) ─────────
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	// ── Config ─────────────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	// Re-configure logging with the level from config (default: info).
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))
	slog.Info("shelfkeeper starting",
		"version", version,
		"log_level", cfg.LogLevel,
		"http_addr", cfg.HTTPAddr,
		"db_path", cfg.DBPath,
		"library_dir", cfg.LibraryDir,
		"sources_dir", cfg.SourcesDir)

	// ── Database ───────────────────────────────────────────────────────────
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		slog.Error("open database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	if err := db.RunMigrations(database); err != nil {
		slog.Error("run migrations", "error", err)
		os.Exit(1)
	}

	// ── Cloud client ───────────────────────────────────────────────────────
	var cloudClient *cloud.Client
	if cfg.Cloud.Endpoint != "" {
		cloudClient = cloud.New(cfg.Cloud.Endpoint, cfg.Cloud.Token)
		slog.Info("cloud sync enabled", "endpoint", cfg.Cloud.Endpoint)
	}

	// ── Runner and operation manager ───────────────────────────────────────
	runner := library.NewRunner(database, cfg, cloudClient)
	mgr := ops.NewManager(cfg.OperationRetention)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ── Scheduler ──────────────────────────────────────────────────────────
	sched := scheduler.New()
	if !cfg.RescanPaused && cfg.RescanSchedule != "" {
		if err := sched.SetRescanJob(cfg.RescanSchedule, func() {
			slog.Info("scheduled rescan triggered")
			if _, err := mgr.Start(ctx, ops.TypeRescan, "scheduled library rescan", runner.Rescan()); err != nil {
				slog.Warn("scheduled rescan start", "error", err)
			}
		}); err != nil {
			slog.Warn("invalid cron expression", "expr", cfg.RescanSchedule, "error", err)
		}
	}

	if cloudClient != nil && cfg.Cloud.Schedule != "" {
		if err := sched.AddJob(cfg.Cloud.Schedule, func() {
			slog.Info("scheduled cloud sync triggered")
			body, err := runner.CloudSync()
			if err != nil {
				slog.Warn("cloud sync unavailable", "error", err)
				return
			}
			if _, err := mgr.Start(ctx, ops.TypeCloudSync, "scheduled cloud position sync", body); err != nil {
				slog.Warn("scheduled cloud sync start", "error", err)
			}
		}); err != nil {
			slog.Warn("invalid cloud sync cron expression", "expr", cfg.Cloud.Schedule, "error", err)
		}
	}

	sched.Start()
	defer sched.Stop()

	// ── HTTP server ────────────────────────────────────────────────────────
	srv := api.New(cfg.HTTPAddr, ctx, runner, mgr, sched, version)
	if err := srv.Run(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("shelfkeeper stopped")
}

// parseLogLevel converts a config string ("debug", "info", "warn", "error")
// to its slog.Level equivalent. Unknown values default to Info.
func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
