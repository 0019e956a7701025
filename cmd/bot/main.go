package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"keyword_bot/internal/bot"
	"keyword_bot/internal/config"
	"keyword_bot/internal/dispatch"
	"keyword_bot/internal/ingest"
	"keyword_bot/internal/keyword"
	"keyword_bot/internal/lifecycle"
	"keyword_bot/internal/pipeline"
	"keyword_bot/internal/scheduler"
	"keyword_bot/internal/storage"
	"keyword_bot/internal/subscription"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	registry := keyword.NewRegistry(store, log)
	lc := lifecycle.NewManager(store, registry, log)
	subs := subscription.NewService(store, registry, log)

	b, err := bot.New(cfg.TelegramBotToken, store, cfg, subs, lc, log)
	if err != nil {
		log.Error("create bot", "error", err)
		os.Exit(1)
	}

	dispatcher := dispatch.New(b.API(), log)
	runner := pipeline.NewRunner(store, registry, lc, dispatcher, cfg.LockPath, log)
	ingester := ingest.New(http.DefaultClient, store, log)
	sched := scheduler.New(ingester, runner, cfg.ScrapeURL, cfg.RSSURL, cfg.PushLimit, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("starting bot")

	go sched.Run(ctx)

	b.Run(ctx)

	log.Info("bot stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
