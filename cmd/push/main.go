// Command push runs one pass of the keyword push pipeline and exits.
// Intended for cron invocation; it shares the run lock with the in-process
// scheduler of cmd/bot, so overlapping invocations are rejected.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"keyword_bot/internal/config"
	"keyword_bot/internal/dispatch"
	"keyword_bot/internal/keyword"
	"keyword_bot/internal/lifecycle"
	"keyword_bot/internal/pipeline"
	"keyword_bot/internal/runlock"
	"keyword_bot/internal/storage"
)

func main() {
	limit := flag.Int("limit", pipeline.DefaultLimit, "maximum posts to process in this run")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		log.Error("create bot api", "error", err)
		os.Exit(1)
	}

	registry := keyword.NewRegistry(store, log)
	lc := lifecycle.NewManager(store, registry, log)
	dispatcher := dispatch.New(api, log)
	runner := pipeline.NewRunner(store, registry, lc, dispatcher, cfg.LockPath, log)

	stats, err := runner.Run(context.Background(), *limit)
	if errors.Is(err, runlock.ErrBusy) {
		fmt.Fprintln(os.Stderr, "already running")
		os.Exit(1)
	}
	if err != nil {
		log.Error("run failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("posts=%d pushed=%d failed=%d deactivated=%d\n",
		stats.Posts, stats.Pushed, stats.Failed, stats.Deactivated)
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
