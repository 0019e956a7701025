// Package scheduler periodically ingests new posts and triggers pipeline runs.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"keyword_bot/internal/ingest"
	"keyword_bot/internal/pipeline"
	"keyword_bot/internal/runlock"
)

// Scheduler drives ingestion and push runs on a fixed tick.
type Scheduler struct {
	ingester  *ingest.Ingester
	runner    *pipeline.Runner
	log       *slog.Logger
	tick      time.Duration
	scrapeURL string
	rssURL    string
	limit     int
}

// New creates a Scheduler. Empty source URLs disable the corresponding ingest.
func New(ingester *ingest.Ingester, runner *pipeline.Runner, scrapeURL, rssURL string, limit int, log *slog.Logger) *Scheduler {
	return &Scheduler{
		ingester:  ingester,
		runner:    runner,
		log:       log,
		tick:      1 * time.Minute,
		scrapeURL: scrapeURL,
		rssURL:    rssURL,
		limit:     limit,
	}
}

// SetTickInterval overrides the default 1-minute interval.
func (s *Scheduler) SetTickInterval(d time.Duration) {
	s.tick = d
}

// Run starts the scheduler loop, blocking until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.pass(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pass(ctx)
		}
	}
}

func (s *Scheduler) pass(ctx context.Context) {
	if s.scrapeURL != "" {
		if _, err := s.ingester.FetchWeb(ctx, s.scrapeURL); err != nil {
			s.log.Error("web ingest", "error", err)
		}
	}
	if s.rssURL != "" {
		if _, err := s.ingester.FetchRSS(ctx, s.rssURL); err != nil {
			s.log.Error("rss ingest", "error", err)
		}
	}

	_, err := s.runner.Run(ctx, s.limit)
	if errors.Is(err, runlock.ErrBusy) {
		// Another process (e.g. a cron-invoked push) owns this pass.
		s.log.Debug("push run already in progress, skipping")
		return
	}
	if err != nil {
		s.log.Error("push run", "error", err)
	}
}
