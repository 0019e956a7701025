// Package pipeline implements the keyword push batch run: take the run
// lock, read a bounded batch of unhandled posts, match them against active
// keyword subscriptions, dispatch at most one notification per recipient
// per post, and record every attempt.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"keyword_bot/internal/dispatch"
	"keyword_bot/internal/keyword"
	"keyword_bot/internal/lifecycle"
	"keyword_bot/internal/matcher"
	"keyword_bot/internal/model"
	"keyword_bot/internal/runlock"
	"keyword_bot/internal/storage"
)

// DefaultLimit bounds a run's batch when the caller does not.
const DefaultLimit = 50

// Sender dispatches one notification and classifies the outcome.
type Sender interface {
	Send(chatID int64, text string) dispatch.Result
}

// Stats summarizes a completed run.
type Stats struct {
	Posts       int
	Pushed      int
	Failed      int
	Deactivated int
}

// Runner executes push pipeline runs.
type Runner struct {
	store     storage.Storage
	registry  *keyword.Registry
	lifecycle *lifecycle.Manager
	sender    Sender
	log       *slog.Logger
	lockPath  string
	sendDelay time.Duration
}

// NewRunner creates a Runner. lockPath locates the advisory lock file that
// keeps runs mutually exclusive across processes.
func NewRunner(store storage.Storage, registry *keyword.Registry, lc *lifecycle.Manager, sender Sender, lockPath string, log *slog.Logger) *Runner {
	return &Runner{
		store:     store,
		registry:  registry,
		lifecycle: lc,
		sender:    sender,
		log:       log,
		lockPath:  lockPath,
		// Telegram tolerates ~30 messages/sec to distinct chats; stay well under.
		sendDelay: 100 * time.Millisecond,
	}
}

// SetSendDelay overrides the pause between consecutive sends.
func (r *Runner) SetSendDelay(d time.Duration) {
	r.sendDelay = d
}

// Run executes one pipeline pass over at most limit posts. It returns
// runlock.ErrBusy without side effects when another run is in flight.
// Individual push failures never fail the run; they are counted in Stats.
func (r *Runner) Run(ctx context.Context, limit int) (Stats, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	lock, err := runlock.Acquire(r.lockPath)
	if err != nil {
		return Stats{}, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			r.log.Error("release run lock", "error", err)
		}
	}()

	posts, err := r.store.ListUnhandledPosts(ctx, limit)
	if err != nil {
		return Stats{}, fmt.Errorf("list unhandled posts: %w", err)
	}

	var stats Stats
	for _, post := range posts {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}

		pushed, failed, deactivated, err := r.processPost(ctx, post)
		if err != nil {
			// Leave the post unhandled so the next run retries it.
			r.log.Error("process post", "post_id", post.ID, "pid", post.PID, "error", err)
			continue
		}

		stats.Posts++
		stats.Pushed += pushed
		stats.Failed += failed
		stats.Deactivated += deactivated

		if err := r.store.MarkPostHandled(ctx, post.ID); err != nil {
			r.log.Error("mark post handled", "post_id", post.ID, "error", err)
		}
	}

	r.log.Info("run complete",
		"posts", stats.Posts, "pushed", stats.Pushed,
		"failed", stats.Failed, "deactivated", stats.Deactivated)
	return stats, nil
}

// processPost matches one post and dispatches to every qualifying recipient.
// A non-nil error means matching could not even be attempted; dispatch
// failures are counted, not returned.
func (r *Runner) processPost(ctx context.Context, post model.Post) (pushed, failed, deactivated int, err error) {
	active, err := r.registry.ActiveKeywords(ctx)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("active keywords: %w", err)
	}

	matched := matcher.FindMatchedKeywords(post, active)
	if len(matched) == 0 {
		return 0, 0, 0, nil
	}

	subs, err := r.store.ListActiveSubscriptions(ctx)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("active subscriptions: %w", err)
	}

	deliveries := matcher.ResolveSubscriptions(matched, subs)
	for i, d := range deliveries {
		if i > 0 {
			time.Sleep(r.sendDelay)
		}

		user, err := r.store.GetUser(ctx, d.Sub.UserID)
		if err != nil {
			r.log.Error("lookup recipient", "user_id", d.Sub.UserID, "error", err)
			failed++
			continue
		}
		if !user.IsActive {
			continue
		}

		texts, err := r.registry.Texts(ctx, d.KeywordIDs)
		if err != nil {
			r.log.Error("keyword texts", "sub_id", d.Sub.ID, "error", err)
			failed++
			continue
		}

		msg := dispatch.FormatNotification(texts, post)
		res := r.sender.Send(user.ChatID, msg)
		r.recordPush(ctx, user, post, d.Sub, res)

		if res.Success {
			pushed++
			continue
		}

		failed++
		r.log.Warn("push failed", "chat_id", user.ChatID, "post_id", post.ID,
			"code", res.ErrorCode, "error", res.ErrorMessage)

		if dispatch.IsRecipientUnreachable(res.ErrorCode, res.ErrorMessage) {
			ok, err := r.lifecycle.Deactivate(ctx, user.ChatID)
			if err != nil {
				// The dispatch outcome is already recorded; a failed cascade
				// must not undo it.
				r.log.Error("deactivate unreachable user", "chat_id", user.ChatID, "error", err)
			} else if ok {
				deactivated++
			}
		}
	}

	return pushed, failed, deactivated, nil
}

// recordPush appends the attempt to the push log. Best effort: a logging
// failure never alters the pipeline's outcome.
func (r *Runner) recordPush(ctx context.Context, user *model.User, post model.Post, sub model.Subscription, res dispatch.Result) {
	entry := &model.PushLog{
		UserID:       user.ID,
		ChatID:       user.ChatID,
		PostID:       post.ID,
		SubID:        sub.ID,
		Success:      res.Success,
		ErrorMessage: res.ErrorMessage,
	}
	if err := r.store.CreatePushLog(ctx, entry); err != nil {
		r.log.Warn("write push log", "post_id", post.ID, "chat_id", user.ChatID, "error", err)
	}
}
