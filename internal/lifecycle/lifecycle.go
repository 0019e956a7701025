// Package lifecycle deactivates and reactivates users, keeping keyword
// subscriber counts in step with subscription state.
package lifecycle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"keyword_bot/internal/keyword"
	"keyword_bot/internal/model"
	"keyword_bot/internal/storage"
)

// Manager owns the user active flag and the deactivation/reactivation
// cascade over subscriptions and keyword counts.
type Manager struct {
	store    storage.Storage
	registry *keyword.Registry
	log      *slog.Logger
}

// NewManager creates a Manager over the given store and registry.
func NewManager(store storage.Storage, registry *keyword.Registry, log *slog.Logger) *Manager {
	return &Manager{store: store, registry: registry, log: log}
}

// Deactivate marks the user behind chatID inactive, deactivates all of the
// user's active subscriptions and decrements their keyword subscriber
// counts. The count correction runs first so that a crash mid-cascade
// under-counts rather than over-counts. Returns false if no such user
// exists.
func (m *Manager) Deactivate(ctx context.Context, chatID int64) (bool, error) {
	user, err := m.store.GetUserByChatID(ctx, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup user: %w", err)
	}

	subs, err := m.store.ListUserSubscriptions(ctx, user.ID, true)
	if err != nil {
		return false, fmt.Errorf("list active subscriptions: %w", err)
	}

	if len(subs) > 0 {
		// Per-subscription batches: a keyword shared by two of the user's
		// rules loses one subscriber per rule, keeping sub_num equal to the
		// number of active subscriptions referencing it.
		for _, sub := range subs {
			if err := m.registry.DecrementBatch(ctx, sub.KeywordIDs()); err != nil {
				return false, fmt.Errorf("decrement keyword counts: %w", err)
			}
		}
		if err := m.store.SetSubscriptionsActive(ctx, subIDs(subs), false); err != nil {
			return false, fmt.Errorf("deactivate subscriptions: %w", err)
		}
	}

	if err := m.store.SetUserActive(ctx, user.ID, false); err != nil {
		return false, fmt.Errorf("deactivate user: %w", err)
	}

	m.log.Info("user deactivated", "chat_id", chatID, "subscriptions", len(subs))
	return true, nil
}

// Reactivate is the mirror of Deactivate: it restores the user's inactive
// subscriptions and their keyword count contributions. Returns false if no
// such user exists.
func (m *Manager) Reactivate(ctx context.Context, chatID int64) (bool, error) {
	user, err := m.store.GetUserByChatID(ctx, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup user: %w", err)
	}

	subs, err := m.store.ListUserSubscriptions(ctx, user.ID, false)
	if err != nil {
		return false, fmt.Errorf("list inactive subscriptions: %w", err)
	}

	if len(subs) > 0 {
		if err := m.store.SetSubscriptionsActive(ctx, subIDs(subs), true); err != nil {
			return false, fmt.Errorf("reactivate subscriptions: %w", err)
		}
		for _, sub := range subs {
			if err := m.registry.IncrementBatch(ctx, sub.KeywordIDs()); err != nil {
				return false, fmt.Errorf("increment keyword counts: %w", err)
			}
		}
	}

	if err := m.store.SetUserActive(ctx, user.ID, true); err != nil {
		return false, fmt.Errorf("reactivate user: %w", err)
	}

	m.log.Info("user reactivated", "chat_id", chatID, "subscriptions", len(subs))
	return true, nil
}

func subIDs(subs []model.Subscription) []int64 {
	ids := make([]int64, len(subs))
	for i, s := range subs {
		ids[i] = s.ID
	}
	return ids
}
