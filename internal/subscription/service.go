// Package subscription manages user keyword subscription rules.
package subscription

import (
	"context"
	"fmt"
	"log/slog"

	"keyword_bot/internal/keyword"
	"keyword_bot/internal/model"
	"keyword_bot/internal/storage"
)

// ErrTooManyRules is returned when a user already holds the maximum number
// of active subscription rules.
var ErrTooManyRules = fmt.Errorf("at most %d active rules per user", model.MaxActiveSubscriptions)

// Service creates, lists, and deletes subscription rules, keeping keyword
// subscriber counts in step.
type Service struct {
	store    storage.Storage
	registry *keyword.Registry
	log      *slog.Logger
}

// NewService creates a Service over the given store and registry.
func NewService(store storage.Storage, registry *keyword.Registry, log *slog.Logger) *Service {
	return &Service{store: store, registry: registry, log: log}
}

// Rule is a subscription together with its keyword texts in slot order, as
// shown to the user. Index is the 1-based position in the user's list.
type Rule struct {
	Index    int
	SubID    int64
	Keywords []string
}

// Subscribe creates an active rule of 1–3 distinct keywords for the user,
// creating keywords on first use and incrementing their subscriber counts.
func (s *Service) Subscribe(ctx context.Context, userID int64, keywords []string) (*model.Subscription, error) {
	if len(keywords) == 0 || len(keywords) > model.MaxKeywordsPerSubscription {
		return nil, fmt.Errorf("a rule needs 1 to %d keywords", model.MaxKeywordsPerSubscription)
	}

	count, err := s.store.CountActiveSubscriptions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("count rules: %w", err)
	}
	if count >= model.MaxActiveSubscriptions {
		return nil, ErrTooManyRules
	}

	ids := make([]int64, 0, len(keywords))
	seen := make(map[int64]bool)
	for _, text := range keywords {
		kw, err := s.registry.GetOrCreate(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("keyword %q: %w", text, err)
		}
		if seen[kw.ID] {
			return nil, fmt.Errorf("duplicate keyword %q in rule", kw.Text)
		}
		seen[kw.ID] = true
		ids = append(ids, kw.ID)
	}

	sub := &model.Subscription{UserID: userID, IsActive: true}
	slots := []*int64{&sub.Keyword1ID, &sub.Keyword2ID, &sub.Keyword3ID}
	for i, id := range ids {
		*slots[i] = id
	}

	if err := s.store.CreateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	if err := s.registry.IncrementBatch(ctx, ids); err != nil {
		return nil, fmt.Errorf("increment keyword counts: %w", err)
	}

	s.log.Info("rule created", "user_id", userID, "sub_id", sub.ID, "keywords", len(ids))
	return sub, nil
}

// List returns the user's active rules with keyword texts, numbered from 1
// in ascending subscription ID order.
func (s *Service) List(ctx context.Context, userID int64) ([]Rule, error) {
	subs, err := s.store.ListUserSubscriptions(ctx, userID, true)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}

	rules := make([]Rule, 0, len(subs))
	for i, sub := range subs {
		texts, err := s.registry.Texts(ctx, sub.KeywordIDs())
		if err != nil {
			return nil, fmt.Errorf("keyword texts: %w", err)
		}
		rules = append(rules, Rule{Index: i + 1, SubID: sub.ID, Keywords: texts})
	}
	return rules, nil
}

// Delete removes the user's rule at the given 1-based list position and
// decrements the subscriber counts of its keywords. Returns false if the
// position is out of range.
func (s *Service) Delete(ctx context.Context, userID int64, index int) (bool, error) {
	subs, err := s.store.ListUserSubscriptions(ctx, userID, true)
	if err != nil {
		return false, fmt.Errorf("list rules: %w", err)
	}
	if index < 1 || index > len(subs) {
		return false, nil
	}

	sub := subs[index-1]
	if err := s.store.DeleteSubscription(ctx, sub.ID); err != nil {
		return false, fmt.Errorf("delete subscription: %w", err)
	}
	if err := s.registry.DecrementBatch(ctx, sub.KeywordIDs()); err != nil {
		return false, fmt.Errorf("decrement keyword counts: %w", err)
	}

	s.log.Info("rule deleted", "user_id", userID, "sub_id", sub.ID)
	return true, nil
}
