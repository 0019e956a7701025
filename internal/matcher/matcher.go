// Package matcher implements the keyword matching engine and the
// subscription resolver.
package matcher

import (
	"sort"
	"strings"

	"keyword_bot/internal/model"
)

// FindMatchedKeywords returns the IDs of the keywords appearing as a
// substring in the post's title or description. Matching is case-insensitive
// plain containment: no tokenization, no word boundaries.
func FindMatchedKeywords(post model.Post, keywords []model.Keyword) map[int64]bool {
	title := strings.ToLower(post.Title)
	desc := strings.ToLower(post.Desc)

	matched := make(map[int64]bool)
	for _, kw := range keywords {
		text := strings.ToLower(kw.Text)
		if text == "" {
			continue
		}
		if strings.Contains(title, text) || strings.Contains(desc, text) {
			matched[kw.ID] = true
		}
	}
	return matched
}

// Delivery is a single notification to be dispatched: the qualifying
// subscription and its keyword IDs in subscription slot order.
type Delivery struct {
	Sub        model.Subscription
	KeywordIDs []int64
}

// ResolveSubscriptions returns at most one delivery per distinct user.
// A subscription qualifies only if every one of its referenced keywords is
// in matched (AND semantics); a subscription with no keyword references
// never qualifies. Subscriptions are considered in ascending ID order and
// the first qualifying subscription per user wins.
func ResolveSubscriptions(matched map[int64]bool, subs []model.Subscription) []Delivery {
	ordered := make([]model.Subscription, len(subs))
	copy(ordered, subs)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	var deliveries []Delivery
	selected := make(map[int64]bool)

	for _, sub := range ordered {
		ids := sub.KeywordIDs()
		if len(ids) == 0 {
			continue
		}
		if !allMatched(ids, matched) {
			continue
		}
		if selected[sub.UserID] {
			continue
		}
		selected[sub.UserID] = true
		deliveries = append(deliveries, Delivery{Sub: sub, KeywordIDs: ids})
	}
	return deliveries
}

func allMatched(ids []int64, matched map[int64]bool) bool {
	for _, id := range ids {
		if !matched[id] {
			return false
		}
	}
	return true
}
