// Package keyword implements the deduplicated keyword registry with live
// subscriber counts.
package keyword

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"keyword_bot/internal/model"
	"keyword_bot/internal/storage"
)

// Normalize trims surrounding whitespace, preserving the keyword's case.
func Normalize(text string) string {
	return strings.TrimSpace(text)
}

// Hash returns the dedup hash of a keyword. The hash is computed over the
// lower-cased normalized text so that dedup identity matches the
// case-insensitive matching policy.
func Hash(text string) string {
	h := sha256.Sum256([]byte(strings.ToLower(Normalize(text))))
	return fmt.Sprintf("%x", h)
}

// Registry owns keyword rows and their sub_num counters. All subscriber
// count mutations go through IncrementBatch and DecrementBatch.
type Registry struct {
	store storage.Storage
	log   *slog.Logger
}

// NewRegistry creates a Registry over the given store.
func NewRegistry(store storage.Storage, log *slog.Logger) *Registry {
	return &Registry{store: store, log: log}
}

// GetOrCreate returns the keyword for the given text, creating it with a
// zero subscriber count on first use. Keywords are never deleted.
func (r *Registry) GetOrCreate(ctx context.Context, text string) (*model.Keyword, error) {
	normalized := Normalize(text)
	if normalized == "" {
		return nil, fmt.Errorf("empty keyword")
	}
	hash := Hash(normalized)

	kw, err := r.store.GetKeywordByHash(ctx, hash)
	if err == nil {
		return kw, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get keyword: %w", err)
	}

	kw = &model.Keyword{Text: normalized, Hash: hash, SubNum: 0}
	if err := r.store.CreateKeyword(ctx, kw); err != nil {
		return nil, fmt.Errorf("create keyword: %w", err)
	}
	return kw, nil
}

// IncrementBatch adds one subscriber to each of the given keywords.
func (r *Registry) IncrementBatch(ctx context.Context, ids []int64) error {
	return r.store.IncrementSubNum(ctx, ids)
}

// DecrementBatch removes one subscriber from each of the given keywords.
// Counts are floored at zero; hitting the floor indicates a consistency bug
// elsewhere and is logged as a warning.
func (r *Registry) DecrementBatch(ctx context.Context, ids []int64) error {
	affected, err := r.store.DecrementSubNum(ctx, ids)
	if err != nil {
		return err
	}
	if affected < int64(len(ids)) {
		r.log.Warn("sub_num decrement floored at zero",
			"keyword_ids", ids, "decremented", affected)
	}
	return nil
}

// ActiveKeywords returns the keywords with at least one active subscriber.
// Keywords nobody subscribes to are skipped by the matcher entirely.
func (r *Registry) ActiveKeywords(ctx context.Context) ([]model.Keyword, error) {
	return r.store.ListActiveKeywords(ctx)
}

// Texts returns the keyword texts for the given IDs in slot order.
func (r *Registry) Texts(ctx context.Context, ids []int64) ([]string, error) {
	kws, err := r.store.GetKeywords(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]string, len(kws))
	for _, kw := range kws {
		byID[kw.ID] = kw.Text
	}
	texts := make([]string, 0, len(ids))
	for _, id := range ids {
		if text, ok := byID[id]; ok {
			texts = append(texts, text)
		}
	}
	return texts, nil
}
