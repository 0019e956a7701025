// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"

	"keyword_bot/internal/model"
)

// Storage is the interface for all persistence operations.
type Storage interface {
	CreatePost(ctx context.Context, post *model.Post) error
	GetPostByPID(ctx context.Context, pid int64) (*model.Post, error)
	MaxPID(ctx context.Context) (int64, error)
	ListUnhandledPosts(ctx context.Context, limit int) ([]model.Post, error)
	MarkPostHandled(ctx context.Context, id int64) error

	CreateKeyword(ctx context.Context, kw *model.Keyword) error
	GetKeywordByHash(ctx context.Context, hash string) (*model.Keyword, error)
	GetKeywords(ctx context.Context, ids []int64) ([]model.Keyword, error)
	ListActiveKeywords(ctx context.Context) ([]model.Keyword, error)
	IncrementSubNum(ctx context.Context, ids []int64) error
	DecrementSubNum(ctx context.Context, ids []int64) (int64, error)

	CreateSubscription(ctx context.Context, sub *model.Subscription) error
	DeleteSubscription(ctx context.Context, id int64) error
	ListActiveSubscriptions(ctx context.Context) ([]model.Subscription, error)
	ListUserSubscriptions(ctx context.Context, userID int64, active bool) ([]model.Subscription, error)
	CountActiveSubscriptions(ctx context.Context, userID int64) (int, error)
	SetSubscriptionsActive(ctx context.Context, ids []int64, active bool) error

	UpsertUser(ctx context.Context, user *model.User) error
	GetUser(ctx context.Context, id int64) (*model.User, error)
	GetUserByChatID(ctx context.Context, chatID int64) (*model.User, error)
	SetUserActive(ctx context.Context, id int64, active bool) error

	CreatePushLog(ctx context.Context, entry *model.PushLog) error

	Close() error
}
