// Package model defines the domain types used across the application.
package model

import "time"

// Post source types.
const (
	FromTypeBot = 1
	FromTypeWeb = 2
	FromTypeRSS = 3
)

// Post is a forum post waiting to be matched against keyword subscriptions.
// Handled is monotonic: once a post has been pushed (or found to match
// nothing), it is never revisited.
type Post struct {
	ID        int64
	PID       int64
	Title     string
	Desc      string
	FromType  int
	Handled   bool
	CreatedAt time.Time
}

// MaxKeywordsPerSubscription bounds the keyword slots of a single rule.
const MaxKeywordsPerSubscription = 3

// MaxActiveSubscriptions bounds the concurrently active rules per user.
const MaxActiveSubscriptions = 5

// Keyword is a deduplicated keyword with a live subscriber count.
// SubNum equals the number of active subscriptions referencing it.
type Keyword struct {
	ID        int64
	Text      string
	Hash      string
	SubNum    int
	CreatedAt time.Time
}

// Subscription is a user's rule of up to three keywords, AND-combined.
// Unused keyword slots hold zero.
type Subscription struct {
	ID         int64
	UserID     int64
	Keyword1ID int64
	Keyword2ID int64
	Keyword3ID int64
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// KeywordIDs returns the populated keyword slots in subscription order.
func (s Subscription) KeywordIDs() []int64 {
	ids := make([]int64, 0, MaxKeywordsPerSubscription)
	for _, id := range []int64{s.Keyword1ID, s.Keyword2ID, s.Keyword3ID} {
		if id != 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

// User is a chat recipient. Deactivated when a push reveals the chat is
// unreachable; reactivated on renewed interaction.
type User struct {
	ID        int64
	ChatID    int64
	Username  string
	FirstName string
	LastName  string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PushLog is an append-only record of a single dispatch attempt.
type PushLog struct {
	ID           int64
	UserID       int64
	ChatID       int64
	PostID       int64
	SubID        int64
	Success      bool
	ErrorMessage string
	CreatedAt    time.Time
}
