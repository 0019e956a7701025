package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"keyword_bot/internal/model"
	"keyword_bot/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=OFF"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("disable foreign keys: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// CreatePost inserts a new post and populates its ID and CreatedAt.
func (s *SQLite) CreatePost(ctx context.Context, post *model.Post) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO posts (pid, title, "desc", from_type, handle, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		post.PID, post.Title, post.Desc, post.FromType, boolToInt(post.Handled), now,
	)
	if err != nil {
		return fmt.Errorf("insert post: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	post.ID = id
	post.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetPostByPID returns a single post by its source post ID.
func (s *SQLite) GetPostByPID(ctx context.Context, pid int64) (*model.Post, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, pid, title, "desc", from_type, handle, created_at
		 FROM posts WHERE pid = ?`, pid,
	)
	return scanPost(row)
}

// MaxPID returns the highest source post ID stored, or zero if there are no posts.
func (s *SQLite) MaxPID(ctx context.Context) (int64, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(pid) FROM posts`).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("max pid: %w", err)
	}
	return max.Int64, nil
}

// ListUnhandledPosts returns up to limit unprocessed posts, newest first.
func (s *SQLite) ListUnhandledPosts(ctx context.Context, limit int) ([]model.Post, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, pid, title, "desc", from_type, handle, created_at
		 FROM posts WHERE handle = 0 ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query unhandled posts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var posts []model.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, *p)
	}
	return posts, rows.Err()
}

// MarkPostHandled flips a post's handle flag. The flag is monotonic.
func (s *SQLite) MarkPostHandled(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE posts SET handle = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark post handled: %w", err)
	}
	return nil
}

// CreateKeyword inserts a new keyword and populates its ID and CreatedAt.
func (s *SQLite) CreateKeyword(ctx context.Context, kw *model.Keyword) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO keywords (keyword_text, keyword_hash, sub_num, created_at)
		 VALUES (?, ?, ?, ?)`,
		kw.Text, kw.Hash, kw.SubNum, now,
	)
	if err != nil {
		return fmt.Errorf("insert keyword: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	kw.ID = id
	kw.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetKeywordByHash returns a keyword by its dedup hash, or sql.ErrNoRows.
func (s *SQLite) GetKeywordByHash(ctx context.Context, hash string) (*model.Keyword, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, keyword_text, keyword_hash, sub_num, created_at
		 FROM keywords WHERE keyword_hash = ?`, hash,
	)
	return scanKeyword(row)
}

// GetKeywords returns the keywords with the given IDs.
func (s *SQLite) GetKeywords(ctx context.Context, ids []int64) ([]model.Keyword, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(
		`SELECT id, keyword_text, keyword_hash, sub_num, created_at
		 FROM keywords WHERE id IN (%s) ORDER BY id`, placeholders(len(ids)),
	)
	rows, err := s.db.QueryContext(ctx, query, int64Args(ids)...)
	if err != nil {
		return nil, fmt.Errorf("query keywords: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanKeywords(rows)
}

// ListActiveKeywords returns all keywords with at least one active subscriber.
func (s *SQLite) ListActiveKeywords(ctx context.Context) ([]model.Keyword, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, keyword_text, keyword_hash, sub_num, created_at
		 FROM keywords WHERE sub_num > 0 ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query active keywords: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanKeywords(rows)
}

// IncrementSubNum adds one subscriber to each of the given keywords.
func (s *SQLite) IncrementSubNum(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf(
		`UPDATE keywords SET sub_num = sub_num + 1 WHERE id IN (%s)`, placeholders(len(ids)),
	)
	if _, err := s.db.ExecContext(ctx, query, int64Args(ids)...); err != nil {
		return fmt.Errorf("increment sub_num: %w", err)
	}
	return nil
}

// DecrementSubNum removes one subscriber from each of the given keywords,
// never driving sub_num below zero. It returns the number of rows decremented
// so callers can detect counts that were already at the floor.
func (s *SQLite) DecrementSubNum(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := fmt.Sprintf(
		`UPDATE keywords SET sub_num = sub_num - 1 WHERE id IN (%s) AND sub_num > 0`,
		placeholders(len(ids)),
	)
	res, err := s.db.ExecContext(ctx, query, int64Args(ids)...)
	if err != nil {
		return 0, fmt.Errorf("decrement sub_num: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return affected, nil
}

// CreateSubscription inserts a new subscription and populates its ID and timestamps.
func (s *SQLite) CreateSubscription(ctx context.Context, sub *model.Subscription) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (user_id, keyword1_id, keyword2_id, keyword3_id, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sub.UserID, sub.Keyword1ID, sub.Keyword2ID, sub.Keyword3ID, boolToInt(sub.IsActive), now, now,
	)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	sub.ID = id
	sub.CreatedAt, _ = time.Parse(timeLayout, now)
	sub.UpdatedAt = sub.CreatedAt
	return nil
}

// DeleteSubscription removes a subscription permanently.
func (s *SQLite) DeleteSubscription(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return nil
}

// ListActiveSubscriptions returns all active subscriptions ordered by ID.
func (s *SQLite) ListActiveSubscriptions(ctx context.Context) ([]model.Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, keyword1_id, keyword2_id, keyword3_id, is_active, created_at, updated_at
		 FROM subscriptions WHERE is_active = 1 ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query active subscriptions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanSubscriptions(rows)
}

// ListUserSubscriptions returns a user's subscriptions in the given activity
// state, ordered by ID.
func (s *SQLite) ListUserSubscriptions(ctx context.Context, userID int64, active bool) ([]model.Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, keyword1_id, keyword2_id, keyword3_id, is_active, created_at, updated_at
		 FROM subscriptions WHERE user_id = ? AND is_active = ? ORDER BY id`,
		userID, boolToInt(active),
	)
	if err != nil {
		return nil, fmt.Errorf("query user subscriptions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanSubscriptions(rows)
}

// CountActiveSubscriptions returns the number of active subscriptions a user holds.
func (s *SQLite) CountActiveSubscriptions(ctx context.Context, userID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM subscriptions WHERE user_id = ? AND is_active = 1`, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count subscriptions: %w", err)
	}
	return count, nil
}

// SetSubscriptionsActive flips the active flag of the given subscriptions.
func (s *SQLite) SetSubscriptionsActive(ctx context.Context, ids []int64, active bool) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now().UTC().Format(timeLayout)
	query := fmt.Sprintf(
		`UPDATE subscriptions SET is_active = ?, updated_at = ? WHERE id IN (%s)`,
		placeholders(len(ids)),
	)
	args := append([]any{boolToInt(active), now}, int64Args(ids)...)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("set subscriptions active: %w", err)
	}
	return nil
}

// UpsertUser creates a user keyed by chat ID or refreshes an existing user's
// profile fields. The active flag of an existing user is left untouched.
func (s *SQLite) UpsertUser(ctx context.Context, user *model.User) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (chat_id, username, first_name, last_name, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 1, ?, ?)
		 ON CONFLICT(chat_id) DO UPDATE SET
		   username = excluded.username,
		   first_name = excluded.first_name,
		   last_name = excluded.last_name,
		   updated_at = excluded.updated_at`,
		user.ChatID, user.Username, user.FirstName, user.LastName, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}

	saved, err := s.GetUserByChatID(ctx, user.ChatID)
	if err != nil {
		return err
	}
	*user = *saved
	return nil
}

// GetUser returns a single user by its ID.
func (s *SQLite) GetUser(ctx context.Context, id int64) (*model.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, chat_id, username, first_name, last_name, is_active, created_at, updated_at
		 FROM users WHERE id = ?`, id,
	)
	return scanUser(row)
}

// GetUserByChatID returns a single user by its chat ID, or sql.ErrNoRows.
func (s *SQLite) GetUserByChatID(ctx context.Context, chatID int64) (*model.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, chat_id, username, first_name, last_name, is_active, created_at, updated_at
		 FROM users WHERE chat_id = ?`, chatID,
	)
	return scanUser(row)
}

// SetUserActive flips a user's active flag.
func (s *SQLite) SetUserActive(ctx context.Context, id int64, active bool) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET is_active = ?, updated_at = ? WHERE id = ?`,
		boolToInt(active), now, id,
	)
	if err != nil {
		return fmt.Errorf("set user active: %w", err)
	}
	return nil
}

// CreatePushLog appends a dispatch attempt to the audit log.
func (s *SQLite) CreatePushLog(ctx context.Context, entry *model.PushLog) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO push_logs (user_id, chat_id, post_id, sub_id, push_status, error_message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.UserID, entry.ChatID, entry.PostID, entry.SubID, boolToInt(entry.Success), entry.ErrorMessage, now,
	)
	if err != nil {
		return fmt.Errorf("insert push log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	entry.ID = id
	entry.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// ListPushLogs returns the audit entries for a post in insertion order.
// Not part of the Storage interface: the pipeline only ever appends to the
// log; reading it is for audits and tests.
func (s *SQLite) ListPushLogs(ctx context.Context, postID int64) ([]model.PushLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, chat_id, post_id, sub_id, push_status, error_message, created_at
		 FROM push_logs WHERE post_id = ? ORDER BY id`, postID,
	)
	if err != nil {
		return nil, fmt.Errorf("list push logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.PushLog
	for rows.Next() {
		var e model.PushLog
		var status int
		var created sql.NullString
		if err := rows.Scan(&e.ID, &e.UserID, &e.ChatID, &e.PostID, &e.SubID, &status, &e.ErrorMessage, &created); err != nil {
			return nil, fmt.Errorf("scan push log: %w", err)
		}
		e.Success = status == 1
		if created.Valid {
			e.CreatedAt, _ = time.Parse(timeLayout, created.String)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

type scannable interface {
	Scan(dest ...any) error
}

func scanPost(row scannable) (*model.Post, error) {
	var p model.Post
	var handled int
	var created sql.NullString
	err := row.Scan(&p.ID, &p.PID, &p.Title, &p.Desc, &p.FromType, &handled, &created)
	if err != nil {
		return nil, fmt.Errorf("scan post: %w", err)
	}
	p.Handled = handled == 1
	if created.Valid {
		p.CreatedAt, _ = time.Parse(timeLayout, created.String)
	}
	return &p, nil
}

func scanKeyword(row scannable) (*model.Keyword, error) {
	var k model.Keyword
	var created sql.NullString
	err := row.Scan(&k.ID, &k.Text, &k.Hash, &k.SubNum, &created)
	if err != nil {
		return nil, fmt.Errorf("scan keyword: %w", err)
	}
	if created.Valid {
		k.CreatedAt, _ = time.Parse(timeLayout, created.String)
	}
	return &k, nil
}

func scanKeywords(rows *sql.Rows) ([]model.Keyword, error) {
	var kws []model.Keyword
	for rows.Next() {
		k, err := scanKeyword(rows)
		if err != nil {
			return nil, err
		}
		kws = append(kws, *k)
	}
	return kws, rows.Err()
}

func scanSubscription(row scannable) (*model.Subscription, error) {
	var s model.Subscription
	var isActive int
	var created, updated sql.NullString
	err := row.Scan(&s.ID, &s.UserID, &s.Keyword1ID, &s.Keyword2ID, &s.Keyword3ID, &isActive, &created, &updated)
	if err != nil {
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	s.IsActive = isActive == 1
	if created.Valid {
		s.CreatedAt, _ = time.Parse(timeLayout, created.String)
	}
	if updated.Valid {
		s.UpdatedAt, _ = time.Parse(timeLayout, updated.String)
	}
	return &s, nil
}

func scanSubscriptions(rows *sql.Rows) ([]model.Subscription, error) {
	var subs []model.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *s)
	}
	return subs, rows.Err()
}

func scanUser(row scannable) (*model.User, error) {
	var u model.User
	var isActive int
	var created, updated sql.NullString
	err := row.Scan(&u.ID, &u.ChatID, &u.Username, &u.FirstName, &u.LastName, &isActive, &created, &updated)
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.IsActive = isActive == 1
	if created.Valid {
		u.CreatedAt, _ = time.Parse(timeLayout, created.String)
	}
	if updated.Valid {
		u.UpdatedAt, _ = time.Parse(timeLayout, updated.String)
	}
	return &u, nil
}
