package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// UpsertUser inserts a user row or refreshes its profile fields, emitting an
// Insert feed event on first insert and an Update event otherwise. Presence
// fields are owned by SetPresence and left untouched on conflict.
func (s *Store) UpsertUser(ctx context.Context, user UserRow) error {
	if user.ID == "" {
		return errors.New("user id is required")
	}
	if user.Username == "" {
		return errors.New("username is required")
	}

	online := 0
	if user.IsOnline {
		online = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Classify insert-vs-update and capture the presence snapshot inside
	// the same transaction as the write, so the emitted event can never
	// carry state another writer already replaced.
	var (
		found      bool
		wasOnline  int
		lastSeenAt sql.NullInt64
	)
	err = tx.QueryRowContext(ctx,
		`SELECT is_online, last_seen FROM users WHERE id = ?`,
		user.ID,
	).Scan(&wasOnline, &lastSeenAt)
	switch {
	case err == nil:
		found = true
	case errors.Is(err, sql.ErrNoRows):
	default:
		return fmt.Errorf("get user %q: %w", user.ID, err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, username, avatar_url, is_online, last_seen)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			avatar_url = excluded.avatar_url`,
		user.ID,
		user.Username,
		user.AvatarURL,
		online,
		nullInt64(user.LastSeen),
	)
	if err != nil {
		return fmt.Errorf("upsert user %q: %w", user.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert transaction: %w", err)
	}

	op := OpInsert
	if found {
		op = OpUpdate
		user.IsOnline = wasOnline == 1
		user.LastSeen = int64Ptr(lastSeenAt)
	}
	row := user
	s.feed.publish(RowEvent{Op: op, Table: TableUsers, User: &row})
	return nil
}

// GetUser fetches one user row by id.
func (s *Store) GetUser(ctx context.Context, id string) (*UserRow, error) {
	if id == "" {
		return nil, errors.New("user id is required")
	}

	var (
		user     UserRow
		online   int
		lastSeen sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, avatar_url, is_online, last_seen
		FROM users
		WHERE id = ?`,
		id,
	).Scan(&user.ID, &user.Username, &user.AvatarURL, &online, &lastSeen)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user %q: %w", id, err)
	}

	user.IsOnline = online == 1
	user.LastSeen = int64Ptr(lastSeen)
	return &user, nil
}

// ListUsersExcluding returns every user except the given one, ordered by
// username. This backs the peer-list view.
func (s *Store) ListUsersExcluding(ctx context.Context, id string) ([]UserRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, avatar_url, is_online, last_seen
		FROM users
		WHERE id <> ?
		ORDER BY username, id`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("list users excluding %q: %w", id, err)
	}
	defer rows.Close()

	users := make([]UserRow, 0)
	for rows.Next() {
		var (
			user     UserRow
			online   int
			lastSeen sql.NullInt64
		)
		if err := rows.Scan(&user.ID, &user.Username, &user.AvatarURL, &online, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan user row: %w", err)
		}
		user.IsOnline = online == 1
		user.LastSeen = int64Ptr(lastSeen)
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user rows: %w", err)
	}

	return users, nil
}

// SetPresence writes a user's online flag and last-seen timestamp, emitting
// an Update feed event with the full refreshed row.
func (s *Store) SetPresence(ctx context.Context, id string, online bool, at int64) error {
	if id == "" {
		return errors.New("user id is required")
	}
	if at == 0 {
		at = nowUnixMilli()
	}

	flag := 0
	if online {
		flag = 1
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE users
		SET is_online = ?, last_seen = ?
		WHERE id = ?`,
		flag, at, id,
	)
	if err != nil {
		return fmt.Errorf("set presence for %q: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for set presence %q: %w", id, err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	user, err := s.GetUser(ctx, id)
	if err != nil {
		return fmt.Errorf("reload user %q after presence write: %w", id, err)
	}

	s.feed.publish(RowEvent{Op: OpUpdate, Table: TableUsers, User: user})
	return nil
}
