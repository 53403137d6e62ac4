package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// InsertMessage commits one message row and emits an Insert feed event.
// Missing id and created_at are assigned; the row is updated in place.
func (s *Store) InsertMessage(ctx context.Context, msg *MessageRow) error {
	if msg.SenderID == "" {
		return errors.New("sender_id is required")
	}
	if msg.ReceiverID == "" {
		return errors.New("receiver_id is required")
	}
	if msg.Content == "" && msg.FileURL == nil {
		return ErrEmptyContent
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt == 0 {
		msg.CreatedAt = nowUnixMilli()
	}

	seen := 0
	if msg.Seen {
		seen = 1
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (
			id,
			sender_id,
			receiver_id,
			content,
			created_at,
			seen,
			seen_at,
			file_url
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID,
		msg.SenderID,
		msg.ReceiverID,
		msg.Content,
		msg.CreatedAt,
		seen,
		nullInt64(msg.SeenAt),
		nullString(msg.FileURL),
	)
	if err != nil {
		return fmt.Errorf("insert message %q: %w", msg.ID, err)
	}

	row := *msg
	s.feed.publish(RowEvent{Op: OpInsert, Table: TableMessages, Message: &row})
	return nil
}

// QueryConversation returns every message between the unordered pair
// (me, peer), ascending by creation time, each annotated with the
// receiver's presence at fetch time.
func (s *Store) QueryConversation(ctx context.Context, me, peer string) ([]ConversationRow, error) {
	if me == "" || peer == "" {
		return nil, errors.New("both conversation participants are required")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT
			m.id,
			m.sender_id,
			m.receiver_id,
			m.content,
			m.created_at,
			m.seen,
			m.seen_at,
			m.file_url,
			COALESCE(u.is_online, 0)
		FROM messages m
		LEFT JOIN users u ON u.id = m.receiver_id
		WHERE (m.sender_id = ? AND m.receiver_id = ?)
		   OR (m.sender_id = ? AND m.receiver_id = ?)
		ORDER BY m.created_at ASC, m.id ASC`,
		me, peer,
		peer, me,
	)
	if err != nil {
		return nil, fmt.Errorf("query conversation %q/%q: %w", me, peer, err)
	}
	defer rows.Close()

	conversation := make([]ConversationRow, 0)
	for rows.Next() {
		var (
			row     ConversationRow
			seen    int
			seenAt  sql.NullInt64
			fileURL sql.NullString
			online  int
		)
		if err := rows.Scan(
			&row.ID,
			&row.SenderID,
			&row.ReceiverID,
			&row.Content,
			&row.CreatedAt,
			&seen,
			&seenAt,
			&fileURL,
			&online,
		); err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		row.Seen = seen == 1
		row.SeenAt = int64Ptr(seenAt)
		row.FileURL = stringPtr(fileURL)
		row.ReceiverOnline = online == 1
		conversation = append(conversation, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation rows: %w", err)
	}

	return conversation, nil
}

// GetMessageByID fetches one message row.
func (s *Store) GetMessageByID(ctx context.Context, id string) (*MessageRow, error) {
	if id == "" {
		return nil, errors.New("message id is required")
	}

	var (
		msg     MessageRow
		seen    int
		seenAt  sql.NullInt64
		fileURL sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, sender_id, receiver_id, content, created_at, seen, seen_at, file_url
		FROM messages
		WHERE id = ?`,
		id,
	).Scan(&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Content, &msg.CreatedAt, &seen, &seenAt, &fileURL)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get message %q: %w", id, err)
	}

	msg.Seen = seen == 1
	msg.SeenAt = int64Ptr(seenAt)
	msg.FileURL = stringPtr(fileURL)
	return &msg, nil
}

// MarkConversationSeen flips seen false→true with seen_at for every message
// from peer to me that is still unseen, emitting one Update feed event per
// touched row. Running it again is a no-op. Returns the number of rows
// updated.
func (s *Store) MarkConversationSeen(ctx context.Context, me, peer string, at int64) (int64, error) {
	if me == "" || peer == "" {
		return 0, errors.New("both conversation participants are required")
	}
	if at == 0 {
		at = nowUnixMilli()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin mark-seen transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	rows, err := tx.QueryContext(ctx,
		`SELECT id, sender_id, receiver_id, content, created_at, file_url
		FROM messages
		WHERE sender_id = ? AND receiver_id = ? AND seen = 0`,
		peer, me,
	)
	if err != nil {
		return 0, fmt.Errorf("query unseen rows %q/%q: %w", peer, me, err)
	}

	var touched []MessageRow
	for rows.Next() {
		var (
			msg     MessageRow
			fileURL sql.NullString
		)
		if err := rows.Scan(&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Content, &msg.CreatedAt, &fileURL); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan unseen row: %w", err)
		}
		msg.FileURL = stringPtr(fileURL)
		msg.Seen = true
		seenAt := at
		msg.SeenAt = &seenAt
		touched = append(touched, msg)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("iterate unseen rows: %w", err)
	}
	rows.Close()

	if len(touched) == 0 {
		return 0, nil
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE messages
		SET seen = 1, seen_at = ?
		WHERE sender_id = ? AND receiver_id = ? AND seen = 0`,
		at, peer, me,
	)
	if err != nil {
		return 0, fmt.Errorf("mark conversation seen %q/%q: %w", peer, me, err)
	}
	updated, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read rows affected for mark seen: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit mark-seen transaction: %w", err)
	}

	for i := range touched {
		s.feed.publish(RowEvent{Op: OpUpdate, Table: TableMessages, Message: &touched[i]})
	}

	return updated, nil
}

// UnseenCounts groups the unseen messages addressed to me by sender.
func (s *Store) UnseenCounts(ctx context.Context, me string) (map[string]int, error) {
	if me == "" {
		return nil, errors.New("user id is required")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT sender_id, COUNT(*)
		FROM messages
		WHERE receiver_id = ? AND seen = 0
		GROUP BY sender_id`,
		me,
	)
	if err != nil {
		return nil, fmt.Errorf("query unseen counts for %q: %w", me, err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			sender string
			count  int
		)
		if err := rows.Scan(&sender, &count); err != nil {
			return nil, fmt.Errorf("scan unseen count row: %w", err)
		}
		counts[sender] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unseen count rows: %w", err)
	}

	return counts, nil
}
