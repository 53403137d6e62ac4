package store

import (
	"database/sql"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = errors.New("store: record not found")
	// ErrEmptyContent indicates a message with neither text nor a file reference.
	ErrEmptyContent = errors.New("store: message content and file_url are both empty")
)

// MessageRow is one row of the messages relation.
type MessageRow struct {
	ID         string  `json:"id"`
	SenderID   string  `json:"sender_id"`
	ReceiverID string  `json:"receiver_id"`
	Content    string  `json:"content"`
	CreatedAt  int64   `json:"created_at"`
	Seen       bool    `json:"seen"`
	SeenAt     *int64  `json:"seen_at"`
	FileURL    *string `json:"file_url"`
}

// UserRow is one row of the users relation.
type UserRow struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url"`
	IsOnline  bool   `json:"is_online"`
	LastSeen  *int64 `json:"last_seen"`
}

// ConversationRow is a message annotated with the receiver's presence at the
// moment the row was fetched. The annotation is derived, never persisted.
type ConversationRow struct {
	MessageRow
	ReceiverOnline bool `json:"receiver_online"`
}

func nullString(ptr *string) sql.NullString {
	if ptr == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *ptr, Valid: true}
}

func nullInt64(ptr *int64) sql.NullInt64 {
	if ptr == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *ptr, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func int64Ptr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}
