package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"peerchat/blob"
	"peerchat/store"
)

// ErrEmptyMessage rejects a send with no text and no attachment before any
// remote call is made.
var ErrEmptyMessage = errors.New("chat: message needs text or an attachment")

// Sender is the outgoing write path: validate, upload the attachment if
// any, persist one message row. It deliberately never splices the sent
// message into the conversation cache; the feed's insert echo is the only
// way a sent message becomes visible, keeping the store the single source
// of truth for what is in the conversation.
type Sender struct {
	store  *store.Store
	bucket *blob.Bucket
	log    zerolog.Logger
}

// NewSender creates a send pipeline over the store and attachment bucket.
func NewSender(st *store.Store, bucket *blob.Bucket, log zerolog.Logger) *Sender {
	return &Sender{store: st, bucket: bucket, log: log}
}

// Send persists one outgoing message. An upload failure aborts the send
// with no partial row written. The call returns once the row is committed;
// visibility follows from the feed echo.
func (s *Sender) Send(ctx context.Context, me, peer, text string, att *blob.Attachment) error {
	if text == "" && att == nil {
		return ErrEmptyMessage
	}

	var fileURL *string
	if att != nil {
		url, err := s.bucket.Upload(att.Name, att.Kind, att.Data)
		if err != nil {
			return fmt.Errorf("upload attachment %q: %w", att.Name, err)
		}
		fileURL = &url
	}

	msg := store.MessageRow{
		SenderID:   me,
		ReceiverID: peer,
		Content:    text,
		FileURL:    fileURL,
	}
	if err := s.store.InsertMessage(ctx, &msg); err != nil {
		return fmt.Errorf("persist message: %w", err)
	}

	s.log.Debug().Str("id", msg.ID).Str("peer", peer).Bool("attachment", att != nil).
		Msg("message persisted, awaiting feed echo")
	return nil
}
