package cache

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/brandon/mailsync/pkg/types"
)

// Flag names a protocol flag that has a shadow ui_ column
type Flag string

// Flags with shadow columns
const (
	FlagSeen     Flag = "seen"
	FlagAnswered Flag = "answered"
	FlagFlagged  Flag = "flagged"
)

const messageColumns = `
	account_id, folder_id, identity_id, uid, msgid, refs, in_reply_to, delivered_to, thread_id,
	from_addrs, to_addrs, cc_addrs, bcc_addrs, reply_addrs, subject, size, sent_at, received_at,
	seen, answered, flagged, flags, keywords, headers, content, raw, preview, avatar, warning, error,
	ui_seen, ui_answered, ui_flagged, ui_hide, ui_found, ui_ignored, ui_browsed`

const messageValues = `
	:account_id, :folder_id, :identity_id, :uid, :msgid, :refs, :in_reply_to, :delivered_to, :thread_id,
	:from_addrs, :to_addrs, :cc_addrs, :bcc_addrs, :reply_addrs, :subject, :size, :sent_at, :received_at,
	:seen, :answered, :flagged, :flags, :keywords, :headers, :content, :raw, :preview, :avatar, :warning, :error,
	:ui_seen, :ui_answered, :ui_flagged, :ui_hide, :ui_found, :ui_ignored, :ui_browsed`

// InsertMessage inserts a message and returns its id
func (q *Queries) InsertMessage(ctx context.Context, m *types.Message) (int64, error) {
	query := "INSERT INTO messages (" + messageColumns + ") VALUES (" + messageValues + ")"
	id, err := q.insert(ctx, query, m)
	if err != nil {
		return 0, fmt.Errorf("failed to insert message: %w", err)
	}
	m.ID = id
	return id, nil
}

// UpdateMessage writes every column of an existing message
func (q *Queries) UpdateMessage(ctx context.Context, m *types.Message) error {
	const query = `
		UPDATE messages SET
			account_id = :account_id, folder_id = :folder_id, identity_id = :identity_id, uid = :uid,
			msgid = :msgid, refs = :refs, in_reply_to = :in_reply_to, delivered_to = :delivered_to,
			thread_id = :thread_id, from_addrs = :from_addrs, to_addrs = :to_addrs, cc_addrs = :cc_addrs,
			bcc_addrs = :bcc_addrs, reply_addrs = :reply_addrs, subject = :subject, size = :size,
			sent_at = :sent_at, received_at = :received_at, seen = :seen, answered = :answered,
			flagged = :flagged, flags = :flags, keywords = :keywords, headers = :headers,
			content = :content, raw = :raw, preview = :preview, avatar = :avatar, warning = :warning,
			error = :error, ui_seen = :ui_seen, ui_answered = :ui_answered, ui_flagged = :ui_flagged,
			ui_hide = :ui_hide, ui_found = :ui_found, ui_ignored = :ui_ignored, ui_browsed = :ui_browsed
		WHERE id = :id`
	if _, err := sqlx.NamedExecContext(ctx, q.ext, query, m); err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}
	return nil
}

// GetMessage returns a message by id, or nil when it does not exist
func (q *Queries) GetMessage(ctx context.Context, id int64) (*types.Message, error) {
	var m types.Message
	found, err := q.get(ctx, &m, "SELECT * FROM messages WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &m, nil
}

// GetMessageByUID returns the folder's message with the given uid, or nil
func (q *Queries) GetMessageByUID(ctx context.Context, folderID int64, uid uint32) (*types.Message, error) {
	var m types.Message
	found, err := q.get(ctx, &m, "SELECT * FROM messages WHERE folder_id = ? AND uid = ?", folderID, uid)
	if err != nil {
		return nil, fmt.Errorf("failed to get message by uid: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &m, nil
}

// GetMessagesByMsgID returns every message of the account carrying the Message-ID
func (q *Queries) GetMessagesByMsgID(ctx context.Context, accountID int64, msgid string) ([]types.Message, error) {
	var messages []types.Message
	const query = "SELECT * FROM messages WHERE account_id = ? AND msgid = ? ORDER BY id"
	if err := sqlx.SelectContext(ctx, q.ext, &messages, query, accountID, msgid); err != nil {
		return nil, fmt.Errorf("failed to get messages by Message-ID: %w", err)
	}
	return messages, nil
}

// GetUIDs returns the uids cached for a folder
func (q *Queries) GetUIDs(ctx context.Context, folderID int64) ([]uint32, error) {
	var uids []uint32
	const query = "SELECT uid FROM messages WHERE folder_id = ? AND uid IS NOT NULL ORDER BY uid"
	if err := sqlx.SelectContext(ctx, q.ext, &uids, query, folderID); err != nil {
		return nil, fmt.Errorf("failed to get uids: %w", err)
	}
	return uids, nil
}

// CountMessages returns the number of messages cached for a folder
func (q *Queries) CountMessages(ctx context.Context, folderID int64) (int, error) {
	var n int
	if _, err := q.get(ctx, &n, "SELECT COUNT(*) FROM messages WHERE folder_id = ?", folderID); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

// DeleteMessage removes a message
func (q *Queries) DeleteMessage(ctx context.Context, id int64) error {
	if _, err := q.exec(ctx, "DELETE FROM messages WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// GetMessagesBefore returns the confirmed messages received before the given
// time, leaving out the ones the user has flagged
func (q *Queries) GetMessagesBefore(ctx context.Context, folderID int64, before int64) ([]int64, error) {
	var ids []int64
	const query = `
		SELECT id FROM messages
		WHERE folder_id = ? AND received_at < ? AND uid IS NOT NULL AND ui_flagged = 0
		ORDER BY id`
	if err := sqlx.SelectContext(ctx, q.ext, &ids, query, folderID, before); err != nil {
		return nil, fmt.Errorf("failed to get old messages: %w", err)
	}
	return ids, nil
}

// GetOrphans returns the messages that have no uid and no queued operation
func (q *Queries) GetOrphans(ctx context.Context, folderID int64) ([]int64, error) {
	var ids []int64
	const query = `
		SELECT id FROM messages
		WHERE folder_id = ? AND uid IS NULL
		AND NOT EXISTS (SELECT 1 FROM operations o WHERE o.message_id = messages.id)
		ORDER BY id`
	if err := sqlx.SelectContext(ctx, q.ext, &ids, query, folderID); err != nil {
		return nil, fmt.Errorf("failed to get orphans: %w", err)
	}
	return ids, nil
}

// GetSentOrphans returns sent messages still parked in the account's outbox
func (q *Queries) GetSentOrphans(ctx context.Context, accountID int64) ([]types.Message, error) {
	const query = `
		SELECT m.* FROM messages m
		JOIN folders f ON f.id = m.folder_id
		WHERE m.account_id = ? AND f.type = ? AND m.sent_at IS NOT NULL AND m.uid IS NULL
		ORDER BY m.id`
	var messages []types.Message
	if err := sqlx.SelectContext(ctx, q.ext, &messages, query, accountID, types.FolderOutbox); err != nil {
		return nil, fmt.Errorf("failed to get sent orphans: %w", err)
	}
	return messages, nil
}

// SetMessageFlag sets the protocol value of a flag, leaving its shadow alone
func (q *Queries) SetMessageFlag(ctx context.Context, id int64, flag Flag, value bool) error {
	column, err := flagColumn(flag)
	if err != nil {
		return err
	}
	if _, err := q.exec(ctx, "UPDATE messages SET "+column+" = ? WHERE id = ?", value, id); err != nil {
		return fmt.Errorf("failed to set message %s: %w", flag, err)
	}
	return nil
}

// ClearMessageFlag resets a flag and its shadow to false
func (q *Queries) ClearMessageFlag(ctx context.Context, id int64, flag Flag) error {
	column, err := flagColumn(flag)
	if err != nil {
		return err
	}
	query := "UPDATE messages SET " + column + " = 0, ui_" + column + " = 0 WHERE id = ?"
	if _, err := q.exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to clear message %s: %w", flag, err)
	}
	return nil
}

func flagColumn(flag Flag) (string, error) {
	switch flag {
	case FlagSeen, FlagAnswered, FlagFlagged:
		return string(flag), nil
	}
	return "", fmt.Errorf("unknown message flag %q", flag)
}

// SetMessageKeywords replaces the message keywords
func (q *Queries) SetMessageKeywords(ctx context.Context, id int64, keywords types.StringList) error {
	if _, err := q.exec(ctx, "UPDATE messages SET keywords = ? WHERE id = ?", keywords, id); err != nil {
		return fmt.Errorf("failed to set message keywords: %w", err)
	}
	return nil
}

// SetMessageUID assigns the server uid of a message
func (q *Queries) SetMessageUID(ctx context.Context, id int64, uid uint32) error {
	if _, err := q.exec(ctx, "UPDATE messages SET uid = ? WHERE id = ?", uid, id); err != nil {
		return fmt.Errorf("failed to set message uid: %w", err)
	}
	return nil
}

// SetMessageError records a message error; nil clears it
func (q *Queries) SetMessageError(ctx context.Context, id int64, msg *string) error {
	if _, err := q.exec(ctx, "UPDATE messages SET error = ? WHERE id = ?", msg, id); err != nil {
		return fmt.Errorf("failed to set message error: %w", err)
	}
	return nil
}

// SetMessageUIHide hides or reveals a message while a mutation is in flight
func (q *Queries) SetMessageUIHide(ctx context.Context, id int64, hide bool) error {
	if _, err := q.exec(ctx, "UPDATE messages SET ui_hide = ? WHERE id = ?", hide, id); err != nil {
		return fmt.Errorf("failed to set message visibility: %w", err)
	}
	return nil
}

// SetMessageContent records whether the body is cached and its preview
func (q *Queries) SetMessageContent(ctx context.Context, id int64, content bool, preview *string) error {
	const query = "UPDATE messages SET content = ?, preview = ? WHERE id = ?"
	if _, err := q.exec(ctx, query, content, preview, id); err != nil {
		return fmt.Errorf("failed to set message content: %w", err)
	}
	return nil
}

// SetMessageWarning records a message warning; nil clears it
func (q *Queries) SetMessageWarning(ctx context.Context, id int64, warning *string) error {
	if _, err := q.exec(ctx, "UPDATE messages SET warning = ? WHERE id = ?", warning, id); err != nil {
		return fmt.Errorf("failed to set message warning: %w", err)
	}
	return nil
}

// SetMessageHeaders stores the raw header block
func (q *Queries) SetMessageHeaders(ctx context.Context, id int64, headers *string) error {
	if _, err := q.exec(ctx, "UPDATE messages SET headers = ? WHERE id = ?", headers, id); err != nil {
		return fmt.Errorf("failed to set message headers: %w", err)
	}
	return nil
}

// SetMessageRaw records whether the full source is cached
func (q *Queries) SetMessageRaw(ctx context.Context, id int64, raw bool) error {
	if _, err := q.exec(ctx, "UPDATE messages SET raw = ? WHERE id = ?", raw, id); err != nil {
		return fmt.Errorf("failed to set message raw: %w", err)
	}
	return nil
}

// SetMessageFolder moves a cached message to another folder
func (q *Queries) SetMessageFolder(ctx context.Context, id int64, folderID int64) error {
	if _, err := q.exec(ctx, "UPDATE messages SET folder_id = ? WHERE id = ?", folderID, id); err != nil {
		return fmt.Errorf("failed to set message folder: %w", err)
	}
	return nil
}

// SetMessageSent records when a message was submitted
func (q *Queries) SetMessageSent(ctx context.Context, id int64, at int64) error {
	if _, err := q.exec(ctx, "UPDATE messages SET sent_at = ? WHERE id = ?", at, id); err != nil {
		return fmt.Errorf("failed to set message sent: %w", err)
	}
	return nil
}
