package cache

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/brandon/mailsync/pkg/types"
)

// InsertAttachment inserts an attachment row and returns its id
func (q *Queries) InsertAttachment(ctx context.Context, a *types.Attachment) (int64, error) {
	const query = `
		INSERT INTO attachments (message_id, sequence, name, type, cid, encryption, size, available)
		VALUES (:message_id, :sequence, :name, :type, :cid, :encryption, :size, :available)`
	id, err := q.insert(ctx, query, a)
	if err != nil {
		return 0, fmt.Errorf("failed to insert attachment: %w", err)
	}
	a.ID = id
	return id, nil
}

// GetAttachments returns a message's attachments in sequence order
func (q *Queries) GetAttachments(ctx context.Context, messageID int64) ([]types.Attachment, error) {
	var attachments []types.Attachment
	const query = "SELECT * FROM attachments WHERE message_id = ? ORDER BY sequence"
	if err := sqlx.SelectContext(ctx, q.ext, &attachments, query, messageID); err != nil {
		return nil, fmt.Errorf("failed to get attachments: %w", err)
	}
	return attachments, nil
}

// GetAttachment returns the attachment with the given sequence, or nil
func (q *Queries) GetAttachment(ctx context.Context, messageID int64, sequence int) (*types.Attachment, error) {
	var a types.Attachment
	found, err := q.get(ctx, &a, "SELECT * FROM attachments WHERE message_id = ? AND sequence = ?", messageID, sequence)
	if err != nil {
		return nil, fmt.Errorf("failed to get attachment: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &a, nil
}

// SetAttachmentAvailable records that an attachment's content is cached
func (q *Queries) SetAttachmentAvailable(ctx context.Context, id int64, size int64) error {
	const query = "UPDATE attachments SET available = 1, size = ? WHERE id = ?"
	if _, err := q.exec(ctx, query, size, id); err != nil {
		return fmt.Errorf("failed to set attachment available: %w", err)
	}
	return nil
}
