package cache

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/brandon/mailsync/pkg/types"
)

// GetOperations returns the folder's pending operations in creation order
func (q *Queries) GetOperations(ctx context.Context, folderID int64) ([]types.Operation, error) {
	var ops []types.Operation
	const query = "SELECT * FROM operations WHERE folder_id = ? ORDER BY id"
	if err := sqlx.SelectContext(ctx, q.ext, &ops, query, folderID); err != nil {
		return nil, fmt.Errorf("failed to get operations: %w", err)
	}
	return ops, nil
}

// InsertOperation inserts an operation and returns its id
func (q *Queries) InsertOperation(ctx context.Context, op *types.Operation) (int64, error) {
	if op.CreatedAt == 0 {
		op.CreatedAt = Now()
	}
	const query = `
		INSERT INTO operations (folder_id, message_id, kind, args, created_at, error)
		VALUES (:folder_id, :message_id, :kind, :args, :created_at, :error)`
	id, err := q.insert(ctx, query, op)
	if err != nil {
		return 0, fmt.Errorf("failed to insert operation: %w", err)
	}
	op.ID = id
	return id, nil
}

// QueueOperation encodes args and appends an operation to the folder's queue
func (q *Queries) QueueOperation(ctx context.Context, folderID int64, messageID *int64, args types.OperationArgs) (int64, error) {
	encoded, err := types.EncodeArgs(args)
	if err != nil {
		return 0, err
	}
	return q.InsertOperation(ctx, &types.Operation{
		FolderID:  folderID,
		MessageID: messageID,
		Kind:      args.Kind(),
		Args:      encoded,
	})
}

// DeleteOperation removes an operation
func (q *Queries) DeleteOperation(ctx context.Context, id int64) error {
	if _, err := q.exec(ctx, "DELETE FROM operations WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete operation: %w", err)
	}
	return nil
}

// SetOperationError records an operation error; nil clears it
func (q *Queries) SetOperationError(ctx context.Context, id int64, msg *string) error {
	if _, err := q.exec(ctx, "UPDATE operations SET error = ? WHERE id = ?", msg, id); err != nil {
		return fmt.Errorf("failed to set operation error: %w", err)
	}
	return nil
}

// CountMessageOperations returns the number of operations queued against a message
func (q *Queries) CountMessageOperations(ctx context.Context, messageID int64) (int, error) {
	var n int
	if _, err := q.get(ctx, &n, "SELECT COUNT(*) FROM operations WHERE message_id = ?", messageID); err != nil {
		return 0, fmt.Errorf("failed to count operations: %w", err)
	}
	return n, nil
}

// CountOperations returns the number of operations queued for a folder
func (q *Queries) CountOperations(ctx context.Context, folderID int64) (int, error) {
	var n int
	if _, err := q.get(ctx, &n, "SELECT COUNT(*) FROM operations WHERE folder_id = ?", folderID); err != nil {
		return 0, fmt.Errorf("failed to count operations: %w", err)
	}
	return n, nil
}

// CountOperationsOfKind returns the number of operations of one kind queued for a folder
func (q *Queries) CountOperationsOfKind(ctx context.Context, folderID int64, kind types.OperationKind) (int, error) {
	var n int
	const query = "SELECT COUNT(*) FROM operations WHERE folder_id = ? AND kind = ?"
	if _, err := q.get(ctx, &n, query, folderID, kind); err != nil {
		return 0, fmt.Errorf("failed to count operations: %w", err)
	}
	return n, nil
}
