package cache

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/brandon/mailsync/pkg/types"
)

// InsertFolder inserts a folder and returns its id
func (q *Queries) InsertFolder(ctx context.Context, f *types.Folder) (int64, error) {
	const query = `
		INSERT INTO folders (
			account_id, name, display, type, level, synchronize, poll, download,
			sync_days, keep_days, sync_state, keywords, tbc, tbd, initialized, last_sync_at, error
		) VALUES (
			:account_id, :name, :display, :type, :level, :synchronize, :poll, :download,
			:sync_days, :keep_days, :sync_state, :keywords, :tbc, :tbd, :initialized, :last_sync_at, :error
		)`
	id, err := q.insert(ctx, query, f)
	if err != nil {
		return 0, fmt.Errorf("failed to insert folder: %w", err)
	}
	f.ID = id
	return id, nil
}

// GetFolder returns a folder by id, or nil when it does not exist
func (q *Queries) GetFolder(ctx context.Context, id int64) (*types.Folder, error) {
	var f types.Folder
	found, err := q.get(ctx, &f, "SELECT * FROM folders WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to get folder: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &f, nil
}

// GetFolderByName returns the account's folder with the given remote name
func (q *Queries) GetFolderByName(ctx context.Context, accountID int64, name string) (*types.Folder, error) {
	var f types.Folder
	found, err := q.get(ctx, &f, "SELECT * FROM folders WHERE account_id = ? AND name = ?", accountID, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get folder: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &f, nil
}

// GetFolderByType returns the account's first folder of the given type
func (q *Queries) GetFolderByType(ctx context.Context, accountID int64, folderType string) (*types.Folder, error) {
	var f types.Folder
	found, err := q.get(ctx, &f, "SELECT * FROM folders WHERE account_id = ? AND type = ? ORDER BY id LIMIT 1", accountID, folderType)
	if err != nil {
		return nil, fmt.Errorf("failed to get folder: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &f, nil
}

// ListFolders lists the folders of an account
func (q *Queries) ListFolders(ctx context.Context, accountID int64) ([]types.Folder, error) {
	var folders []types.Folder
	err := sqlx.SelectContext(ctx, q.ext, &folders, "SELECT * FROM folders WHERE account_id = ? ORDER BY name", accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	return folders, nil
}

// DeleteFolder removes a folder with its messages and operations
func (q *Queries) DeleteFolder(ctx context.Context, id int64) error {
	if _, err := q.exec(ctx, "DELETE FROM folders WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete folder: %w", err)
	}
	return nil
}

// SetFolderSyncState records the transient sync state; nil clears it
func (q *Queries) SetFolderSyncState(ctx context.Context, id int64, state *string) error {
	if _, err := q.exec(ctx, "UPDATE folders SET sync_state = ? WHERE id = ?", state, id); err != nil {
		return fmt.Errorf("failed to set folder sync state: %w", err)
	}
	return nil
}

// SetFolderError records a folder level error; nil clears it
func (q *Queries) SetFolderError(ctx context.Context, id int64, msg *string) error {
	if _, err := q.exec(ctx, "UPDATE folders SET error = ? WHERE id = ?", msg, id); err != nil {
		return fmt.Errorf("failed to set folder error: %w", err)
	}
	return nil
}

// SetFolderSynchronized records the sync time and clears the folder error.
// A complete pass also marks the folder initialized.
func (q *Queries) SetFolderSynchronized(ctx context.Context, id int64, at int64, complete bool) error {
	const query = "UPDATE folders SET initialized = (initialized OR ?), last_sync_at = ?, error = NULL WHERE id = ?"
	if _, err := q.exec(ctx, query, complete, at, id); err != nil {
		return fmt.Errorf("failed to mark folder synchronized: %w", err)
	}
	return nil
}

// SetFolderKeywords replaces the folder's known keyword set
func (q *Queries) SetFolderKeywords(ctx context.Context, id int64, keywords types.StringList) error {
	if _, err := q.exec(ctx, "UPDATE folders SET keywords = ? WHERE id = ?", keywords, id); err != nil {
		return fmt.Errorf("failed to set folder keywords: %w", err)
	}
	return nil
}

// SetFolderProperties updates what a folder listing reports about a folder
func (q *Queries) SetFolderProperties(ctx context.Context, id int64, display *string, folderType string, level int) error {
	const query = "UPDATE folders SET display = ?, type = ?, level = ? WHERE id = ?"
	if _, err := q.exec(ctx, query, display, folderType, level, id); err != nil {
		return fmt.Errorf("failed to set folder properties: %w", err)
	}
	return nil
}

// ResetFolderTBC clears the pending-create marker
func (q *Queries) ResetFolderTBC(ctx context.Context, id int64) error {
	if _, err := q.exec(ctx, "UPDATE folders SET tbc = 0 WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to reset folder create marker: %w", err)
	}
	return nil
}
