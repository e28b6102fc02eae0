package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/brandon/mailsync/pkg/types"
)

// ListFoldersTool lists the cached folders and their synchronization state
type ListFoldersTool struct {
	Deps
}

// Name returns the tool name
func (t *ListFoldersTool) Name() string {
	return "list_folders"
}

// Description returns the tool description
func (t *ListFoldersTool) Description() string {
	return "List the folders of configured email accounts with their synchronization state"
}

// InputSchema returns the JSON schema for tool inputs
func (t *ListFoldersTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account_name": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Specific account name, or all accounts if omitted",
			},
		},
	}
}

// Execute executes the tool
func (t *ListFoldersTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	q := t.Store.Q()

	var accounts []types.Account
	if name := stringParam(params, "account_name"); name != "" {
		account, err := lookupAccount(ctx, q, name)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *account)
	} else {
		var err error
		if accounts, err = q.ListAccounts(ctx); err != nil {
			return nil, fmt.Errorf("failed to list accounts: %w", err)
		}
	}

	result := []map[string]interface{}{}
	for _, account := range accounts {
		folders, err := q.ListFolders(ctx, account.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list folders: %w", err)
		}
		for _, folder := range folders {
			messages, err := q.CountMessages(ctx, folder.ID)
			if err != nil {
				return nil, err
			}
			pending, err := q.CountOperations(ctx, folder.ID)
			if err != nil {
				return nil, err
			}

			entry := map[string]interface{}{
				"id":                 folder.ID,
				"account_name":       account.Name,
				"name":               folder.Name,
				"type":               folder.Type,
				"synchronize":        folder.Synchronize,
				"message_count":      messages,
				"pending_operations": pending,
			}
			if folder.Display != nil {
				entry["display"] = *folder.Display
			}
			if folder.SyncState != nil {
				entry["sync_state"] = *folder.SyncState
			}
			if folder.Error != nil {
				entry["error"] = *folder.Error
			}
			if folder.LastSyncAt != nil {
				at := time.UnixMilli(*folder.LastSyncAt)
				entry["last_synced"] = at.UTC().Format(time.RFC3339)
				entry["last_synced_ago"] = humanize.Time(at)
			}
			result = append(result, entry)
		}
	}
	return result, nil
}
