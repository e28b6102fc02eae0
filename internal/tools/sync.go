package tools

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
)

// SyncTool asks an account worker to synchronize now
type SyncTool struct {
	Deps
}

func (t *SyncTool) Name() string {
	return "sync_account"
}

func (t *SyncTool) Description() string {
	return "Synchronize one folder, or every synchronized folder, of an account now"
}

func (t *SyncTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account_name": map[string]interface{}{
				"type":        "string",
				"description": "Account to synchronize",
			},
			"folder": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Folder name, or all synchronized folders if omitted",
			},
			"reconnect": map[string]interface{}{
				"type":        "boolean",
				"description": "Optional: Drop the current server connection first",
			},
		},
		"required": []string{"account_name"},
	}
}

func (t *SyncTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	accountName := stringParam(params, "account_name")
	if accountName == "" {
		return nil, fmt.Errorf("account_name is required")
	}
	if t.Syncer == nil {
		return nil, fmt.Errorf("synchronization is not running")
	}
	if err := t.Syncer.SyncAccount(ctx, accountName, stringParam(params, "folder")); err != nil {
		return nil, fmt.Errorf("failed to sync account: %w", err)
	}
	if reconnect, _ := params["reconnect"].(bool); reconnect {
		if err := t.Syncer.Reconnect(accountName); err != nil {
			return nil, fmt.Errorf("failed to reconnect: %w", err)
		}
	}
	return map[string]interface{}{
		"success": true,
		"message": fmt.Sprintf("Synchronization of %s queued", accountName),
	}, nil
}

// NotificationsTool lists the errors recently surfaced to the user
type NotificationsTool struct {
	Deps
}

func (t *NotificationsTool) Name() string {
	return "list_notifications"
}

func (t *NotificationsTool) Description() string {
	return "List recent send failures, server alerts and synchronization errors"
}

func (t *NotificationsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

func (t *NotificationsTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	notes := t.Notifications.Recent()
	result := make([]map[string]interface{}, len(notes))
	for i, note := range notes {
		result[i] = map[string]interface{}{
			"title":   note.Title,
			"account": note.Account,
			"folder":  note.Folder,
			"message": note.Message,
			"when":    humanize.Time(note.At),
		}
	}
	return result, nil
}
