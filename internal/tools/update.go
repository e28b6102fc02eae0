package tools

import (
	"context"
	"fmt"

	"github.com/brandon/mailsync/internal/cache"
	"github.com/brandon/mailsync/pkg/types"
)

// UpdateEmailTool changes an email locally and queues the change for the server
type UpdateEmailTool struct {
	Deps
}

// Name returns the tool name
func (t *UpdateEmailTool) Name() string {
	return "update_email"
}

// Description returns the tool description
func (t *UpdateEmailTool) Description() string {
	return "Mark an email seen/unseen, flag/unflag it, add a keyword, move it to another folder or delete it"
}

// InputSchema returns the JSON schema for tool inputs
func (t *UpdateEmailTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"email_id": map[string]interface{}{
				"type":        "integer",
				"description": "Email ID (from search results)",
			},
			"action": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"seen", "unseen", "flag", "unflag", "keyword", "move", "delete"},
				"description": "Change to apply",
			},
			"keyword": map[string]interface{}{
				"type":        "string",
				"description": "Keyword to add, for the keyword action",
			},
			"folder": map[string]interface{}{
				"type":        "string",
				"description": "Target folder name, for the move action",
			},
		},
		"required": []string{"email_id", "action"},
	}
}

// Execute executes the tool
func (t *UpdateEmailTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	emailID, ok, err := intParam(params, "email_id")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("email_id is required")
	}
	action := stringParam(params, "action")

	var account *types.Account
	err = t.Store.InTx(ctx, func(q *cache.Queries) error {
		msg, err := q.GetMessage(ctx, emailID)
		if err != nil {
			return err
		}
		if msg == nil {
			return fmt.Errorf("email not found: %d", emailID)
		}
		if account, err = q.GetAccount(ctx, msg.AccountID); err != nil {
			return err
		}
		return t.apply(ctx, q, msg, action, params)
	})
	if err != nil {
		return nil, err
	}

	if account != nil && t.Syncer != nil {
		if err := t.Syncer.Release(account.Name); err != nil {
			t.Logger.WithError(err).WithField("account", account.Name).Warn("Could not wake account")
		}
	}
	return map[string]interface{}{
		"success": true,
		"id":      emailID,
		"action":  action,
	}, nil
}

func (t *UpdateEmailTool) apply(ctx context.Context, q *cache.Queries, msg *types.Message, action string, params map[string]interface{}) error {
	var args types.OperationArgs
	switch action {
	case "seen", "unseen":
		msg.UISeen = action == "seen"
		if err := q.UpdateMessage(ctx, msg); err != nil {
			return err
		}
		args = types.SeenArgs{Seen: msg.UISeen}
	case "flag", "unflag":
		msg.UIFlagged = action == "flag"
		if err := q.UpdateMessage(ctx, msg); err != nil {
			return err
		}
		args = types.FlagArgs{Flagged: msg.UIFlagged}
	case "keyword":
		keyword := stringParam(params, "keyword")
		if keyword == "" {
			return fmt.Errorf("keyword is required")
		}
		args = types.KeywordArgs{Keyword: keyword, Set: true}
	case "move":
		name := stringParam(params, "folder")
		if name == "" {
			return fmt.Errorf("folder is required")
		}
		target, err := q.GetFolderByName(ctx, msg.AccountID, name)
		if err != nil {
			return err
		}
		if target == nil {
			return fmt.Errorf("folder not found: %s", name)
		}
		if target.ID == msg.FolderID {
			return nil
		}
		if err := q.SetMessageUIHide(ctx, msg.ID, true); err != nil {
			return err
		}
		args = types.MoveArgs{Target: target.ID}
	case "delete":
		if err := q.SetMessageUIHide(ctx, msg.ID, true); err != nil {
			return err
		}
		args = types.DeleteArgs{}
	default:
		return fmt.Errorf("unknown action %q", action)
	}

	_, err := q.QueueOperation(ctx, msg.FolderID, &msg.ID, args)
	return err
}
