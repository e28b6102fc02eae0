package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jaytaylor/html2text"

	"github.com/brandon/mailsync/internal/cache"
	"github.com/brandon/mailsync/pkg/types"
)

// GetEmailTool retrieves a cached email by ID, queueing its download when
// the body is not cached yet
type GetEmailTool struct {
	Deps
}

// Name returns the tool name
func (t *GetEmailTool) Name() string {
	return "get_email"
}

// Description returns the tool description
func (t *GetEmailTool) Description() string {
	return "Retrieve an email by ID; a body that is not cached yet is downloaded in the background"
}

// InputSchema returns the JSON schema for tool inputs
func (t *GetEmailTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"email_id": map[string]interface{}{
				"type":        "integer",
				"description": "Email ID (from search results)",
			},
		},
		"required": []string{"email_id"},
	}
}

// Execute executes the tool
func (t *GetEmailTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	emailID, ok, err := intParam(params, "email_id")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("email_id is required")
	}

	q := t.Store.Q()
	msg, err := q.GetMessage(ctx, emailID)
	if err != nil {
		return nil, fmt.Errorf("failed to get email: %w", err)
	}
	if msg == nil {
		return nil, fmt.Errorf("email not found: %d", emailID)
	}
	account, err := q.GetAccount(ctx, msg.AccountID)
	if err != nil {
		return nil, err
	}
	folder, err := q.GetFolder(ctx, msg.FolderID)
	if err != nil {
		return nil, err
	}

	result := map[string]interface{}{
		"id":          msg.ID,
		"account_id":  msg.AccountID,
		"folder_id":   msg.FolderID,
		"message_id":  msg.MsgID,
		"thread_id":   msg.ThreadID,
		"subject":     msg.Subject,
		"from":        msg.From,
		"to":          msg.To,
		"cc":          msg.Cc,
		"date":        msg.Received().UTC().Format(time.RFC3339),
		"seen":        msg.UISeen,
		"flagged":     msg.UIFlagged,
		"answered":    msg.UIAnswered,
		"keywords":    msg.Keywords,
		"has_content": msg.Content,
	}
	if account != nil {
		result["account_name"] = account.Name
	}
	if folder != nil {
		result["folder"] = folder.Name
	}
	if msg.UID != nil {
		result["uid"] = *msg.UID
	}
	if msg.Size != nil {
		result["size"] = humanize.Bytes(uint64(*msg.Size))
	}
	if msg.Warning != nil {
		result["warning"] = *msg.Warning
	}
	if msg.Error != nil {
		result["error"] = *msg.Error
	}

	attachments, err := q.GetAttachments(ctx, msg.ID)
	if err != nil {
		return nil, err
	}
	list := make([]map[string]interface{}, 0, len(attachments))
	for _, a := range attachments {
		entry := map[string]interface{}{
			"sequence":  a.Sequence,
			"type":      a.Type,
			"available": a.Available,
		}
		if a.Name != nil {
			entry["name"] = *a.Name
		}
		if a.Size != nil {
			entry["size"] = humanize.Bytes(uint64(*a.Size))
		}
		list = append(list, entry)
	}
	result["attachments"] = list

	if !msg.Content {
		pending, err := t.queueBody(ctx, q, msg, account)
		if err != nil {
			return nil, err
		}
		result["body_pending"] = pending
		return result, nil
	}

	body, err := t.Files.ReadBody(msg.ID)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return result, nil
		}
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	text, err := html2text.FromString(body, html2text.Options{OmitLinks: true})
	if err != nil {
		return nil, fmt.Errorf("failed to render body: %w", err)
	}
	result["body_html"] = body
	result["body_text"] = text
	return result, nil
}

// queueBody queues the download of the message body and wakes the account
// worker. It reports whether a download is pending.
func (t *GetEmailTool) queueBody(ctx context.Context, q *cache.Queries, msg *types.Message, account *types.Account) (bool, error) {
	if !msg.HasUID() {
		return false, nil
	}
	ops, err := q.GetOperations(ctx, msg.FolderID)
	if err != nil {
		return false, err
	}
	for _, op := range ops {
		if op.Kind == types.OpBody && op.MessageID != nil && *op.MessageID == msg.ID {
			return true, nil
		}
	}
	if _, err := q.QueueOperation(ctx, msg.FolderID, &msg.ID, types.BodyArgs{}); err != nil {
		return false, err
	}
	if account != nil && t.Syncer != nil {
		if err := t.Syncer.Release(account.Name); err != nil {
			t.Logger.WithError(err).WithField("account", account.Name).Warn("Could not wake account")
		}
	}
	return true, nil
}
