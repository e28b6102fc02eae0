package tools

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/brandon/mailsync/internal/cache"
	"github.com/brandon/mailsync/internal/parts"
	"github.com/brandon/mailsync/pkg/types"
)

// SendEmailTool places a new email in the account's outbox
type SendEmailTool struct {
	Deps
}

// Name returns the tool name
func (t *SendEmailTool) Name() string {
	return "send_email"
}

// Description returns the tool description
func (t *SendEmailTool) Description() string {
	return "Queue a new email for sending (text or HTML, CC, BCC); it is sent by the next synchronization pass"
}

// InputSchema returns the JSON schema for tool inputs
func (t *SendEmailTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account_name": map[string]interface{}{
				"type":        "string",
				"description": "Account to send from",
			},
			"to": map[string]interface{}{
				"type":        "string",
				"description": "Recipient email address(es) (comma-separated)",
			},
			"cc": map[string]interface{}{
				"type":        "string",
				"description": "Optional: CC recipients (comma-separated)",
			},
			"bcc": map[string]interface{}{
				"type":        "string",
				"description": "Optional: BCC recipients (comma-separated)",
			},
			"subject": map[string]interface{}{
				"type":        "string",
				"description": "Email subject",
			},
			"body_text": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Plain text body",
			},
			"body_html": map[string]interface{}{
				"type":        "string",
				"description": "Optional: HTML body",
			},
			"reply_to": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Reply-To header",
			},
			"in_reply_to": map[string]interface{}{
				"type":        "string",
				"description": "Optional: In-Reply-To header (for replies)",
			},
		},
		"required": []string{"account_name", "to", "subject"},
	}
}

// Execute executes the tool
func (t *SendEmailTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	accountName := stringParam(params, "account_name")
	if accountName == "" {
		return nil, fmt.Errorf("account_name is required")
	}
	to := addressParam(params, "to")
	if len(to) == 0 {
		return nil, fmt.Errorf("to is required")
	}
	subject := stringParam(params, "subject")
	if subject == "" {
		return nil, fmt.Errorf("subject is required")
	}

	body, _ := params["body_html"].(string)
	if body == "" {
		text, _ := params["body_text"].(string)
		if text == "" {
			return nil, fmt.Errorf("either body_text or body_html is required")
		}
		body = textToHTML(text)
	}

	q := t.Store.Q()
	account, err := lookupAccount(ctx, q, accountName)
	if err != nil {
		return nil, err
	}
	outbox, err := q.GetFolderByType(ctx, account.ID, types.FolderOutbox)
	if err != nil {
		return nil, err
	}
	if outbox == nil {
		return nil, fmt.Errorf("account %s has no outbox", accountName)
	}
	identities, err := q.ListIdentities(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	if len(identities) == 0 {
		return nil, fmt.Errorf("account %s has no identity", accountName)
	}
	identity := identities[0]

	msgid := parts.GenerateMessageID()
	now := cache.Now()
	msg := &types.Message{
		AccountID:  account.ID,
		FolderID:   outbox.ID,
		IdentityID: &identity.ID,
		MsgID:      msgid,
		ThreadID:   msgid,
		From:       types.AddressList{identity.Address()},
		To:         to,
		Cc:         addressParam(params, "cc"),
		Bcc:        addressParam(params, "bcc"),
		Reply:      addressParam(params, "reply_to"),
		Subject:    subject,
		ReceivedAt: now,
		Seen:       true,
		UISeen:     true,
		Content:    true,
	}
	if inReplyTo := stringParam(params, "in_reply_to"); inReplyTo != "" {
		msg.InReplyTo = inReplyTo
		msg.References = inReplyTo
		msg.ThreadID = inReplyTo
	}
	preview := parts.Preview(body)
	msg.Preview = &preview

	err = t.Store.InTx(ctx, func(q *cache.Queries) error {
		if _, err := q.InsertMessage(ctx, msg); err != nil {
			return err
		}
		if err := t.Files.WriteBody(msg.ID, body); err != nil {
			return err
		}
		_, err := q.QueueOperation(ctx, outbox.ID, &msg.ID, types.SendArgs{})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to queue email: %w", err)
	}

	if t.Syncer != nil {
		if err := t.Syncer.Release(accountName); err != nil {
			t.Logger.WithError(err).WithField("account", accountName).Warn("Could not wake account")
		}
	}

	return map[string]interface{}{
		"success":    true,
		"id":         msg.ID,
		"message_id": msgid,
		"message":    "Email queued for sending",
	}, nil
}

func textToHTML(text string) string {
	escaped := html.EscapeString(text)
	return "<p>" + strings.ReplaceAll(escaped, "\n", "<br>") + "</p>"
}
