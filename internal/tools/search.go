package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/brandon/mailsync/internal/cache"
)

// SearchEmailsTool searches cached emails
type SearchEmailsTool struct {
	Deps
}

// Name returns the tool name
func (t *SearchEmailsTool) Name() string {
	return "search_emails"
}

// Description returns the tool description
func (t *SearchEmailsTool) Description() string {
	return "Search cached emails with flexible filters (sender, recipient, subject, text, date range)"
}

// InputSchema returns the JSON schema for tool inputs
func (t *SearchEmailsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account_name": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Filter by specific account",
			},
			"folder": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Filter by folder name; requires account_name",
			},
			"sender": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Filter by sender email/name",
			},
			"recipient": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Filter by recipient email",
			},
			"subject": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Filter by subject (substring match)",
			},
			"text": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Full-text search on subject and preview",
			},
			"date_from": map[string]interface{}{
				"type":        "string",
				"description": "Optional: Start date (ISO 8601 format)",
			},
			"date_to": map[string]interface{}{
				"type":        "string",
				"description": "Optional: End date (ISO 8601 format)",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Optional: Result limit (default: 100, max: 1000)",
				"minimum":     1,
				"maximum":     1000,
			},
		},
	}
}

// Execute executes the tool
func (t *SearchEmailsTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	q := t.Store.Q()
	opts := cache.SearchOptions{}

	if accountName := stringParam(params, "account_name"); accountName != "" {
		account, err := lookupAccount(ctx, q, accountName)
		if err != nil {
			return nil, err
		}
		opts.AccountID = &account.ID

		if folderName := stringParam(params, "folder"); folderName != "" {
			folder, err := lookupFolder(ctx, q, account, folderName)
			if err != nil {
				return nil, err
			}
			opts.FolderID = &folder.ID
		}
	} else if stringParam(params, "folder") != "" {
		return nil, fmt.Errorf("folder requires account_name")
	}

	if sender := stringParam(params, "sender"); sender != "" {
		opts.Sender = &sender
	}
	if recipient := stringParam(params, "recipient"); recipient != "" {
		opts.Recipient = &recipient
	}
	if subject := stringParam(params, "subject"); subject != "" {
		opts.Subject = &subject
	}
	if text := stringParam(params, "text"); text != "" {
		opts.Text = &text
	}

	if s := stringParam(params, "date_from"); s != "" {
		dateFrom, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, fmt.Errorf("invalid date_from format: %w", err)
		}
		opts.DateFrom = &dateFrom
	}
	if s := stringParam(params, "date_to"); s != "" {
		dateTo, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, fmt.Errorf("invalid date_to format: %w", err)
		}
		opts.DateTo = &dateTo
	}

	limit, ok, err := intParam(params, "limit")
	if err != nil {
		return nil, err
	}
	opts.Limit = int(limit)
	if !ok {
		opts.Limit = t.Config.SearchResultLimit
	}

	results, err := q.Search(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to search emails: %w", err)
	}

	emailList := make([]map[string]interface{}, len(results))
	for i, msg := range results {
		received := time.UnixMilli(msg.ReceivedAt)
		entry := map[string]interface{}{
			"id":           msg.ID,
			"account_name": msg.AccountName,
			"folder":       msg.FolderName,
			"subject":      msg.Subject,
			"date":         received.UTC().Format(time.RFC3339),
			"age":          humanize.Time(received),
			"seen":         msg.Seen,
			"flagged":      msg.Flagged,
		}
		if len(msg.From) > 0 {
			entry["from"] = msg.From[0].String()
		}
		if msg.Snippet != nil {
			entry["snippet"] = *msg.Snippet
		}
		emailList[i] = entry
	}
	return emailList, nil
}
