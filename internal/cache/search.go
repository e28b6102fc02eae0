package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/brandon/mailsync/pkg/types"
)

// SearchOptions contains search parameters
type SearchOptions struct {
	AccountID *int64
	FolderID  *int64
	Sender    *string
	Recipient *string
	Subject   *string
	Text      *string
	DateFrom  *time.Time
	DateTo    *time.Time
	Limit     int
}

// Search performs a search on cached messages, newest first.
// Messages hidden while a mutation is in flight are left out.
func (q *Queries) Search(ctx context.Context, opts SearchOptions) ([]types.MessageSummary, error) {
	conditions := []string{"m.ui_hide = 0"}
	var args []interface{}

	// Build WHERE clause
	if opts.AccountID != nil {
		conditions = append(conditions, "m.account_id = ?")
		args = append(args, *opts.AccountID)
	}

	if opts.FolderID != nil {
		conditions = append(conditions, "m.folder_id = ?")
		args = append(args, *opts.FolderID)
	}

	if opts.Sender != nil {
		conditions = append(conditions, "m.from_addrs LIKE ?")
		args = append(args, "%"+*opts.Sender+"%")
	}

	if opts.Recipient != nil {
		conditions = append(conditions, "(m.to_addrs LIKE ? OR m.cc_addrs LIKE ?)")
		searchTerm := "%" + *opts.Recipient + "%"
		args = append(args, searchTerm, searchTerm)
	}

	if opts.Subject != nil {
		conditions = append(conditions, "m.subject LIKE ?")
		args = append(args, "%"+*opts.Subject+"%")
	}

	if opts.DateFrom != nil {
		conditions = append(conditions, "m.received_at >= ?")
		args = append(args, opts.DateFrom.UnixMilli())
	}

	if opts.DateTo != nil {
		conditions = append(conditions, "m.received_at <= ?")
		args = append(args, opts.DateTo.UnixMilli())
	}

	// Full-text search on subject and preview
	if opts.Text != nil {
		conditions = append(conditions, "m.id IN (SELECT rowid FROM messages_fts WHERE messages_fts MATCH ?)")
		args = append(args, ftsQuery(*opts.Text))
	}

	// Set default limit
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := fmt.Sprintf(`
		SELECT m.id, a.name AS account_name, f.name AS folder_name, m.subject, m.from_addrs,
			m.received_at, m.ui_seen, m.ui_flagged, m.preview
		FROM messages m
		JOIN accounts a ON m.account_id = a.id
		JOIN folders f ON m.folder_id = f.id
		WHERE %s
		ORDER BY m.received_at DESC
		LIMIT ?
	`, strings.Join(conditions, " AND "))

	args = append(args, limit)

	var results []types.MessageSummary
	if err := sqlx.SelectContext(ctx, q.ext, &results, query, args...); err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	return results, nil
}

// ftsQuery quotes every term so user input cannot use FTS5 query syntax
func ftsQuery(text string) string {
	terms := strings.Fields(text)
	for i, term := range terms {
		terms[i] = `"` + strings.ReplaceAll(term, `"`, `""`) + `"`
	}
	return strings.Join(terms, " ")
}
