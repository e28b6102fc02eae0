package cache

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/brandon/mailsync/pkg/types"
)

// InsertRule inserts a filter rule and returns its id
func (q *Queries) InsertRule(ctx context.Context, r *types.Rule) (int64, error) {
	const query = `
		INSERT INTO rules (folder_id, name, priority, enabled, stop, condition, action)
		VALUES (:folder_id, :name, :priority, :enabled, :stop, :condition, :action)`
	id, err := q.insert(ctx, query, r)
	if err != nil {
		return 0, fmt.Errorf("failed to insert rule: %w", err)
	}
	r.ID = id
	return id, nil
}

// GetEnabledRules returns the folder's enabled rules in priority order
func (q *Queries) GetEnabledRules(ctx context.Context, folderID int64) ([]types.Rule, error) {
	var rules []types.Rule
	const query = "SELECT * FROM rules WHERE folder_id = ? AND enabled = 1 ORDER BY priority, id"
	if err := sqlx.SelectContext(ctx, q.ext, &rules, query, folderID); err != nil {
		return nil, fmt.Errorf("failed to get rules: %w", err)
	}
	return rules, nil
}
