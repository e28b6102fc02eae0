package cache

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/brandon/mailsync/pkg/types"
)

// UpsertAccount inserts or updates an account by name and returns its id
func (q *Queries) UpsertAccount(ctx context.Context, acc *types.Account) (int64, error) {
	const query = `
		INSERT INTO accounts (name, imap_host, imap_port, imap_username, prefix)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			imap_host = excluded.imap_host,
			imap_port = excluded.imap_port,
			imap_username = excluded.imap_username,
			prefix = excluded.prefix
		RETURNING id
	`
	var id int64
	err := sqlx.GetContext(ctx, q.ext, &id, query, acc.Name, acc.Host, acc.Port, acc.Username, acc.Prefix)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert account: %w", err)
	}
	acc.ID = id
	return id, nil
}

// GetAccount returns an account by id, or nil when it does not exist
func (q *Queries) GetAccount(ctx context.Context, id int64) (*types.Account, error) {
	var acc types.Account
	found, err := q.get(ctx, &acc, "SELECT * FROM accounts WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &acc, nil
}

// GetAccountByName returns an account by name, or nil when it does not exist
func (q *Queries) GetAccountByName(ctx context.Context, name string) (*types.Account, error) {
	var acc types.Account
	found, err := q.get(ctx, &acc, "SELECT * FROM accounts WHERE name = ?", name)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &acc, nil
}

// ListAccounts returns all accounts ordered by name
func (q *Queries) ListAccounts(ctx context.Context) ([]types.Account, error) {
	var accounts []types.Account
	if err := sqlx.SelectContext(ctx, q.ext, &accounts, "SELECT * FROM accounts ORDER BY name"); err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}

// UpsertIdentity inserts or updates a sending identity and returns its id
func (q *Queries) UpsertIdentity(ctx context.Context, identity *types.Identity) (int64, error) {
	const query = `
		INSERT INTO identities (account_id, email, name, plain_only)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(account_id, email) DO UPDATE SET
			name = excluded.name,
			plain_only = excluded.plain_only
		RETURNING id
	`
	var id int64
	err := sqlx.GetContext(ctx, q.ext, &id, query, identity.AccountID, identity.Email, identity.Name, identity.PlainOnly)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert identity: %w", err)
	}
	identity.ID = id
	return id, nil
}

// GetIdentity returns an identity by id, or nil when it does not exist
func (q *Queries) GetIdentity(ctx context.Context, id int64) (*types.Identity, error) {
	var identity types.Identity
	found, err := q.get(ctx, &identity, "SELECT * FROM identities WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to get identity: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &identity, nil
}

// ListIdentities returns the identities of an account
func (q *Queries) ListIdentities(ctx context.Context, accountID int64) ([]types.Identity, error) {
	var identities []types.Identity
	err := sqlx.SelectContext(ctx, q.ext, &identities, "SELECT * FROM identities WHERE account_id = ? ORDER BY id", accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}
	return identities, nil
}
