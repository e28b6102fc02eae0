package email

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/cache"
	"github.com/brandon/mailsync/internal/config"
	"github.com/brandon/mailsync/pkg/types"
)

// outboxName is the local-only folder holding messages waiting to be sent
const outboxName = "__outbox__"

// AccountManager manages multiple email accounts
type AccountManager struct {
	accounts map[string]*Account
	logger   *logrus.Logger
}

// Account represents an email account with IMAP and SMTP clients
type Account struct {
	Config *config.AccountConfig
	// Cached is the account row; set by Register
	Cached   *types.Account
	Identity *types.Identity
	IMAP     *IMAPClient
	SMTP     *SMTPClient
}

// NewAccountManager creates a new account manager
func NewAccountManager(cfg *config.Config, logger *logrus.Logger) *AccountManager {
	manager := &AccountManager{
		accounts: make(map[string]*Account),
		logger:   logger,
	}

	for i := range cfg.Accounts {
		accCfg := &cfg.Accounts[i]
		manager.accounts[accCfg.Name] = &Account{
			Config: accCfg,
			IMAP:   NewIMAPClient(accCfg, logger),
			SMTP:   NewSMTPClient(accCfg, logger),
		}
	}
	return manager
}

// Register records every account in the cache together with its identity
// and its outbox
func (m *AccountManager) Register(ctx context.Context, store *cache.Store) error {
	for _, name := range m.ListAccounts() {
		account := m.accounts[name]
		err := store.InTx(ctx, func(q *cache.Queries) error {
			return register(ctx, q, account)
		})
		if err != nil {
			return fmt.Errorf("failed to register account %s: %w", name, err)
		}
		m.logger.WithFields(logrus.Fields{
			"account":  name,
			"identity": account.Identity.Email,
		}).Debug("Registered account")
	}
	return nil
}

func register(ctx context.Context, q *cache.Queries, account *Account) error {
	cfg := account.Config
	cached := &types.Account{
		Name:     cfg.Name,
		Host:     cfg.IMAPHost,
		Port:     cfg.IMAPPort,
		Username: cfg.IMAPUsername,
		Prefix:   cfg.Prefix,
	}
	if _, err := q.UpsertAccount(ctx, cached); err != nil {
		return err
	}

	identity := &types.Identity{
		AccountID: cached.ID,
		Email:     cfg.Email,
		Name:      cfg.DisplayName,
		PlainOnly: cfg.PlainOnly,
	}
	if _, err := q.UpsertIdentity(ctx, identity); err != nil {
		return err
	}

	outbox, err := q.GetFolderByType(ctx, cached.ID, types.FolderOutbox)
	if err != nil {
		return err
	}
	if outbox == nil {
		_, err := q.InsertFolder(ctx, &types.Folder{
			AccountID:   cached.ID,
			Name:        outboxName,
			Display:     strPtr("Outbox"),
			Type:        types.FolderOutbox,
			Synchronize: true,
			SyncDays:    types.DefaultSyncDays,
			KeepDays:    types.DefaultKeepDays,
		})
		if err != nil {
			return err
		}
	}

	account.Cached = cached
	account.Identity = identity
	return nil
}

// GetAccount returns an account by name
func (m *AccountManager) GetAccount(name string) (*Account, error) {
	account, exists := m.accounts[name]
	if !exists {
		return nil, fmt.Errorf("account not found: %s", name)
	}
	return account, nil
}

// accountByID returns the registered account with the given cache id
func (m *AccountManager) accountByID(id int64) *Account {
	for _, account := range m.accounts {
		if account.Cached != nil && account.Cached.ID == id {
			return account
		}
	}
	return nil
}

// ListAccounts returns all account names
func (m *AccountManager) ListAccounts() []string {
	names := make([]string, 0, len(m.accounts))
	for name := range m.accounts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Send submits through the SMTP server of the identity's account
func (m *AccountManager) Send(ctx context.Context, identity *types.Identity, msg *types.Message, raw []byte) error {
	account := m.accountByID(identity.AccountID)
	if account == nil {
		return fmt.Errorf("no account for identity %s", identity.Email)
	}
	return account.SMTP.Send(ctx, identity, msg, raw)
}

// Close closes all account connections
func (m *AccountManager) Close() error {
	for name, account := range m.accounts {
		if err := account.IMAP.Close(); err != nil {
			m.logger.WithError(err).WithField("account", name).Debug("Failed to log out")
		}
	}
	return nil
}

func strPtr(s string) *string {
	return &s
}
