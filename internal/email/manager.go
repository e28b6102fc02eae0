package email

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/cache"
	"github.com/brandon/mailsync/internal/config"
	"github.com/brandon/mailsync/internal/core"
	"github.com/brandon/mailsync/internal/lifecycle"
	"github.com/brandon/mailsync/pkg/types"
)

// interruptTimeout is how long Reconnect waits for a worker to clean up
const interruptTimeout = 30 * time.Second

// ErrNotStarted is returned when work is requested before Start
var ErrNotStarted = errors.New("synchronization not started")

// Manager runs one synchronization worker per account
type Manager struct {
	accountManager *AccountManager
	store          *cache.Store
	engine         *core.Engine
	config         *config.Config
	logger         *logrus.Logger

	mu      sync.Mutex
	ctx     context.Context
	workers map[string]*lifecycle.State
}

// NewManager creates a new email manager. The account manager becomes the
// engine's sender.
func NewManager(cfg *config.Config, cacheStore *cache.Store, engine *core.Engine, logger *logrus.Logger) *Manager {
	accountManager := NewAccountManager(cfg, logger)
	engine.SetSender(accountManager)
	return &Manager{
		accountManager: accountManager,
		store:          cacheStore,
		engine:         engine,
		config:         cfg,
		logger:         logger,
		workers:        make(map[string]*lifecycle.State),
	}
}

// Start registers the accounts in the cache and starts their workers
func (m *Manager) Start(ctx context.Context) error {
	if err := m.accountManager.Register(ctx, m.store); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctx = ctx
	for _, name := range m.accountManager.ListAccounts() {
		account := m.accountManager.accounts[name]
		state := lifecycle.New(ctx, name, m.logger)
		m.workers[name] = state
		state.Go(m.worker(account))
	}
	m.logger.WithField("accounts", len(m.workers)).Info("Started synchronization")
	return nil
}

// Stop stops every worker and waits for them to exit
func (m *Manager) Stop() {
	m.mu.Lock()
	workers := make([]*lifecycle.State, 0, len(m.workers))
	for _, state := range m.workers {
		state.Stop()
		workers = append(workers, state)
	}
	m.workers = make(map[string]*lifecycle.State)
	m.mu.Unlock()

	for _, state := range workers {
		state.Join()
	}
}

func (m *Manager) worker(account *Account) func(s *lifecycle.State) {
	log := m.logger.WithField("account", account.Config.Name)
	return func(s *lifecycle.State) {
		defer account.IMAP.Close() //nolint:errcheck

		for s.Running() {
			started := time.Now()
			err := m.poll(s, account)
			switch {
			case err == nil:
				log.WithField("elapsed", time.Since(started)).Debug("Poll done")
			case s.Interrupted() && !s.Running():
				log.Debug("Poll stopped")
			default:
				log.WithError(err).Warn("Poll failed")
				m.engine.ReportError(account.Cached, nil, err)
				if kind := core.Classify(err); kind == core.KindStructural || kind == core.KindTransient {
					account.IMAP.Close() //nolint:errcheck
				}
			}

			if s.Interrupted() {
				account.IMAP.Close() //nolint:errcheck
				s.Acknowledge()
				s.Reset(m.ctx)
			}
			// Still interrupted after a reset means the parent context is gone
			if !s.Running() || s.Interrupted() {
				return
			}
			s.Wait(m.config.Sync.PollInterval)
		}
	}
}

// poll runs one pass over the account: folder list, then every folder's queue
func (m *Manager) poll(s *lifecycle.State, account *Account) error {
	ctx := s.Context()
	if err := account.IMAP.Connect(ctx); err != nil {
		return err
	}
	if err := m.engine.SynchronizeFolders(ctx, account.Cached, account.IMAP); err != nil {
		return fmt.Errorf("failed to synchronize folders: %w", err)
	}

	folders, err := m.store.Q().ListFolders(ctx, account.Cached.ID)
	if err != nil {
		return err
	}
	// Send before the sent folder is reconciled
	sort.SliceStable(folders, func(i, j int) bool {
		return folders[i].Type == types.FolderOutbox && folders[j].Type != types.FolderOutbox
	})

	for i := range folders {
		if !s.Running() {
			return nil
		}
		folder := &folders[i]
		if folder.Type == types.FolderOutbox {
			session := &core.Session{Account: account.Cached, Folder: folder, State: s}
			if err := m.engine.ProcessOperations(ctx, session); err != nil {
				return err
			}
			continue
		}
		if !folder.Synchronize {
			continue
		}
		if err := m.queueSync(ctx, folder); err != nil {
			return err
		}
		if err := m.processFolder(ctx, s, account, folder); err != nil {
			return err
		}
	}
	return nil
}

// queueSync queues a message synchronization unless one is already pending
func (m *Manager) queueSync(ctx context.Context, folder *types.Folder) error {
	q := m.store.Q()
	n, err := q.CountOperationsOfKind(ctx, folder.ID, types.OpSync)
	if err != nil || n > 0 {
		return err
	}
	args := types.SyncArgs{SyncDays: folder.SyncDays, KeepDays: folder.KeepDays, Download: folder.Download}
	_, err = q.QueueOperation(ctx, folder.ID, nil, args)
	return err
}

func (m *Manager) processFolder(ctx context.Context, s *lifecycle.State, account *Account, folder *types.Folder) error {
	log := m.logger.WithFields(logrus.Fields{"account": account.Config.Name, "folder": folder.Name})

	rf := account.IMAP.Folder(folder.Name)
	if err := rf.Open(ctx, true); err != nil {
		if core.Classify(err) == core.KindGone {
			log.WithError(err).Warn("Folder not on server")
			return m.store.Q().SetFolderError(ctx, folder.ID, strPtr(err.Error()))
		}
		return err
	}
	defer rf.Close() //nolint:errcheck

	session := &core.Session{
		Account: account.Cached,
		Folder:  folder,
		Store:   account.IMAP,
		Remote:  rf,
		State:   s,
	}
	if err := m.engine.ProcessOperations(ctx, session); err != nil {
		if serr := m.store.Q().SetFolderError(context.WithoutCancel(ctx), folder.ID, strPtr(err.Error())); serr != nil {
			log.WithError(serr).Warn("Failed to record folder error")
		}
		return err
	}
	return m.store.Q().SetFolderError(ctx, folder.ID, nil)
}

// SyncAccount queues a synchronization of one folder, or of every
// synchronized folder when folderName is empty, and wakes the worker
func (m *Manager) SyncAccount(ctx context.Context, accountName string, folderName string) error {
	account, err := m.accountManager.GetAccount(accountName)
	if err != nil {
		return err
	}
	state, err := m.state(accountName)
	if err != nil {
		return err
	}

	q := m.store.Q()
	if folderName != "" {
		folder, err := q.GetFolderByName(ctx, account.Cached.ID, folderName)
		if err != nil {
			return err
		}
		if folder == nil {
			return fmt.Errorf("folder not found: %s", folderName)
		}
		if err := m.queueSync(ctx, folder); err != nil {
			return err
		}
	} else {
		folders, err := q.ListFolders(ctx, account.Cached.ID)
		if err != nil {
			return err
		}
		for i := range folders {
			if folders[i].Synchronize && folders[i].Type != types.FolderOutbox {
				if err := m.queueSync(ctx, &folders[i]); err != nil {
					return err
				}
			}
		}
	}

	state.Release()
	return nil
}

// Release wakes the worker of an account so that queued operations run
func (m *Manager) Release(accountName string) error {
	state, err := m.state(accountName)
	if err != nil {
		return err
	}
	state.Release()
	return nil
}

// Reconnect interrupts the account's current session; the worker logs out
// and starts over with a fresh connection
func (m *Manager) Reconnect(accountName string) error {
	state, err := m.state(accountName)
	if err != nil {
		return err
	}
	if !state.Error(interruptTimeout) {
		return fmt.Errorf("account %s did not acknowledge the interrupt", accountName)
	}
	state.Release()
	return nil
}

func (m *Manager) state(accountName string) (*lifecycle.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.workers[accountName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotStarted, accountName)
	}
	return state, nil
}

// Close stops the workers and closes all connections
func (m *Manager) Close() error {
	m.Stop()
	return m.accountManager.Close()
}

// GetAccount returns an account by name
func (m *Manager) GetAccount(name string) (*Account, error) {
	return m.accountManager.GetAccount(name)
}

// Accounts returns the account names
func (m *Manager) Accounts() []string {
	return m.accountManager.ListAccounts()
}
