// Package core keeps the local cache and the remote message store in step:
// it drains queued operations, reconciles folders and downloads content.
package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/cache"
	"github.com/brandon/mailsync/internal/remote"
	"github.com/brandon/mailsync/pkg/types"
)

// Sync states written to the folder while a pass runs
const (
	StateSyncing     = "syncing"
	StateDownloading = "downloading"
)

// batchSize is the number of messages merged or downloaded per remote fetch
const batchSize = 20

// Settings are the user preferences the engine consults
type Settings struct {
	// MaxDownloadSize caps eager downloads on metered networks, in bytes. Zero means no cap.
	MaxDownloadSize int64
	// Metered reports whether the network is metered and whether that is known
	Metered func() (metered bool, known bool)
	// FilterRules enables running folder rules on newly discovered messages
	FilterRules bool
	// Debug notifies the user about unexpected errors too
	Debug bool
}

// RuleEngine evaluates and applies folder rules
type RuleEngine interface {
	Matches(ctx context.Context, rule *types.Rule, msg *types.Message, rm *remote.Message) (bool, error)
	Execute(ctx context.Context, q *cache.Queries, rule *types.Rule, msg *types.Message) error
}

// Notifier surfaces errors the user has to act on
type Notifier interface {
	Notify(account *types.Account, folder *types.Folder, title string, err error)
}

// Sender submits a composed message
type Sender interface {
	Send(ctx context.Context, identity *types.Identity, msg *types.Message, raw []byte) error
}

// AvatarLookup returns an avatar URI for the first sender, or nil
type AvatarLookup func(from types.AddressList) *string

// Engine runs the synchronization algorithms against an injected cache and remote session
type Engine struct {
	store    *cache.Store
	files    *cache.Files
	settings Settings
	rules    RuleEngine
	notifier Notifier
	sender   Sender
	avatars  AvatarLookup
	logger   *logrus.Logger
}

// NewEngine creates an engine over the given cache
func NewEngine(store *cache.Store, files *cache.Files, settings Settings, logger *logrus.Logger) *Engine {
	return &Engine{
		store:    store,
		files:    files,
		settings: settings,
		avatars:  Gravatar,
		logger:   logger,
	}
}

// SetRuleEngine sets the engine used to filter new messages
func (e *Engine) SetRuleEngine(r RuleEngine) {
	e.rules = r
}

// SetNotifier sets where user facing errors go
func (e *Engine) SetNotifier(n Notifier) {
	e.notifier = n
}

// SetSender sets the transport used by SEND operations
func (e *Engine) SetSender(s Sender) {
	e.sender = s
}

// SetAvatarLookup replaces the avatar lookup; nil disables avatars
func (e *Engine) SetAvatarLookup(fn AvatarLookup) {
	e.avatars = fn
}

// metered reports whether eager downloads must respect MaxDownloadSize.
// An unknown network state counts as metered.
func (e *Engine) metered() bool {
	if e.settings.Metered == nil {
		return false
	}
	metered, known := e.settings.Metered()
	return metered || !known
}

// fits reports whether a part of the given size may be downloaded eagerly
func (e *Engine) fits(size *int64) bool {
	if !e.metered() {
		return true
	}
	if size == nil {
		return false
	}
	return e.settings.MaxDownloadSize == 0 || *size < e.settings.MaxDownloadSize
}

// Gravatar returns the Gravatar URI of the first address
func Gravatar(from types.AddressList) *string {
	if len(from) == 0 || from[0].Address == "" {
		return nil
	}
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(from[0].Address))))
	uri := "https://www.gravatar.com/avatar/" + hex.EncodeToString(sum[:]) + "?d=404"
	return &uri
}

func (e *Engine) folderLogger(account *types.Account, folder *types.Folder) *logrus.Entry {
	return e.logger.WithFields(logrus.Fields{
		"account": account.Name,
		"folder":  folder.Name,
	})
}

func strPtr(s string) *string {
	return &s
}

func errString(err error) *string {
	if err == nil {
		return nil
	}
	return strPtr(err.Error())
}
