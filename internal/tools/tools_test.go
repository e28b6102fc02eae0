package tools

import (
	"context"
	"errors"
	"io"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailsync/internal/cache"
	"github.com/brandon/mailsync/internal/config"
	"github.com/brandon/mailsync/internal/email"
	"github.com/brandon/mailsync/pkg/types"
)

type recordingSyncer struct {
	released    []string
	synced      []string
	reconnected []string
}

func (s *recordingSyncer) SyncAccount(ctx context.Context, account, folder string) error {
	if account == "missing" {
		return errors.New("account not found: missing")
	}
	s.synced = append(s.synced, account+"/"+folder)
	return nil
}

func (s *recordingSyncer) Release(account string) error {
	s.released = append(s.released, account)
	return nil
}

func (s *recordingSyncer) Reconnect(account string) error {
	s.reconnected = append(s.reconnected, account)
	return nil
}

type fixture struct {
	ctx      context.Context
	store    *cache.Store
	files    *cache.Files
	syncer   *recordingSyncer
	notifier *email.LogNotifier
	registry *Registry
	account  *types.Account
	inbox    *types.Folder
	archive  *types.Folder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	c, err := cache.NewCache(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	store := cache.NewStore(c, logger)
	files, err := cache.NewFiles(t.TempDir())
	require.NoError(t, err)

	cfg := &config.Config{
		SearchResultLimit: 100,
		Accounts: []config.AccountConfig{{
			Name:         "work",
			Email:        "me@example.com",
			DisplayName:  "Me",
			IMAPHost:     "imap.example.com",
			IMAPPort:     993,
			IMAPUsername: "me",
		}},
	}
	require.NoError(t, email.NewAccountManager(cfg, logger).Register(ctx, store))

	q := store.Q()
	account, err := q.GetAccountByName(ctx, "work")
	require.NoError(t, err)
	inbox := &types.Folder{AccountID: account.ID, Name: "INBOX", Type: types.FolderInbox, Synchronize: true, SyncDays: 7, KeepDays: 30}
	_, err = q.InsertFolder(ctx, inbox)
	require.NoError(t, err)
	archive := &types.Folder{AccountID: account.ID, Name: "Archive", Type: types.FolderArchive, SyncDays: 7, KeepDays: 30}
	_, err = q.InsertFolder(ctx, archive)
	require.NoError(t, err)

	f := &fixture{
		ctx:      ctx,
		store:    store,
		files:    files,
		syncer:   &recordingSyncer{},
		notifier: email.NewLogNotifier(logger),
		account:  account,
		inbox:    inbox,
		archive:  archive,
	}
	f.registry = NewRegistry(Deps{
		Config:        cfg,
		Store:         store,
		Files:         files,
		Syncer:        f.syncer,
		Notifications: f.notifier,
		Logger:        logger,
	})
	return f
}

func (f *fixture) message(t *testing.T, uid uint32, subject string) *types.Message {
	t.Helper()
	m := &types.Message{
		AccountID:  f.account.ID,
		FolderID:   f.inbox.ID,
		UID:        &uid,
		MsgID:      "<" + subject + "@example.com>",
		ThreadID:   "<" + subject + "@example.com>",
		From:       types.AddressList{{Address: "alice@example.com", Name: "Alice"}},
		To:         types.AddressList{{Address: "me@example.com"}},
		Subject:    subject,
		ReceivedAt: time.Now().Add(-time.Hour).UnixMilli(),
	}
	_, err := f.store.Q().InsertMessage(f.ctx, m)
	require.NoError(t, err)
	return m
}

func (f *fixture) call(t *testing.T, name string, params map[string]interface{}) (interface{}, error) {
	t.Helper()
	tool, ok := f.registry.GetTool(name)
	require.True(t, ok, name)
	return tool.Execute(f.ctx, params)
}

func TestRegistryDefinitionsAreSorted(t *testing.T) {
	f := newFixture(t)
	defs := f.registry.GetToolDefinitions()
	var names []string
	for _, d := range defs {
		names = append(names, d["name"].(string))
	}
	assert.Equal(t, []string{
		"get_email", "list_folders", "list_notifications", "search_emails",
		"send_email", "sync_account", "update_email",
	}, names)
}

func TestListFoldersIncludesOutbox(t *testing.T) {
	f := newFixture(t)
	f.message(t, 1, "hello")

	out, err := f.call(t, "list_folders", map[string]interface{}{"account_name": "work"})
	require.NoError(t, err)
	folders := out.([]map[string]interface{})
	require.Len(t, folders, 3)

	byType := map[string]map[string]interface{}{}
	for _, folder := range folders {
		byType[folder["type"].(string)] = folder
	}
	assert.Equal(t, 1, byType[types.FolderInbox]["message_count"])
	assert.Equal(t, "Outbox", byType[types.FolderOutbox]["display"])

	_, err = f.call(t, "list_folders", map[string]interface{}{"account_name": "nobody"})
	assert.Error(t, err)
}

func TestSearchByFolder(t *testing.T) {
	f := newFixture(t)
	f.message(t, 1, "invoice")

	out, err := f.call(t, "search_emails", map[string]interface{}{
		"account_name": "work",
		"folder":       "INBOX",
		"subject":      "invoice",
	})
	require.NoError(t, err)
	results := out.([]map[string]interface{})
	require.Len(t, results, 1)
	assert.Equal(t, "INBOX", results[0]["folder"])
	assert.Equal(t, `"Alice" <alice@example.com>`, results[0]["from"])

	_, err = f.call(t, "search_emails", map[string]interface{}{"folder": "INBOX"})
	assert.Error(t, err)
}

func TestGetEmailQueuesBodyOnce(t *testing.T) {
	f := newFixture(t)
	m := f.message(t, 5, "pending")

	for i := 0; i < 2; i++ {
		out, err := f.call(t, "get_email", map[string]interface{}{"email_id": float64(m.ID)})
		require.NoError(t, err)
		assert.Equal(t, true, out.(map[string]interface{})["body_pending"])
	}

	ops, err := f.store.Q().GetOperations(f.ctx, f.inbox.ID)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, types.OpBody, ops[0].Kind)
	assert.Equal(t, []string{"work"}, f.syncer.released)
}

func TestGetEmailRendersCachedBody(t *testing.T) {
	f := newFixture(t)
	m := f.message(t, 5, "cached")
	require.NoError(t, f.files.WriteBody(m.ID, "<p>Hello there</p>"))
	require.NoError(t, f.store.Q().SetMessageContent(f.ctx, m.ID, true, nil))

	out, err := f.call(t, "get_email", map[string]interface{}{"email_id": strconv.FormatInt(m.ID, 10)})
	require.NoError(t, err)
	result := out.(map[string]interface{})
	assert.Equal(t, "Hello there", result["body_text"])
	assert.Nil(t, result["body_pending"])
}

func TestSendQueuesOutboxMessage(t *testing.T) {
	f := newFixture(t)

	out, err := f.call(t, "send_email", map[string]interface{}{
		"account_name": "work",
		"to":           "you@example.org, other@example.org",
		"bcc":          "hidden@example.org",
		"subject":      "Lunch",
		"body_text":    "Noon?\nSee you",
	})
	require.NoError(t, err)
	id := out.(map[string]interface{})["id"].(int64)

	q := f.store.Q()
	msg, err := q.GetMessage(f.ctx, id)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, []string{"you@example.org", "other@example.org"}, msg.To.Strings())
	assert.Equal(t, []string{"hidden@example.org"}, msg.Bcc.Strings())
	assert.Equal(t, "me@example.com", msg.From[0].Address)
	assert.NotNil(t, msg.IdentityID)
	assert.True(t, msg.Content)

	body, err := f.files.ReadBody(id)
	require.NoError(t, err)
	assert.Equal(t, "<p>Noon?<br>See you</p>", body)

	outbox, err := q.GetFolderByType(f.ctx, f.account.ID, types.FolderOutbox)
	require.NoError(t, err)
	assert.Equal(t, outbox.ID, msg.FolderID)
	ops, err := q.GetOperations(f.ctx, outbox.ID)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, types.OpSend, ops[0].Kind)
	assert.Equal(t, []string{"work"}, f.syncer.released)
}

func TestSendRequiresBody(t *testing.T) {
	f := newFixture(t)
	_, err := f.call(t, "send_email", map[string]interface{}{
		"account_name": "work",
		"to":           "you@example.org",
		"subject":      "Empty",
	})
	assert.Error(t, err)
}

func TestUpdateEmail(t *testing.T) {
	f := newFixture(t)
	m := f.message(t, 9, "update")
	id := float64(m.ID)

	_, err := f.call(t, "update_email", map[string]interface{}{"email_id": id, "action": "seen"})
	require.NoError(t, err)
	_, err = f.call(t, "update_email", map[string]interface{}{"email_id": id, "action": "move", "folder": "Archive"})
	require.NoError(t, err)

	q := f.store.Q()
	got, err := q.GetMessage(f.ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, got.UISeen)
	assert.True(t, got.UIHide)

	ops, err := q.GetOperations(f.ctx, f.inbox.ID)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, types.OpSeen, ops[0].Kind)
	assert.Equal(t, types.OpMove, ops[1].Kind)

	_, err = f.call(t, "update_email", map[string]interface{}{"email_id": id, "action": "move", "folder": "Nowhere"})
	assert.Error(t, err)
	_, err = f.call(t, "update_email", map[string]interface{}{"email_id": id, "action": "explode"})
	assert.Error(t, err)

	ops, err = q.GetOperations(f.ctx, f.inbox.ID)
	require.NoError(t, err)
	assert.Len(t, ops, 2)
}

func TestSyncAccount(t *testing.T) {
	f := newFixture(t)
	_, err := f.call(t, "sync_account", map[string]interface{}{"account_name": "work", "folder": "INBOX"})
	require.NoError(t, err)
	assert.Equal(t, []string{"work/INBOX"}, f.syncer.synced)
	assert.Empty(t, f.syncer.reconnected)

	_, err = f.call(t, "sync_account", map[string]interface{}{"account_name": "work", "reconnect": true})
	require.NoError(t, err)
	assert.Equal(t, []string{"work/INBOX", "work/"}, f.syncer.synced)
	assert.Equal(t, []string{"work"}, f.syncer.reconnected)

	_, err = f.call(t, "sync_account", map[string]interface{}{"account_name": "missing"})
	assert.Error(t, err)
}

func TestListNotifications(t *testing.T) {
	f := newFixture(t)
	f.notifier.Notify(f.account, f.inbox, "Server alert", errors.New("quota exceeded"))

	out, err := f.call(t, "list_notifications", nil)
	require.NoError(t, err)
	notes := out.([]map[string]interface{})
	require.Len(t, notes, 1)
	assert.Equal(t, "Server alert", notes[0]["title"])
	assert.Equal(t, "INBOX", notes[0]["folder"])
	assert.Equal(t, "quota exceeded", notes[0]["message"])
}
