package core

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailsync/internal/cache"
	"github.com/brandon/mailsync/internal/remote"
	"github.com/brandon/mailsync/internal/remote/fake"
	"github.com/brandon/mailsync/pkg/types"
)

var allFlags = []string{
	imap.SeenFlag, imap.AnsweredFlag, imap.FlaggedFlag, imap.DeletedFlag, imap.DraftFlag, remote.AnyKeyword,
}

type harness struct {
	t       *testing.T
	ctx     context.Context
	store   *cache.Store
	files   *cache.Files
	engine  *Engine
	remote  *fake.Store
	account *types.Account
}

func newHarness(t *testing.T, capabilities ...string) *harness {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	c, err := cache.NewCache(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	files, err := cache.NewFiles(t.TempDir())
	require.NoError(t, err)

	store := cache.NewStore(c, logger)
	ctx := context.Background()
	account := &types.Account{Name: "work", Host: "imap.example.com", Port: 993, Username: "me@example.com"}
	_, err = store.Q().UpsertAccount(ctx, account)
	require.NoError(t, err)

	engine := NewEngine(store, files, Settings{}, logger)
	engine.SetAvatarLookup(nil)
	return &harness{
		t:       t,
		ctx:     ctx,
		store:   store,
		files:   files,
		engine:  engine,
		remote:  fake.NewStore(capabilities...),
		account: account,
	}
}

// folder creates the folder locally and remotely
func (h *harness) folder(name, folderType string, permanentFlags ...string) (*types.Folder, *fake.Folder) {
	h.t.Helper()
	f := &types.Folder{
		AccountID:   h.account.ID,
		Name:        name,
		Type:        folderType,
		Synchronize: true,
		SyncDays:    types.DefaultSyncDays,
		KeepDays:    types.DefaultKeepDays,
	}
	_, err := h.store.Q().InsertFolder(h.ctx, f)
	require.NoError(h.t, err)
	return f, h.remote.AddFolder(name, permanentFlags...)
}

// session opens the remote folder and clears the recorded calls
func (h *harness) session(f *types.Folder) *Session {
	h.t.Helper()
	rf := h.remote.Folder(f.Name)
	require.NoError(h.t, rf.Open(h.ctx, true))
	h.remote.ResetCalls()
	return &Session{Account: h.account, Folder: f, Store: h.remote, Remote: rf}
}

func (h *harness) message(f *types.Folder, uid *uint32, msgid string) *types.Message {
	h.t.Helper()
	m := &types.Message{
		AccountID:  f.AccountID,
		FolderID:   f.ID,
		UID:        uid,
		MsgID:      msgid,
		ThreadID:   msgid,
		From:       types.AddressList{{Address: "alice@example.com", Name: "Alice"}},
		To:         types.AddressList{{Address: "me@example.com"}},
		Subject:    "Status",
		ReceivedAt: time.Now().UnixMilli(),
	}
	_, err := h.store.Q().InsertMessage(h.ctx, m)
	require.NoError(h.t, err)
	return m
}

func (h *harness) reload(m *types.Message) *types.Message {
	h.t.Helper()
	got, err := h.store.Q().GetMessage(h.ctx, m.ID)
	require.NoError(h.t, err)
	return got
}

func (h *harness) queue(f *types.Folder, m *types.Message, args types.OperationArgs) int64 {
	h.t.Helper()
	var id *int64
	if m != nil {
		id = &m.ID
	}
	opID, err := h.store.Q().QueueOperation(h.ctx, f.ID, id, args)
	require.NoError(h.t, err)
	return opID
}

func (h *harness) operations(f *types.Folder) []types.Operation {
	h.t.Helper()
	ops, err := h.store.Q().GetOperations(h.ctx, f.ID)
	require.NoError(h.t, err)
	return ops
}

func rawMessage(msgid, subject string) string {
	return "Message-ID: " + msgid + "\r\n" +
		"From: Alice <alice@example.com>\r\n" +
		"To: me@example.com\r\n" +
		"Subject: " + subject + "\r\n" +
		"Date: Tue, 14 Nov 2023 22:13:20 +0000\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"Hello there, the numbers are in.\r\n"
}

func uidPtr(v uint32) *uint32 { return &v }

func boolPtr(v bool) *bool { return &v }

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }
