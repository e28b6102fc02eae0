package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailsync/pkg/types"
)

func TestSynchronizeFoldersMirrorsServer(t *testing.T) {
	h := newHarness(t)
	h.account.Prefix = strPtr("INBOX")
	h.remote.AddFolder("INBOX", allFlags...)
	h.remote.AddFolder("INBOX/Projects", allFlags...)
	h.remote.AddFolder("Sent Items", allFlags...).Attributes = []string{`\Sent`}
	h.remote.AddFolder("[Gmail]", allFlags...).Attributes = []string{`\Noselect`}

	stale := &types.Folder{AccountID: h.account.ID, Name: "Old", Type: types.FolderUser}
	_, err := h.store.Q().InsertFolder(h.ctx, stale)
	require.NoError(t, err)
	outbox := &types.Folder{AccountID: h.account.ID, Name: "Outbox", Type: types.FolderOutbox}
	_, err = h.store.Q().InsertFolder(h.ctx, outbox)
	require.NoError(t, err)

	require.NoError(t, h.engine.SynchronizeFolders(h.ctx, h.account, h.remote))

	folders, err := h.store.Q().ListFolders(h.ctx, h.account.ID)
	require.NoError(t, err)
	byName := make(map[string]types.Folder)
	for _, f := range folders {
		byName[f.Name] = f
	}
	assert.Len(t, byName, 4)
	assert.NotContains(t, byName, "Old")
	assert.NotContains(t, byName, "[Gmail]")
	assert.Contains(t, byName, "Outbox")

	inbox := byName["INBOX"]
	assert.Equal(t, types.FolderInbox, inbox.Type)
	assert.True(t, inbox.Synchronize)
	assert.False(t, inbox.Poll)

	projects := byName["INBOX/Projects"]
	assert.Equal(t, types.FolderUser, projects.Type)
	assert.Equal(t, 1, projects.Level)
	require.NotNil(t, projects.Display)
	assert.Equal(t, "Projects", *projects.Display)
	assert.False(t, projects.Synchronize)

	sent := byName["Sent Items"]
	assert.Equal(t, types.FolderSent, sent.Type)
	assert.True(t, sent.Synchronize)
	assert.Equal(t, types.DefaultSyncDays, sent.SyncDays)
}

func TestSynchronizeFoldersAppliesPendingChanges(t *testing.T) {
	h := newHarness(t)
	h.remote.AddFolder("INBOX", allFlags...)
	h.remote.AddFolder("Trash me", allFlags...)

	created := &types.Folder{AccountID: h.account.ID, Name: "Receipts", Type: types.FolderUser, TBC: true}
	_, err := h.store.Q().InsertFolder(h.ctx, created)
	require.NoError(t, err)
	deleted := &types.Folder{AccountID: h.account.ID, Name: "Trash me", Type: types.FolderUser, TBD: true}
	_, err = h.store.Q().InsertFolder(h.ctx, deleted)
	require.NoError(t, err)

	require.NoError(t, h.engine.SynchronizeFolders(h.ctx, h.account, h.remote))

	assert.Equal(t, []string{"LIST", "CREATE Receipts", "DELETE Trash me", "LIST"}, h.remote.Calls())

	f, err := h.store.Q().GetFolderByName(h.ctx, h.account.ID, "Receipts")
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.False(t, f.TBC)
	assert.Equal(t, created.ID, f.ID)

	f, err = h.store.Q().GetFolderByName(h.ctx, h.account.ID, "Trash me")
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestSynchronizeFoldersPollsGmail(t *testing.T) {
	h := newHarness(t)
	h.account.Host = gmailHost
	h.remote.AddFolder("INBOX", allFlags...)

	require.NoError(t, h.engine.SynchronizeFolders(h.ctx, h.account, h.remote))

	f, err := h.store.Q().GetFolderByName(h.ctx, h.account.ID, "INBOX")
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.True(t, f.Poll)
}
