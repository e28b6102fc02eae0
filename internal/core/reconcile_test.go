package core

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailsync/internal/cache"
	"github.com/brandon/mailsync/internal/lifecycle"
	"github.com/brandon/mailsync/internal/remote"
	"github.com/brandon/mailsync/pkg/types"
)

var syncWeek = types.SyncArgs{SyncDays: 7, KeepDays: 30}

func TestWindow(t *testing.T) {
	now := time.Date(2024, 3, 10, 15, 30, 0, 0, time.UTC)

	syncFrom, keepFrom := Window(now, 3, 3)
	assert.Equal(t, time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC), syncFrom)
	assert.Equal(t, time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC), keepFrom)

	syncFrom, keepFrom = Window(now, 1, 30)
	assert.Equal(t, time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC), syncFrom)
	assert.Equal(t, time.Date(2024, 2, 9, 0, 0, 0, 0, time.UTC), keepFrom)

	syncFrom, _ = Window(now, 100000, 100000)
	assert.Equal(t, time.Unix(0, 0), syncFrom)
}

func TestSynchronizeInsertsNewMessages(t *testing.T) {
	h := newHarness(t)
	inbox, rf := h.folder("INBOX", types.FolderInbox, allFlags...)
	rf.Deliver(rawMessage("<a@example.com>", "One"), time.Now(), imap.SeenFlag)
	rf.Deliver(rawMessage("<b@example.com>", "Two"), time.Now(), imap.FlaggedFlag, "work")

	require.NoError(t, h.engine.SynchronizeMessages(h.ctx, h.session(inbox), syncWeek))

	first, err := h.store.Q().GetMessageByUID(h.ctx, inbox.ID, 1)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "One", first.Subject)
	assert.True(t, first.Seen)
	assert.True(t, first.UISeen)
	assert.True(t, first.UIIgnored)

	second, err := h.store.Q().GetMessageByUID(h.ctx, inbox.ID, 2)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.True(t, second.Flagged)
	assert.Equal(t, types.StringList{"work"}, second.Keywords)

	f, err := h.store.Q().GetFolder(h.ctx, inbox.ID)
	require.NoError(t, err)
	assert.True(t, f.Initialized)
	assert.NotNil(t, f.LastSyncAt)
	assert.Nil(t, f.SyncState)
	assert.Equal(t, types.StringList{"work"}, f.Keywords)

	contact, err := h.store.Q().GetContact(h.ctx, types.ContactFrom, "alice@example.com")
	require.NoError(t, err)
	require.NotNil(t, contact)
	assert.Equal(t, "Alice", *contact.Name)
}

func TestSynchronizeIsIdempotent(t *testing.T) {
	h := newHarness(t)
	inbox, rf := h.folder("INBOX", types.FolderInbox, allFlags...)
	for i := 0; i < 25; i++ {
		rf.Deliver(rawMessage(fmt.Sprintf("<m%d@example.com>", i), "Batch"), time.Now())
	}

	require.NoError(t, h.engine.SynchronizeMessages(h.ctx, h.session(inbox), syncWeek))
	before, err := h.store.Q().GetUIDs(h.ctx, inbox.ID)
	require.NoError(t, err)
	require.Len(t, before, 25)
	m, err := h.store.Q().GetMessageByUID(h.ctx, inbox.ID, 25)
	require.NoError(t, err)

	s := h.session(inbox)
	require.NoError(t, h.engine.SynchronizeMessages(h.ctx, s, syncWeek))
	after, err := h.store.Q().GetUIDs(h.ctx, inbox.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, before, after)

	again, err := h.store.Q().GetMessageByUID(h.ctx, inbox.ID, 25)
	require.NoError(t, err)
	assert.Equal(t, m.ID, again.ID)
	for _, call := range h.remote.Calls() {
		assert.NotContains(t, call, "profile=1", "known messages must not be refetched")
	}
}

func TestSynchronizeRefreshesFlags(t *testing.T) {
	h := newHarness(t)
	inbox, rf := h.folder("INBOX", types.FolderInbox, allFlags...)
	uid := rf.Deliver(rawMessage("<a@example.com>", "One"), time.Now())
	require.NoError(t, h.engine.SynchronizeMessages(h.ctx, h.session(inbox), syncWeek))

	s := h.session(inbox)
	require.NoError(t, s.Remote.SetFlag(h.ctx, uid, imap.SeenFlag, true))
	require.NoError(t, h.engine.SynchronizeMessages(h.ctx, s, syncWeek))

	m, err := h.store.Q().GetMessageByUID(h.ctx, inbox.ID, uid)
	require.NoError(t, err)
	assert.True(t, m.Seen)
	assert.True(t, m.UISeen)
	assert.Contains(t, m.Flags, imap.SeenFlag)
}

func TestSynchronizeSkipsDeletedMessages(t *testing.T) {
	h := newHarness(t)
	inbox, rf := h.folder("INBOX", types.FolderInbox, allFlags...)
	rf.Deliver(rawMessage("<a@example.com>", "Gone"), time.Now(), imap.DeletedFlag)

	require.NoError(t, h.engine.SynchronizeMessages(h.ctx, h.session(inbox), syncWeek))

	n, err := h.store.Q().CountMessages(h.ctx, inbox.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSynchronizeDeletesVanishedMessagesOnly(t *testing.T) {
	h := newHarness(t)
	inbox, rf := h.folder("INBOX", types.FolderInbox, allFlags...)
	for i := 0; i < 3; i++ {
		rf.Deliver(rawMessage(fmt.Sprintf("<m%d@example.com>", i), "Recent"), time.Now())
	}
	rf.Remove(3)
	old := rf.Deliver(rawMessage("<old@example.com>", "Old"), time.Now().AddDate(0, 0, -20))

	gone := h.message(inbox, uidPtr(3), "<m2@example.com>")
	kept := h.message(inbox, uidPtr(old), "<old@example.com>")

	require.NoError(t, h.engine.SynchronizeMessages(h.ctx, h.session(inbox), syncWeek))

	assert.Nil(t, h.reload(gone))
	assert.NotNil(t, h.reload(kept))
	assert.Contains(t, h.remote.Calls(), "UID FETCH INBOX [3 4]")
}

func TestSynchronizeRetentionDropsOldMessages(t *testing.T) {
	h := newHarness(t)
	inbox, _ := h.folder("INBOX", types.FolderInbox, allFlags...)
	m := h.message(inbox, uidPtr(9), "<ancient@example.com>")
	m.ReceivedAt = time.Now().AddDate(0, 0, -60).UnixMilli()
	require.NoError(t, h.store.Q().UpdateMessage(h.ctx, m))
	require.NoError(t, h.files.WriteBody(m.ID, "<p>old</p>"))
	a := &types.Attachment{MessageID: m.ID, Sequence: 1, Type: "application/pdf", Available: true}
	_, err := h.store.Q().InsertAttachment(h.ctx, a)
	require.NoError(t, err)
	require.NoError(t, h.files.WriteAttachment(a.ID, []byte("%PDF")))

	orphan := h.message(inbox, nil, "<orphan@example.com>")
	require.NoError(t, h.files.WriteBody(orphan.ID, "<p>orphan</p>"))

	require.NoError(t, h.engine.SynchronizeMessages(h.ctx, h.session(inbox), syncWeek))
	assert.Nil(t, h.reload(m))
	assert.Nil(t, h.reload(orphan))
	_, err = h.files.ReadBody(m.ID)
	assert.Error(t, err)
	_, err = h.files.ReadAttachment(a.ID)
	assert.Error(t, err)
	_, err = h.files.ReadBody(orphan.ID)
	assert.Error(t, err)
}

func TestSynchronizeAdoptsLocalCopy(t *testing.T) {
	h := newHarness(t)
	drafts, rf := h.folder("Drafts", types.FolderDrafts, allFlags...)
	local := h.message(drafts, nil, "<draft@example.com>")
	h.queue(drafts, local, types.AddArgs{})
	uid := rf.Deliver(rawMessage("<draft@example.com>", "Draft"), time.Now(), imap.DraftFlag)

	require.NoError(t, h.engine.SynchronizeMessages(h.ctx, h.session(drafts), syncWeek))

	got := h.reload(local)
	require.NotNil(t, got.UID)
	assert.Equal(t, uid, *got.UID)
	n, err := h.store.Q().CountMessages(h.ctx, drafts.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestChangedUIDKeepsPreviousUID(t *testing.T) {
	h := newHarness(t)
	inbox, rf := h.folder("INBOX", types.FolderInbox, allFlags...)
	local := h.message(inbox, uidPtr(7), "<a@example.com>")
	local.Warning = strPtr("via relay.example.com")
	require.NoError(t, h.store.Q().UpdateMessage(h.ctx, local))
	uid := rf.Deliver(rawMessage("<a@example.com>", "One"), time.Now())

	s := h.session(inbox)
	for pass := 0; pass < 2; pass++ {
		fetched, err := s.Remote.Fetch(h.ctx, []uint32{uid}, remote.FetchHeaders)
		require.NoError(t, err)
		require.Len(t, fetched, 1)

		var merged *types.Message
		require.NoError(t, h.store.InTx(h.ctx, func(q *cache.Queries) error {
			merged, err = h.engine.SynchronizeMessage(h.ctx, q, s, fetched[0], false, nil)
			return err
		}))
		assert.Equal(t, local.ID, merged.ID)

		got := h.reload(local)
		assert.Equal(t, uint32(7), *got.UID)
		require.NotNil(t, got.Warning)
		assert.Equal(t, "via relay.example.com; uid changed from 7 to 1", *got.Warning)
	}
}

func TestSynchronizeDownloadsContent(t *testing.T) {
	h := newHarness(t)
	h.engine.settings.Metered = func() (bool, bool) { return false, true }
	inbox, rf := h.folder("INBOX", types.FolderInbox, allFlags...)
	uid := rf.Deliver(rawMessage("<a@example.com>", "One"), time.Now())

	require.NoError(t, h.engine.SynchronizeMessages(h.ctx, h.session(inbox), types.SyncArgs{SyncDays: 7, KeepDays: 30, Download: true}))

	m, err := h.store.Q().GetMessageByUID(h.ctx, inbox.ID, uid)
	require.NoError(t, err)
	assert.True(t, m.Content)
	body, err := h.files.ReadBody(m.ID)
	require.NoError(t, err)
	assert.Contains(t, body, "numbers are in")
}

func TestSynchronizeSkipsLargeDownloadsOnMeteredNetwork(t *testing.T) {
	h := newHarness(t)
	h.engine.settings.Metered = func() (bool, bool) { return true, true }
	h.engine.settings.MaxDownloadSize = 16
	inbox, rf := h.folder("INBOX", types.FolderInbox, allFlags...)
	uid := rf.Deliver(rawMessage("<a@example.com>", "One"), time.Now())

	require.NoError(t, h.engine.SynchronizeMessages(h.ctx, h.session(inbox), types.SyncArgs{SyncDays: 7, KeepDays: 30, Download: true}))

	m, err := h.store.Q().GetMessageByUID(h.ctx, inbox.ID, uid)
	require.NoError(t, err)
	assert.False(t, m.Content)
	for _, call := range h.remote.Calls() {
		assert.NotContains(t, call, "profile=2")
	}
}

func TestFits(t *testing.T) {
	e := &Engine{settings: Settings{MaxDownloadSize: 100}}
	small, large := int64(10), int64(1000)

	e.settings.Metered = func() (bool, bool) { return false, true }
	assert.True(t, e.fits(nil))
	assert.True(t, e.fits(&large))

	e.settings.Metered = func() (bool, bool) { return false, false }
	assert.False(t, e.fits(nil))
	assert.True(t, e.fits(&small))
	assert.False(t, e.fits(&large))

	e.settings.MaxDownloadSize = 0
	assert.True(t, e.fits(&large))
}

func TestSynchronizeFilesSentOrphans(t *testing.T) {
	h := newHarness(t)
	sent, _ := h.folder("Sent", types.FolderSent, allFlags...)
	outbox := &types.Folder{AccountID: h.account.ID, Name: "Outbox", Type: types.FolderOutbox}
	_, err := h.store.Q().InsertFolder(h.ctx, outbox)
	require.NoError(t, err)
	m := h.message(outbox, nil, "<out@example.com>")
	require.NoError(t, h.store.Q().SetMessageSent(h.ctx, m.ID, time.Now().UnixMilli()))
	pending := h.message(outbox, nil, "<later@example.com>")

	require.NoError(t, h.engine.SynchronizeMessages(h.ctx, h.session(sent), syncWeek))

	assert.Equal(t, sent.ID, h.reload(m).FolderID)
	assert.Equal(t, outbox.ID, h.reload(pending).FolderID)
	ops := h.operations(sent)
	require.Len(t, ops, 1)
	assert.Equal(t, types.OpAdd, ops[0].Kind)
	assert.Equal(t, m.ID, *ops[0].MessageID)
}

func TestSynchronizeAdoptsSentOutboxMessage(t *testing.T) {
	h := newHarness(t)
	sent, rf := h.folder("Sent", types.FolderSent, allFlags...)
	outbox := &types.Folder{AccountID: h.account.ID, Name: "Outbox", Type: types.FolderOutbox}
	_, err := h.store.Q().InsertFolder(h.ctx, outbox)
	require.NoError(t, err)
	m := h.message(outbox, nil, "<out@example.com>")
	uid := rf.Deliver(rawMessage("<out@example.com>", "Status"), time.Now(), imap.SeenFlag)

	require.NoError(t, h.engine.SynchronizeMessages(h.ctx, h.session(sent), syncWeek))

	got := h.reload(m)
	assert.Equal(t, sent.ID, got.FolderID)
	assert.Equal(t, uid, *got.UID)
}

func TestSynchronizeStopsWhenStateStops(t *testing.T) {
	h := newHarness(t)
	inbox, rf := h.folder("INBOX", types.FolderInbox, allFlags...)
	rf.Deliver(rawMessage("<a@example.com>", "One"), time.Now())

	logger := logrus.New()
	state := lifecycle.New(context.Background(), "test", logger)
	state.Stop()
	s := h.session(inbox)
	s.State = state

	require.NoError(t, h.engine.SynchronizeMessages(h.ctx, s, syncWeek))

	n, err := h.store.Q().CountMessages(h.ctx, inbox.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
	f, err := h.store.Q().GetFolder(h.ctx, inbox.ID)
	require.NoError(t, err)
	assert.False(t, f.Initialized)
}

type recordingRules struct {
	matched  []string
	executed int
}

func (r *recordingRules) Matches(_ context.Context, rule *types.Rule, msg *types.Message, _ *remote.Message) (bool, error) {
	r.matched = append(r.matched, rule.Name+":"+msg.MsgID)
	return true, nil
}

func (r *recordingRules) Execute(context.Context, *cache.Queries, *types.Rule, *types.Message) error {
	r.executed++
	return nil
}

func TestSynchronizeFiltersNewMessagesOnce(t *testing.T) {
	h := newHarness(t)
	h.engine.settings.FilterRules = true
	rules := &recordingRules{}
	h.engine.SetRuleEngine(rules)

	inbox, rf := h.folder("INBOX", types.FolderInbox, allFlags...)
	for _, r := range []*types.Rule{
		{FolderID: inbox.ID, Name: "first", Priority: 1, Enabled: true, Stop: true},
		{FolderID: inbox.ID, Name: "second", Priority: 2, Enabled: true},
	} {
		_, err := h.store.Q().InsertRule(h.ctx, r)
		require.NoError(t, err)
	}
	rf.Deliver(rawMessage("<a@example.com>", "One"), time.Now())

	require.NoError(t, h.engine.SynchronizeMessages(h.ctx, h.session(inbox), syncWeek))
	require.NoError(t, h.engine.SynchronizeMessages(h.ctx, h.session(inbox), syncWeek))

	assert.Equal(t, []string{"first:<a@example.com>"}, rules.matched)
	assert.Equal(t, 1, rules.executed)
}
