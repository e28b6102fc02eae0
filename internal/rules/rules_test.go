package rules

import (
	"context"
	"io"
	"strconv"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailsync/internal/cache"
	"github.com/brandon/mailsync/internal/remote"
	"github.com/brandon/mailsync/pkg/types"
)

func newEngine() *Engine {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewEngine(logger)
}

func testMessage() *types.Message {
	return &types.Message{
		ID:       1,
		FolderID: 2,
		From:     types.AddressList{{Address: "billing@shop.example", Name: "Shop"}},
		To:       types.AddressList{{Address: "me@example.com"}},
		Subject:  "Your invoice #4411",
	}
}

func TestMatches(t *testing.T) {
	e := newEngine()
	rm := &remote.Message{RawHeader: []byte("List-Id: <news.shop.example>\r\nSubject: Your invoice #4411")}

	tests := []struct {
		name      string
		condition string
		want      bool
	}{
		{"sender substring", `{"sender":{"value":"SHOP.example"}}`, true},
		{"sender name", `{"sender":{"value":"Shop <"}}`, true},
		{"recipient", `{"recipient":{"value":"me@example.com"}}`, true},
		{"subject regex", `{"subject":{"value":"invoice #\\d+$","regex":true}}`, true},
		{"subject miss", `{"subject":{"value":"receipt"}}`, false},
		{"header", `{"header":{"value":"^List-Id:","regex":true}}`, true},
		{"all must hold", `{"sender":{"value":"shop"},"subject":{"value":"receipt"}}`, false},
		{"no condition", `{}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := e.Matches(context.Background(), &types.Rule{Name: tt.name, Condition: tt.condition}, testMessage(), rm)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestMatchesRejectsBadInput(t *testing.T) {
	e := newEngine()
	_, err := e.Matches(context.Background(), &types.Rule{Name: "bad", Condition: `{`}, testMessage(), nil)
	assert.Error(t, err)

	_, err = e.Matches(context.Background(), &types.Rule{Name: "bad", Condition: `{"subject":{"value":"(","regex":true}}`}, testMessage(), nil)
	assert.Error(t, err)
}

func newStore(t *testing.T) *cache.Store {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	c, err := cache.NewCache(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return cache.NewStore(c, logger)
}

func TestExecuteMoveQueuesOperation(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	acc := &types.Account{Name: "work", Host: "imap.example.com", Port: 993, Username: "me"}
	_, err := s.Q().UpsertAccount(ctx, acc)
	require.NoError(t, err)
	inbox := &types.Folder{AccountID: acc.ID, Name: "INBOX", Type: types.FolderInbox}
	_, err = s.Q().InsertFolder(ctx, inbox)
	require.NoError(t, err)
	bills := &types.Folder{AccountID: acc.ID, Name: "Bills", Type: types.FolderUser}
	_, err = s.Q().InsertFolder(ctx, bills)
	require.NoError(t, err)

	msg := testMessage()
	msg.AccountID, msg.FolderID, msg.MsgID = acc.ID, inbox.ID, "<i@shop.example>"
	_, err = s.Q().InsertMessage(ctx, msg)
	require.NoError(t, err)

	e := newEngine()
	rule := &types.Rule{Name: "bills", Action: `{"type":"move","target":` + strconv.FormatInt(bills.ID, 10) + `,"autoread":true}`}
	require.NoError(t, s.InTx(ctx, func(q *cache.Queries) error {
		return e.Execute(ctx, q, rule, msg)
	}))

	got, err := s.Q().GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, got.UIHide)
	ops, err := s.Q().GetOperations(ctx, inbox.ID)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, types.OpMove, ops[0].Kind)

	rule.Action = `{"type":"seen"}`
	require.NoError(t, s.InTx(ctx, func(q *cache.Queries) error {
		return e.Execute(ctx, q, rule, msg)
	}))
	got, err = s.Q().GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, got.UISeen)

	rule.Action = `{"type":"explode"}`
	assert.Error(t, s.InTx(ctx, func(q *cache.Queries) error {
		return e.Execute(ctx, q, rule, msg)
	}))
}
