package core

import (
	"context"
	"fmt"
	"sort"

	"github.com/emersion/go-imap"

	"github.com/brandon/mailsync/internal/cache"
	"github.com/brandon/mailsync/internal/remote"
	"github.com/brandon/mailsync/pkg/types"
)

// systemFlag ties a protocol flag to its cached column
type systemFlag struct {
	name   string
	column cache.Flag
	get    func(m *types.Message) bool
}

var (
	imapSeen     = systemFlag{imap.SeenFlag, cache.FlagSeen, func(m *types.Message) bool { return m.Seen }}
	imapFlagged  = systemFlag{imap.FlaggedFlag, cache.FlagFlagged, func(m *types.Message) bool { return m.Flagged }}
	imapAnswered = systemFlag{imap.AnsweredFlag, cache.FlagAnswered, func(m *types.Message) bool { return m.Answered }}
)

// onFlag sets or clears a system flag. When the folder cannot store the flag
// the cached flag and its shadow are cleared instead.
func (e *Engine) onFlag(ctx context.Context, t *task, flag systemFlag, value bool) error {
	q := e.store.Q()
	if !t.Remote.HasPermanentFlag(flag.name) {
		return q.ClearMessageFlag(ctx, t.msg.ID, flag.column)
	}
	if flag.get(t.msg) == value {
		return nil
	}
	if err := t.Remote.SetFlag(ctx, *t.msg.UID, flag.name, value); err != nil {
		return err
	}
	return q.SetMessageFlag(ctx, t.msg.ID, flag.column, value)
}

// onKeyword sets or clears a user keyword
func (e *Engine) onKeyword(ctx context.Context, t *task, a types.KeywordArgs) error {
	if a.Keyword == "" {
		return malformed("empty keyword")
	}
	if !t.Remote.HasPermanentFlag(remote.AnyKeyword) {
		return e.store.Q().SetMessageKeywords(ctx, t.msg.ID, types.StringList{})
	}
	if err := t.Remote.SetFlag(ctx, *t.msg.UID, a.Keyword, a.Set); err != nil {
		return err
	}

	return e.store.InTx(ctx, func(q *cache.Queries) error {
		msg, err := q.GetMessage(ctx, t.msg.ID)
		if err != nil {
			return err
		}
		if msg == nil {
			return fmt.Errorf("%w: message %d", remote.ErrMessageRemoved, t.msg.ID)
		}
		return q.SetMessageKeywords(ctx, msg.ID, applyKeyword(msg.Keywords, a.Keyword, a.Set))
	})
}

// applyKeyword returns keywords with keyword added or removed, sorted
func applyKeyword(keywords types.StringList, keyword string, set bool) types.StringList {
	out := types.StringList{}
	for _, k := range keywords {
		if k != keyword {
			out = append(out, k)
		}
	}
	if set {
		out = append(out, keyword)
	}
	sort.Strings(out)
	return out
}
