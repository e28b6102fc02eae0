package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/cache"
	"github.com/brandon/mailsync/internal/parts"
	"github.com/brandon/mailsync/internal/remote"
	"github.com/brandon/mailsync/pkg/types"
)

// SynchronizeMessage merges one remote message into the cache inside the
// caller's transaction and returns the cached row. A message is matched by
// uid first and then by Message-ID, so that locally created copies and
// outbox messages are adopted instead of duplicated.
func (e *Engine) SynchronizeMessage(ctx context.Context, q *cache.Queries, s *Session, rm *remote.Message, browsed bool, rules []types.Rule) (*types.Message, error) {
	folder := s.Folder
	log := e.folderLogger(s.Account, folder).WithField("uid", rm.UID)

	if rm.Expunged || rm.Deleted() {
		return nil, fmt.Errorf("%w: uid %d", remote.ErrMessageRemoved, rm.UID)
	}

	msg, err := q.GetMessageByUID(ctx, folder.ID, rm.UID)
	if err != nil {
		return nil, err
	}

	// New rows and rows that just received their uid are filtered
	filter := false
	if msg == nil {
		if err := ensureHeaders(ctx, s.Remote, rm); err != nil {
			return nil, err
		}
		var adopted bool
		msg, adopted, err = e.adopt(ctx, q, folder, rm, log)
		if err != nil {
			return nil, err
		}
		filter = msg == nil || adopted
	}

	if msg == nil {
		if msg, err = e.insertMessage(ctx, q, folder, rm, browsed); err != nil {
			return nil, err
		}
		log.WithField("message", msg.ID).Debug("Added message")
	} else if err := e.refreshMessage(ctx, q, msg, rm, log); err != nil {
		return nil, err
	}

	if err := indexSenders(ctx, q, folder, msg); err != nil {
		return nil, err
	}
	if err := mergeFolderKeywords(ctx, q, folder.ID, rm.Keywords()); err != nil {
		return nil, err
	}

	if filter {
		e.applyRules(ctx, q, msg, rm, rules)
	}
	return msg, nil
}

// ensureHeaders fetches the header block when only flags were fetched
func ensureHeaders(ctx context.Context, f remote.Folder, rm *remote.Message) error {
	if rm.Header != nil {
		return nil
	}
	full, err := fetchOne(ctx, f, rm.UID, remote.FetchHeaders)
	if err != nil {
		return err
	}
	rm.Header, rm.RawHeader, rm.Structure = full.Header, full.RawHeader, full.Structure
	rm.Size, rm.InternalDate = full.Size, full.InternalDate
	return nil
}

// adopt looks for a cached row with the same Message-ID in this folder, or in
// the outbox when this is the Sent folder, and moves it onto the remote
// message. A row that already has a different uid keeps it and gets a warning.
func (e *Engine) adopt(ctx context.Context, q *cache.Queries, folder *types.Folder, rm *remote.Message, log *logrus.Entry) (*types.Message, bool, error) {
	msgid := rm.MessageID()
	if msgid == "" {
		return nil, false, nil
	}
	dups, err := q.GetMessagesByMsgID(ctx, folder.AccountID, msgid)
	if err != nil {
		return nil, false, err
	}

	var found *types.Message
	adopted := false
	for i := range dups {
		dup := &dups[i]
		dfolder, err := q.GetFolder(ctx, dup.FolderID)
		if err != nil {
			return nil, false, err
		}
		sameFolder := dup.FolderID == folder.ID
		sent := dfolder != nil && dfolder.Type == types.FolderOutbox && folder.Type == types.FolderSent
		if !sameFolder && !sent {
			continue
		}

		changed := dup.FolderID != folder.ID || dup.MsgID != msgid || dup.ThreadID != rm.ThreadID() || dup.Error != nil
		dup.FolderID = folder.ID
		if dup.UID == nil {
			uid := rm.UID
			dup.UID = &uid
			adopted, changed = true, true
			log.WithField("message", dup.ID).Debug("Adopted local copy")
		} else if *dup.UID != rm.UID {
			warning := withWarning(dup.Warning, fmt.Sprintf("uid changed from %d to %d", *dup.UID, rm.UID))
			if dup.Warning == nil || *dup.Warning != *warning {
				log.WithFields(logrus.Fields{"message": dup.ID, "previous": *dup.UID}).Warn("Message changed uid")
				dup.Warning = warning
				changed = true
			}
		}
		dup.MsgID = msgid
		dup.ThreadID = rm.ThreadID()
		dup.Error = nil
		if changed {
			if err := q.UpdateMessage(ctx, dup); err != nil {
				return nil, false, err
			}
		}
		found = dup
	}
	return found, adopted, nil
}

// withWarning appends w to an existing warning unless it is already there
func withWarning(existing *string, w string) *string {
	if existing == nil || *existing == "" {
		return &w
	}
	if strings.Contains(*existing, w) {
		return existing
	}
	return strPtr(*existing + "; " + w)
}

// insertMessage creates the cached row and its attachment placeholders
func (e *Engine) insertMessage(ctx context.Context, q *cache.Queries, folder *types.Folder, rm *remote.Message, browsed bool) (*types.Message, error) {
	identityID, err := findIdentity(ctx, q, folder.AccountID, rm)
	if err != nil {
		return nil, err
	}

	uid := rm.UID
	seen, answered, flagged := rm.Seen(), rm.Answered(), rm.Flagged()
	msg := &types.Message{
		AccountID:   folder.AccountID,
		FolderID:    folder.ID,
		IdentityID:  identityID,
		UID:         &uid,
		MsgID:       rm.MessageID(),
		References:  rm.References(),
		InReplyTo:   rm.InReplyTo(),
		DeliveredTo: rm.DeliveredTo(),
		ThreadID:    rm.ThreadID(),
		From:        rm.From(),
		To:          rm.To(),
		Cc:          rm.Cc(),
		Bcc:         rm.Bcc(),
		Reply:       rm.ReplyTo(),
		Subject:     rm.Subject(),
		SentAt:      rm.Sent(),
		ReceivedAt:  rm.InternalDate.UnixMilli(),
		Seen:        seen,
		Answered:    answered,
		Flagged:     flagged,
		Flags:       rm.RawFlags(),
		Keywords:    rm.Keywords(),
		UISeen:      seen,
		UIAnswered:  answered,
		UIFlagged:   flagged,
		UIIgnored:   seen,
		UIBrowsed:   browsed,
	}
	if rm.InternalDate.IsZero() {
		msg.ReceivedAt = cache.Now()
	}
	if rm.Size > 0 {
		size := rm.Size
		msg.Size = &size
	}
	if e.avatars != nil {
		msg.Avatar = e.avatars(msg.From)
	}

	// Mail relayed for another domain
	if sender := rm.Sender(); len(sender) > 0 && len(msg.From) > 0 {
		from, via := msg.From[0].Domain(), sender[0].Domain()
		if from != "" && via != "" && from != via {
			msg.Warning = strPtr("via " + via)
		}
	}

	if _, err := q.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}
	for _, a := range parts.Attachments(msg.ID, rm.Structure) {
		attachment := a
		if _, err := q.InsertAttachment(ctx, &attachment); err != nil {
			return nil, err
		}
	}
	return msg, nil
}

// findIdentity matches the recipients, senders and Delivered-To address
// against the account's identities, trying each address and its canonical form
func findIdentity(ctx context.Context, q *cache.Queries, accountID int64, rm *remote.Message) (*int64, error) {
	identities, err := q.ListIdentities(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if len(identities) == 0 {
		return nil, nil
	}

	candidates := append(rm.To(), rm.From()...)
	if delivered := rm.DeliveredTo(); delivered != "" {
		candidates = append(candidates, types.Address{Address: delivered})
	}
	var pool []string
	for _, c := range candidates {
		if c.Address == "" {
			continue
		}
		plain := strings.ToLower(c.Address)
		pool = append(pool, plain)
		if canonical := c.Canonical(); canonical != plain {
			pool = append(pool, canonical)
		}
	}

	for _, email := range pool {
		for i := range identities {
			if strings.EqualFold(identities[i].Email, email) {
				return &identities[i].ID, nil
			}
		}
	}
	return nil, nil
}

// refreshMessage brings the flags of a known row up to date with the server
func (e *Engine) refreshMessage(ctx context.Context, q *cache.Queries, msg *types.Message, rm *remote.Message, log *logrus.Entry) error {
	update := false

	seen, answered, flagged := rm.Seen(), rm.Answered(), rm.Flagged()
	if msg.Seen != seen || msg.Seen != msg.UISeen {
		msg.Seen, msg.UISeen = seen, seen
		update = true
	}
	if msg.Answered != answered || msg.Answered != msg.UIAnswered {
		msg.Answered, msg.UIAnswered = answered, answered
		update = true
	}
	if msg.Flagged != flagged || msg.Flagged != msg.UIFlagged {
		msg.Flagged, msg.UIFlagged = flagged, flagged
		update = true
	}
	if flags := rm.RawFlags(); flags != msg.Flags {
		msg.Flags = flags
		update = true
	}
	if keywords := rm.Keywords(); !keywords.Equal(msg.Keywords) {
		msg.Keywords = keywords
		update = true
	}

	if msg.UIHide {
		pending, err := q.CountMessageOperations(ctx, msg.ID)
		if err != nil {
			return err
		}
		if pending == 0 {
			msg.UIHide = false
			update = true
		}
	}
	if msg.UIBrowsed {
		msg.UIBrowsed = false
		update = true
	}
	if msg.Avatar == nil && e.avatars != nil {
		if avatar := e.avatars(msg.From); avatar != nil {
			msg.Avatar = avatar
			update = true
		}
	}

	if !update {
		return nil
	}
	log.WithField("message", msg.ID).Debug("Updated message")
	return q.UpdateMessage(ctx, msg)
}

// indexSenders records who wrote to the user, using Reply-To when present
func indexSenders(ctx context.Context, q *cache.Queries, folder *types.Folder, msg *types.Message) error {
	if folder.IsOutgoing() || folder.Type == types.FolderArchive {
		return nil
	}
	senders := msg.From
	if len(msg.Reply) > 0 {
		senders = msg.Reply
	}

	for _, sender := range senders {
		if sender.Address == "" {
			continue
		}
		contact, err := q.GetContact(ctx, types.ContactFrom, sender.Address)
		if err != nil {
			return err
		}
		var name *string
		if sender.Name != "" {
			name = strPtr(sender.Name)
		}
		if contact == nil {
			if _, err := q.InsertContact(ctx, &types.Contact{Type: types.ContactFrom, Email: sender.Address, Name: name}); err != nil {
				return err
			}
			continue
		}
		if name != nil && (contact.Name == nil || *contact.Name != *name) {
			if err := q.UpdateContactName(ctx, contact.ID, name); err != nil {
				return err
			}
		}
	}
	return nil
}

// mergeFolderKeywords adds keywords the folder has not seen yet
func mergeFolderKeywords(ctx context.Context, q *cache.Queries, folderID int64, keywords types.StringList) error {
	if len(keywords) == 0 {
		return nil
	}
	folder, err := q.GetFolder(ctx, folderID)
	if err != nil {
		return err
	}
	if folder == nil {
		return nil
	}

	merged := append(types.StringList{}, folder.Keywords...)
	for _, k := range keywords {
		if !merged.Contains(k) {
			merged = append(merged, k)
		}
	}
	if len(merged) == len(folder.Keywords) {
		return nil
	}
	sort.Strings(merged)
	return q.SetFolderKeywords(ctx, folderID, merged)
}

// applyRules runs the folder's rules in order until one asks to stop.
// A failing rule is recorded on the message and ends filtering.
func (e *Engine) applyRules(ctx context.Context, q *cache.Queries, msg *types.Message, rm *remote.Message, rules []types.Rule) {
	if !e.settings.FilterRules || e.rules == nil {
		return
	}
	for i := range rules {
		rule := &rules[i]
		err := e.runRule(ctx, q, rule, msg, rm)
		if err == nil {
			continue
		}
		if errors.Is(err, errStopRules) {
			return
		}
		e.logger.WithError(err).WithField("rule", rule.Name).Warn("Rule failed")
		if err := q.SetMessageError(ctx, msg.ID, errString(err)); err != nil {
			e.logger.WithError(err).Warn("Failed to record rule error")
		}
		return
	}
}

var errStopRules = errors.New("stop processing rules")

func (e *Engine) runRule(ctx context.Context, q *cache.Queries, rule *types.Rule, msg *types.Message, rm *remote.Message) error {
	ok, err := e.rules.Matches(ctx, rule, msg, rm)
	if err != nil || !ok {
		return err
	}
	if err := e.rules.Execute(ctx, q, rule, msg); err != nil {
		return err
	}
	if rule.Stop {
		return errStopRules
	}
	return nil
}
