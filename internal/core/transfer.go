package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/cache"
	"github.com/brandon/mailsync/internal/parts"
	"github.com/brandon/mailsync/internal/remote"
	"github.com/brandon/mailsync/pkg/types"
)

// onAdd appends the message to the operation's folder. A message that lives
// in this folder is composed from the cache and replaces every older copy with
// the same Message-ID; a message from another account is appended from its
// stored source and then deleted from its own folder.
func (e *Engine) onAdd(ctx context.Context, t *task, a types.AddArgs) error {
	msg := t.msg
	if msg.MsgID == "" {
		return malformed("message ID missing")
	}

	local := t.Folder.ID == msg.FolderID
	var raw []byte
	var err error
	if local {
		raw, err = e.compose(ctx, msg)
	} else {
		raw, err = e.files.ReadRaw(msg.ID)
		if errors.Is(err, os.ErrNotExist) {
			return malformed("raw message file not found")
		}
	}
	if err != nil {
		return err
	}

	autoread := a.Autoread != nil && *a.Autoread
	var flags []string
	if autoread && t.Remote.HasPermanentFlag(imap.SeenFlag) {
		flags = append(flags, imap.SeenFlag)
	}
	if t.Folder.IsDrafts() && t.Remote.HasPermanentFlag(imap.DraftFlag) {
		flags = append(flags, imap.DraftFlag)
	}

	uid, err := e.append(ctx, t.Store, t.Remote, raw, flags, msg.Received(), msg.MsgID)
	if err != nil {
		return err
	}
	log := e.folderLogger(t.Account, t.Folder).WithField("uid", uid)
	log.WithField("message", msg.ID).Info("Appended message")

	q := e.store.Q()
	if local {
		if err := q.SetMessageUID(ctx, msg.ID, uid); err != nil {
			return err
		}
		uids, err := t.Remote.Search(ctx, remote.MessageIDCriteria(msg.MsgID))
		if err != nil {
			return err
		}
		for _, duid := range uids {
			if duid == uid {
				continue
			}
			log.WithField("previous", duid).Debug("Deleting previous copy")
			if err := t.Remote.SetFlag(ctx, duid, imap.DeletedFlag, true); err != nil {
				return err
			}
		}
		return t.Remote.Expunge(ctx)
	}

	return e.store.InTx(ctx, func(q *cache.Queries) error {
		if a.Copy != nil {
			if err := q.SetMessageUID(ctx, *a.Copy, uid); err != nil {
				return err
			}
		}
		if autoread {
			if _, err := q.QueueOperation(ctx, msg.FolderID, &msg.ID, types.SeenArgs{Seen: true}); err != nil {
				return err
			}
		}
		_, err := q.QueueOperation(ctx, msg.FolderID, &msg.ID, types.DeleteArgs{})
		return err
	})
}

// onMove moves the message to another folder of the account, natively when
// the server supports it and otherwise by append, verify and delete
func (e *Engine) onMove(ctx context.Context, t *task, a types.MoveArgs) error {
	msg := t.msg
	uid := *msg.UID

	present, err := t.Remote.UIDFetch(ctx, []uint32{uid})
	if err != nil {
		return err
	}
	if len(present) == 0 {
		return fmt.Errorf("%w: uid %d", remote.ErrMessageRemoved, uid)
	}

	target, err := e.store.Q().GetFolder(ctx, a.Target)
	if err != nil {
		return err
	}
	if target == nil {
		return fmt.Errorf("%w: folder %d", remote.ErrFolderNotFound, a.Target)
	}

	if t.Store.HasCapability(remote.CapMove) && !t.Folder.IsDrafts() && !target.IsDrafts() {
		if a.Autoread && !msg.Seen && t.Remote.HasPermanentFlag(imap.SeenFlag) {
			if err := t.Remote.SetFlag(ctx, uid, imap.SeenFlag, true); err != nil {
				return err
			}
		}
		return t.Remote.Move(ctx, []uint32{uid}, target.Name)
	}

	e.folderLogger(t.Account, t.Folder).WithFields(logrus.Fields{
		"uid":    uid,
		"target": target.Name,
	}).Warn("Moving by append and delete")
	return e.copyAndDelete(ctx, t, target, a.Autoread)
}

func (e *Engine) copyAndDelete(ctx context.Context, t *task, target *types.Folder, autoread bool) (err error) {
	msg := t.msg
	uid := *msg.UID

	fetched, err := t.Remote.Fetch(ctx, []uint32{uid}, remote.FetchFull)
	if err != nil {
		return err
	}
	if len(fetched) == 0 {
		return fmt.Errorf("%w: uid %d", remote.ErrMessageRemoved, uid)
	}
	source := fetched[0]
	defer source.Release()

	raw := source.Body
	msgid := msg.MsgID
	if msgid == "" {
		msgid = source.MessageID()
	}
	if msgid == "" {
		msgid = parts.GenerateMessageID()
		if raw, err = parts.EnsureMessageID(raw, msgid); err != nil {
			return err
		}
	}

	rt := t.Store.Folder(target.Name)
	if err := rt.Open(ctx, true); err != nil {
		return err
	}
	defer func() {
		if rt.IsOpen() {
			if cerr := rt.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	}()

	var flags []string
	if autoread && rt.HasPermanentFlag(imap.SeenFlag) {
		flags = append(flags, imap.SeenFlag)
	}
	if target.IsDrafts() && rt.HasPermanentFlag(imap.DraftFlag) {
		flags = append(flags, imap.DraftFlag)
	}

	date := source.InternalDate
	if date.IsZero() {
		date = msg.Received()
	}
	copyUID, err := e.append(ctx, t.Store, rt, raw, flags, date, msgid)
	if err != nil {
		return err
	}

	// Some servers only report the appended message after a reselect
	if err := rt.Close(); err != nil {
		return err
	}
	if err := rt.Open(ctx, true); err != nil {
		return err
	}

	// Some servers ignore the flags passed with APPEND
	if rt.HasPermanentFlag(imap.SeenFlag) {
		if err := ensureFlag(ctx, rt, copyUID, imap.SeenFlag, autoread || msg.UISeen); err != nil {
			return err
		}
	}
	if rt.HasPermanentFlag(imap.DraftFlag) {
		if err := ensureFlag(ctx, rt, copyUID, imap.DraftFlag, target.IsDrafts()); err != nil {
			return err
		}
	}

	if err := t.Remote.SetFlag(ctx, uid, imap.DeletedFlag, true); err != nil {
		return err
	}
	return t.Remote.Expunge(ctx)
}

// ensureFlag sets or clears flag on uid when its current state differs
func ensureFlag(ctx context.Context, f remote.Folder, uid uint32, flag string, want bool) error {
	fetched, err := f.Fetch(ctx, []uint32{uid}, remote.FetchFlags)
	if err != nil {
		return err
	}
	if len(fetched) == 0 {
		return fmt.Errorf("%w: appended uid %d", remote.ErrMessageRemoved, uid)
	}
	has := false
	for _, existing := range fetched[0].Flags {
		if strings.EqualFold(existing, flag) {
			has = true
		}
	}
	if has == want {
		return nil
	}
	return f.SetFlag(ctx, uid, flag, want)
}

// onDelete expunges every copy of the message and drops it from the cache
func (e *Engine) onDelete(ctx context.Context, t *task) error {
	if t.msg.MsgID == "" {
		return malformed("message ID missing")
	}
	uids, err := t.Remote.Search(ctx, remote.MessageIDCriteria(t.msg.MsgID))
	if err != nil {
		return err
	}
	for _, uid := range uids {
		if err := t.Remote.SetFlag(ctx, uid, imap.DeletedFlag, true); err != nil {
			return err
		}
	}
	if err := t.Remote.Expunge(ctx); err != nil {
		return err
	}
	return e.deleteLocal(ctx, t.msg.ID)
}

// append stores raw in f and returns the uid the server assigned. Without
// UIDPLUS the highest uid carrying msgid is taken, since uids only grow.
func (e *Engine) append(ctx context.Context, store remote.Store, f remote.Folder, raw []byte, flags []string, date time.Time, msgid string) (uint32, error) {
	if store.HasCapability(remote.CapUIDPlus) {
		uid, err := f.AppendUID(ctx, raw, flags, date)
		if err != nil {
			return 0, err
		}
		if uid == 0 {
			return 0, remote.ErrNoUID
		}
		return uid, nil
	}

	if err := f.Append(ctx, raw, flags, date); err != nil {
		return 0, err
	}
	uids, err := f.Search(ctx, remote.MessageIDCriteria(msgid))
	if err != nil {
		return 0, err
	}
	var uid uint32
	for _, u := range uids {
		if u > uid {
			uid = u
		}
	}
	if uid == 0 {
		return 0, fmt.Errorf("%w: %s", remote.ErrNoUID, msgid)
	}
	return uid, nil
}

// compose renders a cached message, with its downloaded attachments, into a source
func (e *Engine) compose(ctx context.Context, msg *types.Message) ([]byte, error) {
	if !msg.Content {
		return nil, malformed("message body missing")
	}
	q := e.store.Q()

	plainOnly := false
	if msg.IdentityID != nil {
		identity, err := q.GetIdentity(ctx, *msg.IdentityID)
		if err != nil {
			return nil, err
		}
		if identity != nil {
			plainOnly = identity.PlainOnly
		}
	}

	body, err := e.files.ReadBody(msg.ID)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, malformed("message body missing")
		}
		return nil, err
	}

	attachments, err := q.GetAttachments(ctx, msg.ID)
	if err != nil {
		return nil, err
	}
	var files []parts.File
	for _, a := range attachments {
		if !a.Available {
			continue
		}
		data, err := e.files.ReadAttachment(a.ID)
		if err != nil {
			return nil, err
		}
		f := parts.File{Type: a.Type, Data: data}
		if a.Name != nil {
			f.Name = *a.Name
		}
		if a.CID != nil {
			f.CID = *a.CID
		}
		files = append(files, f)
	}
	return parts.Compose(msg, body, files, plainOnly)
}
