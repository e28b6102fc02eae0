package core

import (
	"context"
	"fmt"

	"github.com/brandon/mailsync/internal/cache"
	"github.com/brandon/mailsync/internal/parts"
	"github.com/brandon/mailsync/internal/remote"
	"github.com/brandon/mailsync/pkg/types"
)

// fetchOne fetches a single message or reports it removed
func fetchOne(ctx context.Context, f remote.Folder, uid uint32, profile remote.FetchProfile) (*remote.Message, error) {
	fetched, err := f.Fetch(ctx, []uint32{uid}, profile)
	if err != nil {
		return nil, err
	}
	if len(fetched) == 0 || fetched[0].Expunged {
		return nil, fmt.Errorf("%w: uid %d", remote.ErrMessageRemoved, uid)
	}
	return fetched[0], nil
}

// onHeaders caches the raw header block
func (e *Engine) onHeaders(ctx context.Context, t *task) error {
	if t.msg.Headers != nil {
		return nil
	}
	rm, err := fetchOne(ctx, t.Remote, *t.msg.UID, remote.FetchHeaders)
	if err != nil {
		return err
	}
	defer rm.Release()
	return e.store.Q().SetMessageHeaders(ctx, t.msg.ID, strPtr(string(rm.RawHeader)))
}

// onRaw caches the full source and, when chained, queues the ADD that
// carries the message to another account
func (e *Engine) onRaw(ctx context.Context, t *task, a types.RawArgs) error {
	if !t.msg.Raw {
		rm, err := fetchOne(ctx, t.Remote, *t.msg.UID, remote.FetchFull)
		if err != nil {
			return err
		}
		err = e.files.WriteRaw(t.msg.ID, rm.Body)
		rm.Release()
		if err != nil {
			return err
		}
		if err := e.store.Q().SetMessageRaw(ctx, t.msg.ID, true); err != nil {
			return err
		}
	}

	if a.Chain == nil {
		return nil
	}
	e.folderLogger(t.Account, t.Folder).WithField("target", *a.Chain).Info("Queuing add")
	_, err := e.store.Q().QueueOperation(ctx, *a.Chain, &t.msg.ID, types.AddArgs{Copy: a.Copy, Autoread: a.Autoread})
	return err
}

// onBody caches the rendered body
func (e *Engine) onBody(ctx context.Context, t *task) error {
	if t.msg.Content {
		return nil
	}
	rm, err := fetchOne(ctx, t.Remote, *t.msg.UID, remote.FetchFull)
	if err != nil {
		return err
	}
	defer rm.Release()

	p, err := parts.Parse(rm.Body)
	if err != nil {
		return err
	}
	return e.storeBody(ctx, e.store.Q(), t.msg, p)
}

// storeBody writes the rendered body and records its preview and warnings
func (e *Engine) storeBody(ctx context.Context, q *cache.Queries, msg *types.Message, p *parts.Parts) error {
	body := p.HTML()
	if err := e.files.WriteBody(msg.ID, body); err != nil {
		return err
	}
	if err := q.SetMessageContent(ctx, msg.ID, true, strPtr(parts.Preview(body))); err != nil {
		return err
	}
	return q.SetMessageWarning(ctx, msg.ID, p.Warnings(msg.Warning))
}

// onAttachment caches the content of one attachment
func (e *Engine) onAttachment(ctx context.Context, t *task, a types.AttachmentArgs) error {
	q := e.store.Q()
	attachment, err := q.GetAttachment(ctx, t.msg.ID, a.Sequence)
	if err != nil {
		return err
	}
	if attachment == nil {
		return malformed("attachment %d not found", a.Sequence)
	}
	if attachment.Available {
		return nil
	}

	rm, err := fetchOne(ctx, t.Remote, *t.msg.UID, remote.FetchFull)
	if err != nil {
		return err
	}
	defer rm.Release()

	p, err := parts.Parse(rm.Body)
	if err != nil {
		return err
	}
	return e.storeAttachment(ctx, q, p, attachment)
}

func (e *Engine) storeAttachment(ctx context.Context, q *cache.Queries, p *parts.Parts, attachment *types.Attachment) error {
	data, err := p.Attachment(attachment.Sequence)
	if err != nil {
		return err
	}
	if err := e.files.WriteAttachment(attachment.ID, data); err != nil {
		return err
	}
	return q.SetAttachmentAvailable(ctx, attachment.ID, int64(len(data)))
}

// onSend submits an outbox message. The sent copy is filed when the Sent
// folder is next synchronized.
func (e *Engine) onSend(ctx context.Context, t *task) error {
	if e.sender == nil {
		return fmt.Errorf("no sender configured for %s", t.Account.Name)
	}
	if t.msg.IdentityID == nil {
		return malformed("message %d has no identity", t.msg.ID)
	}
	q := e.store.Q()
	identity, err := q.GetIdentity(ctx, *t.msg.IdentityID)
	if err != nil {
		return err
	}
	if identity == nil {
		return malformed("identity %d not found", *t.msg.IdentityID)
	}

	if t.msg.MsgID == "" {
		return malformed("message ID missing")
	}
	raw, err := e.compose(ctx, t.msg)
	if err != nil {
		return err
	}
	if err := e.sender.Send(ctx, identity, t.msg, raw); err != nil {
		if isTimeout(err) {
			return err
		}
		return &SendError{Err: err}
	}
	e.folderLogger(t.Account, t.Folder).WithField("message", t.msg.ID).Info("Sent message")

	if err := e.files.WriteRaw(t.msg.ID, raw); err != nil {
		return err
	}
	return e.store.InTx(ctx, func(q *cache.Queries) error {
		if err := q.SetMessageRaw(ctx, t.msg.ID, true); err != nil {
			return err
		}
		return q.SetMessageSent(ctx, t.msg.ID, cache.Now())
	})
}
