package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/lifecycle"
	"github.com/brandon/mailsync/internal/remote"
	"github.com/brandon/mailsync/pkg/types"
)

// Session is what one pass over a folder works against
type Session struct {
	Account *types.Account
	Folder  *types.Folder
	// Store is the account's remote session; nil for local-only folders
	Store remote.Store
	// Remote is the opened remote folder; nil for local-only folders
	Remote remote.Folder
	State  *lifecycle.State
}

func (s *Session) running() bool {
	return s.State == nil || s.State.Running()
}

// task is one operation being executed
type task struct {
	*Session
	op  *types.Operation
	msg *types.Message
}

// ProcessOperations executes the folder's queued operations in creation order
// until the queue is drained, the state stops running, or the session breaks.
// A transient failure ends the pass without an error.
func (e *Engine) ProcessOperations(ctx context.Context, s *Session) error {
	log := e.folderLogger(s.Account, s.Folder)

	ops, err := e.store.Q().GetOperations(ctx, s.Folder.ID)
	if err != nil {
		return err
	}
	log.WithField("pending", len(ops)).Debug("Processing operations")

	for i := range ops {
		if !s.running() {
			break
		}
		op := &ops[i]
		opLog := log.WithFields(logrus.Fields{"op": op.ID, "kind": op.Kind, "args": op.Args})

		err := e.processOperation(ctx, s, op)
		if err == nil {
			opLog.Debug("Operation done")
			continue
		}

		kind := Classify(err)
		opLog.WithError(err).WithField("class", kind).Warn("Operation failed")
		e.ReportError(s.Account, s.Folder, err)

		switch kind {
		case KindGone, KindMalformed:
			continue
		case KindTransient:
			return nil
		case KindStructural:
			return err
		}
	}
	return nil
}

func (e *Engine) processOperation(ctx context.Context, s *Session, op *types.Operation) error {
	q := e.store.Q()

	var msg *types.Message
	if op.MessageID != nil {
		m, err := q.GetMessage(ctx, *op.MessageID)
		if err != nil {
			return err
		}
		msg = m
	}

	t := &task{Session: s, op: op, msg: msg}
	runErr := e.run(ctx, t)
	if runErr == nil {
		return q.DeleteOperation(ctx, op.ID)
	}

	// Bookkeeping failures must not hide the operation's own error
	if err := q.SetOperationError(ctx, op.ID, errString(runErr)); err != nil {
		e.logger.WithError(err).Warn("Failed to record operation error")
	}
	kind := Classify(runErr)
	if msg != nil && !errors.Is(runErr, remote.ErrMessageRemoved) && kind != KindStructural {
		if err := q.SetMessageError(ctx, msg.ID, errString(runErr)); err != nil {
			e.logger.WithError(err).Warn("Failed to record message error")
		}
	}
	if kind == KindGone || kind == KindMalformed {
		if err := e.abandon(ctx, t, runErr); err != nil {
			e.logger.WithError(err).Warn("Failed to clean up abandoned operation")
		}
	}
	return runErr
}

func (e *Engine) run(ctx context.Context, t *task) error {
	q := e.store.Q()
	if t.msg == nil && t.op.Kind != types.OpSync {
		return fmt.Errorf("%w: message of operation %d", remote.ErrMessageRemoved, t.op.ID)
	}

	if err := q.SetOperationError(ctx, t.op.ID, nil); err != nil {
		return err
	}
	if t.msg != nil {
		if err := q.SetMessageError(ctx, t.msg.ID, nil); err != nil {
			return err
		}
		if !t.msg.HasUID() && t.op.Kind.NeedsUID() {
			return malformed("%s without uid %s", t.op.Kind, t.op.Args)
		}
	}

	args, err := types.ParseArgs(t.op.Kind, t.op.Args)
	if err != nil {
		return err
	}
	// Local-only folders such as the outbox can send and discard, nothing else
	if t.Remote == nil {
		switch args.(type) {
		case types.SendArgs:
		case types.DeleteArgs:
			return e.deleteLocal(ctx, t.msg.ID)
		default:
			return malformed("%s in local folder %s", t.op.Kind, t.Folder.Name)
		}
	}

	switch a := args.(type) {
	case types.SeenArgs:
		return e.onFlag(ctx, t, imapSeen, a.Seen)
	case types.FlagArgs:
		return e.onFlag(ctx, t, imapFlagged, a.Flagged)
	case types.AnsweredArgs:
		return e.onFlag(ctx, t, imapAnswered, a.Answered)
	case types.KeywordArgs:
		return e.onKeyword(ctx, t, a)
	case types.AddArgs:
		return e.onAdd(ctx, t, a)
	case types.MoveArgs:
		return e.onMove(ctx, t, a)
	case types.DeleteArgs:
		return e.onDelete(ctx, t)
	case types.SendArgs:
		return e.onSend(ctx, t)
	case types.HeadersArgs:
		return e.onHeaders(ctx, t)
	case types.RawArgs:
		return e.onRaw(ctx, t, a)
	case types.BodyArgs:
		return e.onBody(ctx, t)
	case types.AttachmentArgs:
		return e.onAttachment(ctx, t, a)
	case types.SyncArgs:
		return e.SynchronizeMessages(ctx, t.Session, a)
	}
	return malformed("unknown operation %q", t.op.Kind)
}

// abandon drops an operation that can never succeed together with the local
// state it created: the message itself when it is gone remotely, and the
// placeholder copy in the target folder.
func (e *Engine) abandon(ctx context.Context, t *task, cause error) error {
	q := e.store.Q()
	if err := q.DeleteOperation(ctx, t.op.ID); err != nil {
		return err
	}
	if t.msg == nil {
		return nil
	}
	if errors.Is(cause, remote.ErrMessageRemoved) {
		if err := e.deleteLocal(ctx, t.msg.ID); err != nil {
			return err
		}
	}

	copyID := placeholder(t.op)
	if copyID == nil {
		return nil
	}
	if err := e.deleteLocal(ctx, *copyID); err != nil {
		return err
	}
	return q.SetMessageUIHide(ctx, t.msg.ID, false)
}

// placeholder returns the local copy created when the operation was queued
func placeholder(op *types.Operation) *int64 {
	args, err := types.ParseArgs(op.Kind, op.Args)
	if err != nil {
		return nil
	}
	switch a := args.(type) {
	case types.MoveArgs:
		return a.Copy
	case types.AddArgs:
		return a.Copy
	case types.RawArgs:
		return a.Copy
	}
	return nil
}

// deleteLocal removes a cached message and its files
func (e *Engine) deleteLocal(ctx context.Context, id int64) error {
	q := e.store.Q()
	attachments, err := q.GetAttachments(ctx, id)
	if err != nil {
		return err
	}
	if err := q.DeleteMessage(ctx, id); err != nil {
		return err
	}
	for _, a := range attachments {
		if err := e.files.RemoveAttachment(a.ID); err != nil {
			return err
		}
	}
	return e.files.RemoveMessage(id)
}

func (e *Engine) deleteAll(ctx context.Context, ids []int64) error {
	for _, id := range ids {
		if err := e.deleteLocal(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
