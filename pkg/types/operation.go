package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

// OperationKind identifies a queued mutation
type OperationKind string

// Operation kinds
const (
	OpSeen       OperationKind = "seen"
	OpFlag       OperationKind = "flag"
	OpAnswered   OperationKind = "answered"
	OpKeyword    OperationKind = "keyword"
	OpAdd        OperationKind = "add"
	OpMove       OperationKind = "move"
	OpDelete     OperationKind = "delete"
	OpSend       OperationKind = "send"
	OpHeaders    OperationKind = "headers"
	OpRaw        OperationKind = "raw"
	OpBody       OperationKind = "body"
	OpAttachment OperationKind = "attachment"
	OpSync       OperationKind = "sync"
)

// ErrInvalidArgs is returned when stored operation arguments do not match their kind
var ErrInvalidArgs = errors.New("invalid operation arguments")

// NeedsUID reports whether the operation addresses an existing remote message
func (k OperationKind) NeedsUID() bool {
	switch k {
	case OpAdd, OpDelete, OpSend, OpSync:
		return false
	}
	return true
}

// Operation is a durable, ordered, per-folder queued intent
type Operation struct {
	ID        int64         `db:"id" json:"id"`
	FolderID  int64         `db:"folder_id" json:"folder_id"`
	MessageID *int64        `db:"message_id" json:"message_id,omitempty"`
	Kind      OperationKind `db:"kind" json:"kind"`
	Args      string        `db:"args" json:"args"`
	CreatedAt int64         `db:"created_at" json:"created_at"`
	Error     *string       `db:"error" json:"error,omitempty"`
}

// OperationArgs is the typed argument record of one operation kind
type OperationArgs interface {
	Kind() OperationKind
	positional() []interface{}
}

// SeenArgs sets or clears \Seen
type SeenArgs struct{ Seen bool }

// FlagArgs sets or clears \Flagged
type FlagArgs struct{ Flagged bool }

// AnsweredArgs sets or clears \Answered
type AnsweredArgs struct{ Answered bool }

// KeywordArgs sets or clears a user defined flag
type KeywordArgs struct {
	Keyword string
	Set     bool
}

// AddArgs appends the message to the operation's folder.
// Copy identifies the local placeholder row created in the target folder;
// it is removed when the operation is abandoned.
type AddArgs struct {
	Copy     *int64
	Autoread *bool
}

// MoveArgs moves the message to another folder of the same account
type MoveArgs struct {
	Target   int64
	Autoread bool
	Copy     *int64
}

// DeleteArgs expunges the message by Message-ID
type DeleteArgs struct{}

// SendArgs submits the message over SMTP
type SendArgs struct{}

// HeadersArgs fetches the header block
type HeadersArgs struct{}

// RawArgs fetches the full message source and optionally chains an ADD
// to the Chain folder carrying Copy and Autoread.
type RawArgs struct {
	Copy     *int64
	Autoread *bool
	Chain    *int64
}

// BodyArgs fetches and renders the body
type BodyArgs struct{}

// AttachmentArgs fetches one attachment by its 1-based sequence
type AttachmentArgs struct{ Sequence int }

// SyncArgs runs a folder reconciliation pass
type SyncArgs struct {
	SyncDays int
	KeepDays int
	Download bool
}

func (SeenArgs) Kind() OperationKind       { return OpSeen }
func (FlagArgs) Kind() OperationKind       { return OpFlag }
func (AnsweredArgs) Kind() OperationKind   { return OpAnswered }
func (KeywordArgs) Kind() OperationKind    { return OpKeyword }
func (AddArgs) Kind() OperationKind        { return OpAdd }
func (MoveArgs) Kind() OperationKind       { return OpMove }
func (DeleteArgs) Kind() OperationKind     { return OpDelete }
func (SendArgs) Kind() OperationKind       { return OpSend }
func (HeadersArgs) Kind() OperationKind    { return OpHeaders }
func (RawArgs) Kind() OperationKind        { return OpRaw }
func (BodyArgs) Kind() OperationKind       { return OpBody }
func (AttachmentArgs) Kind() OperationKind { return OpAttachment }
func (SyncArgs) Kind() OperationKind       { return OpSync }

func (a SeenArgs) positional() []interface{}     { return []interface{}{a.Seen} }
func (a FlagArgs) positional() []interface{}     { return []interface{}{a.Flagged} }
func (a AnsweredArgs) positional() []interface{} { return []interface{}{a.Answered} }
func (a KeywordArgs) positional() []interface{}  { return []interface{}{a.Keyword, a.Set} }
func (DeleteArgs) positional() []interface{}     { return []interface{}{} }
func (SendArgs) positional() []interface{}       { return []interface{}{} }
func (HeadersArgs) positional() []interface{}    { return []interface{}{} }
func (BodyArgs) positional() []interface{}       { return []interface{}{} }

func (a AttachmentArgs) positional() []interface{} { return []interface{}{a.Sequence} }

func (a SyncArgs) positional() []interface{} {
	return []interface{}{a.SyncDays, a.KeepDays, a.Download}
}

func (a MoveArgs) positional() []interface{} {
	args := []interface{}{a.Target, a.Autoread}
	if a.Copy != nil {
		args = append(args, *a.Copy)
	}
	return args
}

func (a AddArgs) positional() []interface{} {
	if a.Copy == nil && a.Autoread == nil {
		return []interface{}{}
	}
	return []interface{}{a.Copy, a.Autoread}
}

func (a RawArgs) positional() []interface{} {
	if a.Chain == nil {
		return []interface{}{}
	}
	return []interface{}{a.Copy, a.Autoread, *a.Chain}
}

// EncodeArgs serializes typed arguments to the stored positional form
func EncodeArgs(args OperationArgs) (string, error) {
	b, err := json.Marshal(args.positional())
	if err != nil {
		return "", fmt.Errorf("failed to encode %s arguments: %w", args.Kind(), err)
	}
	return string(b), nil
}

// ParseArgs decodes the stored positional form for the given kind
func ParseArgs(kind OperationKind, raw string) (OperationArgs, error) {
	var p positional
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("%w: %s %s: %v", ErrInvalidArgs, kind, raw, err)
		}
	}

	var args OperationArgs
	var err error
	switch kind {
	case OpSeen:
		var a SeenArgs
		err = p.bool(0, &a.Seen)
		args = a
	case OpFlag:
		var a FlagArgs
		err = p.bool(0, &a.Flagged)
		args = a
	case OpAnswered:
		var a AnsweredArgs
		err = p.bool(0, &a.Answered)
		args = a
	case OpKeyword:
		var a KeywordArgs
		if err = p.string(0, &a.Keyword); err == nil {
			err = p.bool(1, &a.Set)
		}
		args = a
	case OpAdd:
		var a AddArgs
		if a.Copy, err = p.optInt64(0); err == nil {
			a.Autoread, err = p.optBool(1)
		}
		args = a
	case OpMove:
		var a MoveArgs
		if err = p.int64(0, &a.Target); err == nil {
			if err = p.bool(1, &a.Autoread); err == nil {
				a.Copy, err = p.optInt64(2)
			}
		}
		args = a
	case OpDelete:
		args = DeleteArgs{}
	case OpSend:
		args = SendArgs{}
	case OpHeaders:
		args = HeadersArgs{}
	case OpRaw:
		var a RawArgs
		if a.Copy, err = p.optInt64(0); err == nil {
			if a.Autoread, err = p.optBool(1); err == nil {
				a.Chain, err = p.optInt64(2)
			}
		}
		args = a
	case OpBody:
		args = BodyArgs{}
	case OpAttachment:
		var a AttachmentArgs
		var seq int64
		err = p.int64(0, &seq)
		a.Sequence = int(seq)
		args = a
	case OpSync:
		var a SyncArgs
		var syncDays, keepDays int64
		if err = p.int64(0, &syncDays); err == nil {
			if err = p.int64(1, &keepDays); err == nil {
				err = p.bool(2, &a.Download)
			}
		}
		a.SyncDays, a.KeepDays = int(syncDays), int(keepDays)
		args = a
	default:
		return nil, fmt.Errorf("%w: unknown operation %q", ErrInvalidArgs, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrInvalidArgs, kind, raw, err)
	}
	return args, nil
}

// positional is a decoded argument array
type positional []json.RawMessage

func (p positional) present(i int) bool {
	return i < len(p) && string(p[i]) != "null"
}

func (p positional) required(i int) error {
	if !p.present(i) {
		return fmt.Errorf("missing argument %d", i)
	}
	return nil
}

func (p positional) bool(i int, dest *bool) error {
	if err := p.required(i); err != nil {
		return err
	}
	return json.Unmarshal(p[i], dest)
}

func (p positional) string(i int, dest *string) error {
	if err := p.required(i); err != nil {
		return err
	}
	return json.Unmarshal(p[i], dest)
}

func (p positional) int64(i int, dest *int64) error {
	if err := p.required(i); err != nil {
		return err
	}
	return json.Unmarshal(p[i], dest)
}

func (p positional) optBool(i int) (*bool, error) {
	if !p.present(i) {
		return nil, nil
	}
	var v bool
	if err := json.Unmarshal(p[i], &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (p positional) optInt64(i int) (*int64, error) {
	if !p.present(i) {
		return nil, nil
	}
	var v int64
	if err := json.Unmarshal(p[i], &v); err != nil {
		return nil, err
	}
	return &v, nil
}
