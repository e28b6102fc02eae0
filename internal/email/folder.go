package email

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/commands"

	"github.com/brandon/mailsync/internal/parts"
	"github.com/brandon/mailsync/internal/remote"
)

var (
	headerSection = &imap.BodySectionName{BodyPartName: imap.BodyPartName{Specifier: imap.HeaderSpecifier}, Peek: true}
	fullSection   = &imap.BodySectionName{Peek: true}
)

// imapFolder is a logical handle on one mailbox of an IMAPClient
type imapFolder struct {
	c         *IMAPClient
	name      string
	open      bool
	readWrite bool
	permanent []string
}

func (f *imapFolder) Name() string { return f.name }

// Open selects the mailbox, so that a reopen picks up appended messages
func (f *imapFolder) Open(ctx context.Context, readWrite bool) error {
	f.c.mu.Lock()
	defer f.c.mu.Unlock()
	f.readWrite = readWrite
	if err := f.selectMailbox(ctx); err != nil {
		return err
	}
	f.open = true
	return nil
}

func (f *imapFolder) Close() error {
	f.c.mu.Lock()
	defer f.c.mu.Unlock()
	f.open = false
	if f.c.selected == f {
		f.c.selected = nil
	}
	return nil
}

func (f *imapFolder) IsOpen() bool {
	f.c.mu.Lock()
	defer f.c.mu.Unlock()
	return f.open && f.c.connected()
}

func (f *imapFolder) HasPermanentFlag(flag string) bool {
	f.c.mu.Lock()
	defer f.c.mu.Unlock()
	for _, p := range f.permanent {
		if strings.EqualFold(p, flag) {
			return true
		}
	}
	return false
}

func (f *imapFolder) selectMailbox(ctx context.Context) error {
	return f.c.do(ctx, func(cl *client.Client) error {
		status, err := cl.Select(f.name, !f.readWrite)
		if err != nil {
			return fmt.Errorf("failed to select folder %s: %w", f.name, err)
		}
		f.permanent = status.PermanentFlags
		f.c.selected = f
		return nil
	})
}

// run executes fn with this folder's mailbox selected. The caller holds the lock.
func (f *imapFolder) run(ctx context.Context, fn func(cl *client.Client) error) error {
	if !f.open {
		return fmt.Errorf("%w: %s", remote.ErrFolderClosed, f.name)
	}
	if f.c.selected != f {
		if err := f.selectMailbox(ctx); err != nil {
			return err
		}
	}
	return f.c.do(ctx, fn)
}

func (f *imapFolder) Search(ctx context.Context, criteria *imap.SearchCriteria) ([]uint32, error) {
	f.c.mu.Lock()
	defer f.c.mu.Unlock()

	var uids []uint32
	err := f.run(ctx, func(cl *client.Client) error {
		var err error
		uids, err = cl.UidSearch(criteria)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", f.name, err)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

func fetchItems(profile remote.FetchProfile) []imap.FetchItem {
	items := []imap.FetchItem{imap.FetchUid, imap.FetchFlags}
	if profile >= remote.FetchHeaders {
		items = append(items, imap.FetchInternalDate, imap.FetchRFC822Size, imap.FetchBodyStructure, headerSection.FetchItem())
	}
	if profile == remote.FetchFull {
		items = append(items, fullSection.FetchItem())
	}
	return items
}

func (f *imapFolder) Fetch(ctx context.Context, uids []uint32, profile remote.FetchProfile) ([]*remote.Message, error) {
	if len(uids) == 0 {
		return nil, nil
	}
	f.c.mu.Lock()
	defer f.c.mu.Unlock()

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	var result []*remote.Message
	err := f.run(ctx, func(cl *client.Client) error {
		messages := make(chan *imap.Message, 10)
		done := make(chan error, 1)
		go func() {
			done <- cl.UidFetch(seqSet, fetchItems(profile), messages)
		}()

		var convErr error
		for msg := range messages {
			m, err := convert(msg, profile)
			if err != nil && convErr == nil {
				convErr = err
			}
			if m != nil {
				result = append(result, m)
			}
		}
		if err := <-done; err != nil {
			return err
		}
		return convErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch from %s: %w", f.name, err)
	}
	return result, nil
}

// convert builds a remote.Message from a fetched message
func convert(msg *imap.Message, profile remote.FetchProfile) (*remote.Message, error) {
	if msg.Uid == 0 {
		return nil, nil
	}
	m := &remote.Message{UID: msg.Uid, Flags: msg.Flags}
	if profile < remote.FetchHeaders {
		return m, nil
	}

	m.Size = int64(msg.Size)
	m.InternalDate = msg.InternalDate
	m.Structure = parts.FromStructure(msg.BodyStructure)

	if profile == remote.FetchFull {
		body, err := readLiteral(msg.GetBody(fullSection))
		if err != nil {
			return nil, err
		}
		m.Body = body
	}

	raw, err := readLiteral(msg.GetBody(headerSection))
	if err != nil {
		return nil, err
	}
	if raw == nil && m.Body != nil {
		raw = m.Body
		if end := bytes.Index(raw, []byte("\r\n\r\n")); end >= 0 {
			raw = raw[:end+2]
		}
	}
	m.RawHeader = raw
	if raw != nil {
		if m.Header, err = remote.ParseHeader(raw); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func readLiteral(literal imap.Literal) ([]byte, error) {
	if literal == nil {
		return nil, nil
	}
	data, err := io.ReadAll(literal)
	if err != nil {
		return nil, fmt.Errorf("failed to read literal: %w", err)
	}
	return data, nil
}

func (f *imapFolder) UIDFetch(ctx context.Context, uids []uint32) ([]uint32, error) {
	if len(uids) == 0 {
		return nil, nil
	}
	fetched, err := f.Fetch(ctx, uids, remote.FetchFlags)
	if err != nil {
		return nil, err
	}
	present := make([]uint32, 0, len(fetched))
	for _, m := range fetched {
		present = append(present, m.UID)
	}
	sort.Slice(present, func(i, j int) bool { return present[i] < present[j] })
	return present, nil
}

func (f *imapFolder) SetFlag(ctx context.Context, uid uint32, flag string, set bool) error {
	f.c.mu.Lock()
	defer f.c.mu.Unlock()

	op := imap.FlagsOp(imap.RemoveFlags)
	if set {
		op = imap.FlagsOp(imap.AddFlags)
	}
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)
	err := f.run(ctx, func(cl *client.Client) error {
		return cl.UidStore(seqSet, imap.FormatFlagsOp(op, true), []interface{}{flag}, nil)
	})
	if err != nil {
		return fmt.Errorf("failed to store %s on %s: %w", flag, f.name, err)
	}
	return nil
}

func (f *imapFolder) Append(ctx context.Context, raw []byte, flags []string, date time.Time) error {
	f.c.mu.Lock()
	defer f.c.mu.Unlock()
	err := f.c.do(ctx, func(cl *client.Client) error {
		return cl.Append(f.name, flags, date, bytes.NewBuffer(raw))
	})
	if err != nil {
		return fmt.Errorf("failed to append to %s: %w", f.name, err)
	}
	return nil
}

// AppendUID reads the uid from the APPENDUID response code
func (f *imapFolder) AppendUID(ctx context.Context, raw []byte, flags []string, date time.Time) (uint32, error) {
	f.c.mu.Lock()
	defer f.c.mu.Unlock()

	var uid uint32
	err := f.c.do(ctx, func(cl *client.Client) error {
		cmd := &commands.Append{
			Mailbox: f.name,
			Flags:   flags,
			Date:    date,
			Message: bytes.NewBuffer(raw),
		}
		status, err := cl.Execute(cmd, nil)
		if err != nil {
			return err
		}
		if err := status.Err(); err != nil {
			return err
		}
		if status.Code != "APPENDUID" || len(status.Arguments) < 2 {
			return nil
		}
		uid, err = imap.ParseNumber(status.Arguments[1])
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to append to %s: %w", f.name, err)
	}
	return uid, nil
}

func (f *imapFolder) Move(ctx context.Context, uids []uint32, target string) error {
	f.c.mu.Lock()
	defer f.c.mu.Unlock()
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)
	err := f.run(ctx, func(cl *client.Client) error {
		return cl.UidMove(seqSet, target)
	})
	if err != nil {
		return fmt.Errorf("failed to move to %s: %w", target, err)
	}
	return nil
}

func (f *imapFolder) Expunge(ctx context.Context) error {
	f.c.mu.Lock()
	defer f.c.mu.Unlock()
	err := f.run(ctx, func(cl *client.Client) error {
		return cl.Expunge(nil)
	})
	if err != nil {
		return fmt.Errorf("failed to expunge %s: %w", f.name, err)
	}
	return nil
}
