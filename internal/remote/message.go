package remote

import (
	"bufio"
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"github.com/brandon/mailsync/internal/parts"
	"github.com/brandon/mailsync/pkg/types"
)

// Message is one fetched remote message. Which fields are populated depends
// on the FetchProfile used.
type Message struct {
	UID          uint32
	Flags        []string
	Size         int64
	InternalDate time.Time
	Header       *mail.Header
	RawHeader    []byte
	Structure    []parts.Info
	Body         []byte
	Expunged     bool
}

// ParseHeader parses a raw header block
func ParseHeader(raw []byte) (*mail.Header, error) {
	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}
	return &mail.Header{Header: message.Header{Header: h}}, nil
}

// Release drops the parsed representation of the message
func (m *Message) Release() {
	m.Header = nil
	m.RawHeader = nil
	m.Structure = nil
	m.Body = nil
}

func (m *Message) hasFlag(flag string) bool {
	for _, f := range m.Flags {
		if strings.EqualFold(f, flag) {
			return true
		}
	}
	return false
}

// Seen reports the \Seen flag
func (m *Message) Seen() bool { return m.hasFlag(imap.SeenFlag) }

// Answered reports the \Answered flag
func (m *Message) Answered() bool { return m.hasFlag(imap.AnsweredFlag) }

// Flagged reports the \Flagged flag
func (m *Message) Flagged() bool { return m.hasFlag(imap.FlaggedFlag) }

// Deleted reports the \Deleted flag
func (m *Message) Deleted() bool { return m.hasFlag(imap.DeletedFlag) }

// Draft reports the \Draft flag
func (m *Message) Draft() bool { return m.hasFlag(imap.DraftFlag) }

// Keywords returns the user defined flags, sorted
func (m *Message) Keywords() types.StringList {
	keywords := types.StringList{}
	for _, f := range m.Flags {
		if !strings.HasPrefix(f, `\`) {
			keywords = append(keywords, f)
		}
	}
	sort.Strings(keywords)
	return keywords
}

// RawFlags returns all flags sorted and space separated
func (m *Message) RawFlags() string {
	flags := append([]string(nil), m.Flags...)
	sort.Strings(flags)
	return strings.Join(flags, " ")
}

// MessageID returns the bracketed Message-ID, or empty when absent
func (m *Message) MessageID() string {
	if m.Header == nil {
		return ""
	}
	id, err := m.Header.MessageID()
	if err != nil || id == "" {
		return strings.TrimSpace(m.Header.Get("Message-Id"))
	}
	return "<" + id + ">"
}

func (m *Message) idList(key string) []string {
	if m.Header == nil {
		return nil
	}
	ids, err := m.Header.MsgIDList(key)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, "<"+id+">")
	}
	return out
}

// References returns the References header as a space separated id list
func (m *Message) References() string {
	return strings.Join(m.idList("References"), " ")
}

// InReplyTo returns the first In-Reply-To id
func (m *Message) InReplyTo() string {
	ids := m.idList("In-Reply-To")
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

// DeliveredTo returns the Delivered-To header
func (m *Message) DeliveredTo() string {
	if m.Header == nil {
		return ""
	}
	return strings.TrimSpace(m.Header.Get("Delivered-To"))
}

// ThreadID returns the thread key: the first reference, else the replied-to
// id, else the message's own id, else a key derived from the uid
func (m *Message) ThreadID() string {
	if refs := m.idList("References"); len(refs) > 0 {
		return refs[0]
	}
	if irt := m.InReplyTo(); irt != "" {
		return irt
	}
	if id := m.MessageID(); id != "" {
		return id
	}
	return "<uid" + strconv.FormatUint(uint64(m.UID), 10) + "@localhost>"
}

func (m *Message) addresses(key string) types.AddressList {
	list := types.AddressList{}
	if m.Header == nil {
		return list
	}
	addrs, err := m.Header.AddressList(key)
	if err != nil {
		return list
	}
	for _, a := range addrs {
		list = append(list, types.Address{Address: a.Address, Name: a.Name})
	}
	return list
}

// From returns the From addresses
func (m *Message) From() types.AddressList { return m.addresses("From") }

// To returns the To addresses
func (m *Message) To() types.AddressList { return m.addresses("To") }

// Cc returns the Cc addresses
func (m *Message) Cc() types.AddressList { return m.addresses("Cc") }

// Bcc returns the Bcc addresses
func (m *Message) Bcc() types.AddressList { return m.addresses("Bcc") }

// ReplyTo returns the Reply-To addresses
func (m *Message) ReplyTo() types.AddressList { return m.addresses("Reply-To") }

// Sender returns the Sender addresses
func (m *Message) Sender() types.AddressList { return m.addresses("Sender") }

// Subject returns the decoded subject
func (m *Message) Subject() string {
	if m.Header == nil {
		return ""
	}
	s, err := m.Header.Subject()
	if err != nil {
		return m.Header.Get("Subject")
	}
	return s
}

// Sent returns the Date header in unix milliseconds, or nil when absent
func (m *Message) Sent() *int64 {
	if m.Header == nil {
		return nil
	}
	d, err := m.Header.Date()
	if err != nil || d.IsZero() {
		return nil
	}
	ms := d.UnixMilli()
	return &ms
}
