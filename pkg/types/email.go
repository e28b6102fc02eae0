package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Message represents a locally cached message mirroring one remote message
type Message struct {
	ID          int64       `db:"id" json:"id"`
	AccountID   int64       `db:"account_id" json:"account_id"`
	FolderID    int64       `db:"folder_id" json:"folder_id"`
	IdentityID  *int64      `db:"identity_id" json:"identity_id,omitempty"`
	UID         *uint32     `db:"uid" json:"uid,omitempty"`
	MsgID       string      `db:"msgid" json:"msgid"`
	References  string      `db:"refs" json:"references,omitempty"`
	InReplyTo   string      `db:"in_reply_to" json:"in_reply_to,omitempty"`
	DeliveredTo string      `db:"delivered_to" json:"delivered_to,omitempty"`
	ThreadID    string      `db:"thread_id" json:"thread_id"`
	From        AddressList `db:"from_addrs" json:"from"`
	To          AddressList `db:"to_addrs" json:"to"`
	Cc          AddressList `db:"cc_addrs" json:"cc,omitempty"`
	Bcc         AddressList `db:"bcc_addrs" json:"bcc,omitempty"`
	Reply       AddressList `db:"reply_addrs" json:"reply,omitempty"`
	Subject     string      `db:"subject" json:"subject"`
	Size        *int64      `db:"size" json:"size,omitempty"`
	SentAt      *int64      `db:"sent_at" json:"sent_at,omitempty"`
	ReceivedAt  int64       `db:"received_at" json:"received_at"`
	Seen        bool        `db:"seen" json:"seen"`
	Answered    bool        `db:"answered" json:"answered"`
	Flagged     bool        `db:"flagged" json:"flagged"`
	Flags       string      `db:"flags" json:"flags,omitempty"`
	Keywords    StringList  `db:"keywords" json:"keywords,omitempty"`
	Headers     *string     `db:"headers" json:"headers,omitempty"`
	Content     bool        `db:"content" json:"content"`
	Raw         bool        `db:"raw" json:"raw"`
	Preview     *string     `db:"preview" json:"preview,omitempty"`
	Avatar      *string     `db:"avatar" json:"avatar,omitempty"`
	Warning     *string     `db:"warning" json:"warning,omitempty"`
	Error       *string     `db:"error" json:"error,omitempty"`
	UISeen      bool        `db:"ui_seen" json:"ui_seen"`
	UIAnswered  bool        `db:"ui_answered" json:"ui_answered"`
	UIFlagged   bool        `db:"ui_flagged" json:"ui_flagged"`
	UIHide      bool        `db:"ui_hide" json:"ui_hide"`
	UIFound     bool        `db:"ui_found" json:"ui_found"`
	UIIgnored   bool        `db:"ui_ignored" json:"ui_ignored"`
	UIBrowsed   bool        `db:"ui_browsed" json:"ui_browsed"`
}

// Received returns the time the message arrived at the server
func (m *Message) Received() time.Time {
	return time.UnixMilli(m.ReceivedAt)
}

// HasUID reports whether the message has been confirmed by the server
func (m *Message) HasUID() bool {
	return m.UID != nil
}

// MessageSummary represents a summary of a message (for search results)
type MessageSummary struct {
	ID          int64       `db:"id" json:"id"`
	AccountName string      `db:"account_name" json:"account_name"`
	FolderName  string      `db:"folder_name" json:"folder_name"`
	Subject     string      `db:"subject" json:"subject"`
	From        AddressList `db:"from_addrs" json:"from"`
	ReceivedAt  int64       `db:"received_at" json:"received_at"`
	Seen        bool        `db:"ui_seen" json:"seen"`
	Flagged     bool        `db:"ui_flagged" json:"flagged"`
	Snippet     *string     `db:"preview" json:"snippet,omitempty"`
}

// Address is a single mailbox with an optional display name
type Address struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// Domain returns the lower case part after the last '@', or empty
func (a Address) Domain() string {
	at := strings.LastIndex(a.Address, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(a.Address[at+1:])
}

// Canonical returns the lower case address with plus-addressing removed
// and, for gmail addresses, dots in the local part dropped
func (a Address) Canonical() string {
	addr := strings.ToLower(strings.TrimSpace(a.Address))
	at := strings.LastIndex(addr, "@")
	if at < 0 {
		return addr
	}
	local, domain := addr[:at], addr[at+1:]
	if plus := strings.Index(local, "+"); plus > 0 {
		local = local[:plus]
	}
	if domain == "gmail.com" || domain == "googlemail.com" {
		local = strings.ReplaceAll(local, ".", "")
	}
	return local + "@" + domain
}

// String formats the address the way it would appear in a header
func (a Address) String() string {
	if a.Name == "" {
		return a.Address
	}
	return fmt.Sprintf("%q <%s>", a.Name, a.Address)
}

// AddressList is a list of addresses stored as JSON
type AddressList []Address

// Value implements driver.Valuer
func (l AddressList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal addresses: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (l *AddressList) Scan(src interface{}) error {
	return scanJSON(src, l)
}

// Strings returns the bare addresses
func (l AddressList) Strings() []string {
	out := make([]string, 0, len(l))
	for _, a := range l {
		out = append(out, a.Address)
	}
	return out
}

// StringList is a list of strings stored as JSON
type StringList []string

// Value implements driver.Valuer
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal list: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (l *StringList) Scan(src interface{}) error {
	return scanJSON(src, l)
}

// Contains reports whether s is in the list
func (l StringList) Contains(s string) bool {
	for _, v := range l {
		if v == s {
			return true
		}
	}
	return false
}

// Equal reports whether both lists hold the same values in the same order
func (l StringList) Equal(other StringList) bool {
	if len(l) != len(other) {
		return false
	}
	for i := range l {
		if l[i] != other[i] {
			return false
		}
	}
	return true
}

func scanJSON(src interface{}, dest interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("unsupported type %T for JSON column", src)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal JSON column: %w", err)
	}
	return nil
}
