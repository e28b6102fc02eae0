package types

// Account represents a configured mail account
type Account struct {
	ID       int64   `db:"id" json:"id"`
	Name     string  `db:"name" json:"name"`
	Host     string  `db:"imap_host" json:"imap_host"`
	Port     int     `db:"imap_port" json:"imap_port"`
	Username string  `db:"imap_username" json:"imap_username"`
	Prefix   *string `db:"prefix" json:"prefix,omitempty"`
}

// Identity is an address the user sends from
type Identity struct {
	ID        int64  `db:"id" json:"id"`
	AccountID int64  `db:"account_id" json:"account_id"`
	Email     string `db:"email" json:"email"`
	Name      string `db:"name" json:"name"`
	PlainOnly bool   `db:"plain_only" json:"plain_only"`
}

// Address returns the identity as a header address
func (i *Identity) Address() Address {
	return Address{Address: i.Email, Name: i.Name}
}

// Attachment describes one attachment part of a message
type Attachment struct {
	ID         int64   `db:"id" json:"id"`
	MessageID  int64   `db:"message_id" json:"message_id"`
	Sequence   int     `db:"sequence" json:"sequence"`
	Name       *string `db:"name" json:"name,omitempty"`
	Type       string  `db:"type" json:"type"`
	CID        *string `db:"cid" json:"cid,omitempty"`
	Encryption *int    `db:"encryption" json:"encryption,omitempty"`
	Size       *int64  `db:"size" json:"size,omitempty"`
	Available  bool    `db:"available" json:"available"`
}

// Contact types
const (
	ContactFrom = "from"
)

// Contact is a sender index entry
type Contact struct {
	ID    int64   `db:"id" json:"id"`
	Type  string  `db:"type" json:"type"`
	Email string  `db:"email" json:"email"`
	Name  *string `db:"name" json:"name,omitempty"`
}

// Rule is a user defined filter attached to a folder
type Rule struct {
	ID        int64  `db:"id" json:"id"`
	FolderID  int64  `db:"folder_id" json:"folder_id"`
	Name      string `db:"name" json:"name"`
	Priority  int    `db:"priority" json:"priority"`
	Enabled   bool   `db:"enabled" json:"enabled"`
	Stop      bool   `db:"stop" json:"stop"`
	Condition string `db:"condition" json:"condition"`
	Action    string `db:"action" json:"action"`
}
