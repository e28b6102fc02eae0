package types

import "strings"

// Folder types
const (
	FolderInbox   = "inbox"
	FolderOutbox  = "outbox"
	FolderDrafts  = "drafts"
	FolderSent    = "sent"
	FolderArchive = "archive"
	FolderTrash   = "trash"
	FolderJunk    = "junk"
	FolderSystem  = "system"
	FolderUser    = "user"
)

// Default synchronization windows for newly discovered folders, in days
const (
	DefaultSyncDays = 7
	DefaultKeepDays = 30
)

// Folder represents a remote mailbox tracked in the cache
type Folder struct {
	ID          int64      `db:"id" json:"id"`
	AccountID   int64      `db:"account_id" json:"account_id"`
	Name        string     `db:"name" json:"name"`
	Display     *string    `db:"display" json:"display,omitempty"`
	Type        string     `db:"type" json:"type"`
	Level       int        `db:"level" json:"level"`
	Synchronize bool       `db:"synchronize" json:"synchronize"`
	Poll        bool       `db:"poll" json:"poll"`
	Download    bool       `db:"download" json:"download"`
	SyncDays    int        `db:"sync_days" json:"sync_days"`
	KeepDays    int        `db:"keep_days" json:"keep_days"`
	SyncState   *string    `db:"sync_state" json:"sync_state,omitempty"`
	Keywords    StringList `db:"keywords" json:"keywords,omitempty"`
	TBC         bool       `db:"tbc" json:"-"`
	TBD         bool       `db:"tbd" json:"-"`
	Initialized bool       `db:"initialized" json:"initialized"`
	LastSyncAt  *int64     `db:"last_sync_at" json:"last_sync_at,omitempty"`
	Error       *string    `db:"error" json:"error,omitempty"`
}

// IsOutgoing reports whether the folder holds mail written by the user
func (f *Folder) IsOutgoing() bool {
	return f.Type == FolderDrafts || f.Type == FolderOutbox || f.Type == FolderSent
}

// IsDrafts reports whether the folder is the drafts folder
func (f *Folder) IsDrafts() bool {
	return f.Type == FolderDrafts
}

// FolderType maps IMAP special-use attributes and the mailbox name to a folder type.
// It returns an empty string for mailboxes that cannot hold messages.
func FolderType(attrs []string, name string) string {
	for _, attr := range attrs {
		switch attr {
		case `\Noselect`, `\NonExistent`:
			return ""
		}
	}
	for _, attr := range attrs {
		switch attr {
		case `\Drafts`:
			return FolderDrafts
		case `\Sent`:
			return FolderSent
		case `\Archive`, `\All`:
			return FolderArchive
		case `\Trash`:
			return FolderTrash
		case `\Junk`:
			return FolderJunk
		}
	}
	if strings.EqualFold(name, "INBOX") {
		return FolderInbox
	}
	return FolderUser
}
