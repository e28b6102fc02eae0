package remote

import (
	"context"
	"errors"
	"time"

	"github.com/emersion/go-imap"
)

// Capabilities queried on the store
const (
	CapUIDPlus = "UIDPLUS"
	CapMove    = "MOVE"
)

// AnyKeyword is the permanent flag a server advertises when clients may create keywords
const AnyKeyword = `\*`

var (
	// ErrMessageRemoved is returned for a message that is expunged or marked deleted
	ErrMessageRemoved = errors.New("message removed")
	// ErrFolderNotFound is returned when the remote folder does not exist
	ErrFolderNotFound = errors.New("folder not found")
	// ErrFolderClosed is returned when a folder or its connection is no longer usable
	ErrFolderClosed = errors.New("folder closed")
	// ErrNoUID is returned when the server did not report a uid for an appended message
	ErrNoUID = errors.New("no uid returned for appended message")
)

// FetchProfile selects the message items a fetch returns
type FetchProfile int

const (
	// FetchFlags fetches uid and flags
	FetchFlags FetchProfile = iota
	// FetchHeaders adds the header block, body structure, size and internal date
	FetchHeaders
	// FetchFull adds the complete message source
	FetchFull
)

// FolderInfo is one entry of a folder listing
type FolderInfo struct {
	Name       string
	Attributes []string
	Delimiter  string
}

// Store is an authenticated session with one account's message store
type Store interface {
	// HasCapability reports whether the server advertised the capability
	HasCapability(name string) bool
	// Folder returns a handle to the named folder without opening it
	Folder(name string) Folder
	ListFolders(ctx context.Context) ([]FolderInfo, error)
	CreateFolder(ctx context.Context, name string) error
	DeleteFolder(ctx context.Context, name string) error
}

// Folder is a handle to one remote mailbox. UIDs returned by Search and
// UIDFetch are ascending.
type Folder interface {
	Name() string
	Open(ctx context.Context, readWrite bool) error
	Close() error
	IsOpen() bool
	// HasPermanentFlag reports whether flag can be stored permanently.
	// Pass AnyKeyword to ask whether user keywords are supported.
	HasPermanentFlag(flag string) bool

	Search(ctx context.Context, criteria *imap.SearchCriteria) ([]uint32, error)
	Fetch(ctx context.Context, uids []uint32, profile FetchProfile) ([]*Message, error)
	// UIDFetch returns the subset of uids that still exist on the server
	UIDFetch(ctx context.Context, uids []uint32) ([]uint32, error)

	SetFlag(ctx context.Context, uid uint32, flag string, set bool) error
	Append(ctx context.Context, raw []byte, flags []string, date time.Time) error
	// AppendUID appends and returns the uid the server assigned. It requires CapUIDPlus.
	AppendUID(ctx context.Context, raw []byte, flags []string, date time.Time) (uint32, error)
	Move(ctx context.Context, uids []uint32, target string) error
	Expunge(ctx context.Context) error
}

// SinceCriteria matches messages received on or after since, or flagged regardless of age
func SinceCriteria(since time.Time) *imap.SearchCriteria {
	byDate := imap.NewSearchCriteria()
	byDate.Since = since
	flagged := imap.NewSearchCriteria()
	flagged.WithFlags = []string{imap.FlaggedFlag}

	c := imap.NewSearchCriteria()
	c.Or = [][2]*imap.SearchCriteria{{byDate, flagged}}
	return c
}

// MessageIDCriteria matches messages carrying the given Message-ID
func MessageIDCriteria(msgid string) *imap.SearchCriteria {
	c := imap.NewSearchCriteria()
	c.Header.Add("Message-Id", msgid)
	return c
}
