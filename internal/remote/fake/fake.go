// Package fake provides an in-memory remote.Store for tests
package fake

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"

	"github.com/brandon/mailsync/internal/parts"
	"github.com/brandon/mailsync/internal/remote"
)

// Store is an in-memory message store
type Store struct {
	mu           sync.Mutex
	capabilities map[string]bool
	folders      map[string]*Folder
	calls        []string
}

// NewStore creates an empty store advertising the given capabilities
func NewStore(capabilities ...string) *Store {
	s := &Store{
		capabilities: make(map[string]bool),
		folders:      make(map[string]*Folder),
	}
	for _, c := range capabilities {
		s.capabilities[c] = true
	}
	return s
}

// AddFolder creates a folder with the given permanent flags
func (s *Store) AddFolder(name string, permanentFlags ...string) *Folder {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := &Folder{
		store:          s,
		name:           name,
		exists:         true,
		permanentFlags: permanentFlags,
		nextUID:        1,
		messages:       make(map[uint32]*entry),
		hidden:         make(map[uint32]bool),
	}
	s.folders[name] = f
	return f
}

// Calls returns the recorded remote calls in order
func (s *Store) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// ResetCalls clears the recorded calls
func (s *Store) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

func (s *Store) record(format string, args ...interface{}) {
	s.calls = append(s.calls, fmt.Sprintf(format, args...))
}

// HasCapability implements remote.Store
func (s *Store) HasCapability(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capabilities[name]
}

// Folder implements remote.Store
func (s *Store) Folder(name string) remote.Folder {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.folders[name]; ok {
		return f
	}
	return &Folder{store: s, name: name}
}

// ListFolders implements remote.Store
func (s *Store) ListFolders(ctx context.Context) ([]remote.FolderInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("LIST")
	var infos []remote.FolderInfo
	for name, f := range s.folders {
		infos = append(infos, remote.FolderInfo{Name: name, Attributes: f.Attributes, Delimiter: "/"})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// CreateFolder implements remote.Store
func (s *Store) CreateFolder(ctx context.Context, name string) error {
	s.mu.Lock()
	s.record("CREATE %s", name)
	_, exists := s.folders[name]
	s.mu.Unlock()
	if exists {
		return fmt.Errorf("folder %s already exists", name)
	}
	s.AddFolder(name, imap.SeenFlag, imap.AnsweredFlag, imap.FlaggedFlag, imap.DeletedFlag, imap.DraftFlag, remote.AnyKeyword)
	return nil
}

// DeleteFolder implements remote.Store
func (s *Store) DeleteFolder(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("DELETE %s", name)
	if _, ok := s.folders[name]; !ok {
		return remote.ErrFolderNotFound
	}
	delete(s.folders, name)
	return nil
}

type entry struct {
	uid   uint32
	flags []string
	date  time.Time
	raw   []byte
}

func (e *entry) hasFlag(flag string) bool {
	for _, f := range e.flags {
		if strings.EqualFold(f, flag) {
			return true
		}
	}
	return false
}

// Folder is an in-memory mailbox
type Folder struct {
	store          *Store
	name           string
	exists         bool
	open           bool
	readWrite      bool
	permanentFlags []string
	nextUID        uint32
	messages       map[uint32]*entry
	hidden         map[uint32]bool

	// Attributes are reported by ListFolders
	Attributes []string
	// DropFlagsOnAppend makes appends ignore the supplied flags
	DropFlagsOnAppend bool
	// AppendErr is returned by the next append
	AppendErr error
	// SearchErr is returned by every search
	SearchErr error
	// FetchErr is returned by every full fetch
	FetchErr error
}

// Deliver stores a message as if it had arrived from outside and returns its uid
func (f *Folder) Deliver(raw string, date time.Time, flags ...string) uint32 {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	return f.add([]byte(raw), date, flags)
}

func (f *Folder) add(raw []byte, date time.Time, flags []string) uint32 {
	uid := f.nextUID
	f.nextUID++
	f.messages[uid] = &entry{uid: uid, flags: append([]string(nil), flags...), date: date, raw: bytes.Clone(raw)}
	return uid
}

// HideFromSearch leaves uid out of search results while it still exists
func (f *Folder) HideFromSearch(uid uint32) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	f.hidden[uid] = true
}

// Remove deletes a message without going through expunge
func (f *Folder) Remove(uid uint32) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	delete(f.messages, uid)
}

// UIDs returns the uids present in the folder
func (f *Folder) UIDs() []uint32 {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	return f.sortedUIDs()
}

// Flags returns the flags of uid
func (f *Folder) Flags(uid uint32) []string {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	if e, ok := f.messages[uid]; ok {
		return append([]string(nil), e.flags...)
	}
	return nil
}

// Raw returns the source of uid
func (f *Folder) Raw(uid uint32) []byte {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	if e, ok := f.messages[uid]; ok {
		return bytes.Clone(e.raw)
	}
	return nil
}

func (f *Folder) sortedUIDs() []uint32 {
	uids := make([]uint32, 0, len(f.messages))
	for uid := range f.messages {
		uids = append(uids, uid)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids
}

// Name implements remote.Folder
func (f *Folder) Name() string { return f.name }

// Open implements remote.Folder
func (f *Folder) Open(ctx context.Context, readWrite bool) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	f.store.record("OPEN %s rw=%t", f.name, readWrite)
	if !f.exists {
		return fmt.Errorf("%w: %s", remote.ErrFolderNotFound, f.name)
	}
	f.open, f.readWrite = true, readWrite
	return nil
}

// Close implements remote.Folder
func (f *Folder) Close() error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	f.store.record("CLOSE %s", f.name)
	f.open = false
	return nil
}

// IsOpen implements remote.Folder
func (f *Folder) IsOpen() bool {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	return f.open
}

// HasPermanentFlag implements remote.Folder
func (f *Folder) HasPermanentFlag(flag string) bool {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	for _, p := range f.permanentFlags {
		if strings.EqualFold(p, flag) {
			return true
		}
	}
	return false
}

func (f *Folder) checkOpen() error {
	if !f.open {
		return fmt.Errorf("%w: %s", remote.ErrFolderClosed, f.name)
	}
	return nil
}

// Search implements remote.Folder
func (f *Folder) Search(ctx context.Context, criteria *imap.SearchCriteria) ([]uint32, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	f.store.record("SEARCH %s", f.name)
	if err := f.checkOpen(); err != nil {
		return nil, err
	}
	if f.SearchErr != nil {
		return nil, f.SearchErr
	}
	var uids []uint32
	for _, uid := range f.sortedUIDs() {
		if f.hidden[uid] {
			continue
		}
		if matches(f.messages[uid], criteria) {
			uids = append(uids, uid)
		}
	}
	return uids, nil
}

func matches(e *entry, c *imap.SearchCriteria) bool {
	if c == nil {
		return true
	}
	if !c.Since.IsZero() && e.date.Before(c.Since) {
		return false
	}
	for _, flag := range c.WithFlags {
		if !e.hasFlag(flag) {
			return false
		}
	}
	for _, flag := range c.WithoutFlags {
		if e.hasFlag(flag) {
			return false
		}
	}
	if len(c.Header) > 0 {
		h, err := remote.ParseHeader(e.raw)
		if err != nil {
			return false
		}
		for key, values := range c.Header {
			for _, v := range values {
				if !strings.Contains(h.Get(key), v) {
					return false
				}
			}
		}
	}
	for _, or := range c.Or {
		if !matches(e, or[0]) && !matches(e, or[1]) {
			return false
		}
	}
	for _, not := range c.Not {
		if matches(e, not) {
			return false
		}
	}
	return true
}

// Fetch implements remote.Folder
func (f *Folder) Fetch(ctx context.Context, uids []uint32, profile remote.FetchProfile) ([]*remote.Message, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	f.store.record("FETCH %s %v profile=%d", f.name, uids, profile)
	if err := f.checkOpen(); err != nil {
		return nil, err
	}
	if profile == remote.FetchFull && f.FetchErr != nil {
		return nil, f.FetchErr
	}

	var messages []*remote.Message
	for _, uid := range uids {
		e, ok := f.messages[uid]
		if !ok {
			continue
		}
		m := &remote.Message{UID: uid, Flags: append([]string(nil), e.flags...)}
		if profile >= remote.FetchHeaders {
			m.Size = int64(len(e.raw))
			m.InternalDate = e.date
			end := bytes.Index(e.raw, []byte("\r\n\r\n"))
			if end < 0 {
				end = len(e.raw)
			}
			m.RawHeader = bytes.Clone(e.raw[:end])
			h, err := remote.ParseHeader(e.raw)
			if err != nil {
				return nil, err
			}
			m.Header = h
			leaves, err := parts.Walk(e.raw)
			if err != nil {
				return nil, err
			}
			for _, leaf := range leaves {
				m.Structure = append(m.Structure, leaf.Info)
			}
		}
		if profile == remote.FetchFull {
			m.Body = bytes.Clone(e.raw)
		}
		messages = append(messages, m)
	}
	return messages, nil
}

// UIDFetch implements remote.Folder
func (f *Folder) UIDFetch(ctx context.Context, uids []uint32) ([]uint32, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	f.store.record("UID FETCH %s %v", f.name, uids)
	if err := f.checkOpen(); err != nil {
		return nil, err
	}
	var present []uint32
	for _, uid := range uids {
		if _, ok := f.messages[uid]; ok {
			present = append(present, uid)
		}
	}
	sort.Slice(present, func(i, j int) bool { return present[i] < present[j] })
	return present, nil
}

// SetFlag implements remote.Folder
func (f *Folder) SetFlag(ctx context.Context, uid uint32, flag string, set bool) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	f.store.record("STORE %s %d %s %t", f.name, uid, flag, set)
	if err := f.checkOpen(); err != nil {
		return err
	}
	e, ok := f.messages[uid]
	if !ok {
		return fmt.Errorf("%w: uid %d", remote.ErrMessageRemoved, uid)
	}
	var flags []string
	for _, existing := range e.flags {
		if !strings.EqualFold(existing, flag) {
			flags = append(flags, existing)
		}
	}
	if set {
		flags = append(flags, flag)
	}
	e.flags = flags
	return nil
}

func (f *Folder) appendMessage(raw []byte, flags []string, date time.Time) (uint32, error) {
	f.store.record("APPEND %s", f.name)
	if !f.exists {
		return 0, fmt.Errorf("%w: %s", remote.ErrFolderNotFound, f.name)
	}
	if f.AppendErr != nil {
		err := f.AppendErr
		f.AppendErr = nil
		return 0, err
	}
	if f.DropFlagsOnAppend {
		flags = nil
	}
	return f.add(raw, date, flags), nil
}

// Append implements remote.Folder
func (f *Folder) Append(ctx context.Context, raw []byte, flags []string, date time.Time) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	_, err := f.appendMessage(raw, flags, date)
	return err
}

// AppendUID implements remote.Folder
func (f *Folder) AppendUID(ctx context.Context, raw []byte, flags []string, date time.Time) (uint32, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	if !f.store.capabilities[remote.CapUIDPlus] {
		return 0, fmt.Errorf("server does not support %s", remote.CapUIDPlus)
	}
	return f.appendMessage(raw, flags, date)
}

// Move implements remote.Folder
func (f *Folder) Move(ctx context.Context, uids []uint32, target string) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	f.store.record("MOVE %s %v %s", f.name, uids, target)
	if err := f.checkOpen(); err != nil {
		return err
	}
	dest, ok := f.store.folders[target]
	if !ok {
		return fmt.Errorf("%w: %s", remote.ErrFolderNotFound, target)
	}
	for _, uid := range uids {
		e, ok := f.messages[uid]
		if !ok {
			continue
		}
		dest.add(e.raw, e.date, e.flags)
		delete(f.messages, uid)
	}
	return nil
}

// Expunge implements remote.Folder
func (f *Folder) Expunge(ctx context.Context) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	f.store.record("EXPUNGE %s", f.name)
	if err := f.checkOpen(); err != nil {
		return err
	}
	for uid, e := range f.messages {
		if e.hasFlag(imap.DeletedFlag) {
			delete(f.messages, uid)
		}
	}
	return nil
}
