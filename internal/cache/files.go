package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Files stores message bodies, raw sources and attachment contents next to the database
type Files struct {
	dir string
}

// NewFiles creates the file store rooted at dir
func NewFiles(dir string) (*Files, error) {
	for _, sub := range []string{"messages", "raw", "attachments"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0700); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", sub, err)
		}
	}
	return &Files{dir: dir}, nil
}

// BodyPath returns where the rendered body of a message is kept
func (f *Files) BodyPath(messageID int64) string {
	return filepath.Join(f.dir, "messages", strconv.FormatInt(messageID, 10)+".html")
}

// RawPath returns where the full source of a message is kept
func (f *Files) RawPath(messageID int64) string {
	return filepath.Join(f.dir, "raw", strconv.FormatInt(messageID, 10)+".eml")
}

// AttachmentPath returns where the content of an attachment is kept
func (f *Files) AttachmentPath(attachmentID int64) string {
	return filepath.Join(f.dir, "attachments", strconv.FormatInt(attachmentID, 10))
}

// WriteBody stores the rendered body of a message
func (f *Files) WriteBody(messageID int64, body string) error {
	return writeFile(f.BodyPath(messageID), []byte(body))
}

// ReadBody returns the rendered body of a message
func (f *Files) ReadBody(messageID int64) (string, error) {
	data, err := os.ReadFile(f.BodyPath(messageID))
	if err != nil {
		return "", fmt.Errorf("failed to read body of message %d: %w", messageID, err)
	}
	return string(data), nil
}

// WriteRaw stores the full source of a message
func (f *Files) WriteRaw(messageID int64, raw []byte) error {
	return writeFile(f.RawPath(messageID), raw)
}

// ReadRaw returns the full source of a message
func (f *Files) ReadRaw(messageID int64) ([]byte, error) {
	data, err := os.ReadFile(f.RawPath(messageID))
	if err != nil {
		return nil, fmt.Errorf("failed to read source of message %d: %w", messageID, err)
	}
	return data, nil
}

// WriteAttachment stores the decoded content of an attachment
func (f *Files) WriteAttachment(attachmentID int64, data []byte) error {
	return writeFile(f.AttachmentPath(attachmentID), data)
}

// ReadAttachment returns the decoded content of an attachment
func (f *Files) ReadAttachment(attachmentID int64) ([]byte, error) {
	data, err := os.ReadFile(f.AttachmentPath(attachmentID))
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment %d: %w", attachmentID, err)
	}
	return data, nil
}

// RemoveMessage deletes every file kept for a message
func (f *Files) RemoveMessage(messageID int64) error {
	for _, path := range []string{f.BodyPath(messageID), f.RawPath(messageID)} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

// RemoveAttachment deletes the stored content of an attachment
func (f *Files) RemoveAttachment(attachmentID int64) error {
	if err := os.Remove(f.AttachmentPath(attachmentID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove attachment %d: %w", attachmentID, err)
	}
	return nil
}

// writeFile replaces path atomically
func writeFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
