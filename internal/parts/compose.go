package parts

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/mail"
	"strings"
	"time"

	gomail "github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"github.com/google/uuid"
	"github.com/jaytaylor/html2text"

	"github.com/brandon/mailsync/pkg/types"
)

// File is attachment content handed to Compose
type File struct {
	Name string
	Type string
	CID  string
	Data []byte
}

// GenerateMessageID returns a new globally unique Message-ID
func GenerateMessageID() string {
	return "<" + uuid.NewString() + "@localhost>"
}

// Compose renders a locally cached message back into an RFC 5322 source
func Compose(msg *types.Message, body string, files []File, plainOnly bool) ([]byte, error) {
	var h gomail.Header
	date := time.Now()
	if msg.SentAt != nil {
		date = time.UnixMilli(*msg.SentAt)
	}
	h.SetDate(date)
	h.SetSubject(msg.Subject)
	h.SetAddressList("From", toMailAddresses(msg.From))
	h.SetAddressList("To", toMailAddresses(msg.To))
	if len(msg.Cc) > 0 {
		h.SetAddressList("Cc", toMailAddresses(msg.Cc))
	}
	if len(msg.Bcc) > 0 {
		h.SetAddressList("Bcc", toMailAddresses(msg.Bcc))
	}
	if len(msg.Reply) > 0 {
		h.SetAddressList("Reply-To", toMailAddresses(msg.Reply))
	}
	if msg.MsgID != "" {
		h.SetMessageID(strings.Trim(msg.MsgID, "<>"))
	}
	if msg.InReplyTo != "" {
		h.Set("In-Reply-To", msg.InReplyTo)
	}
	if msg.References != "" {
		h.Set("References", msg.References)
	}

	text, err := html2text.FromString(body, html2text.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to convert body to text: %w", err)
	}

	var buf bytes.Buffer
	mw, err := gomail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}

	iw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("failed to create body: %w", err)
	}
	if err := writeInline(iw, "text/plain", text); err != nil {
		return nil, err
	}
	if !plainOnly {
		if err := writeInline(iw, "text/html", body); err != nil {
			return nil, err
		}
	}
	if err := iw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close body: %w", err)
	}

	for _, f := range files {
		contentType := f.Type
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		var ah gomail.AttachmentHeader
		ah.SetContentType(contentType, nil)
		if f.Name != "" {
			ah.SetFilename(f.Name)
		}
		if f.CID != "" {
			ah.Set("Content-Id", "<"+f.CID+">")
		}
		w, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, fmt.Errorf("failed to create attachment %q: %w", f.Name, err)
		}
		if _, err := w.Write(f.Data); err != nil {
			return nil, fmt.Errorf("failed to write attachment %q: %w", f.Name, err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("failed to close attachment %q: %w", f.Name, err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close message: %w", err)
	}
	return buf.Bytes(), nil
}

// WithoutBcc returns a copy of raw with the Bcc header removed, for submission
func WithoutBcc(raw []byte) ([]byte, error) {
	br := bufio.NewReader(bytes.NewReader(raw))
	h, err := textproto.ReadHeader(br)
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if !h.Has("Bcc") {
		return bytes.Clone(raw), nil
	}
	h.Del("Bcc")

	var buf bytes.Buffer
	if err := textproto.WriteHeader(&buf, h); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	if _, err := io.Copy(&buf, br); err != nil {
		return nil, fmt.Errorf("failed to copy body: %w", err)
	}
	return buf.Bytes(), nil
}

// EnsureMessageID returns a copy of raw carrying msgid when the source has no Message-ID
func EnsureMessageID(raw []byte, msgid string) ([]byte, error) {
	br := bufio.NewReader(bytes.NewReader(raw))
	h, err := textproto.ReadHeader(br)
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if h.Get("Message-Id") != "" {
		return bytes.Clone(raw), nil
	}
	h.Set("Message-Id", msgid)

	var buf bytes.Buffer
	if err := textproto.WriteHeader(&buf, h); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	if _, err := io.Copy(&buf, br); err != nil {
		return nil, fmt.Errorf("failed to copy body: %w", err)
	}
	return buf.Bytes(), nil
}

func writeInline(iw *gomail.InlineWriter, contentType, content string) error {
	var ih gomail.InlineHeader
	ih.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	w, err := iw.CreatePart(ih)
	if err != nil {
		return fmt.Errorf("failed to create %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(w, content); err != nil {
		return fmt.Errorf("failed to write %s part: %w", contentType, err)
	}
	return w.Close()
}

func toMailAddresses(list types.AddressList) []*mail.Address {
	addrs := make([]*mail.Address, 0, len(list))
	for _, a := range list {
		addrs = append(addrs, &mail.Address{Name: a.Name, Address: a.Address})
	}
	return addrs
}
