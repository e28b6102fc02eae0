package parts

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
	"github.com/jaytaylor/html2text"
	"github.com/jhillyerd/enmime"

	"github.com/brandon/mailsync/pkg/types"
)

// previewLength is the maximum number of characters kept in a body preview
const previewLength = 250

// Encryption markers stored on attachments
const (
	EncryptionPGP = 1
)

var wordDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}

// Info describes one leaf part of a message
type Info struct {
	MIMEType    string
	Disposition string
	Filename    string
	ContentID   string
	Size        int64
}

// IsAttachment reports whether the part is listed as an attachment.
// The same rule is applied to server body structures and to raw sources so
// that attachment sequence numbers agree between the two.
func (i Info) IsAttachment() bool {
	if strings.EqualFold(i.Disposition, "attachment") || i.Filename != "" {
		return true
	}
	switch strings.ToLower(i.MIMEType) {
	case "text/plain", "text/html":
		return false
	}
	return true
}

// Encryption returns the encryption marker of the part, if any
func (i Info) Encryption() *int {
	if strings.EqualFold(i.MIMEType, "application/pgp-encrypted") {
		v := EncryptionPGP
		return &v
	}
	return nil
}

// FromStructure lists the leaf parts of a server body structure in traversal order
func FromStructure(bs *imap.BodyStructure) []Info {
	var infos []Info
	var walk func(p *imap.BodyStructure)
	walk = func(p *imap.BodyStructure) {
		if strings.EqualFold(p.MIMEType, "multipart") {
			for _, child := range p.Parts {
				walk(child)
			}
			return
		}

		filename := p.DispositionParams["filename"]
		if filename == "" {
			filename = p.Params["name"]
		}
		infos = append(infos, Info{
			MIMEType:    strings.ToLower(p.MIMEType + "/" + p.MIMESubType),
			Disposition: strings.ToLower(p.Disposition),
			Filename:    decodeWord(filename),
			ContentID:   strings.Trim(p.Id, "<>"),
			Size:        int64(p.Size),
		})
	}
	if bs != nil {
		walk(bs)
	}
	return infos
}

// Attachments builds attachment rows with 1-based sequence numbers
func Attachments(messageID int64, infos []Info) []types.Attachment {
	var attachments []types.Attachment
	sequence := 1
	for _, info := range infos {
		if !info.IsAttachment() {
			continue
		}
		a := types.Attachment{
			MessageID:  messageID,
			Sequence:   sequence,
			Type:       info.MIMEType,
			Encryption: info.Encryption(),
		}
		if info.Filename != "" {
			name := info.Filename
			a.Name = &name
		}
		if info.ContentID != "" {
			cid := info.ContentID
			a.CID = &cid
		}
		if info.Size > 0 {
			size := info.Size
			a.Size = &size
		}
		attachments = append(attachments, a)
		sequence++
	}
	return attachments
}

// Part is a decoded leaf part of a raw message
type Part struct {
	Info
	Data []byte
}

// Walk decodes the leaf parts of a raw message in traversal order
func Walk(raw []byte) ([]Part, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !nonFatal(err) {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}

	var result []Part
	err = entity.Walk(func(path []int, part *message.Entity, err error) error {
		if err != nil && !nonFatal(err) {
			return err
		}

		mediaType, params, _ := part.Header.ContentType()
		if strings.HasPrefix(mediaType, "multipart/") {
			return nil
		}
		if mediaType == "" {
			mediaType = "text/plain"
		}

		disposition, dparams, _ := part.Header.ContentDisposition()
		filename := dparams["filename"]
		if filename == "" {
			filename = params["name"]
		}

		data, err := io.ReadAll(part.Body)
		if err != nil {
			return fmt.Errorf("failed to read part %v: %w", path, err)
		}

		result = append(result, Part{
			Info: Info{
				MIMEType:    strings.ToLower(mediaType),
				Disposition: strings.ToLower(disposition),
				Filename:    decodeWord(filename),
				ContentID:   strings.Trim(part.Header.Get("Content-Id"), "<>"),
				Size:        int64(len(data)),
			},
			Data: data,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk message: %w", err)
	}
	return result, nil
}

// Parts is a parsed message body
type Parts struct {
	raw      []byte
	envelope *enmime.Envelope
}

// Parse parses a full message source
func Parse(raw []byte) (*Parts, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	return &Parts{raw: raw, envelope: env}, nil
}

// HTML returns the displayable body, converting plain text when there is no HTML part
func (p *Parts) HTML() string {
	if p.envelope.HTML != "" {
		return p.envelope.HTML
	}
	text := html.EscapeString(p.envelope.Text)
	return "<div>" + strings.ReplaceAll(text, "\n", "<br>") + "</div>"
}

// Warnings merges parse problems into an existing warning
func (p *Parts) Warnings(existing *string) *string {
	var warnings []string
	if existing != nil && *existing != "" {
		warnings = append(warnings, *existing)
	}
	for _, e := range p.envelope.Errors {
		warnings = append(warnings, e.Name+": "+e.Detail)
	}
	if len(warnings) == 0 {
		return nil
	}
	joined := strings.Join(warnings, "; ")
	return &joined
}

// Attachment returns the decoded content of the attachment with the given sequence
func (p *Parts) Attachment(sequence int) ([]byte, error) {
	leaves, err := Walk(p.raw)
	if err != nil {
		return nil, err
	}
	n := 0
	for _, leaf := range leaves {
		if !leaf.IsAttachment() {
			continue
		}
		n++
		if n == sequence {
			return leaf.Data, nil
		}
	}
	return nil, fmt.Errorf("attachment %d not found", sequence)
}

// Preview derives a short plain text summary from an HTML body
func Preview(body string) string {
	text, err := html2text.FromString(body, html2text.Options{OmitLinks: true})
	if err != nil {
		text = body
	}
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) > previewLength {
		runes := []rune(text)
		text = string(runes[:previewLength])
	}
	return text
}

func decodeWord(s string) string {
	if s == "" {
		return s
	}
	decoded, err := wordDecoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}

func nonFatal(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}
