package parts

import (
	"strings"
	"testing"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailsync/pkg/types"
)

const multipartSource = "From: Alice <alice@example.com>\r\n" +
	"To: bob@example.org\r\n" +
	"Subject: Report\r\n" +
	"Message-ID: <report-1@example.com>\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=\"outer\"\r\n" +
	"\r\n" +
	"--outer\r\n" +
	"Content-Type: multipart/alternative; boundary=\"inner\"\r\n" +
	"\r\n" +
	"--inner\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Hello Bob\r\n" +
	"--inner\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>Hello <b>Bob</b></p>\r\n" +
	"--inner--\r\n" +
	"--outer\r\n" +
	"Content-Type: application/pdf; name=\"report.pdf\"\r\n" +
	"Content-Disposition: attachment; filename=\"report.pdf\"\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"JVBERi0xLjQ=\r\n" +
	"--outer\r\n" +
	"Content-Type: image/png\r\n" +
	"Content-Disposition: inline\r\n" +
	"Content-ID: <logo@example.com>\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"iVBORw0KGgo=\r\n" +
	"--outer--\r\n"

func TestWalkListsLeavesInOrder(t *testing.T) {
	leaves, err := Walk([]byte(multipartSource))
	require.NoError(t, err)
	require.Len(t, leaves, 4)

	assert.Equal(t, "text/plain", leaves[0].MIMEType)
	assert.Equal(t, "text/html", leaves[1].MIMEType)
	assert.Equal(t, "application/pdf", leaves[2].MIMEType)
	assert.Equal(t, "report.pdf", leaves[2].Filename)
	assert.Equal(t, "%PDF-1.4", string(leaves[2].Data))
	assert.Equal(t, "logo@example.com", leaves[3].ContentID)
}

func TestAttachmentSequencesAgreeWithBodyStructure(t *testing.T) {
	bs := &imap.BodyStructure{
		MIMEType:    "multipart",
		MIMESubType: "mixed",
		Parts: []*imap.BodyStructure{
			{
				MIMEType:    "multipart",
				MIMESubType: "alternative",
				Parts: []*imap.BodyStructure{
					{MIMEType: "text", MIMESubType: "plain", Size: 9},
					{MIMEType: "text", MIMESubType: "html", Size: 22},
				},
			},
			{
				MIMEType:          "application",
				MIMESubType:       "pdf",
				Params:            map[string]string{"name": "report.pdf"},
				Disposition:       "attachment",
				DispositionParams: map[string]string{"filename": "report.pdf"},
				Size:              12,
			},
			{
				MIMEType:    "image",
				MIMESubType: "png",
				Id:          "<logo@example.com>",
				Disposition: "inline",
				Size:        12,
			},
		},
	}

	fromServer := Attachments(7, FromStructure(bs))
	leaves, err := Walk([]byte(multipartSource))
	require.NoError(t, err)
	infos := make([]Info, 0, len(leaves))
	for _, leaf := range leaves {
		infos = append(infos, leaf.Info)
	}
	fromSource := Attachments(7, infos)

	require.Len(t, fromServer, 2)
	require.Len(t, fromSource, 2)
	for i := range fromServer {
		assert.Equal(t, fromServer[i].Sequence, fromSource[i].Sequence)
		assert.Equal(t, fromServer[i].Type, fromSource[i].Type)
		assert.Equal(t, int64(7), fromServer[i].MessageID)
	}
	assert.Equal(t, "report.pdf", *fromServer[0].Name)
	assert.Equal(t, "logo@example.com", *fromServer[1].CID)
	assert.Equal(t, int64(12), *fromServer[0].Size)
}

func TestParseRendersBodyAndAttachments(t *testing.T) {
	p, err := Parse([]byte(multipartSource))
	require.NoError(t, err)

	assert.Contains(t, p.HTML(), "<b>Bob</b>")
	assert.Equal(t, "Hello *Bob*", Preview(p.HTML()))

	data, err := p.Attachment(2)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG\r\n\x1a\n"), data)

	_, err = p.Attachment(3)
	assert.Error(t, err)
}

func TestParsePlainTextBody(t *testing.T) {
	src := "From: a@example.com\r\nSubject: x\r\nContent-Type: text/plain\r\n\r\nline <1>\nline 2\r\n"
	p, err := Parse([]byte(src))
	require.NoError(t, err)

	assert.Contains(t, p.HTML(), "line &lt;1&gt;<br>")
	assert.Nil(t, p.Warnings(nil))

	existing := "via relay.example.net"
	assert.Equal(t, &existing, p.Warnings(&existing))
}

func TestPreviewTruncates(t *testing.T) {
	long := "<p>" + strings.Repeat("word ", 100) + "</p>"
	assert.Len(t, []rune(Preview(long)), previewLength)
}

func TestComposeRoundTrip(t *testing.T) {
	sent := int64(1700000000000)
	msg := &types.Message{
		MsgID:   "<local-1@localhost>",
		From:    types.AddressList{{Address: "me@example.com", Name: "Me"}},
		To:      types.AddressList{{Address: "you@example.org"}},
		Subject: "Composed",
		SentAt:  &sent,
	}

	raw, err := Compose(msg, "<p>Body text</p>", []File{{Name: "a.txt", Type: "text/plain", Data: []byte("attached")}}, false)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Message-Id: <local-1@localhost>")

	p, err := Parse(raw)
	require.NoError(t, err)
	assert.Contains(t, p.HTML(), "Body text")

	data, err := p.Attachment(1)
	require.NoError(t, err)
	assert.Equal(t, "attached", string(data))
}

func TestComposePlainOnly(t *testing.T) {
	msg := &types.Message{
		From: types.AddressList{{Address: "me@example.com"}},
		To:   types.AddressList{{Address: "you@example.org"}},
	}

	raw, err := Compose(msg, "<p>Only text</p>", nil, true)
	require.NoError(t, err)

	leaves, err := Walk(raw)
	require.NoError(t, err)
	require.Len(t, leaves, 1)
	assert.Equal(t, "text/plain", leaves[0].MIMEType)
}

func TestEnsureMessageID(t *testing.T) {
	src := []byte("From: a@example.com\r\nSubject: x\r\n\r\nbody\r\n")

	withID, err := EnsureMessageID(src, "<new@localhost>")
	require.NoError(t, err)
	assert.Contains(t, string(withID), "Message-Id: <new@localhost>")
	assert.True(t, strings.HasSuffix(string(withID), "\r\n\r\nbody\r\n"))

	again, err := EnsureMessageID(withID, "<other@localhost>")
	require.NoError(t, err)
	assert.Equal(t, withID, again)
}

func TestGenerateMessageID(t *testing.T) {
	a, b := GenerateMessageID(), GenerateMessageID()
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "<"))
	assert.True(t, strings.HasSuffix(a, "@localhost>"))
}

func TestWithoutBcc(t *testing.T) {
	src := []byte("From: a@example.com\r\nBcc: hidden@example.org\r\nSubject: x\r\n\r\nbody\r\n")

	out, err := WithoutBcc(src)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "hidden@example.org")
	assert.Contains(t, string(out), "Subject: x")
	assert.True(t, strings.HasSuffix(string(out), "\r\n\r\nbody\r\n"))
}
