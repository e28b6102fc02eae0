package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddressCanonical(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Alice@Example.COM", "alice@example.com"},
		{"bob+lists@example.org", "bob@example.org"},
		{"first.last+x@gmail.com", "firstlast@gmail.com"},
		{"first.last@example.net", "first.last@example.net"},
		{"no-at-sign", "no-at-sign"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Address{Address: tt.in}.Canonical(), tt.in)
	}
}

func TestAddressDomain(t *testing.T) {
	assert.Equal(t, "example.com", Address{Address: "a@Example.com"}.Domain())
	assert.Equal(t, "", Address{Address: "local"}.Domain())
}

func TestAddressString(t *testing.T) {
	assert.Equal(t, "a@example.com", Address{Address: "a@example.com"}.String())
	assert.Equal(t, `"Ann" <a@example.com>`, Address{Address: "a@example.com", Name: "Ann"}.String())
}

func TestAddressListColumn(t *testing.T) {
	var empty AddressList
	v, err := empty.Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", v)

	var scanned AddressList
	require.NoError(t, scanned.Scan([]byte(`[{"address":"a@example.com","name":"A"}]`)))
	assert.Equal(t, AddressList{{Address: "a@example.com", Name: "A"}}, scanned)
	assert.Equal(t, []string{"a@example.com"}, scanned.Strings())

	assert.Error(t, scanned.Scan(42))
}

func TestStringList(t *testing.T) {
	l := StringList{"$Forwarded", "work"}
	assert.True(t, l.Contains("work"))
	assert.False(t, l.Contains("home"))
	assert.True(t, l.Equal(StringList{"$Forwarded", "work"}))
	assert.False(t, l.Equal(StringList{"work", "$Forwarded"}))

	var nilList StringList
	assert.True(t, nilList.Equal(StringList{}))
}

func TestFolderType(t *testing.T) {
	assert.Equal(t, FolderInbox, FolderType(nil, "Inbox"))
	assert.Equal(t, FolderSent, FolderType([]string{`\Sent`}, "Gesendet"))
	assert.Equal(t, "", FolderType([]string{`\Noselect`}, "[Gmail]"))
	assert.Equal(t, FolderUser, FolderType(nil, "Projects"))
}
