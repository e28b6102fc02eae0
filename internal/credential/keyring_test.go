package credential

import (
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreRoundTrip(t *testing.T) {
	s := NewStore(keyring.NewArrayKeyring(nil))
	key := Key("work", "imap")
	assert.Equal(t, "work/imap", key)

	_, err := s.Get(key)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(key, "hunter2"))
	got, err := s.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)

	require.NoError(t, s.Delete(key))
	_, err = s.Get(key)
	assert.ErrorIs(t, err, ErrNotFound)
}
