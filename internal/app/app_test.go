package app

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "mailsync version dev\n", out.String())
}

func TestCredentialKey(t *testing.T) {
	key, err := credentialKey([]string{"work", "smtp"})
	require.NoError(t, err)
	assert.Equal(t, "work/smtp", key)

	_, err = credentialKey([]string{"work", "pop3"})
	assert.Error(t, err)
}
