package credential

import (
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useArrayKeyring(t *testing.T) {
	t.Helper()
	ring := keyring.NewArrayKeyring(nil)
	orig := openKeyring
	openKeyring = func() (keyring.Keyring, error) { return ring, nil }
	t.Cleanup(func() { openKeyring = orig })
}

func TestSetThenGet(t *testing.T) {
	useArrayKeyring(t)

	require.NoError(t, Set("TELEGRAM_BOT_TOKEN", "123:abc"))
	val, err := Get("TELEGRAM_BOT_TOKEN")
	require.NoError(t, err)
	assert.Equal(t, "123:abc", val)
}

func TestGetMissing(t *testing.T) {
	useArrayKeyring(t)

	_, err := Get("AI_API_KEY")
	assert.ErrorIs(t, err, keyring.ErrKeyNotFound)
}

func TestRingConfigDefaultSkipsFileWithoutPassword(t *testing.T) {
	cfg, err := ringConfig("", "", "")
	require.NoError(t, err)
	assert.NotContains(t, cfg.AllowedBackends, keyring.FileBackend)
	assert.Equal(t, "mailbot", cfg.ServiceName)
	assert.Equal(t, "~/.config/mailbot/credentials", cfg.FileDir)

	_, err = cfg.FilePasswordFunc("")
	assert.ErrorIs(t, err, ErrNoFilePassword)
}

func TestRingConfigFileBackendUsesConfiguredPassword(t *testing.T) {
	cfg, err := ringConfig("FILE", "s3cret", "/var/lib/mailbot/keys")
	require.NoError(t, err)
	assert.Equal(t, []keyring.BackendType{keyring.FileBackend}, cfg.AllowedBackends)
	assert.Equal(t, "/var/lib/mailbot/keys", cfg.FileDir)

	pw, err := cfg.FilePasswordFunc("")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", pw)

	cfg, err = ringConfig("", "s3cret", "")
	require.NoError(t, err)
	assert.Contains(t, cfg.AllowedBackends, keyring.FileBackend)
}

func TestRingConfigRejectsBadBackend(t *testing.T) {
	_, err := ringConfig("kwallet", "", "")
	assert.ErrorContains(t, err, "unknown MAILBOT_KEYRING_BACKEND")

	_, err = ringConfig("file", "", "")
	assert.ErrorIs(t, err, ErrNoFilePassword)
}
