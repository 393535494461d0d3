package trust

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstContactRemembersFingerprint(t *testing.T) {
	c, err := New(t.TempDir())
	require.NoError(t, err)

	err = c.VerifyOrRemember("ed25519:AAA", "cert-data-1", "")
	require.NoError(t, err)
	assert.True(t, c.IsTrusted("ed25519:AAA"))
}

func TestMatchingFingerprintUpdatesLastSeen(t *testing.T) {
	c, err := New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, c.VerifyOrRemember("ed25519:AAA", "cert-1", ""))
	require.NoError(t, c.VerifyOrRemember("ed25519:AAA", "cert-1", ""))

	peers := c.ListTrusted()
	require.Len(t, peers, 1)
	assert.False(t, peers[0].LastSeen.Before(peers[0].FirstSeen))
}

func TestMismatchedFingerprintIsRejectedAndCacheUnchanged(t *testing.T) {
	c, err := New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, c.VerifyOrRemember("ed25519:AAA", "cert-1", ""))

	err = c.VerifyOrRemember("ed25519:AAA", "cert-2-different", "")
	assert.ErrorIs(t, err, ErrFingerprintMismatch)

	peers := c.ListTrusted()
	require.Len(t, peers, 1)
	assert.Equal(t, Fingerprint("cert-1"), peers[0].Fingerprint)
}

func TestUnknownPeerIsNotTrusted(t *testing.T) {
	c, err := New(t.TempDir())
	require.NoError(t, err)
	assert.False(t, c.IsTrusted("ed25519:NOPE"))
}

func TestLoadRestoresPersistedCache(t *testing.T) {
	dir := t.TempDir()
	c1, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, c1.VerifyOrRemember("ed25519:AAA", "cert-1", "anchor-1"))

	c2, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, c2.Load())
	assert.True(t, c2.IsTrusted("ed25519:AAA"))
	peers := c2.ListTrusted()
	require.Len(t, peers, 1)
	assert.Equal(t, "anchor-1", peers[0].AnchorID)
}

func TestLoadWithNoExistingFileLeavesCacheEmpty(t *testing.T) {
	c, err := New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, c.Load())
	assert.Empty(t, c.ListTrusted())
}
