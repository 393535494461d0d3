package discovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rabbitwarren/federation"
	"rabbitwarren/router"
	"rabbitwarren/trust"
)

func TestListPeersMenuFormatsEntries(t *testing.T) {
	wr := router.NewWarrenRouter()
	wr.RegisterPeer(router.PeerInfo{BurrowID: "ed25519:AAA", LastSeen: time.Now()})

	f := ListPeersMenu(wr)
	require.Equal(t, "200 MENU", f.VerbLine())
	assert.Contains(t, string(f.Body), "1ed25519:AAA\t/1/peer/ed25519:AAA\ted25519:AAA\t")
}

func TestListAnchorsMenuFormatsEntries(t *testing.T) {
	fm := federation.New()
	fm.RegisterAnchor("warren-a", "key", "a.example")

	f := ListAnchorsMenu(fm)
	assert.Contains(t, string(f.Body), "twarren-a\t/t/anchor/warren-a\twarren-a\ta.example")
}

func TestListTrustedMenuUsesDashForMissingAnchor(t *testing.T) {
	tc, err := trust.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, tc.VerifyOrRemember("ed25519:AAA", "cert", ""))

	f := ListTrustedMenu(tc)
	assert.Contains(t, string(f.Body), "anchor:-")
}

func TestListTrustedMenuIncludesAnchorWhenPresent(t *testing.T) {
	tc, err := trust.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, tc.VerifyOrRemember("ed25519:AAA", "cert", "anchor-1"))

	f := ListTrustedMenu(tc)
	assert.Contains(t, string(f.Body), "anchor:anchor-1")
}

func TestEmptyMenusProduceEmptyBody(t *testing.T) {
	wr := router.NewWarrenRouter()
	f := ListPeersMenu(wr)
	assert.Empty(t, f.Body)
}
