package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rabbitwarren/auth"
	"rabbitwarren/capability"
	"rabbitwarren/continuity"
	"rabbitwarren/delegation"
	"rabbitwarren/federation"
	"rabbitwarren/frame"
	"rabbitwarren/identity"
	"rabbitwarren/router"
	"rabbitwarren/tunnel"
)

func newTestServer(t *testing.T) (*burrowServer, *identity.Manager) {
	t.Helper()
	idm, err := identity.New()
	require.NoError(t, err)
	perms := capability.NewManager()
	cont, err := continuity.New(t.TempDir())
	require.NoError(t, err)
	return &burrowServer{
		authn:  auth.New(idm),
		deleg:  delegation.New(perms),
		cont:   cont,
		fed:    federation.New(),
		router: router.NewWarrenRouter(),
	}, idm
}

type nopConn struct{}

func (nopConn) Read([]byte) (int, error)    { return 0, nil }
func (nopConn) Write(p []byte) (int, error) { return len(p), nil }
func (nopConn) Close() error                { return nil }

func TestHandleFetchWithoutGrantIsForbidden(t *testing.T) {
	b, idm := newTestServer(t)
	tun := tunnel.New(nopConn{}, b.authn, b.deleg, b.cont, b.handle, nil)
	token := idm.CreateSession("ed25519:AAA", false)

	f := frame.New("FETCH")
	f.SetHeader("Session-Token", token)
	f.SetHeader("Burrow-ID", "ed25519:AAA")
	require.NoError(t, b.handle(tun, f))
	assert.ErrorIs(t, b.deleg.Require(f, capability.Fetch), delegation.ErrForbidden)
}

func TestHandleFetchWithGrantIsAllowed(t *testing.T) {
	b, idm := newTestServer(t)
	b.deleg = delegation.New(func() *capability.Manager {
		perms := capability.NewManager()
		perms.Grant("ed25519:AAA", []capability.Capability{capability.Fetch}, time.Minute)
		return perms
	}())
	tun := tunnel.New(nopConn{}, b.authn, b.deleg, b.cont, b.handle, nil)
	token := idm.CreateSession("ed25519:AAA", false)

	f := frame.New("FETCH")
	f.SetHeader("Session-Token", token)
	f.SetHeader("Burrow-ID", "ed25519:AAA")
	require.NoError(t, b.handle(tun, f))
	assert.NoError(t, b.deleg.Require(f, capability.Fetch))
}

func TestHandleUnknownVerbReplies404(t *testing.T) {
	b, idm := newTestServer(t)
	tun := tunnel.New(nopConn{}, b.authn, b.deleg, b.cont, b.handle, nil)
	token := idm.CreateSession("ed25519:AAA", false)

	f := frame.New("BOGUS")
	f.SetHeader("Session-Token", token)
	require.NoError(t, b.handle(tun, f))
}

func TestHandleFedAdvertiseRegistersAnchor(t *testing.T) {
	b, idm := newTestServer(t)
	tun := tunnel.New(nopConn{}, b.authn, b.deleg, b.cont, b.handle, nil)
	token := idm.CreateSession("ed25519:AAA", false)

	f := frame.New("FED-ADVERTISE")
	f.SetHeader("Session-Token", token)
	f.SetHeader("Warren-ID", "warren-a")
	require.NoError(t, b.handle(tun, f))

	anchors := b.fed.ListAnchors()
	assert.Len(t, anchors, 1)
}

func TestHandleMenuListsPeers(t *testing.T) {
	b, idm := newTestServer(t)
	b.router.RegisterPeer(router.PeerInfo{BurrowID: "ed25519:BBB", Address: "10.0.0.5:7070"})
	tun := tunnel.New(nopConn{}, b.authn, b.deleg, b.cont, b.handle, nil)
	token := idm.CreateSession("ed25519:AAA", false)

	f := frame.New("MENU")
	f.SetHeader("Session-Token", token)
	require.NoError(t, b.handle(tun, f))
}
