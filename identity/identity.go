// Package identity manages a burrow's Ed25519 keypair, its session table
// and its registry of known peer public keys (spec.md §3/§4.5).
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// ErrSignatureInvalid is returned when Verify fails.
var ErrSignatureInvalid = errors.New("identity: signature invalid")

// ErrSessionUnknown is returned by RefreshSession for a nonexistent token.
var ErrSessionUnknown = errors.New("identity: unknown session token")

// sessionTTL is the lifetime of a freshly issued or refreshed session.
const sessionTTL = 3600 * time.Second

// base32Encoding is RFC4648 without padding, per spec.md §3/§6/§9.
var base32Encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// KnownPeer records a registered peer's public key and when it was first
// registered.
type KnownPeer struct {
	PublicKey ed25519.PublicKey
	CreatedAt time.Time
}

// Session is an authenticated or anonymous handshake session.
type Session struct {
	Token     string
	PeerID    string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Anonymous bool
}

// Valid reports whether the session has not yet expired.
func (s Session) Valid(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// Manager holds the local keypair, the known-peer registry and the active
// session table. Known peers and sessions are each protected by their own
// RWMutex so readers never block each other (spec.md §5).
type Manager struct {
	publicKey  ed25519.PublicKey
	privateKey ed25519.PrivateKey

	peersMu sync.RWMutex
	peers   map[string]KnownPeer

	sessionsMu sync.RWMutex
	sessions   map[string]Session

	// badSignatures short-circuits repeated verification of a peer that
	// just failed a handshake, avoiding redundant Ed25519 work on a
	// burst of retries from the same misbehaving remote.
	badSignatures *cache.Cache
}

// New generates a fresh Ed25519 keypair and returns a ready-to-use manager.
func New() (*Manager, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Manager{
		publicKey:     pub,
		privateKey:    priv,
		peers:         make(map[string]KnownPeer),
		sessions:      make(map[string]Session),
		badSignatures: cache.New(30*time.Second, time.Minute),
	}, nil
}

// EncodeID computes the "ed25519:"+base32(pubkey) burrow-id string for an
// arbitrary public key.
func EncodeID(pub ed25519.PublicKey) string {
	return "ed25519:" + base32Encoding.EncodeToString(pub)
}

// LocalID returns this manager's own burrow-id.
func (m *Manager) LocalID() string {
	return EncodeID(m.publicKey)
}

// PublicKey returns the local public key.
func (m *Manager) PublicKey() ed25519.PublicKey {
	return m.publicKey
}

// Sign produces a detached 64-byte Ed25519 signature over data.
func (m *Manager) Sign(data []byte) []byte {
	return ed25519.Sign(m.privateKey, data)
}

// Verify checks a detached signature against the given public key.
func (m *Manager) Verify(pub ed25519.PublicKey, msg, sig []byte) error {
	id := EncodeID(pub)
	if _, found := m.badSignatures.Get(id); found {
		return ErrSignatureInvalid
	}
	if ed25519.Verify(pub, msg, sig) {
		return nil
	}
	m.badSignatures.SetDefault(id, struct{}{})
	return ErrSignatureInvalid
}

// RegisterPeer records a peer's public key under the given burrow-id,
// overwriting any prior entry.
func (m *Manager) RegisterPeer(id string, pub ed25519.PublicKey) {
	m.peersMu.Lock()
	defer m.peersMu.Unlock()
	m.peers[id] = KnownPeer{PublicKey: pub, CreatedAt: time.Now()}
}

// KnownPeer looks up a registered peer by burrow-id.
func (m *Manager) KnownPeer(id string) (KnownPeer, bool) {
	m.peersMu.RLock()
	defer m.peersMu.RUnlock()
	p, ok := m.peers[id]
	return p, ok
}

// CreateSession issues a new session token. peerID is used verbatim, or
// "anonymous" if empty.
func (m *Manager) CreateSession(peerID string, anonymous bool) string {
	if peerID == "" {
		peerID = "anonymous"
	}
	now := time.Now()
	token := uuid.New().String()
	sess := Session{
		Token:     token,
		PeerID:    peerID,
		IssuedAt:  now,
		ExpiresAt: now.Add(sessionTTL),
		Anonymous: anonymous,
	}
	m.sessionsMu.Lock()
	defer m.sessionsMu.Unlock()
	m.sessions[token] = sess
	return token
}

// ValidateToken reports whether token identifies a non-expired session.
func (m *Manager) ValidateToken(token string) bool {
	m.sessionsMu.RLock()
	defer m.sessionsMu.RUnlock()
	sess, ok := m.sessions[token]
	if !ok {
		return false
	}
	return sess.Valid(time.Now())
}

// Session returns the session record for token, if any.
func (m *Manager) Session(token string) (Session, bool) {
	m.sessionsMu.RLock()
	defer m.sessionsMu.RUnlock()
	s, ok := m.sessions[token]
	return s, ok
}

// RefreshSession extends an existing session's expiry by sessionTTL from
// now. Returns ErrSessionUnknown if the token does not exist.
func (m *Manager) RefreshSession(token string) error {
	m.sessionsMu.Lock()
	defer m.sessionsMu.Unlock()
	sess, ok := m.sessions[token]
	if !ok {
		return ErrSessionUnknown
	}
	sess.ExpiresAt = time.Now().Add(sessionTTL)
	m.sessions[token] = sess
	return nil
}
