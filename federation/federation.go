// Package federation manages cross-warren trust anchors and links, and
// the advertisement/gossip frames that propagate anchor knowledge between
// warrens (spec.md §4.12). It performs no network I/O itself beyond the
// gossip transport in transport.go.
package federation

import (
	"bufio"
	"errors"
	"strings"
	"sync"
	"time"

	"rabbitwarren/frame"
)

// ErrMissingWarrenID is returned when an advertisement frame lacks the
// Warren-ID header.
var ErrMissingWarrenID = errors.New("federation: missing Warren-ID header")

// FederationAnchor is the root trust identity of a warren.
type FederationAnchor struct {
	WarrenID  string
	PublicKey string
	Domain    string
	LastSeen  time.Time
}

// FederationLink records an established connection to a remote warren.
type FederationLink struct {
	RemoteID      string
	EstablishedAt time.Time
	Services      []string
	SharedSecret  string
}

// Manager tracks known anchors and active links for a local warren. It
// constructs frames for advertisement and gossip; callers are responsible
// for transmitting them (e.g. via the QUIC gossip transport below).
type Manager struct {
	mu      sync.RWMutex
	anchors map[string]FederationAnchor
	links   map[string]FederationLink
}

// New returns an empty federation manager.
func New() *Manager {
	return &Manager{
		anchors: make(map[string]FederationAnchor),
		links:   make(map[string]FederationLink),
	}
}

// RegisterAnchor records or refreshes anchor id's public key and domain.
func (m *Manager) RegisterAnchor(id, publicKey, domain string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.anchors[id] = FederationAnchor{
		WarrenID:  id,
		PublicKey: publicKey,
		Domain:    domain,
		LastSeen:  time.Now(),
	}
}

// EstablishLink records a link to remoteID offering services, optionally
// secured by sharedSecret.
func (m *Manager) EstablishLink(remoteID, sharedSecret string, services []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[remoteID] = FederationLink{
		RemoteID:      remoteID,
		EstablishedAt: time.Now(),
		Services:      services,
		SharedSecret:  sharedSecret,
	}
}

// ListAnchors returns a snapshot of every known anchor.
func (m *Manager) ListAnchors() []FederationAnchor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]FederationAnchor, 0, len(m.anchors))
	for _, a := range m.anchors {
		out = append(out, a)
	}
	return out
}

// ListLinks returns a snapshot of every active link.
func (m *Manager) ListLinks() []FederationLink {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]FederationLink, 0, len(m.links))
	for _, l := range m.links {
		out = append(out, l)
	}
	return out
}

// HandleAdvertisement registers the anchor described by a FED-ADVERTISE
// frame's Warren-ID/Key/Domain headers. It does not itself verify any
// signature; that is the trust manifest's job (package manifest).
func (m *Manager) HandleAdvertisement(f *frame.Frame) error {
	id, ok := f.Header("Warren-ID")
	if !ok || id == "" {
		return ErrMissingWarrenID
	}
	key, _ := f.Header("Key")
	domain, _ := f.Header("Domain")
	m.RegisterAnchor(id, key, domain)
	return nil
}

// HandleGossip registers anchors carried in a FED-GOSSIP frame's body,
// one "<id> <domain>" pair per line. Unknown anchors gain an empty public
// key, to be filled in later by an advertisement or manifest.
func (m *Manager) HandleGossip(body string) {
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		m.RegisterAnchor(fields[0], "", fields[1])
	}
}

// Advertise builds a FED-ADVERTISE frame for each active link, announcing
// local. The caller sends the returned frames over the appropriate
// transport.
func (m *Manager) Advertise(local FederationAnchor) []*frame.Frame {
	m.mu.RLock()
	n := len(m.links)
	m.mu.RUnlock()

	frames := make([]*frame.Frame, 0, n)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for range m.links {
		f := frame.New("FED-ADVERTISE")
		f.SetHeader("Warren-ID", local.WarrenID)
		f.SetHeader("Domain", local.Domain)
		f.SetHeader("Key", local.PublicKey)
		f.SetBody([]byte("Timestamp: " + time.Now().Format(time.RFC3339) + "\r\n"))
		frames = append(frames, f)
	}
	return frames
}

// GossipAnchors builds one FED-GOSSIP frame per active link, each listing
// every known anchor as "<id> <domain>" lines.
func (m *Manager) GossipAnchors() []*frame.Frame {
	m.mu.RLock()
	var body strings.Builder
	for _, a := range m.anchors {
		body.WriteString(a.WarrenID)
		body.WriteByte(' ')
		body.WriteString(a.Domain)
		body.WriteString("\r\n")
	}
	n := len(m.links)
	m.mu.RUnlock()

	frames := make([]*frame.Frame, 0, n)
	for i := 0; i < n; i++ {
		f := frame.New("FED-GOSSIP")
		f.SetBody([]byte(body.String()))
		frames = append(frames, f)
	}
	return frames
}
