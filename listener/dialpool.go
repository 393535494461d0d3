package listener

import (
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Default pool sizing: initial warm connections per peer, and the hard
// ceiling dynamic growth is allowed to reach.
const (
	poolInitialSize = 4
	poolPerPeerMax  = 32
)

// dialPool keeps a small set of warm outbound TCP connections to one
// configured peer address, so a tunnel dial doesn't pay handshake latency
// on the hot path.
type dialPool struct {
	addr    string
	desired int
	log     *zap.Logger

	mu      sync.Mutex
	idle    []net.Conn
	warming int
}

func newDialPool(addr string, desired int, log *zap.Logger) *dialPool {
	return &dialPool{addr: addr, desired: desired, log: log}
}

// ensureLocked tops up idle+warming connections toward desired. Caller
// must hold p.mu.
func (p *dialPool) ensureLocked() {
	need := p.desired - len(p.idle) - p.warming
	for i := 0; i < need; i++ {
		p.warming++
		go p.dialOne()
	}
}

func (p *dialPool) dialOne() {
	conn, err := net.DialTimeout("tcp", p.addr, 5*time.Second)
	if err != nil {
		if p.log != nil {
			p.log.Warn("prewarm dial failed", zap.String("peer", p.addr), zap.Error(err))
		}
		time.Sleep(500 * time.Millisecond)
		p.mu.Lock()
		p.warming--
		if p.warming < 0 {
			p.warming = 0
		}
		p.ensureLocked()
		p.mu.Unlock()
		return
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAlive(true)
		_ = tc.SetKeepAlivePeriod(30 * time.Second)
		_ = tc.SetNoDelay(true)
	}
	p.mu.Lock()
	p.warming--
	p.idle = append(p.idle, conn)
	p.ensureLocked()
	p.mu.Unlock()
}

// acquire hands out an idle warm connection, growing the pool's target
// size once the idle reserve drops below a quarter of desired.
func (p *dialPool) acquire() (net.Conn, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.idle)
	if n == 0 {
		p.ensureLocked()
		return nil, false
	}
	conn := p.idle[n-1]
	p.idle = p.idle[:n-1]

	remaining := len(p.idle)
	if p.desired > 0 && remaining*4 < p.desired {
		active := p.desired - remaining - p.warming
		if active < 0 {
			active = 0
		}
		growth := active * 2
		if growth < 1 {
			growth = 1
		}
		p.desired += growth
		if p.desired > poolPerPeerMax {
			p.desired = poolPerPeerMax
		}
	}
	p.ensureLocked()
	return conn, true
}

// DialManager owns one dialPool per configured peer address.
type DialManager struct {
	mu    sync.Mutex
	pools map[string]*dialPool
	log   *zap.Logger
}

// NewDialManager returns an empty manager; pools are created lazily on
// first Warm/Dial for a given address.
func NewDialManager(log *zap.Logger) *DialManager {
	return &DialManager{pools: make(map[string]*dialPool), log: log}
}

func (m *DialManager) pool(addr string) *dialPool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[addr]
	if !ok {
		p = newDialPool(addr, 0, m.log)
		m.pools[addr] = p
	}
	return p
}

// Warm starts background warming toward poolInitialSize idle connections
// for each address in peers.
func (m *DialManager) Warm(peers []string) {
	for _, addr := range peers {
		p := m.pool(addr)
		p.mu.Lock()
		if poolInitialSize > p.desired {
			p.desired = poolInitialSize
		}
		p.ensureLocked()
		p.mu.Unlock()
	}
}

// Dial returns a connection to addr, preferring an already-warm one and
// falling back to a fresh dial.
func (m *DialManager) Dial(addr string) (net.Conn, error) {
	if conn, ok := m.pool(addr).acquire(); ok {
		return conn, nil
	}
	return net.DialTimeout("tcp", addr, 5*time.Second)
}
