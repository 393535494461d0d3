// Package listener provides the TCP accept boundary a burrow listens on,
// and the outbound dial side for statically configured peers. TLS/session
// establishment on the connection itself is out of scope (spec.md §1) —
// this package only gates which connections reach a tunnel at all, and how
// outbound dials are warmed, mirroring the teacher's controller/server.go
// blacklist+WAF gate and controller/prewarm.go dial pool.
package listener

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

const (
	rateWindow = 30 * time.Second
	rateMax    = 200
)

// Listener wraps a net.Listener with an IP blacklist and a per-IP
// connection-rate gate (WAF policy: no more than rateMax accepts from a
// single remote IP within rateWindow).
type Listener struct {
	ln        net.Listener
	blacklist map[string]bool
	ipCache   *cache.Cache
	log       *zap.Logger
}

// New starts listening on addr, rejecting connections from blacklisted
// IPs and throttling by source IP once accepted.
func New(addr string, blacklist []string, log *zap.Logger) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listener: listen %s: %w", addr, err)
	}
	bl := make(map[string]bool, len(blacklist))
	for _, ip := range blacklist {
		bl[ip] = true
	}
	return &Listener{
		ln:        ln,
		blacklist: bl,
		ipCache:   cache.New(rateWindow, 2*rateWindow),
		log:       log,
	}, nil
}

// Addr returns the listener's bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Close stops accepting new connections.
func (l *Listener) Close() error { return l.ln.Close() }

// Accept blocks until the next connection that clears the blacklist and
// rate gate, closing and skipping any that don't.
func (l *Listener) Accept() (net.Conn, error) {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			return nil, err
		}
		ip := remoteIP(conn)
		if l.blacklist[ip] {
			l.logf("rejected blacklisted ip", ip)
			conn.Close()
			continue
		}
		if !l.allow(ip) {
			l.logf("WAF: too many connections from", ip)
			conn.Close()
			continue
		}
		return conn, nil
	}
}

// allow applies the rate gate for ip, incrementing its counter as a side
// effect. Factored out of Accept so it can be exercised without real
// sockets.
func (l *Listener) allow(ip string) bool {
	if count, found := l.ipCache.Get(ip); found {
		if count.(int) >= rateMax {
			return false
		}
		l.ipCache.Increment(ip, 1)
		return true
	}
	l.ipCache.Set(ip, 1, cache.DefaultExpiration)
	return true
}

func (l *Listener) logf(msg, ip string) {
	if l.log == nil {
		return
	}
	l.log.Warn(msg, zap.String("remote_ip", ip))
}

func remoteIP(conn net.Conn) string {
	addr := conn.RemoteAddr().String()
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}
