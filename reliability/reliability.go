// Package reliability tracks outbound data frames until acknowledged and
// retransmits them with a bounded number of retries (spec.md §4.4).
package reliability

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrRetryExhausted is logged (never returned to a caller across a public
// API boundary) when a pending frame reaches max retries without an ack.
var ErrRetryExhausted = errors.New("reliability: retries exhausted")

// DefaultResendInterval and DefaultMaxRetries match spec.md §4.4's stated
// sensible defaults.
const (
	DefaultResendInterval = 500 * time.Millisecond
	DefaultMaxRetries     = 5
)

type key struct {
	lane uint16
	seq  uint64
}

// pendingFrame is a frame awaiting acknowledgement.
type pendingFrame struct {
	data     []byte
	lastSent time.Time
	attempts uint8
}

// Outbound is the sink reliability uses to push retransmissions; the
// tunnel's writer loop is expected to drain it in order.
type Outbound interface {
	Send(data []byte)
}

// Manager tracks unacked frames and retransmits on a timer. The scan
// collects expired entries under lock, then sends without holding it, per
// spec.md §5.
type Manager struct {
	mu      sync.Mutex
	pending map[key]*pendingFrame

	outbound       Outbound
	resendInterval time.Duration
	maxRetries     uint8
	log            *zap.Logger
}

// New builds a reliability manager. outbound receives resends; log is used
// for RetryExhausted diagnostics.
func New(outbound Outbound, resendInterval time.Duration, maxRetries uint8, log *zap.Logger) *Manager {
	if resendInterval <= 0 {
		resendInterval = DefaultResendInterval
	}
	if maxRetries == 0 {
		maxRetries = DefaultMaxRetries
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		pending:        make(map[key]*pendingFrame),
		outbound:       outbound,
		resendInterval: resendInterval,
		maxRetries:     maxRetries,
		log:            log,
	}
}

// TrackFrame registers data for reliable delivery on (lane, seq). Call
// this immediately after writing the frame to the wire.
func (m *Manager) TrackFrame(laneID uint16, seq uint64, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[key{laneID, seq}] = &pendingFrame{
		data:     data,
		lastSent: time.Now(),
		attempts: 1,
	}
}

// ConfirmAck removes a frame once its acknowledgement has arrived.
func (m *Manager) ConfirmAck(laneID uint16, seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, key{laneID, seq})
}

// PendingCount reports how many frames are still awaiting ack. Useful for
// tests and diagnostics.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Run drives the periodic resend scan until ctx is cancelled. It should be
// spawned as its own goroutine per tunnel.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.resendInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.scanAndResend()
		}
	}
}

// scanAndResend collects expired entries under lock, then sends outside of
// it, exactly as spec.md §4.4/§5 require.
func (m *Manager) scanAndResend() {
	now := time.Now()
	var toResend [][]byte

	m.mu.Lock()
	for k, pf := range m.pending {
		if now.Sub(pf.lastSent) < m.resendInterval {
			continue
		}
		if pf.attempts >= m.maxRetries {
			m.log.Warn("reliability: retry exhausted",
				zap.Error(ErrRetryExhausted),
				zap.Uint16("lane", k.lane),
				zap.Uint64("seq", k.seq),
				zap.Uint8("attempts", pf.attempts),
			)
			continue
		}
		pf.lastSent = now
		pf.attempts++
		toResend = append(toResend, pf.data)
	}
	m.mu.Unlock()

	for _, data := range toResend {
		m.outbound.Send(data)
	}
}
