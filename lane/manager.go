package lane

import "sync"

// Manager is a concurrency-safe registry of lanes keyed by lane ID. A
// single mutex protects the map; it is held only for the duration of one
// lane operation, per spec.md §5.
type Manager struct {
	mu    sync.Mutex
	lanes map[uint16]*Lane
}

// NewManager returns an empty lane registry. Lanes are created on first
// access with the default credit window.
func NewManager() *Manager {
	return &Manager{lanes: make(map[uint16]*Lane)}
}

// WithLane runs fn against the lane for id, creating it first if absent.
// fn must not block: the manager's single mutex is held for its duration.
func (m *Manager) WithLane(id uint16, fn func(*Lane)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lanes[id]
	if !ok {
		l = New(id)
		m.lanes[id] = l
	}
	fn(l)
}

// Ack forwards an acknowledgement to the given lane, if it exists. A lane
// that has never been referenced has nothing to ack; the operation is a
// no-op rather than implicitly creating a lane just to immediately note an
// ack against it.
func (m *Manager) Ack(id uint16, seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.lanes[id]; ok {
		l.Ack(seq)
	}
}

// AddCredit grants credit to a lane (creating it if absent) and returns any
// frames released from its pending queue as a result, in FIFO order.
func (m *Manager) AddCredit(id uint16, n uint32) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lanes[id]
	if !ok {
		l = New(id)
		m.lanes[id] = l
	}
	l.AddCredit(n)
	return l.FlushPending()
}

// SendOrQueue attempts to send msg on lane id (creating it if absent). It
// returns the released message and true if it should be written
// immediately, or nil and false if it was queued for later credit.
func (m *Manager) SendOrQueue(id uint16, msg []byte) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lanes[id]
	if !ok {
		l = New(id)
		m.lanes[id] = l
	}
	if l.TrySend(msg) == Ready {
		return msg, true
	}
	return nil, false
}

// NextSeq reserves and returns the next outbound sequence number for lane
// id, creating the lane if absent.
func (m *Manager) NextSeq(id uint16) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lanes[id]
	if !ok {
		l = New(id)
		m.lanes[id] = l
	}
	return l.NextSeq()
}

// ObserveInboundSeq applies the inbound sequencing rule from spec.md
// §4.10 step 6 for a frame on lane id carrying seq: a seq below the
// expected value is a duplicate and is not delivered; a seq equal to the
// expected value is delivered and advances expected_seq_in; a seq ahead
// of expected is delivered without advancing expected_seq_in (buffering
// out-of-order frames is out of scope — see SPEC_FULL.md open question 1).
func (m *Manager) ObserveInboundSeq(id uint16, seq uint64) (deliver bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lanes[id]
	if !ok {
		l = New(id)
		m.lanes[id] = l
	}
	expected := l.ExpectedSeqIn()
	if seq < expected {
		return false
	}
	if seq == expected {
		l.AdvanceSeqIn()
	}
	return true
}

// Get returns the lane for id and whether it exists, without creating it.
func (m *Manager) Get(id uint16) (*Lane, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lanes[id]
	return l, ok
}
