package lane

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestManagerSendOrQueueCreatesLaneOnDemand(t *testing.T) {
	m := NewManager()
	msg, ready := m.SendOrQueue(1, []byte("hi"))
	assert.True(t, ready)
	assert.Equal(t, []byte("hi"), msg)
}

func TestManagerAckNoopOnUnknownLane(t *testing.T) {
	m := NewManager()
	m.Ack(99, 1) // must not panic or create the lane
	_, ok := m.Get(99)
	assert.False(t, ok)
}

func TestManagerNextSeqMonotonicPerLane(t *testing.T) {
	m := NewManager()
	assert.EqualValues(t, 1, m.NextSeq(1))
	assert.EqualValues(t, 2, m.NextSeq(1))
	assert.EqualValues(t, 1, m.NextSeq(2))
}

func TestManagerObserveInboundSeqInOrderAdvances(t *testing.T) {
	m := NewManager()
	assert.True(t, m.ObserveInboundSeq(1, 1))
	l, ok := m.Get(1)
	assert.True(t, ok)
	assert.EqualValues(t, 2, l.ExpectedSeqIn())
}

func TestManagerObserveInboundSeqDuplicateIsDropped(t *testing.T) {
	m := NewManager()
	m.ObserveInboundSeq(1, 1)
	m.ObserveInboundSeq(1, 2)
	assert.False(t, m.ObserveInboundSeq(1, 1))
}

func TestManagerObserveInboundSeqAheadDeliversWithoutAdvancing(t *testing.T) {
	m := NewManager()
	assert.True(t, m.ObserveInboundSeq(1, 5))
	l, _ := m.Get(1)
	assert.EqualValues(t, 1, l.ExpectedSeqIn())
}

func TestManagerAddCreditReleasesPending(t *testing.T) {
	m := NewManager()
	for i := 0; i < 16; i++ {
		m.SendOrQueue(1, []byte("x"))
	}
	_, ready := m.SendOrQueue(1, []byte("overflow"))
	assert.False(t, ready)

	released := m.AddCredit(1, 1)
	assert.Equal(t, [][]byte{[]byte("overflow")}, released)
}
