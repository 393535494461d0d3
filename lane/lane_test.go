package lane

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextSeqMonotonic(t *testing.T) {
	l := New(5)
	seen := map[uint64]bool{}
	for i := 0; i < 10; i++ {
		seq := l.NextSeq()
		assert.False(t, seen[seq], "seq %d repeated", seq)
		seen[seq] = true
	}
	for i := uint64(1); i <= 10; i++ {
		assert.True(t, seen[i])
	}
}

func TestAckIgnoresDuplicateAndLate(t *testing.T) {
	l := New(1)
	l.Ack(5)
	assert.EqualValues(t, 5, l.HighestAck())
	l.Ack(5)
	assert.EqualValues(t, 5, l.HighestAck())
	l.Ack(2)
	assert.EqualValues(t, 5, l.HighestAck())
}

func TestCreditBlocksThenFlushes(t *testing.T) {
	l := New(5)
	for i := 0; i < 16; i++ {
		res := l.TrySend([]byte("frame"))
		assert.Equal(t, Ready, res)
	}
	assert.EqualValues(t, 0, l.Credits())

	res := l.TrySend([]byte("17th"))
	assert.Equal(t, Queued, res)
	assert.Equal(t, 1, l.PendingLen())

	l.AddCredit(3)
	released := l.FlushPending()
	assert.Len(t, released, 1)
	assert.Equal(t, []byte("17th"), released[0])
	assert.EqualValues(t, 2, l.Credits())
}

func TestCreditConservation(t *testing.T) {
	l := New(1)
	consumed := 0
	for i := 0; i < 20; i++ {
		if l.TrySend([]byte("x")) == Ready {
			consumed++
		}
	}
	queued := l.PendingLen()
	l.AddCredit(10)
	released := l.FlushPending()

	// credits + consumed-by-try-send + released-by-flush == initial + added
	assert.Equal(t, int(defaultCredits)+10, consumed+len(released)+int(l.Credits()))
	assert.Equal(t, queued-len(released), l.PendingLen())
}
