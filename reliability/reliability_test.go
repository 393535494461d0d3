package reliability

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOutbound struct {
	mu  sync.Mutex
	out [][]byte
}

func (f *fakeOutbound) Send(data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, data)
}

func (f *fakeOutbound) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.out)
}

func TestRetransmitsUntilMaxRetriesThenStops(t *testing.T) {
	out := &fakeOutbound{}
	m := New(out, 30*time.Millisecond, 3, nil)
	m.TrackFrame(1, 7, []byte("payload"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	require.Eventually(t, func() bool { return out.count() >= 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	cancel()

	// attempts starts at 1 for the initial send, which the manager itself
	// never emits; max_retries=3 permits 2 further resends before
	// attempts==maxRetries.
	assert.LessOrEqual(t, out.count(), 2)
}

func TestConfirmAckSuppressesRetries(t *testing.T) {
	out := &fakeOutbound{}
	m := New(out, 20*time.Millisecond, 5, nil)
	m.TrackFrame(1, 7, []byte("payload"))
	m.ConfirmAck(1, 7)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)
	time.Sleep(100 * time.Millisecond)
	cancel()

	assert.Equal(t, 0, out.count())
	assert.Equal(t, 0, m.PendingCount())
}

func TestScanResendsEveryExpiredFrame(t *testing.T) {
	out := &fakeOutbound{}
	m := New(out, 10*time.Millisecond, 5, nil)
	for i := uint64(0); i < 50; i++ {
		m.TrackFrame(1, i, []byte("x"))
	}
	time.Sleep(50 * time.Millisecond)
	m.scanAndResend()
	assert.Equal(t, 50, out.count())
}
