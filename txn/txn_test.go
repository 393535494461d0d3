package txn

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextIsMonotonicAndUnique(t *testing.T) {
	c := NewCounter()
	assert.Equal(t, "T-1", c.Next())
	assert.Equal(t, "T-2", c.Next())
}

func TestNextConcurrentUnique(t *testing.T) {
	c := NewCounter()
	const n = 200
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- c.Next()
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}
