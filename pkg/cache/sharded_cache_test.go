package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShardedSetGet(t *testing.T) {
	c := NewSharded[float64]()
	c.Set("BTCUSDT", 50000)

	v, ok := c.Get("BTCUSDT")
	assert.True(t, ok)
	assert.Equal(t, 50000.0, v)

	_, ok = c.Get("ETHUSDT")
	assert.False(t, ok)

	c.Delete("BTCUSDT")
	assert.Equal(t, 0, c.Len())
}

func TestShardedUpdateIsAtomic(t *testing.T) {
	c := NewSharded[int]()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Update("k", func(cur int, _ bool) (int, bool) { return cur + 1, true })
		}()
	}
	wg.Wait()

	v, _ := c.Get("k")
	assert.Equal(t, 100, v)
}

func TestShardedUpdateSkip(t *testing.T) {
	c := NewSharded[string]()
	stored := c.Update("k", func(_ string, exists bool) (string, bool) { return "x", !exists })
	assert.True(t, stored)
	stored = c.Update("k", func(_ string, exists bool) (string, bool) { return "y", !exists })
	assert.False(t, stored)

	v, _ := c.Get("k")
	assert.Equal(t, "x", v)
}

func TestShardedCleanup(t *testing.T) {
	c := NewSharded[int]()
	c.Set("a", 1)
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, c.Cleanup(time.Millisecond))
	assert.Equal(t, 0, c.Stats().TotalItems)
}
