// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package correlate

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveUnknownWorker(t *testing.T) {
	c := New()
	_, ok := c.Resolve("worker-1")
	assert.False(t, ok)
}

func TestRegisterThenResolve(t *testing.T) {
	c := New()
	c.Register("worker-1", "user-a")

	got, ok := c.Resolve("worker-1")
	require.True(t, ok)
	assert.Equal(t, "user-a", got)

	_, ok = c.Resolve("worker-1")
	assert.False(t, ok, "a registration is delivered once")
}

func TestConcurrentRequestsToSameWorkerKeepTheirOriginators(t *testing.T) {
	c := New()
	c.Register("reasoner", "user-a")
	c.Register("reasoner", "user-b")
	assert.Equal(t, 2, c.Pending("reasoner"))

	first, ok := c.Resolve("reasoner")
	require.True(t, ok)
	second, ok := c.Resolve("reasoner")
	require.True(t, ok)

	assert.Equal(t, "user-a", first)
	assert.Equal(t, "user-b", second)
	assert.Equal(t, 0, c.Pending("reasoner"))
}

func TestResolveSessionPrefersSessionBinding(t *testing.T) {
	c := New()
	c.Register("reasoner", "user-a")
	c.RegisterSession("s-a", "user-a")
	c.Register("reasoner", "user-b")
	c.RegisterSession("s-b", "user-b")

	// Replies arrive out of order.
	got, ok := c.ResolveSession("reasoner", "s-b")
	require.True(t, ok)
	assert.Equal(t, "user-b", got)

	got, ok = c.ResolveSession("reasoner", "s-a")
	require.True(t, ok)
	assert.Equal(t, "user-a", got)

	assert.Equal(t, 0, c.Pending("reasoner"))
	assert.Equal(t, 0, c.Sessions())
}

func TestResolveSessionFallsBackToFIFO(t *testing.T) {
	c := New()
	c.Register("reasoner", "user-a")

	got, ok := c.ResolveSession("reasoner", "unknown-session")
	require.True(t, ok)
	assert.Equal(t, "user-a", got)
}

func TestClearWipesEverything(t *testing.T) {
	c := New()
	c.Register("w", "a")
	c.RegisterSession("s", "a")
	c.Clear()

	_, ok := c.Resolve("w")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Sessions())
}

func TestEndSessionDropsBinding(t *testing.T) {
	c := New()
	c.RegisterSession("s", "a")
	c.EndSession("s")
	assert.Equal(t, 0, c.Sessions())
}

func TestConcurrentRegisterResolve(t *testing.T) {
	c := New()
	const n = 100

	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Register("worker", fmt.Sprintf("user-%d", i))
		}(i)
	}
	wg.Wait()
	require.Equal(t, n, c.Pending("worker"))

	seen := make(map[string]bool)
	var mu sync.Mutex
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, ok := c.Resolve("worker")
			if !ok {
				return
			}
			mu.Lock()
			seen[got] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, n, "every originator is resolved exactly once")
}
