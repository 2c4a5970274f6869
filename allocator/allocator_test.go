// Copyright (C) 2021-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package allocator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/luxfi/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/luxfi/gateway/ipc"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestAllocator(t *testing.T) *Allocator {
	t.Helper()
	bus, err := ipc.NewBus(t.TempDir(), nil)
	require.NoError(t, err)
	a := New(context.Background(), bus, log.Root(), nil)
	t.Cleanup(a.Wait)
	return a
}

func readState(t *testing.T, a *Allocator, network string) []int {
	t.Helper()
	var state []int
	require.NoError(t, a.bus.Read(StateDoc(network), &state))
	return state
}

func TestInitializeAllOnes(t *testing.T) {
	a := newTestAllocator(t)
	require.NoError(t, a.Initialize("btc", 3))
	assert.Equal(t, []int{1, 1, 1}, readState(t, a, "btc"))
}

func TestLockSkipsOutboundSlot(t *testing.T) {
	a := newTestAllocator(t)
	require.NoError(t, a.Initialize("btc", 3))

	idx, ok := a.Lock("btc")
	require.True(t, ok)
	assert.Equal(t, 1, idx)
	assert.Equal(t, []int{1, 0, 1}, readState(t, a, "btc"))

	idx, ok = a.Lock("btc")
	require.True(t, ok)
	assert.Equal(t, 2, idx)

	// Pool exhausted; slot 0 must never be handed out.
	_, ok = a.Lock("btc")
	assert.False(t, ok)
	assert.Equal(t, []int{1, 0, 0}, readState(t, a, "btc"))
}

func TestUnlockAfterDelay(t *testing.T) {
	a := newTestAllocator(t)
	require.NoError(t, a.Initialize("ltc", 2))

	idx, ok := a.Lock("ltc")
	require.True(t, ok)
	require.Equal(t, 1, idx)

	a.Unlock("ltc", idx, 50*time.Millisecond)

	// Still locked during the cool-down.
	assert.Equal(t, []int{1, 0}, readState(t, a, "ltc"))

	require.Eventually(t, func() bool {
		return readState(t, a, "ltc")[idx] == 1
	}, time.Second, 10*time.Millisecond)
}

func TestConcurrentLocksAreExclusive(t *testing.T) {
	a := newTestAllocator(t)
	const pool = 9
	require.NoError(t, a.Initialize("btc", pool))

	var mu sync.Mutex
	seen := map[int]int{}
	var wg sync.WaitGroup
	for i := 0; i < pool+4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if idx, ok := a.Lock("btc"); ok {
				mu.Lock()
				seen[idx]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// Exactly the deposit slots were handed out, each once.
	assert.Len(t, seen, pool-1)
	for idx, count := range seen {
		assert.Equal(t, 1, count, "slot %d double-allocated", idx)
		assert.Greater(t, idx, 0)
	}
}

func TestReinitializeClearsLocks(t *testing.T) {
	a := newTestAllocator(t)
	require.NoError(t, a.Initialize("btc", 3))
	_, ok := a.Lock("btc")
	require.True(t, ok)

	// Startup re-initialization abandons stale locks.
	require.NoError(t, a.Initialize("btc", 3))
	assert.Equal(t, []int{1, 1, 1}, readState(t, a, "btc"))
}
