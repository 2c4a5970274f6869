// Copyright (C) 2021-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package parachain

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/luxfi/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/luxfi/gateway/audit"
	"github.com/luxfi/gateway/ipc"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestCacheBlockNumsSortedNumerically(t *testing.T) {
	cache := Cache{"9": nil, "10": nil, "100": nil, "2": nil}
	assert.Equal(t, []int64{2, 9, 10, 100}, cache.BlockNums())
}

func TestCacheMaxBlock(t *testing.T) {
	_, ok := Cache{}.MaxBlock()
	assert.False(t, ok)

	num, ok := Cache{"5": nil, "12": nil}.MaxBlock()
	require.True(t, ok)
	assert.Equal(t, int64(12), num)
}

func TestCacheWindowedKeepsNewest(t *testing.T) {
	cache := Cache{}
	for _, k := range []string{"1", "2", "3", "4", "5"} {
		cache[k] = []Transfer{{Hash: k}}
	}
	windowed := cache.Windowed(3)
	assert.Len(t, windowed, 3)
	assert.Contains(t, windowed, "3")
	assert.Contains(t, windowed, "4")
	assert.Contains(t, windowed, "5")
	// Retained blocks are untouched.
	assert.Equal(t, cache["5"], windowed["5"])
}

// fakeChain serves scripted blocks and heads.
type fakeChain struct {
	mu     sync.Mutex
	head   int64
	blocks map[int64][]Transfer
	broken map[int64]bool
}

func (f *fakeChain) setHead(h int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.head = h
}

func (f *fakeChain) Head(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *fakeChain) Apodize(_ context.Context, nums []int64) (Cache, []int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fragment := Cache{}
	var missing []int64
	for _, n := range nums {
		if f.broken[n] {
			missing = append(missing, n)
			continue
		}
		fragment[strconv.FormatInt(n, 10)] = f.blocks[n]
	}
	return fragment, missing, nil
}

func (f *fakeChain) VerifyAccount(context.Context, string) (bool, error) { return true, nil }

type fakeRecorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *fakeRecorder) Chronicle(_ audit.Event, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *fakeRecorder) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func readCache(t *testing.T, bus *ipc.Bus, network string) Cache {
	t.Helper()
	cache := Cache{}
	require.NoError(t, bus.Read(CacheDoc(network), &cache))
	return cache
}

func TestWorkerGrowsMonotonicallyAndWindows(t *testing.T) {
	bus, err := ipc.NewBus(t.TempDir(), nil)
	require.NoError(t, err)

	chain := &fakeChain{
		head: 11,
		blocks: map[int64][]Transfer{
			10: {{To: "A1", Amount: 0.5, Hash: "aa"}},
		},
	}
	recorder := &fakeRecorder{}
	worker := &Worker{
		Network:  "tst",
		Chain:    chain,
		Bus:      bus,
		Recorder: recorder,
		Log:      log.Root(),
		Pause:    5 * time.Millisecond,
		Window:   3,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = worker.Run(ctx)
	}()

	// Seeded with head-1.
	require.Eventually(t, func() bool {
		num, ok := readCache(t, bus, "tst").MaxBlock()
		return ok && num == 10
	}, time.Second, 5*time.Millisecond)
	first := readCache(t, bus, "tst")

	// Advance the chain; blocks 11..14 become fetchable, head 15 excluded.
	chain.mu.Lock()
	for n := int64(11); n <= 14; n++ {
		chain.blocks[n] = []Transfer{{Hash: strconv.FormatInt(n, 10)}}
	}
	chain.mu.Unlock()
	chain.setHead(15)

	require.Eventually(t, func() bool {
		num, ok := readCache(t, bus, "tst").MaxBlock()
		return ok && num == 14
	}, time.Second, 5*time.Millisecond)
	second := readCache(t, bus, "tst")

	// Monotone growth, immutable overlap, window bound.
	firstMax, _ := first.MaxBlock()
	secondMax, _ := second.MaxBlock()
	assert.GreaterOrEqual(t, secondMax, firstMax)
	for k, v := range first {
		if kept, ok := second[k]; ok {
			assert.Equal(t, v, kept)
		}
	}
	assert.LessOrEqual(t, len(second), 3)
	assert.NotContains(t, second, "11", "windowed out")

	cancel()
	<-done
}

func TestWorkerChroniclesMissingBlocksAndAdvances(t *testing.T) {
	bus, err := ipc.NewBus(t.TempDir(), nil)
	require.NoError(t, err)

	chain := &fakeChain{
		head:   6,
		blocks: map[int64][]Transfer{5: {}},
		broken: map[int64]bool{6: true},
	}
	recorder := &fakeRecorder{}
	worker := &Worker{
		Network:  "tst",
		Chain:    chain,
		Bus:      bus,
		Recorder: recorder,
		Log:      log.Root(),
		Pause:    5 * time.Millisecond,
		Window:   10,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = worker.Run(ctx)
	}()

	// Let the worker seed from head 6 before the chain advances.
	require.Eventually(t, func() bool {
		num, ok := readCache(t, bus, "tst").MaxBlock()
		return ok && num == 5
	}, time.Second, 5*time.Millisecond)

	chain.setHead(8)
	require.Eventually(t, func() bool {
		for _, msg := range recorder.messages() {
			if msg == "missing block data for 6" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	// The hole did not stall the loop: block 7 landed.
	require.Eventually(t, func() bool {
		cache := readCache(t, bus, "tst")
		_, ok := cache["7"]
		return ok
	}, time.Second, 5*time.Millisecond)
	cache := readCache(t, bus, "tst")
	assert.NotContains(t, cache, "6")

	cancel()
	<-done
}
