// Copyright (C) 2021-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package parachain maintains, per enabled foreign network, a windowed cache
// of recent confirmed blocks normalized to a uniform transfer record. Every
// matcher reads from this cache instead of fanning out its own RPC calls.
package parachain

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/luxfi/log"

	"github.com/luxfi/gateway/audit"
	"github.com/luxfi/gateway/ipc"
	"github.com/luxfi/gateway/metrics"
	gwrpc "github.com/luxfi/gateway/utils/rpc"
	"github.com/luxfi/gateway/watchdog"
)

// Transfer is the normalized unit flowing from the parachain to matchers.
// UTXO chains leave From and Memo empty.
type Transfer struct {
	To     string  `json:"to"`
	From   string  `json:"from"`
	Memo   string  `json:"memo"`
	Hash   string  `json:"hash"`
	Asset  string  `json:"asset"`
	Amount float64 `json:"amount"`
}

// Cache maps block numbers (as decimal strings, matching the on-disk form)
// to the ordered transfers observed in that block.
type Cache map[string][]Transfer

// BlockNums returns the cached block numbers in increasing order.
func (c Cache) BlockNums() []int64 {
	nums := make([]int64, 0, len(c))
	for k := range c {
		n, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			continue
		}
		nums = append(nums, n)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	return nums
}

// MaxBlock returns the highest cached block number.
func (c Cache) MaxBlock() (int64, bool) {
	nums := c.BlockNums()
	if len(nums) == 0 {
		return 0, false
	}
	return nums[len(nums)-1], true
}

// Windowed returns a copy retaining only the highest n block numbers.
func (c Cache) Windowed(n int) Cache {
	nums := c.BlockNums()
	if len(nums) > n {
		nums = nums[len(nums)-n:]
	}
	out := make(Cache, len(nums))
	for _, num := range nums {
		key := strconv.FormatInt(num, 10)
		out[key] = c[key]
	}
	return out
}

// CacheDoc names the cache file for a network on the IPC bus.
func CacheDoc(network string) string {
	return fmt.Sprintf("parachain_%s.cache", network)
}

// Chain is one foreign network's block source: a confirmed-head fetcher, a
// normalizer turning raw blocks into transfers, and an address verifier.
type Chain interface {
	// Head returns the current confirmed block number under the network's
	// confirmation policy (irreversible, validated, or best block).
	Head(ctx context.Context) (int64, error)

	// Apodize fetches and normalizes the given blocks. Transport errors are
	// retried inside; blocks whose data is deterministically unparseable are
	// returned in missing and hold no cache entry.
	Apodize(ctx context.Context, blockNums []int64) (fragment Cache, missing []int64, err error)

	// VerifyAccount reports whether account is a valid address on the chain.
	VerifyAccount(ctx context.Context, account string) (bool, error)
}

// Worker runs one network's poll loop: fetch new confirmed blocks, normalize
// them, merge into the windowed cache, and write it atomically for readers.
type Worker struct {
	Network  string
	Chain    Chain
	Bus      *ipc.Bus
	Recorder audit.Recorder
	Watchdog *watchdog.Watchdog
	Metrics  *metrics.Metrics
	Log      log.Logger

	// Pause is the cadence between cache updates; Window bounds retention.
	Pause  time.Duration
	Window int
}

func (w *Worker) event() *audit.SessionEvent {
	return &audit.SessionEvent{Header: audit.Header{Process: "parachains", Network: w.Network}}
}

// Run scrubs the cache, seeds it with the block just below the current head,
// then polls until the context is cancelled. The head block itself is not
// part of the seed; it is fetched once a later poll sees a higher head. The
// worker is the single writer of its cache file.
func (w *Worker) Run(ctx context.Context) error {
	doc := CacheDoc(w.Network)
	if err := w.Bus.Write(doc, Cache{}); err != nil {
		return err
	}

	var head int64
	err := gwrpc.RetryForever(ctx, w.Log, w.Network+" head", func() error {
		var err error
		head, err = w.Chain.Head(ctx)
		return err
	})
	if err != nil {
		return err
	}

	cache, missing, err := w.Chain.Apodize(ctx, []int64{head - 1})
	if err != nil {
		return err
	}
	w.chronicleMissing(missing)
	if err := w.Bus.Write(doc, cache); err != nil {
		return err
	}
	w.Recorder.Chronicle(w.event(), "initializing parachain")
	w.Log.Info("parachain initialized", "network", w.Network, "block", head-1)

	// maxProcessed tracks the highest block already fetched, including any
	// chronicled as missing; a hole must not stall the loop.
	maxProcessed := head - 1
	for {
		if err := w.sleep(ctx); err != nil {
			return err
		}
		current, err := w.Chain.Head(ctx)
		if err != nil {
			// Transient by definition; the next tick retries.
			w.Log.Debug("head fetch failed", "network", w.Network, "err", err)
			continue
		}
		if current <= maxProcessed+1 {
			continue
		}
		newBlocks := blockRange(maxProcessed+1, current)
		fragment, missing, err := w.Chain.Apodize(ctx, newBlocks)
		if err != nil {
			return err
		}
		w.chronicleMissing(missing)
		maxProcessed = current - 1
		for k, v := range fragment {
			cache[k] = v
		}
		cache = cache.Windowed(w.Window)
		if err := w.Bus.Write(doc, cache); err != nil {
			return err
		}
		if w.Metrics != nil {
			if top, ok := cache.MaxBlock(); ok {
				w.Metrics.ParachainHead.WithLabelValues(w.Network).Set(float64(top))
			}
			w.Metrics.ParachainWindow.WithLabelValues(w.Network).Set(float64(len(cache)))
		}
		w.Log.Debug("parachain advanced", "network", w.Network, "blocks", len(newBlocks), "head", current-1)
	}
}

// sleep waits one poll interval, heartbeating the watchdog along the way.
func (w *Worker) sleep(ctx context.Context) error {
	if w.Watchdog != nil {
		return w.Watchdog.Sleep(ctx, "parachains", w.Pause)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(w.Pause):
		return nil
	}
}

func (w *Worker) chronicleMissing(missing []int64) {
	for _, num := range missing {
		w.Recorder.Chronicle(w.event(), fmt.Sprintf("missing block data for %d", num))
	}
}

// blockRange returns [from, to). The current head itself is excluded and
// picked up on a later tick once it is definitively settled.
func blockRange(from, to int64) []int64 {
	if to <= from {
		return nil
	}
	nums := make([]int64, 0, to-from)
	for n := from; n < to; n++ {
		nums = append(nums, n)
	}
	return nums
}
