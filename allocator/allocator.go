// Copyright (C) 2021-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package allocator serializes concurrent deposit requests onto each
// network's finite rotating pool of foreign addresses. The pool state is a
// binary vector on the IPC bus: slot i is 1 iff address i is available.
// Slot 0 is the outbound / consolidation address and is never allocated.
package allocator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/luxfi/log"

	"github.com/luxfi/gateway/ipc"
	"github.com/luxfi/gateway/metrics"
)

// StateDoc names a network's address-state document.
func StateDoc(network string) string {
	return fmt.Sprintf("%s_gateway_state", network)
}

// Allocator is safe for use from many concurrent request handlers. Atomicity
// rests on the IPC substrate's retry discipline; the delayed-unlock rule and
// lowest-free-index policy keep rare lost updates observable downstream.
type Allocator struct {
	bus     *ipc.Bus
	log     log.Logger
	metrics *metrics.Metrics

	mu sync.Mutex // serializes in-process read-modify-write cycles

	ctx context.Context
	wg  sync.WaitGroup
}

// New returns an allocator whose deferred unlocks are bound to ctx.
func New(ctx context.Context, bus *ipc.Bus, logger log.Logger, m *metrics.Metrics) *Allocator {
	return &Allocator{bus: bus, log: logger, metrics: m, ctx: ctx}
}

// Initialize writes an all-available state vector sized to the network's
// address pool. Address state persists across runs but is reset at startup:
// pending listeners do not survive a restart, so neither do their locks.
func (a *Allocator) Initialize(network string, poolSize int) error {
	state := make([]int, poolSize)
	for i := range state {
		state[i] = 1
	}
	if a.metrics != nil {
		a.metrics.AddressesLocked.WithLabelValues(network).Set(0)
	}
	return a.bus.Write(StateDoc(network), state)
}

// Lock claims the lowest available deposit slot, flipping it to in-use.
// The second return is false when every deposit address is taken.
func (a *Allocator) Lock(network string) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var state []int
	if err := a.bus.Read(StateDoc(network), &state); err != nil {
		a.log.Error("address state unreadable", "network", network, "err", err)
		return 0, false
	}
	for idx := 1; idx < len(state); idx++ {
		if state[idx] == 1 {
			state[idx] = 0
			if err := a.bus.Write(StateDoc(network), state); err != nil {
				a.log.Error("address state write failed", "network", network, "err", err)
				return 0, false
			}
			if a.metrics != nil {
				a.metrics.AddressesLocked.WithLabelValues(network).Inc()
			}
			return idx, true
		}
	}
	return 0, false
}

// Unlock schedules slot idx to become available again after delay. The
// cool-down keeps a late-arriving transfer from the previous event from
// being attributed to a freshly armed matcher on the same address.
func (a *Allocator) Unlock(network string, idx int, delay time.Duration) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-a.ctx.Done():
			// Shutting down: release immediately so the persisted state is
			// clean for inspection.
		}
		a.release(network, idx)
	}()
}

func (a *Allocator) release(network string, idx int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var state []int
	if err := a.bus.Read(StateDoc(network), &state); err != nil {
		a.log.Error("address state unreadable on unlock", "network", network, "idx", idx, "err", err)
		return
	}
	if idx < 0 || idx >= len(state) {
		a.log.Error("unlock index out of range", "network", network, "idx", idx)
		return
	}
	state[idx] = 1
	if err := a.bus.Write(StateDoc(network), state); err != nil {
		a.log.Error("address state write failed on unlock", "network", network, "err", err)
		return
	}
	if a.metrics != nil {
		a.metrics.AddressesLocked.WithLabelValues(network).Dec()
	}
}

// Wait blocks until every scheduled unlock has run.
func (a *Allocator) Wait() {
	a.wg.Wait()
}
