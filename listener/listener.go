// Copyright (C) 2021-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package listener implements the per-event matcher: given an expected
// inbound transfer on a foreign network, it watches that network's parachain
// cache until the transfer appears and is acted upon, or a timeout elapses.
// Matchers never speak to foreign RPCs; the cache is their only input.
package listener

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/luxfi/log"

	"github.com/luxfi/gateway/audit"
	"github.com/luxfi/gateway/config"
	"github.com/luxfi/gateway/ipc"
	"github.com/luxfi/gateway/metrics"
	"github.com/luxfi/gateway/parachain"
	"github.com/luxfi/gateway/utils"
)

// Action selects what happens when the expected transfer is observed.
type Action string

const (
	// ActionIssue mints UIA to the depositing client.
	ActionIssue Action = "issue"
	// ActionReserve burns UIA returned for a withdrawal.
	ActionReserve Action = "reserve"
)

// Outcome is a matcher's terminal state.
type Outcome string

const (
	OutcomeComplete Outcome = "complete"
	OutcomeTimedOut Outcome = "timeout"
	OutcomeAborted  Outcome = "aborted"
)

// Issuer is the host-ledger surface the matcher drives on a match.
type Issuer interface {
	Issue(ctx context.Context, network string, amount float64, clientID string) error
	Reserve(ctx context.Context, network string, amount float64) error
}

// Unlocker releases a deposit address back to the pool after a cool-down.
type Unlocker interface {
	Unlock(network string, idx int, delay time.Duration)
}

// Clock is the time source matchers take timeout decisions on.
type Clock interface {
	Time() time.Time
}

type wallClock struct{}

func (wallClock) Time() time.Time { return time.Now() }

// Matcher watches one expected transfer. Zero-value fields marked optional
// may be left unset.
type Matcher struct {
	Network     string
	ListeningTo string
	// Memo is the required memo for deposits on memo-based networks; ignored
	// elsewhere.
	Memo string
	// ClientID receives the issued UIA on deposit events.
	ClientID string
	// ExpectedAmount is the withdrawal amount a reserve matcher waits for.
	ExpectedAmount float64
	Action         Action

	AccountIdx int
	NilAmount  float64
	Pause      time.Duration
	Timeout    time.Duration
	// UnlockPause is the address cool-down applied on release.
	UnlockPause time.Duration

	Bus      *ipc.Bus
	Recorder audit.Recorder
	Issuer   Issuer
	// Unlocker is nil on memo-based networks, which hold no lock.
	Unlocker Unlocker
	Metrics  *metrics.Metrics // optional
	Clock    Clock            // optional, defaults to wall time
	Log      log.Logger

	// Event is the audit envelope this matcher reports through.
	Event audit.Event

	armedOnce sync.Once
	armed     chan struct{}
}

func (m *Matcher) armedChan() chan struct{} {
	m.armedOnce.Do(func() { m.armed = make(chan struct{}) })
	return m.armed
}

// Armed returns a channel closed once the matcher has read its start block
// and is watching the cache. Withdrawal handlers wait on it before
// broadcasting the foreign transfer.
func (m *Matcher) Armed() <-chan struct{} {
	return m.armedChan()
}

func (m *Matcher) clock() Clock {
	if m.Clock != nil {
		return m.Clock
	}
	return wallClock{}
}

// Run drives the matcher to a terminal state. Both terminal states release
// the address lock, if one is held.
func (m *Matcher) Run(ctx context.Context) Outcome {
	start := m.clock().Time()
	deadline := start.Add(m.Timeout)

	cache := parachain.Cache{}
	if err := m.Bus.Read(parachain.CacheDoc(m.Network), &cache); err != nil {
		m.Log.Error("matcher cannot read parachain", "network", m.Network, "err", err)
		m.release()
		return OutcomeAborted
	}
	maxChecked, _ := cache.MaxBlock()
	m.Log.Info("matcher armed",
		"network", m.Network,
		"action", string(m.Action),
		"listening_to", m.ListeningTo,
		"start_block", maxChecked,
	)
	close(m.armedChan())

	for {
		select {
		case <-ctx.Done():
			m.release()
			return OutcomeAborted
		case <-time.After(m.Pause):
		}

		if m.clock().Time().After(deadline) {
			m.Recorder.Chronicle(m.Event, "listener timeout")
			m.Log.Warn("listener timeout", "network", m.Network, "listening_to", m.ListeningTo)
			m.countOutcome(OutcomeTimedOut)
			m.release()
			return OutcomeTimedOut
		}

		cache := parachain.Cache{}
		if err := m.Bus.Read(parachain.CacheDoc(m.Network), &cache); err != nil {
			continue
		}
		currentMax, ok := cache.MaxBlock()
		if !ok || currentMax <= maxChecked+1 {
			continue
		}
		// Examine every settled block past our checkpoint. The cache's
		// newest block is left for the next pass, mirroring the parachain's
		// own exclusion of the live head.
		for blockNum := maxChecked + 1; blockNum < currentMax; blockNum++ {
			transfers, ok := cache[fmt.Sprintf("%d", blockNum)]
			if !ok {
				m.Recorder.Chronicle(m.Event, fmt.Sprintf("missing block data for %d", blockNum))
				continue
			}
			for _, transfer := range transfers {
				if m.examine(ctx, transfer) {
					m.countOutcome(OutcomeComplete)
					m.release()
					return OutcomeComplete
				}
			}
		}
		maxChecked = currentMax - 1
	}
}

// examine applies the match predicate to one transfer and acts on a match.
// It returns true once the terminal action has been taken.
func (m *Matcher) examine(ctx context.Context, t parachain.Transfer) bool {
	if t.To != m.ListeningTo {
		return false
	}

	if m.Action == ActionIssue && config.IsMemoNetwork(m.Network) && t.Memo != m.Memo {
		m.Recorder.Chronicle(m.Event, "received tx with invalid memo")
		return false
	}

	// Dust protection: chronicled, never acted on.
	if t.Amount > 0 && t.Amount <= m.NilAmount {
		m.Recorder.Chronicle(m.Event, "received nil amount")
		m.Log.Warn("received nil amount", "network", m.Network, "amount", t.Amount, "hash", t.Hash)
		return false
	}
	if t.Amount <= m.NilAmount {
		return false
	}

	switch m.Action {
	case ActionIssue:
		if err := m.Issuer.Issue(ctx, m.Network, t.Amount, m.ClientID); err != nil {
			m.Log.Error("issue failed", "network", m.Network, "client", m.ClientID, "err", err)
			m.Recorder.Chronicle(m.Event, fmt.Sprintf("issue failed: %v", err))
			return false
		}
		m.noteAmount(t)
		m.Recorder.Chronicle(m.Event, fmt.Sprintf("ISSUING %s", utils.Precisely(t.Amount, 8)))
		m.Log.Info("issuing", "network", m.Network, "amount", t.Amount, "client", m.ClientID, "hash", t.Hash)
		return true

	case ActionReserve:
		if !utils.Roughly(t.Amount, m.ExpectedAmount) {
			return false
		}
		if err := m.Issuer.Reserve(ctx, m.Network, t.Amount); err != nil {
			m.Log.Error("reserve failed", "network", m.Network, "err", err)
			m.Recorder.Chronicle(m.Event, fmt.Sprintf("reserve failed: %v", err))
			return false
		}
		m.noteAmount(t)
		m.Recorder.Chronicle(m.Event, fmt.Sprintf("RESERVING %s", utils.Precisely(t.Amount, 8)))
		m.Log.Info("reserving", "network", m.Network, "amount", t.Amount, "hash", t.Hash)
		return true
	}
	return false
}

// noteAmount copies the matched transfer into the matcher's own audit
// record: the amount, and the hash observed on the parachain. Spawners keep
// their own record (with the broadcast tx id, for withdrawals) and must not
// share an envelope with a running matcher.
func (m *Matcher) noteAmount(t parachain.Transfer) {
	switch ev := m.Event.(type) {
	case *audit.DepositEvent:
		ev.Amount = t.Amount
	case *audit.WithdrawalEvent:
		ev.WithdrawalAmount = t.Amount
		ev.TxID = t.Hash
	}
}

// release returns the deposit address to the pool after the cool-down.
// Memo-based networks hold no lock and have a nil Unlocker.
func (m *Matcher) release() {
	if m.Unlocker == nil || m.Action != ActionIssue {
		return
	}
	m.Unlocker.Unlock(m.Network, m.AccountIdx, m.UnlockPause)
}

func (m *Matcher) countOutcome(outcome Outcome) {
	if m.Metrics != nil {
		m.Metrics.ListenerOutcomes.WithLabelValues(m.Network, string(outcome)).Inc()
	}
}
