// Copyright (C) 2021-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package ingot periodically consolidates foreign-chain deposits: funds
// accumulated on rotating deposit addresses are swept to each network's
// outbound account (index 0) so withdrawals always spend from one place.
package ingot

import (
	"context"
	"fmt"
	"time"

	"github.com/luxfi/log"

	"github.com/luxfi/gateway/audit"
	"github.com/luxfi/gateway/chains"
	"github.com/luxfi/gateway/config"
	"github.com/luxfi/gateway/watchdog"
)

// xrpReserve is the base reserve an XRP account must retain.
const xrpReserve = 20.1

// UnspentCounter is an optional backend capability: UTXO networks
// consolidate only once dust outputs pile up past the configured bound.
type UnspentCounter interface {
	UnspentCount(ctx context.Context) (int, error)
}

// Caster runs the consolidation loop.
type Caster struct {
	Cfg      *config.Config
	Chains   *chains.Service
	Backends map[string]chains.Backend
	Recorder audit.Recorder
	Watchdog *watchdog.Watchdog
	Log      log.Logger

	SessionUnix int64
	SessionDate string
}

func (c *Caster) event(network string) *audit.IngotEvent {
	return &audit.IngotEvent{Header: audit.Header{
		Process:     "ingots",
		Network:     network,
		SessionUnix: c.SessionUnix,
		SessionDate: c.SessionDate,
	}}
}

// Run sweeps every enabled network once per interval until cancelled.
func (c *Caster) Run(ctx context.Context) error {
	for {
		if err := c.sleep(ctx); err != nil {
			return err
		}
		for _, network := range c.Cfg.Offerings {
			switch network {
			case "eos", "xyz":
				// Single-account networks; nothing to consolidate.
			default:
				c.sweep(ctx, network)
			}
		}
	}
}

func (c *Caster) sleep(ctx context.Context) error {
	if c.Watchdog != nil {
		return c.Watchdog.Sleep(ctx, "ingots", c.Cfg.IngotInterval)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.Cfg.IngotInterval):
		return nil
	}
}

// sweep moves every deposit-address balance above the dust threshold to the
// outbound account.
func (c *Caster) sweep(ctx context.Context, network string) {
	accounts := c.Cfg.ForeignAccounts[network]
	if len(accounts) < 2 {
		return
	}
	if !c.unspentThresholdReached(ctx, network) {
		return
	}
	nilAmount := c.Cfg.Nil[network]
	outbound := accounts[0].Public
	for idx, account := range accounts {
		if idx == 0 {
			continue
		}
		balance, err := c.Chains.Balance(ctx, network, account.Public)
		if err != nil {
			c.Log.Debug("balance check failed", "network", network, "address", account.Public, "err", err)
			continue
		}
		if balance <= nilAmount {
			continue
		}
		quantity := balance
		if network == "xrp" {
			quantity -= xrpReserve
		}
		if quantity <= nilAmount {
			continue
		}
		order := chains.Order{
			Public:   account.Public,
			Private:  account.Private,
			To:       outbound,
			Quantity: quantity,
		}
		txID, err := c.Chains.Transfer(ctx, network, order)
		if err != nil {
			c.Log.Error("ingot transfer failed", "network", network, "address", account.Public, "err", err)
			continue
		}
		ev := c.event(network)
		ev.TxID = txID
		ev.OrderPublic = order.Public
		ev.OrderTo = order.To
		ev.OrderQuantity = order.Quantity
		c.Recorder.Chronicle(ev, fmt.Sprintf("consolidating an ingot on %s", network))
		c.Log.Info("ingot cast", "network", network, "from", order.Public, "quantity", quantity, "tx", txID)
	}
}

// unspentThresholdReached gates UTXO sweeps on output count when the
// backend can report it; account-based networks always sweep.
func (c *Caster) unspentThresholdReached(ctx context.Context, network string) bool {
	maxUnspent, bounded := c.Cfg.MaxUnspent[network]
	if !bounded {
		return true
	}
	counter, ok := c.Backends[network].(UnspentCounter)
	if !ok {
		return true
	}
	count, err := counter.UnspentCount(ctx)
	if err != nil {
		c.Log.Debug("unspent count failed", "network", network, "err", err)
		return false
	}
	return count > maxUnspent
}
