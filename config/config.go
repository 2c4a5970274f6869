// Copyright (C) 2021-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config carries every operator-tunable parameter of the gateway:
// the set of enabled foreign networks, issuer key material per managed UIA,
// the rotating foreign address pools, polling and timeout cadences, dust
// thresholds, and the deposit server binding.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Memo-based networks multiplex a single deposit address by memo nonce; the
// address allocator is bypassed for them with index 0.
var memoNetworks = map[string]bool{
	"eos": true,
	"xrp": true,
	"xyz": true,
}

// KeyPair is one foreign-chain account: an address and the key that spends
// from it. Index 0 of each pool is the outbound / consolidation account and
// is never handed out for deposits.
type KeyPair struct {
	Public  string `mapstructure:"public"`
	Private string `mapstructure:"private"`
}

// Asset describes one managed UIA on the host ledger.
type Asset struct {
	ID            string `mapstructure:"asset_id"`
	DynamicID     string `mapstructure:"dynamic_id"`
	Name          string `mapstructure:"asset_name"`
	Precision     int    `mapstructure:"asset_precision"`
	IssuerID      string `mapstructure:"issuer_id"`
	IssuerPublic  string `mapstructure:"issuer_public"`
	IssuerPrivate string `mapstructure:"issuer_private"`
}

// Timing holds the per-network cadences, in wall-clock terms.
type Timing struct {
	// Pause keeps a deposit address out of rotation after release, covering
	// the chain's reorg horizon plus a block time.
	Pause time.Duration `mapstructure:"pause"`
	// Timeout bounds how long a matcher listens before giving up.
	Timeout time.Duration `mapstructure:"timeout"`
	// Estimate is the confirmation time quoted to depositors.
	Estimate time.Duration `mapstructure:"estimate"`
	// Request bounds a single RPC round trip.
	Request time.Duration `mapstructure:"request"`
}

// ParachainParams sizes one parachain worker.
type ParachainParams struct {
	// Pause is the cadence between cache updates.
	Pause time.Duration `mapstructure:"pause"`
	// Window is how many recent blocks the cache retains. It must satisfy
	// window × block time > the longest matcher timeout for the network.
	Window int `mapstructure:"window"`
}

// Processes selects which top-level workers run.
type Processes struct {
	Ingots      bool `mapstructure:"ingots"`
	Deposits    bool `mapstructure:"deposits"`
	Withdrawals bool `mapstructure:"withdrawals"`
}

// ServerConfig binds the deposit HTTP endpoint.
type ServerConfig struct {
	Host  string `mapstructure:"host"`
	Port  int    `mapstructure:"port"`
	Route string `mapstructure:"route"`
}

// WatchdogTiming governs heartbeat staleness detection.
type WatchdogTiming struct {
	Stale  time.Duration `mapstructure:"stale"`
	Repeat time.Duration `mapstructure:"repeat"`
}

// IssuingChain identifies the host ledger.
type IssuingChain struct {
	Prefix  string `mapstructure:"prefix"`
	ChainID string `mapstructure:"id"`
}

// Config is the full gateway configuration.
type Config struct {
	DataDir  string `mapstructure:"data_dir"`
	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`
	LogFile  string `mapstructure:"log_file"`
	Contact  string `mapstructure:"contact"`

	Offerings []string  `mapstructure:"offerings"`
	Processes Processes `mapstructure:"processes"`

	Server ServerConfig `mapstructure:"server"`

	Assets          map[string]Asset           `mapstructure:"assets"`
	ForeignAccounts map[string][]KeyPair       `mapstructure:"foreign_accounts"`
	Timing          map[string]Timing          `mapstructure:"timing"`
	Nil             map[string]float64         `mapstructure:"nil"`
	Parachain       map[string]ParachainParams `mapstructure:"parachain"`
	MaxUnspent      map[string]int             `mapstructure:"max_unspent"`

	Watchdog      WatchdogTiming `mapstructure:"watchdog"`
	IngotInterval time.Duration  `mapstructure:"ingot_interval"`

	HostNodes    []string            `mapstructure:"host_nodes"`
	ForeignNodes map[string][]string `mapstructure:"foreign_nodes"`

	Issuing IssuingChain `mapstructure:"issuing"`
}

// IsMemoNetwork reports whether deposits on network are distinguished by
// memo rather than by dedicated address.
func IsMemoNetwork(network string) bool { return memoNetworks[network] }

// NetworkForUIA resolves a UIA symbol to its foreign network.
func (c *Config) NetworkForUIA(name string) (string, bool) {
	for network, asset := range c.Assets {
		if asset.Name == name {
			return network, true
		}
	}
	return "", false
}

// NetworkForAssetID resolves a host-ledger asset id (1.3.x) to its foreign
// network.
func (c *Config) NetworkForAssetID(id string) (string, bool) {
	for network, asset := range c.Assets {
		if asset.ID == id {
			return network, true
		}
	}
	return "", false
}

// IssuerIDs returns the host-ledger account ids of every issuer in the
// current offerings. A transfer to any of them is gateway-relevant.
func (c *Config) IssuerIDs() []string {
	ids := make([]string, 0, len(c.Offerings))
	for _, network := range c.Offerings {
		if asset, ok := c.Assets[network]; ok {
			ids = append(ids, asset.IssuerID)
		}
	}
	return ids
}

// Offered reports whether network is in the current offerings.
func (c *Config) Offered(network string) bool {
	for _, n := range c.Offerings {
		if n == network {
			return true
		}
	}
	return false
}

var errIncomplete = errors.New("config: incomplete")

// Validate checks that every offered network is fully specified.
func (c *Config) Validate() error {
	if len(c.Offerings) == 0 {
		return fmt.Errorf("%w: no offerings enabled", errIncomplete)
	}
	for _, network := range c.Offerings {
		if _, ok := c.Assets[network]; !ok {
			return fmt.Errorf("%w: no asset configured for %q", errIncomplete, network)
		}
		accounts := c.ForeignAccounts[network]
		if len(accounts) == 0 {
			return fmt.Errorf("%w: no foreign accounts for %q", errIncomplete, network)
		}
		if !IsMemoNetwork(network) && len(accounts) < 2 {
			return fmt.Errorf("%w: pooled network %q needs an outbound account plus at least one deposit address", errIncomplete, network)
		}
		if _, ok := c.Timing[network]; !ok {
			return fmt.Errorf("%w: no timing for %q", errIncomplete, network)
		}
		if _, ok := c.Nil[network]; !ok {
			return fmt.Errorf("%w: no nil threshold for %q", errIncomplete, network)
		}
		params, ok := c.Parachain[network]
		if !ok {
			return fmt.Errorf("%w: no parachain params for %q", errIncomplete, network)
		}
		if params.Window < 1 || params.Pause <= 0 {
			return fmt.Errorf("%w: parachain params for %q must have a positive pause and window", errIncomplete, network)
		}
	}
	if c.Server.Port == 0 || c.Server.Route == "" {
		return fmt.Errorf("%w: deposit server binding", errIncomplete)
	}
	return nil
}
