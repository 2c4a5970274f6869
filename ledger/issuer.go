// Copyright (C) 2021-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/luxfi/log"

	"github.com/luxfi/gateway/config"
)

// Signer performs signed host-ledger operations with the issuer keys. The
// concrete implementation builds, signs, and broadcasts graphene
// transactions and is supplied at wiring time.
type Signer interface {
	// Issue mints amount of the asset to the recipient account.
	Issue(ctx context.Context, asset config.Asset, amount float64, recipientID string) error
	// Reserve burns amount of the asset from the issuer's balance.
	Reserve(ctx context.Context, asset config.Asset, amount float64) error
}

// ErrUnknownNetwork is returned for a network with no configured asset.
var ErrUnknownNetwork = errors.New("ledger: unknown network")

// Issuer adapts the Signer to the per-network surface matchers use.
type Issuer struct {
	Cfg    *config.Config
	Signer Signer
	Log    log.Logger
}

// Issue mints the network's UIA to clientID.
func (i *Issuer) Issue(ctx context.Context, network string, amount float64, clientID string) error {
	asset, ok := i.Cfg.Assets[network]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNetwork, network)
	}
	i.Log.Info("issuing uia", "asset", asset.Name, "amount", amount, "client", clientID)
	return i.Signer.Issue(ctx, asset, amount, clientID)
}

// Reserve burns the network's UIA.
func (i *Issuer) Reserve(ctx context.Context, network string, amount float64) error {
	asset, ok := i.Cfg.Assets[network]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNetwork, network)
	}
	i.Log.Info("reserving uia", "asset", asset.Name, "amount", amount)
	return i.Signer.Reserve(ctx, asset, amount)
}
