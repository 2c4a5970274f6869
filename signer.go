// Copyright (C) 2021-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package gateway

import (
	"context"

	luxlog "github.com/luxfi/log"

	"github.com/luxfi/gateway/config"
)

// DryRunSigner logs issue and reserve operations instead of broadcasting
// them. It is the default when no signing implementation is wired, letting
// the gateway be exercised end to end against the synthetic chain without
// touching a live ledger.
type DryRunSigner struct {
	Log luxlog.Logger
}

func (s *DryRunSigner) Issue(_ context.Context, asset config.Asset, amount float64, recipientID string) error {
	s.Log.Warn("dry-run issue, no host-ledger broadcast",
		"asset", asset.Name, "amount", amount, "recipient", recipientID)
	return nil
}

func (s *DryRunSigner) Reserve(_ context.Context, asset config.Asset, amount float64) error {
	s.Log.Warn("dry-run reserve, no host-ledger broadcast",
		"asset", asset.Name, "amount", amount)
	return nil
}
