// Copyright (C) 2021-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package chains carries the foreign-chain transfer and balance primitives.
// Each network's backend serializes, signs, and broadcasts with the
// gateway's own keys; the implementations are opaque signed-RPC calls
// registered at wiring time. Only the synthetic test chain ships a concrete
// backend here.
package chains

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"

	"github.com/luxfi/log"

	"github.com/luxfi/gateway/parachain"
)

// Order is one outbound foreign transfer from a gateway-controlled account.
type Order struct {
	// Public and Private identify the spending gateway account.
	Public  string
	Private string
	// To is the destination address; Memo rides along on networks that
	// support one.
	To   string
	Memo string
	// Quantity is in whole coins of the network.
	Quantity float64
}

// Backend performs signed operations on one foreign network.
type Backend interface {
	// Transfer broadcasts the order and returns the native transaction id.
	Transfer(ctx context.Context, order Order) (string, error)
	// Balance returns the spendable amount held by address.
	Balance(ctx context.Context, address string) (float64, error)
}

// ErrUnsupported is returned for networks with no registered backend.
var ErrUnsupported = errors.New("chains: no backend for network")

// Service routes transfer and balance calls to per-network backends.
type Service struct {
	backends map[string]Backend
	log      log.Logger
}

// NewService returns an empty service; register backends before use.
func NewService(logger log.Logger) *Service {
	return &Service{backends: map[string]Backend{}, log: logger}
}

// Register installs the backend for a network, replacing any previous one.
func (s *Service) Register(network string, backend Backend) {
	s.backends[network] = backend
}

// Transfer broadcasts an order on the given network.
func (s *Service) Transfer(ctx context.Context, network string, order Order) (string, error) {
	backend, ok := s.backends[network]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupported, network)
	}
	s.log.Info("foreign transfer", "network", network, "to", order.To, "quantity", order.Quantity)
	return backend.Transfer(ctx, order)
}

// Balance reads a gateway account balance on the given network.
func (s *Service) Balance(ctx context.Context, network, address string) (float64, error) {
	backend, ok := s.backends[network]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnsupported, network)
	}
	return backend.Balance(ctx, address)
}

// XYZBackend drives the synthetic test chain by enqueueing transfers into
// its local queue; the parachain worker picks them up on the next block.
type XYZBackend struct {
	Chain *parachain.XYZ
}

func (b *XYZBackend) Transfer(_ context.Context, order Order) (string, error) {
	trx := parachain.XYZTransaction{
		Type:     "transfer",
		Quantity: int64(math.Round(order.Quantity * 1e5)),
		To:       order.To,
		Public:   order.Public,
		Memo:     order.Memo,
	}
	if err := b.Chain.Enqueue(trx); err != nil {
		return "", err
	}
	digest := sha256.Sum256([]byte(fmt.Sprintf("%s%s%d", order.Public, order.To, trx.Quantity)))
	return hex.EncodeToString(digest[:]), nil
}

func (b *XYZBackend) Balance(context.Context, string) (float64, error) {
	// The synthetic chain keeps no balances; sweeps never trigger.
	return 0, nil
}
