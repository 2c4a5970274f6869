// Copyright (C) 2021-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package chains

import (
	"context"
	"testing"

	"github.com/luxfi/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/gateway/ipc"
	"github.com/luxfi/gateway/parachain"
)

func TestServiceRoutesByNetwork(t *testing.T) {
	svc := NewService(log.Root())
	_, err := svc.Transfer(context.Background(), "btc", Order{})
	require.ErrorIs(t, err, ErrUnsupported)

	_, err = svc.Balance(context.Background(), "btc", "addr")
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestXYZBackendEnqueuesTransfer(t *testing.T) {
	bus, err := ipc.NewBus(t.TempDir(), nil)
	require.NoError(t, err)
	chain := &parachain.XYZ{Network: "xyz", Bus: bus}

	svc := NewService(log.Root())
	svc.Register("xyz", &XYZBackend{Chain: chain})

	txID, err := svc.Transfer(context.Background(), "xyz", Order{
		Public:   "xyz-gateway-outbound",
		To:       "client-address",
		Quantity: 2.5,
	})
	require.NoError(t, err)
	assert.Len(t, txID, 64)

	var queue []parachain.XYZTransaction
	require.NoError(t, bus.Read(parachain.XYZQueueDoc, &queue))
	require.Len(t, queue, 1)
	assert.Equal(t, "transfer", queue[0].Type)
	assert.Equal(t, int64(250000), queue[0].Quantity)
	assert.Equal(t, "client-address", queue[0].To)
	assert.Equal(t, "xyz-gateway-outbound", queue[0].Public)
}
