// Copyright (C) 2021-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorsRegisterAndServe(t *testing.T) {
	m := New()
	m.ParachainHead.WithLabelValues("btc").Set(700001)
	m.ListenerOutcomes.WithLabelValues("btc", "complete").Inc()
	m.ConsensusSkips.Inc()
	m.DepositRequests.WithLabelValues("btc", "success").Inc()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "gateway_parachain_head")
	assert.Contains(t, string(body), `network="btc"`)
	assert.Contains(t, string(body), "gateway_consensus_skipped_ticks_total 1")
}

func TestRegistriesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.ConsensusSkips.Inc()
	// Creating a second instance must not panic on duplicate registration.
	b.ConsensusSkips.Inc()
}
