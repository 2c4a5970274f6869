// Copyright (C) 2021-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestNetworkForUIA(t *testing.T) {
	cfg := Default()
	network, ok := cfg.NetworkForUIA("GATEWAY.XYZ")
	require.True(t, ok)
	assert.Equal(t, "xyz", network)

	_, ok = cfg.NetworkForUIA("GATEWAY.NOPE")
	assert.False(t, ok)
}

func TestNetworkForAssetID(t *testing.T) {
	cfg := Default()
	network, ok := cfg.NetworkForAssetID("1.3.0")
	require.True(t, ok)
	assert.Equal(t, "xyz", network)
}

func TestIsMemoNetwork(t *testing.T) {
	assert.True(t, IsMemoNetwork("eos"))
	assert.True(t, IsMemoNetwork("xrp"))
	assert.True(t, IsMemoNetwork("xyz"))
	assert.False(t, IsMemoNetwork("btc"))
	assert.False(t, IsMemoNetwork("ltc"))
}

func TestValidatePooledNetworkNeedsPool(t *testing.T) {
	cfg := Default()
	cfg.Offerings = []string{"btc"}
	cfg.Assets["btc"] = Asset{ID: "1.3.1", Name: "GATEWAY.BTC", Precision: 8, IssuerID: "1.2.1"}
	cfg.ForeignAccounts["btc"] = []KeyPair{{Public: "outbound-only"}}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outbound account")

	cfg.ForeignAccounts["btc"] = append(cfg.ForeignAccounts["btc"], KeyPair{Public: "deposit-1"})
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsMissingPieces(t *testing.T) {
	cfg := Default()
	cfg.Offerings = nil
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Offerings = []string{"nosuch"}
	require.Error(t, cfg.Validate())
}

func TestBuildConfigFromFlagsAndFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "gateway.yaml")
	yaml := []byte(`
data_dir: /var/lib/gateway
server:
  port: 9999
parachain:
  xyz:
    pause: 1s
    window: 50
`)
	require.NoError(t, os.WriteFile(file, yaml, 0o644))

	fs := BuildFlagSet()
	v, err := BuildViper(fs, []string{"--config-file", file, "--log_level", "debug"})
	require.NoError(t, err)

	cfg, err := BuildConfig(v)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/gateway", cfg.DataDir)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, time.Second, cfg.Parachain["xyz"].Pause)
	assert.Equal(t, 50, cfg.Parachain["xyz"].Window)
	// Untouched defaults survive the overlay.
	assert.Equal(t, "gateway", cfg.Server.Route)
}

func TestIssuerIDs(t *testing.T) {
	cfg := Default()
	assert.Equal(t, []string{"1.2.0"}, cfg.IssuerIDs())
}
