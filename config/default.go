// Copyright (C) 2021-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import "time"

// Default returns a configuration with every tunable at its shipped value.
// Key material and node endpoints are intentionally empty; the operator
// supplies them via the config file. The synthetic xyz network is complete
// out of the box so the gateway can be exercised without any foreign node.
func Default() *Config {
	return &Config{
		DataDir:  "gateway-data",
		LogLevel: "info",
		Contact:  "support@example.com",

		Offerings: []string{"xyz"},
		Processes: Processes{
			Ingots:      false,
			Deposits:    true,
			Withdrawals: true,
		},

		Server: ServerConfig{
			Host:  "0.0.0.0",
			Port:  4018,
			Route: "gateway",
		},

		Assets: map[string]Asset{
			"xyz": {
				ID:        "1.3.0",
				Name:      "GATEWAY.XYZ",
				Precision: 5,
				IssuerID:  "1.2.0",
			},
		},
		ForeignAccounts: map[string][]KeyPair{
			"xyz": {{Public: "xyz-gateway-outbound"}},
		},

		Timing: map[string]Timing{
			"eos": {Pause: 600 * time.Second, Timeout: 1800 * time.Second, Estimate: 3 * time.Minute, Request: 5 * time.Second},
			"xrp": {Pause: 600 * time.Second, Timeout: 1800 * time.Second, Estimate: 2 * time.Minute, Request: 5 * time.Second},
			"ltc": {Pause: 900 * time.Second, Timeout: 3600 * time.Second, Estimate: 15 * time.Minute, Request: 5 * time.Second},
			"btc": {Pause: 900 * time.Second, Timeout: 7200 * time.Second, Estimate: 60 * time.Minute, Request: 5 * time.Second},
			"xyz": {Pause: 30 * time.Second, Timeout: 300 * time.Second, Estimate: 6 * time.Second, Request: 5 * time.Second},
		},

		// Dust thresholds, set to roughly ten dollars at calibration time.
		Nil: map[string]float64{
			"eos": 3,
			"xrp": 27,
			"ltc": 0.065,
			"btc": 0.00027,
			"xyz": 0.1,
		},

		// Window sized so that window × block time outlasts the longest
		// matcher timeout for the network.
		Parachain: map[string]ParachainParams{
			"eos": {Pause: 500 * time.Millisecond, Window: 4000},
			"xrp": {Pause: time.Second, Window: 600},
			"ltc": {Pause: 30 * time.Second, Window: 30},
			"btc": {Pause: 60 * time.Second, Window: 18},
			"xyz": {Pause: 3 * time.Second, Window: 200},
		},

		MaxUnspent: map[string]int{
			"ltc": 10,
			"btc": 10,
		},

		Watchdog: WatchdogTiming{
			Stale:  60 * time.Second,
			Repeat: 600 * time.Second,
		},
		IngotInterval: 1800 * time.Second,

		ForeignNodes: map[string][]string{},

		Issuing: IssuingChain{
			Prefix:  "BTS",
			ChainID: "4018d7844c78f6a6c41c6a552b898022310fc5dec06da467ee7905a8dad512c8",
		},
	}
}
