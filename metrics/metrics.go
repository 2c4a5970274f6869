// Copyright (C) 2021-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metrics exposes the gateway's operational gauges and counters
// through a prometheus registry served on the deposit server mux.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the gateway publishes.
type Metrics struct {
	registry *prometheus.Registry

	ParachainHead    *prometheus.GaugeVec
	ParachainWindow  *prometheus.GaugeVec
	ListenerOutcomes *prometheus.CounterVec
	ConsensusSkips   prometheus.Counter
	DepositRequests  *prometheus.CounterVec
	WithdrawalIntent *prometheus.CounterVec
	AddressesLocked  *prometheus.GaugeVec
}

// New registers the gateway collectors on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		ParachainHead: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_parachain_head",
			Help: "Highest block number in the parachain cache.",
		}, []string{"network"}),
		ParachainWindow: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_parachain_window_blocks",
			Help: "Number of blocks currently retained in the parachain cache.",
		}, []string{"network"}),
		ListenerOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_listener_outcomes_total",
			Help: "Matcher terminations by outcome.",
		}, []string{"network", "outcome"}),
		ConsensusSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_consensus_skipped_ticks_total",
			Help: "Ingestor ticks skipped for lack of head or block consensus among mavens.",
		}),
		DepositRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_deposit_requests_total",
			Help: "Deposit requests by network and result.",
		}, []string{"network", "result"}),
		WithdrawalIntent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_withdrawal_intents_total",
			Help: "Withdrawal intents detected on the host ledger.",
		}, []string{"network"}),
		AddressesLocked: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_addresses_locked",
			Help: "Deposit addresses currently locked per network.",
		}, []string{"network"}),
	}
	registry.MustRegister(
		m.ParachainHead,
		m.ParachainWindow,
		m.ListenerOutcomes,
		m.ConsensusSkips,
		m.DepositRequests,
		m.WithdrawalIntent,
		m.AddressesLocked,
	)
	return m
}

// Handler returns the HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
