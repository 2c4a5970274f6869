// Copyright (C) 2021-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package gateway wires the cross-chain asset gateway together: parachain
// workers per enabled foreign network, the deposit server, the host-ledger
// withdrawal ingestor, the ingot caster, and the watchdog supervisor, all
// sharing state only through the file-backed IPC substrate.
package gateway

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	luxlog "github.com/luxfi/log"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/gateway/allocator"
	"github.com/luxfi/gateway/audit"
	"github.com/luxfi/gateway/chains"
	"github.com/luxfi/gateway/config"
	"github.com/luxfi/gateway/deposit"
	"github.com/luxfi/gateway/ingot"
	"github.com/luxfi/gateway/ipc"
	"github.com/luxfi/gateway/ledger"
	"github.com/luxfi/gateway/listener"
	"github.com/luxfi/gateway/memo"
	"github.com/luxfi/gateway/metrics"
	"github.com/luxfi/gateway/parachain"
	gwrpc "github.com/luxfi/gateway/utils/rpc"
	"github.com/luxfi/gateway/watchdog"
	"github.com/luxfi/gateway/withdraw"
)

// Option customizes a Gateway at construction time.
type Option func(*Gateway)

// WithSigner installs the host-ledger signing implementation.
func WithSigner(signer ledger.Signer) Option {
	return func(g *Gateway) { g.signer = signer }
}

// WithDecoder installs the withdrawal memo decoder.
func WithDecoder(decoder memo.Decoder) Option {
	return func(g *Gateway) { g.decoder = decoder }
}

// WithBackend installs a foreign-chain transfer backend for one network.
func WithBackend(network string, backend chains.Backend) Option {
	return func(g *Gateway) { g.backends[network] = backend }
}

// Gateway is one running gateway process.
type Gateway struct {
	cfg *config.Config
	log luxlog.Logger

	bus      *ipc.Bus
	db       *sql.DB
	auditor  *audit.Auditor
	metrics  *metrics.Metrics
	watchdog *watchdog.Watchdog

	signer   ledger.Signer
	decoder  memo.Decoder
	backends map[string]chains.Backend
	foreign  map[string]parachain.Chain

	sessionUnix int64
	sessionDate string
}

// New builds a gateway from configuration. The data directory receives the
// pipe folder and the audit database.
func New(cfg *config.Config, logger luxlog.Logger, opts ...Option) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	bus, err := ipc.NewBus(filepath.Join(cfg.DataDir, "pipe"), logger)
	if err != nil {
		return nil, err
	}
	db, err := audit.Open(filepath.Join(cfg.DataDir, "gateway.db"))
	if err != nil {
		return nil, err
	}

	now := time.Now()
	g := &Gateway{
		cfg:         cfg,
		log:         logger,
		bus:         bus,
		db:          db,
		auditor:     audit.New(bus, db, logger),
		metrics:     metrics.New(),
		decoder:     memo.Passthrough{},
		backends:    map[string]chains.Backend{},
		foreign:     map[string]parachain.Chain{},
		sessionUnix: now.Unix(),
		sessionDate: now.Format(time.ANSIC),
	}
	g.watchdog = watchdog.New(bus, logger, cfg.Watchdog.Stale, cfg.Watchdog.Repeat, func(process string) bool {
		switch process {
		case "deposits":
			return cfg.Processes.Deposits
		case "withdrawals":
			return cfg.Processes.Withdrawals
		case "ingots":
			return cfg.Processes.Ingots
		}
		return true
	})
	for _, opt := range opts {
		opt(g)
	}
	if err := g.buildForeignChains(); err != nil {
		db.Close()
		return nil, err
	}
	return g, nil
}

// buildForeignChains constructs one Chain per enabled network from the
// configured node endpoints.
func (g *Gateway) buildForeignChains() error {
	for _, network := range g.cfg.Offerings {
		if _, ok := g.foreign[network]; ok {
			continue
		}
		timing := g.cfg.Timing[network]
		nodes := g.cfg.ForeignNodes[network]
		switch network {
		case "eos":
			if len(nodes) == 0 {
				return fmt.Errorf("gateway: no eos nodes configured")
			}
			g.foreign[network] = &parachain.EOSIO{
				Network: network,
				Nodes:   nodes,
				Request: timing.Request,
				Log:     g.log,
			}
		case "xrp":
			if len(nodes) == 0 {
				return fmt.Errorf("gateway: no xrp nodes configured")
			}
			g.foreign[network] = &parachain.Ripple{
				Nodes:   nodes,
				Request: timing.Request,
				Log:     g.log,
			}
		case "btc", "ltc":
			if len(nodes) == 0 {
				return fmt.Errorf("gateway: no %s node configured", network)
			}
			url := nodes[0]
			if len(nodes) > 1 {
				// Second entry names the wallet on the node.
				url += "/wallet/" + nodes[1]
			}
			g.foreign[network] = &parachain.LTCBTC{
				Network: network,
				Client:  &gwrpc.BitcoindClient{URL: url},
				Log:     g.log,
			}
		case "xyz":
			chain := &parachain.XYZ{Network: network, Bus: g.bus}
			g.foreign[network] = chain
			if _, ok := g.backends[network]; !ok {
				g.backends[network] = &chains.XYZBackend{Chain: chain}
			}
		default:
			return fmt.Errorf("gateway: unsupported network %q", network)
		}
	}
	return nil
}

// VerifyIssuers confirms each configured issuer account exists on the host
// ledger. A misconfigured issuer is fatal before any listener starts.
func (g *Gateway) VerifyIssuers(ctx context.Context) error {
	if len(g.cfg.HostNodes) == 0 {
		return nil
	}
	client, err := ledger.Dial(ctx, g.cfg.HostNodes, 10*time.Second, g.log)
	if err != nil {
		return err
	}
	defer client.Close()
	for _, network := range g.cfg.Offerings {
		asset := g.cfg.Assets[network]
		if asset.IssuerPublic == "" {
			continue
		}
		ok, err := client.AccountExists(asset.IssuerPublic)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("gateway: invalid host-ledger account %q configured for %s", asset.IssuerPublic, network)
		}
	}
	return nil
}

// Run starts every enabled worker and blocks until the context is cancelled
// or a worker fails fatally.
func (g *Gateway) Run(ctx context.Context) error {
	defer g.db.Close()

	if err := g.watchdog.Initialize([]string{"deposits", "withdrawals", "ingots", "parachains"}); err != nil {
		return err
	}
	for _, network := range g.cfg.Offerings {
		g.auditor.Chronicle(&audit.SessionEvent{Header: audit.Header{
			Network:     network,
			SessionUnix: g.sessionUnix,
			SessionDate: g.sessionDate,
		}}, "initializing gateway main")
	}
	if err := g.VerifyIssuers(ctx); err != nil {
		return err
	}

	chainSvc := chains.NewService(g.log)
	for network, backend := range g.backends {
		chainSvc.Register(network, backend)
	}
	signer := g.signer
	if signer == nil {
		signer = &DryRunSigner{Log: g.log}
	}
	issuer := &ledger.Issuer{Cfg: g.cfg, Signer: signer, Log: g.log}

	alloc := allocator.New(ctx, g.bus, g.log, g.metrics)
	for _, network := range g.cfg.Offerings {
		if err := alloc.Initialize(network, len(g.cfg.ForeignAccounts[network])); err != nil {
			return err
		}
	}

	group, ctx := errgroup.WithContext(ctx)

	// Parachain workers feed everything else; start them first.
	for _, network := range g.cfg.Offerings {
		network := network
		params := g.cfg.Parachain[network]
		worker := &parachain.Worker{
			Network:  network,
			Chain:    g.foreign[network],
			Bus:      g.bus,
			Recorder: g.auditor,
			Watchdog: g.watchdog,
			Metrics:  g.metrics,
			Log:      g.log,
			Pause:    params.Pause,
			Window:   params.Window,
		}
		group.Go(func() error {
			err := worker.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return err
		})
	}
	if err := g.awaitParachains(ctx); err != nil {
		return err
	}

	if g.cfg.Processes.Deposits {
		server := &deposit.Server{
			Cfg:         g.cfg,
			Bus:         g.bus,
			Recorder:    g.auditor,
			Allocator:   alloc,
			Issuer:      issuer,
			Metrics:     g.metrics,
			Log:         g.log,
			SessionUnix: g.sessionUnix,
			SessionDate: g.sessionDate,
			MatcherCtx:  ctx,
		}
		group.Go(func() error { return server.Serve(ctx) })
	}

	if g.cfg.Processes.Withdrawals && len(g.cfg.HostNodes) > 0 {
		verifiers := make(map[string]withdraw.AccountVerifier, len(g.foreign))
		for network, chain := range g.foreign {
			verifiers[network] = chain
		}
		ingestor := &withdraw.Ingestor{
			Cfg:         g.cfg,
			Bus:         g.bus,
			Recorder:    g.auditor,
			Watchdog:    g.watchdog,
			Metrics:     g.metrics,
			Log:         g.log,
			Decoder:     g.decoder,
			Chains:      chainSvc,
			Issuer:      issuer,
			Verifiers:   verifiers,
			SessionUnix: g.sessionUnix,
			SessionDate: g.sessionDate,
		}
		group.Go(func() error {
			err := ingestor.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return err
		})
	}

	if g.cfg.Processes.Ingots {
		caster := &ingot.Caster{
			Cfg:         g.cfg,
			Chains:      chainSvc,
			Backends:    g.backends,
			Recorder:    g.auditor,
			Watchdog:    g.watchdog,
			Log:         g.log,
			SessionUnix: g.sessionUnix,
			SessionDate: g.sessionDate,
		}
		group.Go(func() error {
			err := caster.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return err
		})
	}

	// Supervisor heartbeat; alerts on stale children.
	group.Go(func() error {
		for {
			if err := g.watchdog.Sleep(ctx, watchdog.Main, 10*time.Second); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	})

	g.log.Info("gateway running",
		"offerings", fmt.Sprintf("%v", g.cfg.Offerings),
		"deposits", g.cfg.Processes.Deposits,
		"withdrawals", g.cfg.Processes.Withdrawals,
		"ingots", g.cfg.Processes.Ingots,
	)
	err := group.Wait()
	alloc.Wait()
	return err
}

// BalanceLine is one row of the balances report.
type BalanceLine struct {
	Network string
	Address string
	Role    string
	Amount  float64
	Err     error
}

// Balances reads every configured gateway account's balance on its network.
// Networks without a wired backend report an error per account.
func (g *Gateway) Balances(ctx context.Context) []BalanceLine {
	svc := chains.NewService(g.log)
	for network, backend := range g.backends {
		svc.Register(network, backend)
	}
	var lines []BalanceLine
	for _, network := range g.cfg.Offerings {
		for idx, account := range g.cfg.ForeignAccounts[network] {
			role := "deposit"
			if idx == 0 {
				role = "outbound"
			}
			amount, err := svc.Balance(ctx, network, account.Public)
			lines = append(lines, BalanceLine{
				Network: network,
				Address: account.Public,
				Role:    role,
				Amount:  amount,
				Err:     err,
			})
		}
	}
	return lines
}

// awaitParachains blocks until each enabled network has produced its first
// cache write, so matchers never arm against an absent cache.
func (g *Gateway) awaitParachains(ctx context.Context) error {
	deadline := time.Now().Add(2 * time.Minute)
	for _, network := range g.cfg.Offerings {
		doc := parachain.CacheDoc(network)
		for {
			if g.bus.Exists(doc) {
				cache := parachain.Cache{}
				if err := g.bus.Read(doc, &cache); err == nil {
					if num, ok := cache.MaxBlock(); ok {
						g.log.Info("parachain ready", "network", network, "block", num)
						break
					}
				}
			}
			if time.Now().After(deadline) {
				return fmt.Errorf("gateway: %s parachain failed to initialize", network)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(250 * time.Millisecond):
			}
		}
	}
	return nil
}

var _ listener.Issuer = (*ledger.Issuer)(nil)
