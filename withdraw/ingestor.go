// Copyright (C) 2021-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package withdraw detects withdrawal intents on the host ledger. An N-of-M
// committee of maven readers, each bound to a different public node,
// publishes opinions of the irreversible head and of each block's
// transaction list through the IPC bus; the ingestor acts only on the
// statistical mode of those opinions and never on a minority view.
package withdraw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/luxfi/log"
	"golang.org/x/time/rate"

	"github.com/luxfi/gateway/audit"
	"github.com/luxfi/gateway/chains"
	"github.com/luxfi/gateway/config"
	"github.com/luxfi/gateway/ipc"
	"github.com/luxfi/gateway/ledger"
	"github.com/luxfi/gateway/listener"
	"github.com/luxfi/gateway/memo"
	"github.com/luxfi/gateway/metrics"
	"github.com/luxfi/gateway/watchdog"
)

const (
	// BlockNumberDoc carries the current consensus irreversible head.
	BlockNumberDoc = "block_number"
	// withdrawalIDDoc seeds the event-id counter for operator visibility.
	withdrawalIDDoc = "withdrawal_id"

	// mavenLifetime bounds each long-lived block-number maven; recycling
	// sheds hung connections and bounds memory.
	mavenLifetime = 10 * time.Minute
	// blockWorkerDeadline is the join deadline for per-tick block fetchers;
	// stragglers are abandoned.
	blockWorkerDeadline = 6 * time.Second
	// mavenQueryInterval paces each maven's head polling.
	mavenQueryInterval = 2 * time.Second
	// tickInterval paces the consensus loop, roughly two host blocks.
	tickInterval = 6 * time.Second
	// defaultArmWait caps how long a handler waits for its reserve matcher
	// to arm before broadcasting the foreign transfer.
	defaultArmWait = 30 * time.Second

	verifiedCacheSize = 1024
)

var errNotEnoughMavens = errors.New("not enough responding mavens")

// BlockNumDoc names maven i's irreversible-head opinion file.
func BlockNumDoc(i int) string { return fmt.Sprintf("block_num_maven_%d", i) }

// BlockDoc names maven i's per-block transaction opinion file.
func BlockDoc(i int) string { return fmt.Sprintf("block_maven_%d", i) }

// AccountVerifier checks a decoded memo against a foreign network's address
// rules before any funds move.
type AccountVerifier interface {
	VerifyAccount(ctx context.Context, account string) (bool, error)
}

// Ingestor runs the consensus reader and dispatches withdrawal handlers.
type Ingestor struct {
	Cfg      *config.Config
	Bus      *ipc.Bus
	Recorder audit.Recorder
	Watchdog *watchdog.Watchdog
	Metrics  *metrics.Metrics
	Log      log.Logger

	Decoder   memo.Decoder
	Chains    *chains.Service
	Issuer    listener.Issuer
	Verifiers map[string]AccountVerifier

	SessionUnix int64
	SessionDate string

	// ArmWait overrides the matcher arming ceiling; zero means the default.
	ArmWait time.Duration

	withdrawalID uint64
	verified     *lru.Cache[string, bool]
	handlers     sync.WaitGroup
}

// BlockMavens is the committee size: seven, or fewer when fewer nodes are
// configured.
func (in *Ingestor) BlockMavens() int {
	if n := len(in.Cfg.HostNodes); n < 7 {
		return n
	}
	return 7
}

func (in *Ingestor) event() *audit.SessionEvent {
	return &audit.SessionEvent{Header: audit.Header{
		Process:     "withdrawals",
		Network:     "",
		SessionUnix: in.SessionUnix,
		SessionDate: in.SessionDate,
	}}
}

// Run seeds the opinion files, starts the maven committee, and drives the
// consensus tick loop until the context is cancelled.
func (in *Ingestor) Run(ctx context.Context) error {
	var err error
	in.verified, err = lru.New[string, bool](verifiedCacheSize)
	if err != nil {
		return err
	}
	mavens := in.BlockMavens()
	for i := 0; i < mavens; i++ {
		if err := in.Bus.Write(BlockNumDoc(i), []int64{0}); err != nil {
			return err
		}
	}
	if err := in.Bus.Write(BlockNumberDoc, []int64{0}); err != nil {
		return err
	}
	if err := in.Bus.Write(withdrawalIDDoc, 1); err != nil {
		return err
	}

	// A tick-loop failure (e.g. a stale supervisor) must also stop the
	// mavens, which otherwise only exit on context cancellation.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mavenWg sync.WaitGroup
	for i := 0; i < mavens; i++ {
		i := i
		mavenWg.Add(1)
		go func() {
			defer mavenWg.Done()
			in.runRecycledMaven(runCtx, i)
		}()
	}

	in.Log.Info("withdrawal ingestor started", "mavens", mavens)
	err = in.tickLoop(runCtx)
	cancel()
	mavenWg.Wait()
	in.handlers.Wait()
	return err
}

// runRecycledMaven keeps one maven slot occupied, terminating and
// respawning the worker every lifetime interval.
func (in *Ingestor) runRecycledMaven(ctx context.Context, id int) {
	for {
		lifeCtx, cancel := context.WithTimeout(ctx, mavenLifetime)
		in.blockNumMaven(lifeCtx, id)
		cancel()
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// blockNumMaven publishes one node's opinion of the irreversible head until
// its context expires. Any anomaly (an error, a stale head time, or a head
// wildly out of range of the consensus) drops the connection and redials a
// randomly chosen node.
func (in *Ingestor) blockNumMaven(ctx context.Context, id int) {
	limiter := rate.NewLimiter(rate.Every(mavenQueryInterval), 1)
	var client *ledger.Client
	defer func() {
		if client != nil {
			client.Close()
		}
	}()
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		if client == nil {
			var err error
			client, err = ledger.Dial(ctx, in.Cfg.HostNodes, tickInterval, in.Log)
			if err != nil {
				in.Log.Debug("maven dial failed", "maven", id, "err", err)
				continue
			}
		}
		if client.Worn() {
			if err := client.Rotate(ctx); err != nil {
				continue
			}
		}
		dgp, err := client.GetDynamicGlobalProperties()
		if err != nil {
			_ = client.Rotate(ctx)
			continue
		}
		headTime, err := dgp.HeadTime()
		if err != nil || time.Since(headTime) > 10*time.Second {
			// The node is lagging; its opinion would drag consensus back.
			_ = client.Rotate(ctx)
			continue
		}
		var latest []int64
		if err := in.Bus.Read(BlockNumberDoc, &latest); err == nil && len(latest) > 0 && latest[0] > 0 {
			num := dgp.LastIrreversibleBlockNum
			if num > latest[0]+1200 || num < latest[0]-5 {
				_ = client.Rotate(ctx)
				continue
			}
		}
		if err := in.Bus.Write(BlockNumDoc(id), []int64{dgp.LastIrreversibleBlockNum}); err != nil {
			in.Log.Error("maven opinion write failed", "maven", id, "err", err)
		}
	}
}

// tickLoop takes the mode of maven head opinions, fetches any new blocks by
// committee, and processes the consensus content in order.
func (in *Ingestor) tickLoop(ctx context.Context) error {
	lastBlockNum := int64(0)
	for {
		if err := in.sleep(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		opinions := make([]int64, 0, in.BlockMavens())
		for i := 0; i < in.BlockMavens(); i++ {
			var opinion []int64
			if err := in.Bus.Read(BlockNumDoc(i), &opinion); err == nil && len(opinion) > 0 && opinion[0] > 0 {
				opinions = append(opinions, opinion[0])
			}
		}
		currBlockNum, ok := mode(opinions)
		if !ok {
			if in.Metrics != nil {
				in.Metrics.ConsensusSkips.Inc()
			}
			in.Log.Debug("no head consensus, skipping tick", "opinions", len(opinions))
			continue
		}
		if err := in.Bus.Write(BlockNumberDoc, []int64{currBlockNum}); err != nil {
			return err
		}
		if currBlockNum <= lastBlockNum {
			continue
		}
		if lastBlockNum == 0 {
			// First tick only establishes the baseline.
			lastBlockNum = currBlockNum
			continue
		}

		newBlocks := make([]int64, 0, currBlockNum-lastBlockNum)
		for n := lastBlockNum + 1; n <= currBlockNum; n++ {
			newBlocks = append(newBlocks, n)
		}
		blocks, err := in.consensusBlocks(ctx, newBlocks)
		if err != nil {
			// Either no mode or a responder shortfall; the next tick
			// re-attempts the same range.
			if errors.Is(err, errNotEnoughMavens) {
				in.Recorder.Chronicle(in.event(), "not enough responding mavens")
			}
			in.Log.Warn("block consensus failed", "err", err, "from", lastBlockNum+1, "to", currBlockNum)
			if in.Metrics != nil {
				in.Metrics.ConsensusSkips.Inc()
			}
			continue
		}
		for _, blockNum := range newBlocks {
			for trxIdx, trx := range blocks[blockNum] {
				in.processTransaction(ctx, blockNum, trxIdx, trx)
			}
		}
		in.maybeInjectTestOp(ctx, currBlockNum)
		lastBlockNum = currBlockNum
	}
}

func (in *Ingestor) sleep(ctx context.Context) error {
	if in.Watchdog != nil {
		return in.Watchdog.Sleep(ctx, "withdrawals", tickInterval)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(tickInterval):
		return nil
	}
}

// consensusBlocks fans BlockMavens short-lived workers out over fresh node
// connections, then reduces their per-block answers to the unique mode.
func (in *Ingestor) consensusBlocks(ctx context.Context, newBlocks []int64) (map[int64][]json.RawMessage, error) {
	mavens := in.BlockMavens()
	workerCtx, cancel := context.WithTimeout(ctx, blockWorkerDeadline)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < mavens; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			in.blockMaven(workerCtx, i, newBlocks)
		}()
	}
	// Join with deadline: the context expiry releases stragglers, whose
	// stale opinion files simply miss this round's keys.
	wg.Wait()

	opinions := make([]map[string][]json.RawMessage, 0, mavens)
	for i := 0; i < mavens; i++ {
		var opinion map[string][]json.RawMessage
		if err := in.Bus.Read(BlockDoc(i), &opinion); err != nil {
			continue
		}
		opinions = append(opinions, opinion)
	}
	return reduceBlockOpinions(newBlocks, opinions, mavens-1)
}

// reduceBlockOpinions takes the per-block mode across maven opinions. It
// fails when fewer than quorum mavens answered a block or when the answers
// have no unique mode; the caller retries the whole range next tick.
func reduceBlockOpinions(newBlocks []int64, opinions []map[string][]json.RawMessage, quorum int) (map[int64][]json.RawMessage, error) {
	perBlock := make(map[int64][]string, len(newBlocks))
	for _, opinion := range opinions {
		for _, blockNum := range newBlocks {
			trxs, ok := opinion[fmt.Sprintf("%d", blockNum)]
			if !ok {
				continue
			}
			canonical, err := canonicalize(trxs)
			if err != nil {
				continue
			}
			perBlock[blockNum] = append(perBlock[blockNum], canonical)
		}
	}

	blocks := make(map[int64][]json.RawMessage, len(newBlocks))
	for _, blockNum := range newBlocks {
		votes := perBlock[blockNum]
		if len(votes) < quorum {
			return nil, fmt.Errorf("%w: block %d has %d of %d needed", errNotEnoughMavens, blockNum, len(votes), quorum)
		}
		winner, ok := mode(votes)
		if !ok {
			return nil, fmt.Errorf("no consensus for block %d", blockNum)
		}
		var trxs []json.RawMessage
		if err := json.Unmarshal([]byte(winner), &trxs); err != nil {
			return nil, err
		}
		blocks[blockNum] = trxs
	}
	return blocks, nil
}

// blockMaven fetches the transaction lists of newBlocks from one freshly
// dialed node and publishes them as a single opinion document.
func (in *Ingestor) blockMaven(ctx context.Context, id int, newBlocks []int64) {
	client, err := ledger.Dial(ctx, in.Cfg.HostNodes, blockWorkerDeadline, in.Log)
	if err != nil {
		in.Log.Debug("block maven dial failed", "maven", id, "err", err)
		return
	}
	defer client.Close()

	opinion := make(map[string][]json.RawMessage, len(newBlocks))
	for _, blockNum := range newBlocks {
		trxs, err := client.GetBlockTransactions(blockNum)
		if err != nil {
			in.Log.Debug("block fetch failed", "maven", id, "block", blockNum, "err", err)
			return
		}
		opinion[fmt.Sprintf("%d", blockNum)] = trxs
	}
	if err := in.Bus.Write(BlockDoc(id), opinion); err != nil {
		in.Log.Error("block opinion write failed", "maven", id, "err", err)
	}
}

// canonicalize renders a transaction list in a byte-stable form so opinions
// can be compared verbatim.
func canonicalize(trxs []json.RawMessage) (string, error) {
	compacted := make([]json.RawMessage, len(trxs))
	for i, trx := range trxs {
		var v interface{}
		if err := json.Unmarshal(trx, &v); err != nil {
			return "", err
		}
		out, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		compacted[i] = out
	}
	all, err := json.Marshal(compacted)
	return string(all), err
}

// nextWithdrawalID increments the event counter, mirroring it to the bus
// for operator tooling.
func (in *Ingestor) nextWithdrawalID() uint64 {
	id := atomic.AddUint64(&in.withdrawalID, 1)
	_ = in.Bus.Write(withdrawalIDDoc, id)
	return id
}

// maybeInjectTestOp picks up an operation planted through the IPC bus by the
// integration harness and runs it through the regular handler path.
func (in *Ingestor) maybeInjectTestOp(ctx context.Context, blockNum int64) {
	if !in.Bus.Exists("unit_test_withdrawal") {
		return
	}
	var op []json.RawMessage
	if err := in.Bus.Read("unit_test_withdrawal", &op); err != nil || len(op) != 2 {
		return
	}
	_ = in.Bus.Write("unit_test_withdrawal", []json.RawMessage{})
	in.dispatchOperation(ctx, blockNum, -1, op)
}
