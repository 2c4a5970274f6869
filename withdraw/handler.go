// Copyright (C) 2021-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package withdraw

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/luxfi/gateway/audit"
	"github.com/luxfi/gateway/chains"
	"github.com/luxfi/gateway/listener"
	"github.com/luxfi/gateway/utils"
)

// opTransfer is the host ledger's transfer operation code.
const opTransfer = 0

// transferOp is the slice of a transfer operation the gateway cares about.
type transferOp struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount struct {
		Amount  json.Number `json:"amount"`
		AssetID string      `json:"asset_id"`
	} `json:"amount"`
	// Memo is absent on plain transfers; its presence marks a withdrawal
	// intent. It stays raw: encrypted memos are objects, the synthetic test
	// chain's are bare strings.
	Memo json.RawMessage `json:"memo"`
}

// processTransaction walks one consensus transaction's operations and
// dispatches any withdrawal intents.
func (in *Ingestor) processTransaction(ctx context.Context, blockNum int64, trxIdx int, trx json.RawMessage) {
	var body struct {
		Operations [][]json.RawMessage `json:"operations"`
	}
	if err := json.Unmarshal(trx, &body); err != nil {
		in.Log.Debug("undecodable transaction", "block", blockNum, "trx", trxIdx, "err", err)
		return
	}
	for _, op := range body.Operations {
		in.dispatchOperation(ctx, blockNum, trxIdx, op)
	}
}

// dispatchOperation hands a detected intent to its own handler goroutine so
// the ingestor loop keeps consuming blocks.
func (in *Ingestor) dispatchOperation(ctx context.Context, blockNum int64, trxIdx int, op []json.RawMessage) {
	if len(op) != 2 {
		return
	}
	var code int
	if err := json.Unmarshal(op[0], &code); err != nil || code != opTransfer {
		return
	}
	var transfer transferOp
	if err := json.Unmarshal(op[1], &transfer); err != nil {
		return
	}

	issuer := false
	for _, id := range in.Cfg.IssuerIDs() {
		if transfer.To == id {
			issuer = true
			break
		}
	}
	if !issuer {
		return
	}
	network, ok := in.Cfg.NetworkForAssetID(transfer.Amount.AssetID)
	if !ok || !in.Cfg.Offered(network) {
		return
	}

	if len(transfer.Memo) == 0 {
		ev := in.withdrawalEvent(network, transfer)
		in.Recorder.Chronicle(ev, "WARN: transfer to gateway WITHOUT memo")
		in.Log.Warn("transfer to gateway without memo", "network", network, "from", transfer.From, "block", blockNum)
		return
	}

	in.handlers.Add(1)
	go func() {
		defer in.handlers.Done()
		defer func() {
			if r := recover(); r != nil {
				in.Log.Error("panic in withdrawal handler", "block", blockNum, "trx", trxIdx, "recovered", r)
			}
		}()
		in.handleWithdrawal(ctx, network, blockNum, transfer)
	}()
}

func (in *Ingestor) withdrawalEvent(network string, transfer transferOp) *audit.WithdrawalEvent {
	return &audit.WithdrawalEvent{
		Header: audit.Header{
			Process:     "withdrawals",
			Network:     network,
			Nonce:       utils.Microseconds(),
			SessionUnix: in.SessionUnix,
			SessionDate: in.SessionDate,
		},
		Op:       "transfer",
		UIAID:    transfer.Amount.AssetID,
		ClientID: transfer.From,
		Memo:     string(transfer.Memo),
	}
}

// handleWithdrawal runs one intent end to end: decode and verify the client
// address, arm a reserve matcher on it, then broadcast the foreign transfer.
func (in *Ingestor) handleWithdrawal(ctx context.Context, network string, blockNum int64, transfer transferOp) {
	ev := in.withdrawalEvent(network, transfer)
	ev.EventID = utils.EventID("W", in.nextWithdrawalID())
	if in.Metrics != nil {
		in.Metrics.WithdrawalIntent.WithLabelValues(network).Inc()
	}

	asset := in.Cfg.Assets[network]
	rawAmount, err := transfer.Amount.Amount.Int64()
	if err != nil {
		in.Recorder.Chronicle(ev, fmt.Sprintf("unparseable withdrawal amount: %v", err))
		return
	}
	amount := float64(rawAmount) / math.Pow10(asset.Precision)

	in.Recorder.Chronicle(ev, fmt.Sprintf("withdrawal request: transfer %s to gateway with memo", asset.ID))
	in.Log.Info("withdrawal intent",
		"network", network,
		"event", ev.EventID,
		"client", transfer.From,
		"amount", amount,
		"block", blockNum,
	)

	clientAddress, err := in.decodeMemo(network, transfer.Memo)
	if err != nil {
		in.Recorder.Chronicle(ev, fmt.Sprintf("memo decode failed: %v", err))
		in.Log.Error("memo decode failed", "network", network, "event", ev.EventID, "err", err)
		return
	}

	outbound := in.Cfg.ForeignAccounts[network][0]
	order := chains.Order{
		Public:   outbound.Public,
		Private:  outbound.Private,
		To:       clientAddress,
		Quantity: amount,
	}
	ev.WithdrawalAmount = amount
	ev.GatewayAddress = order.Public
	ev.ClientAddress = clientAddress
	ev.OrderPublic = order.Public
	ev.OrderTo = order.To
	ev.OrderQuantity = order.Quantity

	if !in.verifyAddress(ctx, network, clientAddress) {
		in.Recorder.Chronicle(ev, fmt.Sprintf("memo is NOT a valid %s account name", network))
		in.Log.Warn("invalid withdrawal destination", "network", network, "event", ev.EventID, "address", clientAddress)
		return
	}

	// The matcher runs concurrently and fills in the transfer it observes;
	// it gets its own copy of the envelope. The handler's record keeps the
	// broadcast tx id, the matcher's record keeps the matched transfer.
	matcherEv := &audit.WithdrawalEvent{}
	*matcherEv = *ev

	timing := in.Cfg.Timing[network]
	params := in.Cfg.Parachain[network]
	matcher := &listener.Matcher{
		Network:        network,
		ListeningTo:    clientAddress,
		ExpectedAmount: amount,
		Action:         listener.ActionReserve,
		NilAmount:      in.Cfg.Nil[network],
		Pause:          params.Pause,
		Timeout:        timing.Timeout,
		Bus:            in.Bus,
		Recorder:       in.Recorder,
		Issuer:         in.Issuer,
		Metrics:        in.Metrics,
		Log:            in.Log,
		Event:          matcherEv,
	}
	matcherDone := make(chan listener.Outcome, 1)
	in.handlers.Add(1)
	go func() {
		defer in.handlers.Done()
		matcherDone <- matcher.Run(ctx)
	}()
	in.Recorder.Chronicle(ev, fmt.Sprintf("spawn %s withdrawal listener to reserve %s", network, utils.Precisely(amount, 8)))

	// The matcher signals readiness; the wall-clock wait is only a ceiling.
	armWait := in.ArmWait
	if armWait == 0 {
		armWait = defaultArmWait
	}
	select {
	case <-matcher.Armed():
	case <-time.After(armWait):
		in.Log.Warn("matcher arming timed out, transferring anyway", "network", network, "event", ev.EventID)
	case <-ctx.Done():
		return
	}

	txID, err := in.Chains.Transfer(ctx, network, order)
	if err != nil {
		in.Recorder.Chronicle(ev, fmt.Sprintf("foreign transfer failed: %v", err))
		in.Log.Error("foreign transfer failed", "network", network, "event", ev.EventID, "err", err)
		return
	}
	ev.TxID = txID
	in.Recorder.Chronicle(ev, fmt.Sprintf("foreign transfer broadcast %s", txID))

	outcome := <-matcherDone
	in.Log.Info("withdrawal settled", "network", network, "event", ev.EventID, "outcome", string(outcome))
}

// decodeMemo recovers the plaintext destination. The synthetic chain's memo
// is already plaintext; everything else goes through the issuer-key decoder.
func (in *Ingestor) decodeMemo(network string, raw json.RawMessage) (string, error) {
	cipher := string(raw)
	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		cipher = plain
	}
	if network == "xyz" {
		return cipher, nil
	}
	return in.Decoder.Decode(network, cipher)
}

// verifyAddress consults the network verifier, caching positive and
// negative answers per (network, address).
func (in *Ingestor) verifyAddress(ctx context.Context, network, address string) bool {
	if in.verified == nil {
		in.verified, _ = lru.New[string, bool](verifiedCacheSize)
	}
	key := network + ":" + address
	if cached, ok := in.verified.Get(key); ok {
		return cached
	}
	verifier, ok := in.Verifiers[network]
	if !ok {
		return false
	}
	valid, err := verifier.VerifyAccount(ctx, address)
	if err != nil {
		in.Log.Error("address verification failed", "network", network, "address", address, "err", err)
		return false
	}
	in.verified.Add(key, valid)
	return valid
}
