// Copyright (C) 2021-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package parachain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/luxfi/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/gateway/ipc"
	gwrpc "github.com/luxfi/gateway/utils/rpc"
)

func TestEOSIONormalizeFilters(t *testing.T) {
	chain := &EOSIO{Network: "eos"}

	raw := `{
		"transactions": [
			{"trx": "deadbeef-deferred-id-only"},
			{"trx": {"id": "good", "transaction": {"actions": [
				{"account": "eosio.token", "name": "transfer",
				 "data": {"from": "alice", "to": "gate", "quantity": "5.0000 EOS", "memo": "abc def"}}
			]}}},
			{"trx": {"id": "fake-contract", "transaction": {"actions": [
				{"account": "evil.token", "name": "transfer",
				 "data": {"from": "mallory", "to": "gate", "quantity": "5.0000 EOS", "memo": "x"}}
			]}}},
			{"trx": {"id": "wrong-symbol", "transaction": {"actions": [
				{"account": "eosio.token", "name": "transfer",
				 "data": {"from": "bob", "to": "gate", "quantity": "5.0000 WAX", "memo": "x"}}
			]}}},
			{"trx": {"id": "dust", "transaction": {"actions": [
				{"account": "eosio.token", "name": "transfer",
				 "data": {"from": "bob", "to": "gate", "quantity": "0.0100 EOS", "memo": "x"}}
			]}}},
			{"trx": {"id": "long-memo", "transaction": {"actions": [
				{"account": "eosio.token", "name": "transfer",
				 "data": {"from": "bob", "to": "gate", "quantity": "5.0000 EOS", "memo": "elevenchars"}}
			]}}}
		]
	}`
	var block eosBlock
	require.NoError(t, json.Unmarshal([]byte(raw), &block))

	transfers := chain.normalize(block)
	require.Len(t, transfers, 1)
	assert.Equal(t, Transfer{
		To:     "gate",
		From:   "alice",
		Memo:   "abcdef", // spaces stripped
		Hash:   "good",
		Asset:  "EOS",
		Amount: 5,
	}, transfers[0])
}

func TestRippleNormalizeFilters(t *testing.T) {
	raw := `[
		{"TransactionType": "Payment", "Account": "rSender", "Destination": "rGate",
		 "Amount": "50000000", "DestinationTag": 1234567890, "hash": "good",
		 "metaData": {"TransactionResult": "tesSUCCESS"}},
		{"TransactionType": "Payment", "Destination": "rGate",
		 "Amount": {"currency": "USD", "value": "50"}, "DestinationTag": 1234567890,
		 "metaData": {"TransactionResult": "tesSUCCESS"}},
		{"TransactionType": "Payment", "Destination": "rGate",
		 "Amount": "50000000", "DestinationTag": 1234567890,
		 "metaData": {"TransactionResult": "tecUNFUNDED"}},
		{"TransactionType": "Payment", "Destination": "rGate",
		 "Amount": "50000000", "DestinationTag": 99,
		 "metaData": {"TransactionResult": "tesSUCCESS"}},
		{"TransactionType": "Payment", "Destination": "rGate",
		 "Amount": "50000000",
		 "metaData": {"TransactionResult": "tesSUCCESS"}},
		{"TransactionType": "Payment", "Destination": "rGate",
		 "Amount": "50000", "DestinationTag": 1234567890,
		 "metaData": {"TransactionResult": "tesSUCCESS"}},
		{"TransactionType": "OfferCreate", "Destination": "rGate",
		 "Amount": "50000000", "DestinationTag": 1234567890,
		 "metaData": {"TransactionResult": "tesSUCCESS"}}
	]`
	var trxs []rippleTransaction
	require.NoError(t, json.Unmarshal([]byte(raw), &trxs))

	transfers := normalizeRipple(trxs)
	require.Len(t, transfers, 1)
	assert.Equal(t, "rGate", transfers[0].To)
	assert.Equal(t, "1234567890", transfers[0].Memo)
	assert.Equal(t, 50.0, transfers[0].Amount)
	assert.Equal(t, "XRP", transfers[0].Asset)
}

func TestLTCBTCFetchesExactBlock(t *testing.T) {
	var requestedHash string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string        `json:"method"`
			Params []interface{} `json:"params"`
			ID     uint64        `json:"id"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		switch req.Method {
		case "getblockhash":
			// The worker must ask for the exact block, not the tip.
			assert.Equal(t, float64(500), req.Params[0])
			json.NewEncoder(w).Encode(map[string]interface{}{"result": "hash500", "id": req.ID})
		case "getblock":
			requestedHash = req.Params[0].(string)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"result": map[string]interface{}{
					"tx": []map[string]interface{}{
						{
							"txid": "t1",
							"vout": []map[string]interface{}{
								{"value": 0.5, "scriptPubKey": map[string]interface{}{"addresses": []string{"bc1qaddr"}}},
								{"value": 0.1, "scriptPubKey": map[string]interface{}{"addresses": []string{"a", "b"}}},
								{"value": 0.2, "scriptPubKey": map[string]interface{}{}},
							},
						},
					},
				},
				"id": req.ID,
			})
		}
	}))
	defer srv.Close()

	chain := &LTCBTC{Network: "btc", Client: &gwrpc.BitcoindClient{URL: srv.URL}, Log: log.Root()}
	fragment, missing, err := chain.Apodize(context.Background(), []int64{500})
	require.NoError(t, err)
	assert.Empty(t, missing)
	assert.Equal(t, "hash500", requestedHash)

	transfers := fragment["500"]
	require.Len(t, transfers, 1)
	assert.Equal(t, Transfer{To: "bc1qaddr", Hash: "t1", Asset: "BTC", Amount: 0.5}, transfers[0])
}

func TestLTCBTCSingleAddressModernField(t *testing.T) {
	vout := utxoVout{Value: 1}
	vout.ScriptPubKey.Address = "bc1modern"
	addr, ok := singleAddress(vout)
	require.True(t, ok)
	assert.Equal(t, "bc1modern", addr)
}

func TestXYZHeadAdvancesEveryThreeSeconds(t *testing.T) {
	now := time.Unix(300, 0)
	chain := &XYZ{Network: "xyz", Now: func() time.Time { return now }}
	head, err := chain.Head(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(100), head)

	now = now.Add(3 * time.Second)
	head, _ = chain.Head(context.Background())
	assert.Equal(t, int64(101), head)
}

func TestXYZApodizeDrainsQueue(t *testing.T) {
	bus, err := ipc.NewBus(t.TempDir(), nil)
	require.NoError(t, err)
	chain := &XYZ{Network: "xyz", Bus: bus}

	require.NoError(t, chain.Enqueue(XYZTransaction{Type: "transfer", Quantity: 150000, To: "gate", Public: "client", Memo: "m1"}))
	require.NoError(t, chain.Enqueue(XYZTransaction{Type: "transfer", Quantity: 250000, To: "gate", Public: "client", BlockNum: 999}))
	require.NoError(t, chain.Enqueue(XYZTransaction{Type: "noise", Quantity: 1, To: "gate", Public: "client"}))

	fragment, missing, err := chain.Apodize(context.Background(), []int64{42})
	require.NoError(t, err)
	assert.Empty(t, missing)

	transfers := fragment["42"]
	require.Len(t, transfers, 1)
	assert.Equal(t, 1.5, transfers[0].Amount) // precision 5
	assert.Equal(t, "m1", transfers[0].Memo)
	assert.Equal(t, "XYZ", transfers[0].Asset)
	assert.NotEmpty(t, transfers[0].Hash)

	// The future-pinned entry is still queued; the consumed one is gone.
	var queue []XYZTransaction
	require.NoError(t, bus.Read(XYZQueueDoc, &queue))
	require.Len(t, queue, 2)
	assert.Equal(t, int64(999), queue[0].BlockNum)

	// Its block arrives later.
	fragment, _, err = chain.Apodize(context.Background(), []int64{999})
	require.NoError(t, err)
	require.Len(t, fragment["999"], 1)
	assert.Equal(t, 2.5, fragment["999"][0].Amount)
}
