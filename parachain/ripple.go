// Copyright (C) 2021-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package parachain

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/luxfi/log"

	gwrpc "github.com/luxfi/gateway/utils/rpc"
)

// dropsPerXRP converts the integer drop amounts of native payments.
const dropsPerXRP = 1e6

// Ripple reads the XRP ledger through a rippled JSON API, confirming at the
// validated ledger.
type Ripple struct {
	Nodes   []string
	Request time.Duration
	Log     log.Logger

	HTTPClient *http.Client
}

func (c *Ripple) call(ctx context.Context, method string, params, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.Request)
	defer cancel()
	body := map[string]interface{}{
		"method": method,
		"params": []interface{}{params},
	}
	return gwrpc.PostJSON(ctx, c.HTTPClient, c.Nodes[rand.Intn(len(c.Nodes))], body, out)
}

// Head returns the current validated ledger index.
func (c *Ripple) Head(ctx context.Context) (int64, error) {
	var ret struct {
		Result struct {
			Ledger struct {
				LedgerIndex json.Number `json:"ledger_index"`
			} `json:"ledger"`
		} `json:"result"`
	}
	err := c.call(ctx, "ledger", map[string]interface{}{"ledger_index": "validated"}, &ret)
	if err != nil {
		return 0, err
	}
	return ret.Result.Ledger.LedgerIndex.Int64()
}

// VerifyAccount reports whether account exists on the ledger.
func (c *Ripple) VerifyAccount(ctx context.Context, account string) (bool, error) {
	var ret struct {
		Result map[string]json.RawMessage `json:"result"`
	}
	err := gwrpc.RetryForever(ctx, c.Log, "ripple account_info", func() error {
		ret.Result = nil
		return c.call(ctx, "account_info", map[string]interface{}{
			"account":      account,
			"strict":       true,
			"ledger_index": "current",
			"queue":        true,
		}, &ret)
	})
	if err != nil {
		return false, err
	}
	_, ok := ret.Result["account_data"]
	return ok, nil
}

type rippleTransaction struct {
	TransactionType string `json:"TransactionType"`
	Account         string `json:"Account"`
	Destination     string `json:"Destination"`
	// Amount is a string of drops for native payments and an object for
	// issued currencies; only native payments are gateway-relevant.
	Amount         json.RawMessage `json:"Amount"`
	DestinationTag *uint64         `json:"DestinationTag"`
	Hash           string          `json:"hash"`
	MetaData       struct {
		TransactionResult string `json:"TransactionResult"`
	} `json:"metaData"`
}

// Apodize fetches each validated ledger with expanded transactions and keeps
// only successful native payments carrying a ten-digit destination tag.
func (c *Ripple) Apodize(ctx context.Context, blockNums []int64) (Cache, []int64, error) {
	fragment := make(Cache, len(blockNums))
	for _, blockNum := range blockNums {
		var ret struct {
			Result struct {
				Ledger struct {
					Transactions []rippleTransaction `json:"transactions"`
				} `json:"ledger"`
			} `json:"result"`
		}
		err := gwrpc.RetryForever(ctx, c.Log, "ripple ledger", func() error {
			ret.Result.Ledger.Transactions = nil
			return c.call(ctx, "ledger", map[string]interface{}{
				"ledger_index": blockNum,
				"transactions": true,
				"expand":       true,
			}, &ret)
		})
		if err != nil {
			return nil, nil, err
		}
		fragment[strconv.FormatInt(blockNum, 10)] = normalizeRipple(ret.Result.Ledger.Transactions)
	}
	return fragment, nil, nil
}

func normalizeRipple(transactions []rippleTransaction) []Transfer {
	transfers := []Transfer{}
	for _, trx := range transactions {
		if trx.TransactionType != "Payment" || trx.MetaData.TransactionResult != "tesSUCCESS" {
			continue
		}
		// Issued-currency amounts arrive as JSON objects; skip them.
		var drops string
		if err := json.Unmarshal(trx.Amount, &drops); err != nil {
			continue
		}
		rawDrops, err := strconv.ParseInt(drops, 10, 64)
		if err != nil {
			continue
		}
		amount := float64(rawDrops) / dropsPerXRP
		if trx.DestinationTag == nil {
			continue
		}
		memo := strconv.FormatUint(*trx.DestinationTag, 10)
		if len(memo) != 10 || amount <= 0.1 {
			continue
		}
		transfers = append(transfers, Transfer{
			To:     trx.Destination,
			From:   trx.Account,
			Memo:   memo,
			Hash:   trx.Hash,
			Asset:  "XRP",
			Amount: amount,
		})
	}
	return transfers
}
