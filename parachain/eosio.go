// Copyright (C) 2021-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package parachain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/luxfi/log"
	"golang.org/x/sync/errgroup"

	gwrpc "github.com/luxfi/gateway/utils/rpc"
)

// eosBlockFanout bounds how many blocks are fetched concurrently. The half
// second block time makes serial fetching fall behind the chain.
const eosBlockFanout = 8

// EOSIO reads an EOSIO-family chain through its v1 chain API, confirming at
// the irreversible head.
type EOSIO struct {
	Network string
	Nodes   []string
	Request time.Duration
	Log     log.Logger

	HTTPClient *http.Client
}

func (c *EOSIO) node() string {
	return c.Nodes[rand.Intn(len(c.Nodes))]
}

func (c *EOSIO) post(ctx context.Context, path string, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.Request)
	defer cancel()
	return gwrpc.PostJSON(ctx, c.HTTPClient, c.node()+path, body, out)
}

// Head returns the last irreversible block number.
func (c *EOSIO) Head(ctx context.Context) (int64, error) {
	var info struct {
		LastIrreversibleBlockNum int64 `json:"last_irreversible_block_num"`
	}
	if err := c.post(ctx, "/v1/chain/get_info", nil, &info); err != nil {
		return 0, err
	}
	return info.LastIrreversibleBlockNum, nil
}

// VerifyAccount reports whether the 12-character account name exists. The
// chain API answers unknown accounts with an error status, so that shape is
// a definitive no rather than a transport fault.
func (c *EOSIO) VerifyAccount(ctx context.Context, account string) (bool, error) {
	var ret map[string]json.RawMessage
	err := gwrpc.RetryForever(ctx, c.Log, "eosio get_account", func() error {
		ret = nil
		err := c.post(ctx, "/v1/chain/get_account", map[string]string{"account_name": account}, &ret)
		if errors.Is(err, gwrpc.ErrStatus) {
			return nil
		}
		return err
	})
	if err != nil {
		return false, err
	}
	_, ok := ret["created"]
	return ok, nil
}

type eosAction struct {
	Account string `json:"account"`
	Name    string `json:"name"`
	Data    struct {
		From     string `json:"from"`
		To       string `json:"to"`
		Quantity string `json:"quantity"`
		Memo     string `json:"memo"`
	} `json:"data"`
}

type eosTrx struct {
	ID          string `json:"id"`
	Transaction struct {
		Actions []eosAction `json:"actions"`
	} `json:"transaction"`
}

type eosBlock struct {
	Transactions []struct {
		// Trx is an object for inline transactions and a bare id string for
		// deferred ones; the latter carry no actions and are skipped.
		Trx json.RawMessage `json:"trx"`
	} `json:"transactions"`
}

// Apodize concurrently fetches the given blocks and keeps only genuine
// eosio.token transfers of the gateway's own symbol.
func (c *EOSIO) Apodize(ctx context.Context, blockNums []int64) (Cache, []int64, error) {
	var mu sync.Mutex
	fragment := make(Cache, len(blockNums))

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(eosBlockFanout)
	for _, blockNum := range blockNums {
		blockNum := blockNum
		group.Go(func() error {
			var block eosBlock
			err := gwrpc.RetryForever(gctx, c.Log, fmt.Sprintf("eosio get_block %d", blockNum), func() error {
				block = eosBlock{}
				return c.post(gctx, "/v1/chain/get_block", map[string]string{
					"block_num_or_id": strconv.FormatInt(blockNum, 10),
				}, &block)
			})
			if err != nil {
				return err
			}
			mu.Lock()
			fragment[strconv.FormatInt(blockNum, 10)] = c.normalize(block)
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, nil, err
	}
	return fragment, nil, nil
}

func (c *EOSIO) normalize(block eosBlock) []Transfer {
	transfers := []Transfer{}
	symbol := strings.ToUpper(c.Network)
	for _, wrapper := range block.Transactions {
		var trx eosTrx
		if err := json.Unmarshal(wrapper.Trx, &trx); err != nil {
			continue // deferred transaction, id string only
		}
		for _, action := range trx.Transaction.Actions {
			quantity := strings.SplitN(action.Data.Quantity, " ", 2)
			if len(quantity) != 2 {
				continue
			}
			amount, err := strconv.ParseFloat(quantity[0], 64)
			if err != nil {
				continue
			}
			memo := strings.ReplaceAll(action.Data.Memo, " ", "")
			// Only the genuine token contract; everything else can fake a
			// transfer action.
			if action.Account != "eosio.token" ||
				action.Name != "transfer" ||
				strings.ToUpper(quantity[1]) != symbol ||
				amount <= 0.01 ||
				len(memo) > 10 {
				continue
			}
			transfers = append(transfers, Transfer{
				To:     action.Data.To,
				From:   action.Data.From,
				Memo:   memo,
				Hash:   trx.ID,
				Asset:  symbol,
				Amount: amount,
			})
		}
	}
	return transfers
}
