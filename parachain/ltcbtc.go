// Copyright (C) 2021-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package parachain

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/luxfi/log"

	gwrpc "github.com/luxfi/gateway/utils/rpc"
)

// LTCBTC reads a bitcoind-family node (Bitcoin or Litecoin), confirming at
// the best block. Outputs have no memo and no usable sender; deposits on
// these networks are distinguished purely by address.
type LTCBTC struct {
	Network string
	Client  *gwrpc.BitcoindClient
	Log     log.Logger
}

// Head returns the node's best block height.
func (c *LTCBTC) Head(ctx context.Context) (int64, error) {
	var height int64
	err := c.Client.Call(ctx, "getblockcount", nil, &height)
	return height, err
}

// VerifyAccount reports whether account parses as a valid address.
func (c *LTCBTC) VerifyAccount(ctx context.Context, account string) (bool, error) {
	var ret struct {
		IsValid bool `json:"isvalid"`
	}
	err := gwrpc.RetryForever(ctx, c.Log, c.Network+" validateaddress", func() error {
		return c.Client.Call(ctx, "validateaddress", []interface{}{account}, &ret)
	})
	if err != nil {
		return false, err
	}
	return ret.IsValid, nil
}

type utxoVout struct {
	Value        float64 `json:"value"`
	ScriptPubKey struct {
		Address   string   `json:"address"`
		Addresses []string `json:"addresses"`
	} `json:"scriptPubKey"`
}

type utxoTrx struct {
	TxID string     `json:"txid"`
	Vout []utxoVout `json:"vout"`
}

type utxoBlock struct {
	Tx []utxoTrx `json:"tx"`
}

// Apodize fetches each requested block by its exact number, never the tip,
// and emits one Transfer per single-address output.
func (c *LTCBTC) Apodize(ctx context.Context, blockNums []int64) (Cache, []int64, error) {
	fragment := make(Cache, len(blockNums))
	for _, blockNum := range blockNums {
		var block utxoBlock
		err := gwrpc.RetryForever(ctx, c.Log, fmt.Sprintf("%s getblock %d", c.Network, blockNum), func() error {
			var hash string
			if err := c.Client.Call(ctx, "getblockhash", []interface{}{blockNum}, &hash); err != nil {
				return err
			}
			block = utxoBlock{}
			// Verbosity 2 returns fully decoded transactions in one call.
			return c.Client.Call(ctx, "getblock", []interface{}{hash, 2}, &block)
		})
		if err != nil {
			return nil, nil, err
		}
		fragment[strconv.FormatInt(blockNum, 10)] = c.normalize(block)
	}
	return fragment, nil, nil
}

func (c *LTCBTC) normalize(block utxoBlock) []Transfer {
	asset := strings.ToUpper(c.Network)
	transfers := []Transfer{}
	for _, trx := range block.Tx {
		for _, vout := range trx.Vout {
			to, ok := singleAddress(vout)
			if !ok {
				continue
			}
			transfers = append(transfers, Transfer{
				To:     to,
				Hash:   trx.TxID,
				Asset:  asset,
				Amount: vout.Value,
			})
		}
	}
	return transfers
}

// singleAddress returns the output's address when it has exactly one; bare
// multisig and nonstandard scripts are not deposit-relevant.
func singleAddress(vout utxoVout) (string, bool) {
	if len(vout.ScriptPubKey.Addresses) == 1 {
		return vout.ScriptPubKey.Addresses[0], true
	}
	if len(vout.ScriptPubKey.Addresses) == 0 && vout.ScriptPubKey.Address != "" {
		return vout.ScriptPubKey.Address, true
	}
	return "", false
}
