// Copyright (C) 2021-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package parachain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/luxfi/gateway/ipc"
)

// XYZQueueDoc is the transfer-queue document the synthetic chain draws its
// transactions from. Test harnesses enqueue entries; the parachain worker
// consumes them.
const XYZQueueDoc = "xyz_transactions"

// xyzPrecision is the graphene-style integer precision of queued quantities.
const xyzPrecision = 1e5

// XYZTransaction is one queued synthetic transfer.
type XYZTransaction struct {
	Type     string `json:"type"`
	Quantity int64  `json:"quantity"`
	To       string `json:"to"`
	Public   string `json:"public"`
	Memo     string `json:"memo"`
	// BlockNum pins the entry to a block; zero or negative means the next
	// block examined.
	BlockNum int64 `json:"block_num"`
}

// XYZ emulates a foreign chain for end-to-end exercise without any node:
// block numbers advance every three seconds of wall time and transactions
// come from a local queue file.
type XYZ struct {
	Network string
	Bus     *ipc.Bus

	// Now is swappable so tests can pin the chain height.
	Now func() time.Time
}

func (c *XYZ) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Head returns the emulated block number, one third of unix time.
func (c *XYZ) Head(context.Context) (int64, error) {
	return c.now().Unix() / 3, nil
}

// VerifyAccount always succeeds; there is nothing to check against.
func (c *XYZ) VerifyAccount(context.Context, string) (bool, error) {
	return true, nil
}

// Enqueue appends a transaction to the synthetic queue.
func (c *XYZ) Enqueue(trx XYZTransaction) error {
	queue := c.readQueue()
	queue = append(queue, trx)
	return c.Bus.Write(XYZQueueDoc, queue)
}

// readQueue treats an absent queue document as empty without paying the
// bus's unreadable-document retry ladder.
func (c *XYZ) readQueue() []XYZTransaction {
	if !c.Bus.Exists(XYZQueueDoc) {
		return nil
	}
	var queue []XYZTransaction
	_ = c.Bus.Read(XYZQueueDoc, &queue)
	return queue
}

// Apodize drains queue entries destined for the given blocks and normalizes
// them with a per-entry hash derived from position, block, and payload.
func (c *XYZ) Apodize(_ context.Context, blockNums []int64) (Cache, []int64, error) {
	queue := c.readQueue()

	asset := strings.ToUpper(c.Network)
	fragment := make(Cache, len(blockNums))
	consumed := make(map[int]bool, len(queue))
	for _, blockNum := range blockNums {
		transfers := []Transfer{}
		for idx, trx := range queue {
			if consumed[idx] || trx.Type != "transfer" {
				continue
			}
			if trx.BlockNum > 0 && trx.BlockNum != blockNum {
				continue
			}
			consumed[idx] = true
			transfers = append(transfers, Transfer{
				To:     trx.To,
				From:   trx.Public,
				Memo:   trx.Memo,
				Hash:   xyzHash(idx, blockNum, trx),
				Asset:  asset,
				Amount: float64(trx.Quantity) / xyzPrecision,
			})
		}
		fragment[strconv.FormatInt(blockNum, 10)] = transfers
	}

	// Entries pinned to future blocks stay queued.
	var remainder []XYZTransaction
	for idx, trx := range queue {
		if !consumed[idx] {
			remainder = append(remainder, trx)
		}
	}
	if remainder == nil {
		remainder = []XYZTransaction{}
	}
	if err := c.Bus.Write(XYZQueueDoc, remainder); err != nil {
		return nil, nil, err
	}
	return fragment, nil, nil
}

func xyzHash(idx int, blockNum int64, trx XYZTransaction) string {
	payload, _ := json.Marshal(trx)
	digest := sha256.Sum256([]byte(fmt.Sprintf("%d%d%s", idx, blockNum, payload)))
	return hex.EncodeToString(digest[:])
}
