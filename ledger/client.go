// Copyright (C) 2021-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package ledger speaks to the host ledger's public websocket API and
// carries the gateway's issue and reserve primitives. Signed operations are
// opaque calls behind the Signer interface; the gateway trusts its
// configured keys absolutely and never inspects signing internals.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/luxfi/log"
)

// ErrNoNodes is returned when the client has no endpoints to dial.
var ErrNoNodes = errors.New("ledger: no nodes configured")

// reconnectEvery bounds how many queries one connection serves before the
// client redials a randomly chosen node (possibly the same one), spreading
// load and shedding quietly broken connections.
const reconnectEvery = 100

// Client is one websocket connection to a host-ledger node. Calls are
// serialized; every maven owns its own client.
type Client struct {
	nodes   []string
	timeout time.Duration
	log     log.Logger

	mu    sync.Mutex
	conn  *websocket.Conn
	seq   uint64
	dbAPI *int
	uses  int
}

// Dial connects to a randomly chosen node.
func Dial(ctx context.Context, nodes []string, timeout time.Duration, logger log.Logger) (*Client, error) {
	if len(nodes) == 0 {
		return nil, ErrNoNodes
	}
	c := &Client{nodes: nodes, timeout: timeout, log: logger}
	if err := c.reconnect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// reconnect closes any existing connection and dials a fresh node. Callers
// hold c.mu or have exclusive access.
func (c *Client) reconnect(ctx context.Context) error {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.dbAPI = nil
	c.uses = 0
	node := c.nodes[rand.Intn(len(c.nodes))]
	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, node, nil)
	if err != nil {
		return fmt.Errorf("ledger: dial %s: %w", node, err)
	}
	c.log.Debug("ledger node connected", "node", node)
	c.conn = conn
	return nil
}

// Rotate abandons the current connection and dials a randomly chosen node,
// which may be the same one.
func (c *Client) Rotate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnect(ctx)
}

// Close shuts the connection down.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

type wsRequest struct {
	ID     uint64        `json:"id"`
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

type wsResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

// call performs one request/response round trip on the given API.
func (c *Client) call(apiID interface{}, method string, params interface{}) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, errors.New("ledger: not connected")
	}
	c.seq++
	req := wsRequest{ID: c.seq, Method: "call", Params: []interface{}{apiID, method, params}}

	deadline := time.Now().Add(c.timeout)
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("ledger: write %s: %w", method, err)
	}
	_ = c.conn.SetReadDeadline(deadline)
	for {
		var resp wsResponse
		if err := c.conn.ReadJSON(&resp); err != nil {
			return nil, fmt.Errorf("ledger: read %s: %w", method, err)
		}
		if resp.ID != c.seq {
			// Stale reply from a timed-out predecessor; skip it.
			continue
		}
		if len(resp.Error) > 0 {
			return nil, fmt.Errorf("ledger: %s: %s", method, resp.Error)
		}
		return resp.Result, nil
	}
}

// Database performs one database-API query, resolving the API id on first
// use of the connection.
func (c *Client) Database(method string, params interface{}, out interface{}) error {
	c.mu.Lock()
	api := c.dbAPI
	c.mu.Unlock()
	if api == nil {
		raw, err := c.call(1, "database", []interface{}{})
		if err != nil {
			return err
		}
		var id int
		if err := json.Unmarshal(raw, &id); err != nil {
			return fmt.Errorf("ledger: database api id: %w", err)
		}
		c.mu.Lock()
		c.dbAPI = &id
		c.mu.Unlock()
		api = &id
	}
	if params == nil {
		params = []interface{}{}
	}
	raw, err := c.call(*api, method, params)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.uses++
	c.mu.Unlock()
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// Worn reports whether the connection has served its query budget and
// should be rotated.
func (c *Client) Worn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uses >= reconnectEvery
}

// DynamicGlobalProperties is the slice of chain state the ingestor needs.
type DynamicGlobalProperties struct {
	Time                     string `json:"time"`
	LastIrreversibleBlockNum int64  `json:"last_irreversible_block_num"`
}

// HeadTime parses the ledger's block timestamp.
func (d DynamicGlobalProperties) HeadTime() (time.Time, error) {
	return time.Parse("2006-01-02T15:04:05", d.Time)
}

// GetDynamicGlobalProperties fetches the current chain state.
func (c *Client) GetDynamicGlobalProperties() (DynamicGlobalProperties, error) {
	var dgp DynamicGlobalProperties
	err := c.Database("get_dynamic_global_properties", []interface{}{}, &dgp)
	return dgp, err
}

// GetBlockTransactions returns the raw transaction list of one block.
// Transactions stay raw JSON so mavens' opinions can be compared verbatim.
func (c *Client) GetBlockTransactions(blockNum int64) ([]json.RawMessage, error) {
	var block struct {
		Transactions []json.RawMessage `json:"transactions"`
	}
	if err := c.Database("get_block", []interface{}{blockNum}, &block); err != nil {
		return nil, err
	}
	if block.Transactions == nil {
		block.Transactions = []json.RawMessage{}
	}
	return block.Transactions, nil
}

// AccountExists checks an account name against the ledger.
func (c *Client) AccountExists(name string) (bool, error) {
	var ret [][2]string
	if err := c.Database("lookup_accounts", []interface{}{name, 1}, &ret); err != nil {
		return false, err
	}
	return len(ret) > 0 && ret[0][0] == name, nil
}
