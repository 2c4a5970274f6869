// Copyright (C) 2021-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package rpc wraps the handful of HTTP RPC shapes the foreign chains speak:
// JSON-RPC 2.0 (generic nodes), bitcoind's JSON-RPC 1.0 dialect, and the
// plain JSON-over-POST style of the EOSIO and Ripple public APIs.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	rpcjson "github.com/gorilla/rpc/v2/json2"
	"github.com/luxfi/log"
)

// ErrStatus marks a response that arrived but carried a non-success HTTP
// status. Callers can distinguish it from transport failures: the node
// answered, it just said no.
var ErrStatus = errors.New("non-success status")

// CleanlyCloseBody drains and closes an HTTP response body to prevent
// HTTP/2 GOAWAY errors caused by closing bodies with unread data.
// See: https://github.com/golang/go/issues/46071
func CleanlyCloseBody(body io.ReadCloser) error {
	if body == nil {
		return nil
	}
	// Drain any remaining data to allow connection reuse
	_, _ = io.Copy(io.Discard, body)
	return body.Close()
}

// SendJSONRequest issues one JSON-RPC 2.0 call against uri and decodes the
// response into reply.
func SendJSONRequest(
	ctx context.Context,
	uri *url.URL,
	method string,
	params interface{},
	reply interface{},
) error {
	requestBodyBytes, err := rpcjson.EncodeClientRequest(method, params)
	if err != nil {
		return fmt.Errorf("failed to encode client params: %w", err)
	}

	request, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		uri.String(),
		bytes.NewBuffer(requestBodyBytes),
	)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(request)
	if err != nil {
		return fmt.Errorf("failed to issue request: %w", err)
	}
	defer CleanlyCloseBody(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("received status code: %d", resp.StatusCode)
	}

	if err := rpcjson.DecodeClientResponse(resp.Body, reply); err != nil {
		return fmt.Errorf("failed to decode client response: %w", err)
	}
	return nil
}

// PostJSON posts body as JSON to rawurl and decodes the response into out.
// A nil body sends an empty POST, which the EOSIO chain API accepts for
// parameterless calls.
func PostJSON(ctx context.Context, client *http.Client, rawurl string, body, out interface{}) error {
	var buf io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		buf = bytes.NewReader(payload)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, rawurl, buf)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(request)
	if err != nil {
		return fmt.Errorf("issue request: %w", err)
	}
	defer CleanlyCloseBody(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// BitcoindClient speaks the JSON-RPC 1.0 dialect of bitcoind and litecoind,
// with credentials carried in the node URL.
type BitcoindClient struct {
	// URL of the node, including basic-auth userinfo and, for litecoind,
	// the /wallet/<name> suffix.
	URL string

	HTTPClient *http.Client

	id uint64
}

type bitcoindRequest struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
	ID     uint64        `json:"id"`
}

type bitcoindError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type bitcoindResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *bitcoindError  `json:"error"`
}

// Call invokes one RPC method and decodes the result into out.
func (c *BitcoindClient) Call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	req := bitcoindRequest{Method: method, Params: params, ID: atomic.AddUint64(&c.id, 1)}
	var resp bitcoindResponse
	if err := PostJSON(ctx, c.HTTPClient, c.URL, req, &resp); err != nil {
		return fmt.Errorf("bitcoind %s: %w", method, err)
	}
	if resp.Error != nil {
		return fmt.Errorf("bitcoind %s: %s (code %d)", method, resp.Error.Message, resp.Error.Code)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(resp.Result, out)
}

// RetryForever runs op until it succeeds or ctx is cancelled, backing off
// exponentially between attempts. Parachain block fetches prefer blocking
// here indefinitely over skipping a block: a hole in the cache would cause
// missed transfers.
func RetryForever(ctx context.Context, logger log.Logger, what string, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxInterval = 30 * time.Second
	policy.MaxElapsedTime = 0 // never give up
	attempt := 0
	return backoff.Retry(func() error {
		if err := op(); err != nil {
			attempt++
			if logger != nil && attempt%10 == 1 {
				logger.Warn("rpc retry", "what", what, "attempt", attempt, "err", err)
			}
			return err
		}
		return nil
	}, backoff.WithContext(policy, ctx))
}
