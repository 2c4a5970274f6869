// Copyright (C) 2021-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package memo generates and interprets the per-event correlation memos
// used on networks where a single deposit address is multiplexed by memo.
package memo

import (
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// Encode derives a compact deposit memo from a random seed. Ripple memos
// collapse to a ten-digit decimal (the destination tag space); every other
// memo network gets a ten-character lowercase base32 string.
func Encode(network string, seed int64) string {
	digest := sha256.Sum256([]byte(fmt.Sprintf("%d", seed)))
	shaMsg := hex.EncodeToString(digest[:])
	if network == "xrp" {
		// Interpret the hexdigest's own bytes as a big integer and carve a
		// ten-digit window out of its decimal expansion.
		n := new(big.Int)
		n.SetString(hex.EncodeToString([]byte(shaMsg)), 16)
		dec := n.String()
		tag := dec[10:20]
		if tag[0] == '0' {
			tag = ("1" + tag)[:10]
		}
		return tag
	}
	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	return strings.ToLower(enc.EncodeToString([]byte(shaMsg)))[:10]
}

// Decoder recovers a plaintext foreign address from a withdrawal memo. The
// production decoder decrypts with the issuer's memo key; it is supplied at
// wiring time. The synthetic test chain carries its memo in the clear.
type Decoder interface {
	Decode(network, cipher string) (string, error)
}

// Passthrough returns the memo unchanged. It serves the synthetic xyz
// network and tests.
type Passthrough struct{}

func (Passthrough) Decode(_, cipher string) (string, error) { return cipher, nil }
