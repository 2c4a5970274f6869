// Copyright (C) 2021-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package utils holds small helpers shared across the gateway.
package utils

import (
	"fmt"
	"strings"
	"time"
)

// Precisely formats a float as a string truncated (not rounded) to exactly
// the given number of decimal places. Truncation matters: rounding up could
// report more than was actually received.
func Precisely(number float64, precision int) string {
	num := fmt.Sprintf("%.99f", number)
	num += strings.Repeat("0", precision)
	dot := strings.Index(num, ".")
	if precision == 0 {
		return num[:dot]
	}
	return num[:dot+precision+1]
}

// Roughly reports whether amount is within ±0.01% of reference. It is the
// tolerance used when matching an observed foreign-chain transfer against a
// requested withdrawal amount.
func Roughly(amount, reference float64) bool {
	return 0.9999*reference <= amount && amount <= 1.0001*reference
}

// Microseconds returns the current unix time in microseconds. Used as the
// per-event nonce.
func Microseconds() int64 {
	return time.Now().UnixMicro()
}

// EventID builds a fixed-width event identifier such as "D0000000042" or
// "W0000000007".
func EventID(prefix string, number uint64) string {
	return fmt.Sprintf("%s%010d", prefix, number)
}
