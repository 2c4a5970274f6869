// Copyright (C) 2021-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package utils

import (
	"sync"
	"time"
)

// MockableClock is a clock that tests can pin and advance. Workers that take
// timeout decisions read time through it so matcher expiry can be exercised
// without real sleeps.
type MockableClock struct {
	mu   sync.RWMutex
	time time.Time
}

// NewMockableClock returns a clock following wall time until Set is called.
func NewMockableClock() *MockableClock {
	return &MockableClock{}
}

// Time returns the current time.
func (c *MockableClock) Time() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.time.IsZero() {
		return time.Now()
	}
	return c.time
}

// Set pins the current time.
func (c *MockableClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.time = t
}

// Advance moves the pinned time forward by duration.
func (c *MockableClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.time.IsZero() {
		c.time = time.Now()
	}
	c.time = c.time.Add(d)
}
