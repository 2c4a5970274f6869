// Copyright (C) 2021-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package watchdog

import (
	"context"
	"testing"
	"time"

	"github.com/luxfi/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/gateway/ipc"
)

func newTestWatchdog(t *testing.T) (*Watchdog, *time.Time) {
	t.Helper()
	bus, err := ipc.NewBus(t.TempDir(), nil)
	require.NoError(t, err)
	now := time.Unix(1700000000, 0)
	w := New(bus, log.Root(), 60*time.Second, 600*time.Second, nil)
	w.now = func() time.Time { return now }
	return w, &now
}

func TestBeatRoundTrip(t *testing.T) {
	in := Beat{Last: 10, Died: 20, Alive: true}
	raw, err := in.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `[10, 20, true]`, string(raw))

	var out Beat
	require.NoError(t, out.UnmarshalJSON(raw))
	assert.Equal(t, in, out)
}

func TestChildUpdateRefreshesOwnBeat(t *testing.T) {
	w, now := newTestWatchdog(t)
	require.NoError(t, w.Initialize([]string{"parachains"}))

	*now = now.Add(30 * time.Second)
	require.NoError(t, w.Update("parachains"))

	beats := map[string]Beat{}
	require.NoError(t, w.bus.Read(Doc, &beats))
	assert.Equal(t, now.Unix(), beats["parachains"].Last)
}

func TestChildExitsWhenMainStale(t *testing.T) {
	w, now := newTestWatchdog(t)
	require.NoError(t, w.Initialize([]string{"deposits"}))

	*now = now.Add(120 * time.Second)
	err := w.Update("deposits")
	require.ErrorIs(t, err, ErrMainStale)
}

func TestMainMarksStaleChildDead(t *testing.T) {
	w, now := newTestWatchdog(t)
	require.NoError(t, w.Initialize([]string{"withdrawals"}))

	*now = now.Add(120 * time.Second)
	require.NoError(t, w.Update(Main))

	beats := map[string]Beat{}
	require.NoError(t, w.bus.Read(Doc, &beats))
	assert.False(t, beats["withdrawals"].Alive)
	assert.True(t, beats[Main].Alive)
}

func TestDisabledChildNotSupervised(t *testing.T) {
	bus, err := ipc.NewBus(t.TempDir(), nil)
	require.NoError(t, err)
	now := time.Unix(1700000000, 0)
	w := New(bus, log.Root(), 60*time.Second, 600*time.Second, func(p string) bool { return p != "ingots" })
	w.now = func() time.Time { return now }
	require.NoError(t, w.Initialize([]string{"ingots"}))

	now = now.Add(time.Hour)
	require.NoError(t, w.Update(Main))

	beats := map[string]Beat{}
	require.NoError(t, bus.Read(Doc, &beats))
	assert.True(t, beats["ingots"].Alive)
}

func TestSleepHonorsCancellation(t *testing.T) {
	w, _ := newTestWatchdog(t)
	require.NoError(t, w.Initialize(nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := w.Sleep(ctx, Main, time.Minute)
	require.ErrorIs(t, err, context.Canceled)
}
