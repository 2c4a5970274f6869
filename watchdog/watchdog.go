// Copyright (C) 2021-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package watchdog tracks worker liveness through a shared heartbeat file.
// Every worker refreshes its key at least every ten seconds; the supervisor
// alerts on stale children, and a child whose supervisor has gone stale
// shuts itself down.
package watchdog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/luxfi/log"

	"github.com/luxfi/gateway/ipc"
)

// Doc is the heartbeat document name on the IPC bus.
const Doc = "watchdog"

// Main is the supervisor's process key.
const Main = "main"

const updateInterval = 10 * time.Second

// ErrMainStale tells a child that the supervisor stopped heartbeating and
// the child should exit.
var ErrMainStale = errors.New("watchdog: main heartbeat stale")

// Beat is one process's heartbeat: last update time, time it was last seen
// dying, and whether it is considered alive. It serializes as a three-element
// array for operator tooling.
type Beat struct {
	Last  int64
	Died  int64
	Alive bool
}

func (b Beat) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]interface{}{b.Last, b.Died, b.Alive})
}

func (b *Beat) UnmarshalJSON(data []byte) error {
	var arr [3]json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	if err := json.Unmarshal(arr[0], &b.Last); err != nil {
		return err
	}
	if err := json.Unmarshal(arr[1], &b.Died); err != nil {
		return err
	}
	return json.Unmarshal(arr[2], &b.Alive)
}

// Watchdog reads and writes the heartbeat file.
type Watchdog struct {
	bus *ipc.Bus
	log log.Logger

	stale  time.Duration
	repeat time.Duration

	// enabled filters which children the supervisor expects heartbeats from.
	enabled func(process string) bool

	now func() time.Time
}

// New returns a watchdog over the bus. The enabled callback may be nil, in
// which case every known child is supervised.
func New(bus *ipc.Bus, logger log.Logger, stale, repeat time.Duration, enabled func(string) bool) *Watchdog {
	if enabled == nil {
		enabled = func(string) bool { return true }
	}
	return &Watchdog{
		bus:     bus,
		log:     logger,
		stale:   stale,
		repeat:  repeat,
		enabled: enabled,
		now:     time.Now,
	}
}

// Initialize scrubs the heartbeat file and seeds every known process as
// alive now.
func (w *Watchdog) Initialize(processes []string) error {
	now := w.now().Unix()
	beats := map[string]Beat{Main: {Last: now, Died: now, Alive: true}}
	for _, p := range processes {
		beats[p] = Beat{Last: now, Died: now, Alive: true}
	}
	return w.bus.Write(Doc, beats)
}

// Update refreshes the heartbeat of process. When called as Main it also
// inspects every child and alerts on the stale ones; when called as a child
// it returns ErrMainStale if the supervisor itself stopped updating.
func (w *Watchdog) Update(process string) error {
	beats := map[string]Beat{}
	if err := w.bus.Read(Doc, &beats); err != nil {
		return fmt.Errorf("watchdog: %w", err)
	}
	now := w.now().Unix()

	if process == Main {
		beats[Main] = Beat{Last: now, Died: now, Alive: true}
		for child, beat := range beats {
			if child == Main || !w.enabled(child) {
				continue
			}
			stale := now - beat.Last
			if stale > int64(w.stale.Seconds()) && (beat.Alive || stale > int64(w.repeat.Seconds())) {
				w.log.Warn("gateway process stale", "process", child, "stale_seconds", stale, "down_since", beat.Died)
				beats[child] = Beat{Last: now, Died: beat.Died, Alive: false}
			}
		}
	} else {
		main, ok := beats[Main]
		if ok && now-main.Last > int64(w.stale.Seconds()) {
			w.log.Warn("main heartbeat stale, shutting down", "process", process, "stale_seconds", now-main.Last)
			return ErrMainStale
		}
		beats[process] = Beat{Last: now, Died: now, Alive: true}
	}
	return w.bus.Write(Doc, beats)
}

// Sleep pauses for the given duration, refreshing the heartbeat every ten
// seconds along the way. It returns early on context cancellation or a stale
// supervisor.
func (w *Watchdog) Sleep(ctx context.Context, process string, pause time.Duration) error {
	for pause > 0 {
		chunk := updateInterval
		if pause < chunk {
			chunk = pause
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(chunk):
		}
		if err := w.Update(process); err != nil {
			return err
		}
		pause -= chunk
	}
	return nil
}
