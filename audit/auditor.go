// Copyright (C) 2021-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package audit

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/luxfi/log"
	"github.com/spf13/cast"

	"github.com/luxfi/gateway/ipc"
)

// Recorder is the chronicle surface handed to workers.
type Recorder interface {
	Chronicle(ev Event, msg string)
}

// Auditor writes chronicle lines through the IPC bus and relational rows
// through sqlite. It is safe for concurrent use; sqlite lock contention is
// absorbed by a backoff retry.
type Auditor struct {
	bus *ipc.Bus
	db  *sql.DB
	log log.Logger

	now func() time.Time
}

var _ Recorder = (*Auditor)(nil)

// New returns an auditor over the given bus and database. The database may
// be nil, in which case only chronicle files are written.
func New(bus *ipc.Bus, db *sql.DB, logger log.Logger) *Auditor {
	return &Auditor{bus: bus, db: db, log: logger, now: time.Now}
}

// Chronicle appends the event to its network's monthly archive and, for
// relational processes, inserts an audit row. Chronicling never propagates
// an error to the caller: a failed audit write is logged and the business
// flow continues.
func (a *Auditor) Chronicle(ev Event, msg string) {
	hdr := ev.header()
	now := a.now()
	network := strings.ToUpper(hdr.Network)

	record := map[string]interface{}{
		"msg":          msg,
		"unix":         now.Unix(),
		"event_unix":   now.Unix(),
		"date":         now.Format(time.ANSIC),
		"year":         now.Year(),
		"month":        int(now.Month()),
		"network":      network,
		"event_id":     hdr.EventID,
		"nonce":        hdr.Nonce,
		"session_unix": hdr.SessionUnix,
		"session_date": hdr.SessionDate,
	}
	for k, v := range ev.columns() {
		if k == "network" {
			continue
		}
		record[k] = v
	}

	doc := fmt.Sprintf("%s_%s_archive", network, now.Format("2006_01"))
	if err := a.bus.Append(doc, record); err != nil {
		a.log.Error("chronicle append failed", "doc", doc, "err", err)
	}

	if table := ev.table(); table != "" && a.db != nil {
		if err := a.insert(table, record); err != nil {
			a.log.Error("audit insert failed", "table", table, "event", hdr.EventID, "err", err)
		}
	}
}

// insert writes one parameterized row, coercing each value to its declared
// column type and retrying while the database is locked by a concurrent
// writer.
func (a *Auditor) insert(table string, record map[string]interface{}) error {
	types, ok := columnTypes[table]
	if !ok {
		return fmt.Errorf("audit: unknown table %q", table)
	}

	cols := make([]string, 0, len(record))
	for k := range record {
		if _, keep := types[k]; keep {
			cols = append(cols, k)
		}
	}
	sort.Strings(cols)

	values := make([]interface{}, 0, len(cols))
	for _, k := range cols {
		values = append(values, coerce(types[k], record[k]))
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		table,
		strings.Join(cols, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "),
	)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxElapsedTime = 2 * time.Minute
	return backoff.Retry(func() error {
		_, err := a.db.Exec(query, values...)
		return err
	}, policy)
}

type colType int

const (
	colText colType = iota
	colInt
	colReal
)

func coerce(t colType, v interface{}) interface{} {
	switch t {
	case colInt:
		return cast.ToInt64(v)
	case colReal:
		return cast.ToFloat64(v)
	default:
		return cast.ToString(v)
	}
}

// columnTypes declares, per table, the writable columns and their types.
// Record keys outside this set never reach SQL.
var columnTypes = map[string]map[string]colType{
	"deposits": {
		"msg":             colText,
		"unix":            colInt,
		"event_unix":      colInt,
		"date":            colText,
		"year":            colInt,
		"month":           colInt,
		"network":         colText,
		"session_unix":    colInt,
		"session_date":    colText,
		"req_params":      colText,
		"nonce":           colInt,
		"event_id":        colText,
		"uia":             colText,
		"client_id":       colText,
		"amount":          colReal,
		"account_idx":     colInt,
		"required_memo":   colText,
		"deposit_address": colText,
	},
	"withdrawals": {
		"msg":               colText,
		"unix":              colInt,
		"event_unix":        colInt,
		"date":              colText,
		"year":              colInt,
		"month":             colInt,
		"network":           colText,
		"session_unix":      colInt,
		"session_date":      colText,
		"op":                colText,
		"nonce":             colInt,
		"uia_id":            colText,
		"event_id":          colText,
		"withdrawal_amount": colReal,
		"gateway_address":   colText,
		"client_address":    colText,
		"client_id":         colText,
		"account_idx":       colInt,
		"tx_id":             colText,
		"order_public":      colText,
		"order_to":          colText,
		"order_quantity":    colReal,
		"memo":              colText,
	},
	"ingots": {
		"msg":            colText,
		"unix":           colInt,
		"event_unix":     colInt,
		"date":           colText,
		"year":           colInt,
		"month":          colInt,
		"network":        colText,
		"tx_id":          colText,
		"order_public":   colText,
		"order_to":       colText,
		"order_quantity": colReal,
	},
}
