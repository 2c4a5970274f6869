// Copyright (C) 2021-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package audit records every gateway event twice: once to an append-only
// per-network chronicle file, and, for deposit, withdrawal, and ingot
// events, once to a relational table. Audit rows are write-once; nothing in
// the gateway ever updates or deletes them.
package audit

// Header carries the fields shared by every audited event kind.
type Header struct {
	Process     string
	Network     string
	EventID     string
	Nonce       int64
	SessionUnix int64
	SessionDate string
}

// Event is one audited record. Implementations expose their relational
// destination and column values; events whose table is empty only reach the
// chronicle.
type Event interface {
	header() *Header
	table() string
	columns() map[string]interface{}
}

// SessionEvent is a plain chronicle entry with no relational row, used for
// worker lifecycle messages.
type SessionEvent struct {
	Header
}

func (e *SessionEvent) header() *Header                 { return &e.Header }
func (e *SessionEvent) table() string                   { return "" }
func (e *SessionEvent) columns() map[string]interface{} { return nil }

// DepositEvent is the envelope of one deposit request and its matcher.
type DepositEvent struct {
	Header
	ReqParams      string
	UIA            string
	ClientID       string
	Amount         float64
	AccountIdx     int
	RequiredMemo   string
	DepositAddress string
}

func (e *DepositEvent) header() *Header { return &e.Header }
func (e *DepositEvent) table() string   { return "deposits" }

func (e *DepositEvent) columns() map[string]interface{} {
	return map[string]interface{}{
		"network":         e.Network,
		"session_unix":    e.SessionUnix,
		"session_date":    e.SessionDate,
		"req_params":      e.ReqParams,
		"nonce":           e.Nonce,
		"event_id":        e.EventID,
		"uia":             e.UIA,
		"client_id":       e.ClientID,
		"amount":          e.Amount,
		"account_idx":     e.AccountIdx,
		"required_memo":   e.RequiredMemo,
		"deposit_address": e.DepositAddress,
	}
}

// WithdrawalEvent is the envelope of one withdrawal intent, its foreign
// transfer, and its reserve matcher.
type WithdrawalEvent struct {
	Header
	Op               string
	UIAID            string
	WithdrawalAmount float64
	GatewayAddress   string
	ClientAddress    string
	ClientID         string
	AccountIdx       int
	TxID             string
	OrderPublic      string
	OrderTo          string
	OrderQuantity    float64
	Memo             string
}

func (e *WithdrawalEvent) header() *Header { return &e.Header }
func (e *WithdrawalEvent) table() string   { return "withdrawals" }

func (e *WithdrawalEvent) columns() map[string]interface{} {
	return map[string]interface{}{
		"network":           e.Network,
		"session_unix":      e.SessionUnix,
		"session_date":      e.SessionDate,
		"op":                e.Op,
		"nonce":             e.Nonce,
		"uia_id":            e.UIAID,
		"event_id":          e.EventID,
		"withdrawal_amount": e.WithdrawalAmount,
		"gateway_address":   e.GatewayAddress,
		"client_address":    e.ClientAddress,
		"client_id":         e.ClientID,
		"account_idx":       e.AccountIdx,
		"tx_id":             e.TxID,
		"order_public":      e.OrderPublic,
		"order_to":          e.OrderTo,
		"order_quantity":    e.OrderQuantity,
		"memo":              e.Memo,
	}
}

// IngotEvent is the envelope of one consolidation sweep.
type IngotEvent struct {
	Header
	TxID          string
	OrderPublic   string
	OrderTo       string
	OrderQuantity float64
}

func (e *IngotEvent) header() *Header { return &e.Header }
func (e *IngotEvent) table() string   { return "ingots" }

func (e *IngotEvent) columns() map[string]interface{} {
	return map[string]interface{}{
		"network":        e.Network,
		"tx_id":          e.TxID,
		"order_public":   e.OrderPublic,
		"order_to":       e.OrderTo,
		"order_quantity": e.OrderQuantity,
	}
}
