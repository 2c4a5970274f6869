// Copyright (C) 2021-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package audit

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

var createStatements = []string{
	`CREATE TABLE IF NOT EXISTS withdrawals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		msg TEXT,
		unix INTEGER,
		event_unix INTEGER,
		date TEXT,
		year INTEGER,
		month INTEGER,
		network TEXT,
		session_unix INTEGER,
		session_date TEXT,
		op TEXT,
		nonce INTEGER,
		uia_id TEXT,
		event_id TEXT,
		withdrawal_amount REAL,
		gateway_address TEXT,
		client_address TEXT,
		client_id TEXT,
		account_idx INTEGER,
		tx_id TEXT,
		order_public TEXT,
		order_to TEXT,
		order_quantity REAL,
		memo TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS deposits (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		msg TEXT,
		unix INTEGER,
		event_unix INTEGER,
		date TEXT,
		year INTEGER,
		month INTEGER,
		network TEXT,
		session_unix INTEGER,
		session_date TEXT,
		req_params TEXT,
		nonce INTEGER,
		event_id TEXT,
		uia TEXT,
		client_id TEXT,
		amount REAL,
		account_idx INTEGER,
		required_memo TEXT,
		deposit_address TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS ingots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		msg TEXT,
		unix INTEGER,
		event_unix INTEGER,
		date TEXT,
		year INTEGER,
		month INTEGER,
		network TEXT,
		tx_id TEXT,
		order_public TEXT,
		order_to TEXT,
		order_quantity REAL
	)`,
}

// Open opens (or creates) the audit database and ensures the schema exists.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	if err := EnsureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// EnsureSchema creates the three audit tables if they do not exist.
func EnsureSchema(db *sql.DB) error {
	for _, stmt := range createStatements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("audit: create schema: %w", err)
		}
	}
	return nil
}
