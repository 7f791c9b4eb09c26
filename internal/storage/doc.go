// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides the operation ledger for the relay.
//
// Every finished chat or pull is written to a SQLite database so the daemon
// can report totals across restarts. Only terminal outcomes are stored;
// in-flight operations live in the cancel registry.
//
// # Key Types
//
//   - Ledger: SQLite-backed store, also a relay.Recorder
//   - OperationRecord: One finished operation
//   - Summary: Counts per kind and outcome with token totals
//
// # Usage
//
//	ledger, err := storage.Open(cfg.Storage.LedgerPath)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ledger.Close()
//
//	chat := relay.NewChatOrchestrator(relay.Options{Recorder: ledger, ...})
//
// # Storage Location
//
// The ledger is stored in ~/.rigrun-relay/ledger.db by default.
package storage
