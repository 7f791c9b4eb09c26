// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util holds small helpers shared by the relay packages.
//
//   - AtomicWriteFile, AtomicWriteFileWithDir: crash-safe file writes with fsync,
//     used when saving the config file
//   - TruncateRunes: UTF-8 safe truncation for log previews of upstream records
package util
