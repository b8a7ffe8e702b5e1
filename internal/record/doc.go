// Package record defines the catalog's core record types: entity snapshots,
// relation edges, change events, and their opaque data payloads.
//
// This package contains type definitions and canonical encoding only. All
// other internal packages import record; record imports nothing internal.
//
// Key design constraints:
//   - Snapshot identity is the (type, id) pair, never the data payload
//   - Data is persisted as canonical JSON (sorted keys, NFC strings) so that
//     identical payloads always produce identical bytes and hashes
//   - Numbers are carried as json.Number to keep prices and large ids exact
//   - All JSON tags use snake_case
//   - Ordering uses logical seq values, never wall-clock timestamps
package record
