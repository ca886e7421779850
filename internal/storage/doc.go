// Package storage persists what the dispatch core reads and writes:
//
//   - the channel registry and message templates (owned by the admin side, read here)
//   - the per-attempt delivery log
//   - the send ledger used for deduplication
//
// Drivers: "sqlite" (default), "mysql", "file" (journaled, dependency-free) and "memory".
package storage
