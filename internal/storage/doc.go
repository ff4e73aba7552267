// Package storage persists participant events and generated tasks.
//
// Drivers:
//   - "memory": process-local maps, nothing survives a restart
//   - "file": snapshot + JSON Lines journal, compacted periodically
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//
// Every driver merges tasks by GUID: saving a regenerated task keeps the
// startedOn/finishedOn already stored for it, and event timestamps never move
// backward.
package storage
