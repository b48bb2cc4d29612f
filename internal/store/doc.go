// Package store provides the durable key-value layer behind attendance
// records, the audit log and form drafts.
//
// Every backend implements KV:
//   - SQLite: file-backed, the default
//   - Redis: shared server, one hash per key
//   - Memory: in-process, for tests and throwaway runs
//
// # Key Layout
//
//   - status::<subjectId>: JSON attendance record
//   - auditlog::global: JSON array of audit entries, oldest first
//   - draft::<slot>: JSON draft payload
//
// # Versioning
//
// Each key carries a version that starts at 1 and grows by one per write.
// Set takes the version the caller last read and fails with
// ErrVersionConflict if another writer got there first. Callers reload and
// retry.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
//go:generate mockgen -source=kv.go -destination=mocks/kv.go -package=mocks
package store
