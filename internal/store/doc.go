// Package store provides SQLite-backed storage for contact records.
//
// Each record is one row in contacts; its attributes are rows in details,
// one per attribute, ordered by position within their group. Attribute
// bodies are stored as canonical JSON so reads are byte-stable across
// writes. Aggregation edges between records live in relationships.
//
// # Batch writes
//
// SaveContacts writes a batch in one transaction. Every record is
// validated and written under its own savepoint; if any record fails the
// whole transaction is rolled back and a *BatchError reports the failing
// indices. Identifiers for new records and attributes are written back to
// the caller only after commit.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Attribute and relationship rows cascade with their record
package store
