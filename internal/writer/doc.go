// Package writer batches gap records into PostgreSQL.
//
// The writer is append-only and idempotent: rows are keyed by the record
// UUID and inserted with ON CONFLICT DO NOTHING.
package writer
