// Package database provides the optional PostgreSQL store for gap records.
//
// Gap records are append-only: each reconnect that may have lost
// notifications produces one row per affected subscription, keyed by the
// record's UUID so replays are harmless.
package database
