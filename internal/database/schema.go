package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer runs a statement without returning rows. *pgxpool.Pool and
// pgx.Tx both satisfy it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// GapTable is the table gap records are written to.
const GapTable = "subscription_gaps"

const schema = `
CREATE TABLE IF NOT EXISTS subscription_gaps (
	id                     UUID PRIMARY KEY,
	subscription_id        TEXT NOT NULL,
	method                 TEXT NOT NULL,
	disconnected_at        TIMESTAMPTZ NOT NULL,
	reconnected_at         TIMESTAMPTZ NOT NULL,
	possible_missed_events BOOLEAN NOT NULL,
	client_id              UUID NOT NULL
);
CREATE INDEX IF NOT EXISTS subscription_gaps_reconnected_at_idx
	ON subscription_gaps (reconnected_at);
`

// EnsureSchema creates the gap table and its index if they do not exist.
func EnsureSchema(ctx context.Context, db Execer) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create %s: %w", GapTable, err)
	}
	return nil
}
