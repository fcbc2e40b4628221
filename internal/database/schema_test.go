package database

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

type recordingExecer struct {
	statements []string
	err        error
}

func (e *recordingExecer) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	e.statements = append(e.statements, sql)
	return pgconn.NewCommandTag("CREATE TABLE"), e.err
}

func TestEnsureSchema(t *testing.T) {
	db := &recordingExecer{}

	if err := EnsureSchema(context.Background(), db); err != nil {
		t.Fatalf("EnsureSchema failed: %v", err)
	}
	if len(db.statements) != 1 {
		t.Fatalf("statements = %d, want 1", len(db.statements))
	}
	if !strings.Contains(db.statements[0], "CREATE TABLE IF NOT EXISTS "+GapTable) {
		t.Errorf("schema does not create %s:\n%s", GapTable, db.statements[0])
	}
}

func TestEnsureSchema_Error(t *testing.T) {
	db := &recordingExecer{err: errors.New("permission denied")}

	err := EnsureSchema(context.Background(), db)
	if err == nil {
		t.Fatal("EnsureSchema expected error")
	}
	if !errors.Is(err, db.err) {
		t.Errorf("error = %v, want wrapped %v", err, db.err)
	}
}
