package testutil

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestInsertAndSelect(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()

	if _, err := conn.ExecContext(ctx, "INSERT INTO nodes (id, label) VALUES ($1,$2)", []driver.NamedValue{
		{Value: int64(1)}, {Value: "Chest pain"},
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := conn.ExecContext(ctx, "INSERT INTO schema_migrations(version) VALUES($1)", []driver.NamedValue{{Value: "0001"}}); err != nil {
		t.Fatalf("insert without spacing: %v", err)
	}
	if got := conn.Tables["schema_migrations"]; len(got) != 1 || got[0]["version"] != "0001" {
		t.Fatalf("unexpected migrations %v", got)
	}

	rows, err := conn.QueryContext(ctx, "SELECT label, id FROM nodes", nil)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	dest := make([]driver.Value, 2)
	if err := rows.Next(dest); err != nil {
		t.Fatalf("next: %v", err)
	}
	if dest[0] != "Chest pain" || dest[1] != int64(1) {
		t.Fatalf("unexpected row %v", dest)
	}
	if err := rows.Next(dest); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestOnConflictReplacesByFirstColumn(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()
	stmt := "INSERT INTO audit_entries (id, actor) VALUES ($1,$2) ON CONFLICT (id) DO UPDATE SET actor=EXCLUDED.actor"
	for _, actor := range []string{"ana", "ben"} {
		if _, err := conn.ExecContext(ctx, stmt, []driver.NamedValue{{Value: int64(7)}, {Value: actor}}); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	rows := conn.Tables["audit_entries"]
	if len(rows) != 1 || rows[0]["actor"] != "ben" {
		t.Fatalf("expected one replaced row, got %v", rows)
	}
}

func TestTruncateClearsOnlyNamedTables(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()
	conn.Tables["nodes"] = []Row{{"id": int64(1)}}
	conn.Tables["outcomes"] = []Row{{"node_id": int64(1)}}
	conn.Tables["audit_entries"] = []Row{{"id": int64(1)}}

	if _, err := conn.ExecContext(ctx, "TRUNCATE TABLE nodes, outcomes", nil); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if len(conn.Tables["nodes"]) != 0 || len(conn.Tables["outcomes"]) != 0 {
		t.Fatalf("expected truncated tables to be empty: %v", conn.Tables)
	}
	if len(conn.Tables["audit_entries"]) != 1 {
		t.Fatal("expected audit_entries to survive truncate")
	}
}

func TestInjectedFailures(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()
	insert := "INSERT INTO nodes (id) VALUES ($1)"
	args := []driver.NamedValue{{Value: int64(1)}}

	conn.UniqueTables = map[string]bool{"nodes": true}
	_, err := conn.ExecContext(ctx, insert, args)
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" || pgErr.TableName != "nodes" {
		t.Fatalf("expected unique violation, got %v", err)
	}
	conn.UniqueTables = nil

	conn.FailTables = map[string]bool{"nodes": true}
	if _, err := conn.ExecContext(ctx, insert, args); err == nil {
		t.Fatal("expected failing insert")
	}
	if _, err := conn.QueryContext(ctx, "SELECT id FROM nodes", nil); err == nil {
		t.Fatal("expected failing select")
	}
	conn.FailTables = nil

	if _, err := conn.ExecContext(ctx, insert, nil); err == nil {
		t.Fatal("expected column/arg mismatch")
	}
	if _, err := conn.QueryContext(ctx, "VACUUM", nil); err == nil {
		t.Fatal("expected unparsable query error")
	}

	conn.FailBegin = true
	if _, err := conn.Begin(); err == nil {
		t.Fatal("expected begin failure")
	}
	conn.FailBegin = false

	tx, err := conn.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	conn.FailCommit = true
	if err := tx.Commit(); err == nil {
		t.Fatal("expected commit failure")
	}
	if err := tx.Rollback(); err != nil || conn.Rollbacks != 1 {
		t.Fatalf("rollback: %v (%d)", err, conn.Rollbacks)
	}

	conn.FailExec = true
	if err := conn.Ping(ctx); err == nil {
		t.Fatal("expected ping failure")
	}
	if _, err := conn.ExecContext(ctx, "CREATE TABLE x (id INT)", nil); err == nil {
		t.Fatal("expected exec failure")
	}
}

func TestRowsErrSurfacesAfterLastRow(t *testing.T) {
	boom := errors.New("boom")
	_, conn := NewStubDB()
	conn.RowsErr = boom
	conn.Tables["sequences"] = []Row{{"name": "nodes", "value": int64(3)}}
	rows, err := conn.QueryContext(context.Background(), "SELECT name, value FROM sequences", nil)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	dest := make([]driver.Value, 2)
	if err := rows.Next(dest); err != nil {
		t.Fatalf("first row: %v", err)
	}
	if err := rows.Next(dest); !errors.Is(err, boom) {
		t.Fatalf("expected rows error, got %v", err)
	}
}
