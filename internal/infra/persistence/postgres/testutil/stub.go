// Package testutil registers an in-memory database/sql driver that understands
// the handful of statement shapes the postgres tree store issues.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	insertRe   = regexp.MustCompile(`(?is)^\s*INSERT\s+INTO\s+(\w+)\s*\(([^)]*)\)`)
	selectRe   = regexp.MustCompile(`(?is)^\s*SELECT\s+(.+?)\s+FROM\s+(\w+)`)
	truncateRe = regexp.MustCompile(`(?is)^\s*TRUNCATE\s+TABLE\s+([\w\s,]+?);?\s*$`)
	onConflict = regexp.MustCompile(`(?i)\bON\s+CONFLICT\b`)

	driverSeq atomic.Int64
)

// Row is one stored row keyed by lower-case column name.
type Row = map[string]any

// StubConn is the single connection behind a stub sql.DB. Tests inspect
// Tables and Execs and flip the Fail* switches to inject errors.
type StubConn struct {
	Execs  []string
	Tables map[string][]Row

	FailExec   bool
	FailBegin  bool
	FailCommit bool
	// FailTables fails inserts into and selects from the named tables.
	FailTables map[string]bool
	// UniqueTables fails inserts into the named tables with a
	// unique_violation PgError.
	UniqueTables map[string]bool
	// RowsErr is returned by Next once a result set is exhausted.
	RowsErr error

	Commits   int
	Rollbacks int
}

// NewStubDB opens a sql.DB on a freshly registered stub driver.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{Tables: make(map[string][]Row)}
	name := fmt.Sprintf("triagetree-stub-%d", driverSeq.Add(1))
	sql.Register(name, stubDriver{conn: conn})
	db, err := sql.Open(name, "")
	if err != nil {
		panic(err)
	}
	return db, conn
}

type stubDriver struct{ conn *StubConn }

func (d stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

// Prepare implements driver.Conn; every statement goes through the
// ExecerContext and QueryerContext fast paths instead.
func (c *StubConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("stub: prepared statements unsupported")
}

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// BeginTx implements driver.ConnBeginTx.
func (c *StubConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if c.FailBegin {
		return nil, errors.New("stub: begin failed")
	}
	return stubTx{conn: c}, nil
}

// Ping implements driver.Pinger.
func (c *StubConn) Ping(context.Context) error {
	if c.FailExec {
		return errors.New("stub: ping failed")
	}
	return nil
}

// ExecContext implements driver.ExecerContext.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.Execs = append(c.Execs, query)
	if c.FailExec {
		return nil, errors.New("stub: exec failed")
	}
	if m := truncateRe.FindStringSubmatch(query); m != nil {
		for _, table := range columns(m[1]) {
			delete(c.Tables, table)
		}
		return driver.RowsAffected(0), nil
	}
	m := insertRe.FindStringSubmatch(query)
	if m == nil {
		// DDL and anything else is accepted and ignored.
		return driver.RowsAffected(0), nil
	}
	table, cols := strings.ToLower(m[1]), columns(m[2])
	switch {
	case c.FailTables[table]:
		return nil, fmt.Errorf("stub: insert into %s failed", table)
	case c.UniqueTables[table]:
		return nil, &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint", TableName: table}
	case len(cols) != len(args):
		return nil, fmt.Errorf("stub: %s has %d columns and %d args", table, len(cols), len(args))
	}
	row := make(Row, len(cols))
	for i, col := range cols {
		row[col] = args[i].Value
	}
	if onConflict.MatchString(query) {
		c.Tables[table] = without(c.Tables[table], cols[0], row[cols[0]])
	}
	c.Tables[table] = append(c.Tables[table], row)
	return driver.RowsAffected(1), nil
}

// QueryContext implements driver.QueryerContext.
func (c *StubConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	m := selectRe.FindStringSubmatch(query)
	if m == nil {
		return nil, fmt.Errorf("stub: cannot parse query %q", query)
	}
	table, cols := strings.ToLower(m[2]), columns(m[1])
	if c.FailTables[table] {
		return nil, fmt.Errorf("stub: select from %s failed", table)
	}
	out := &stubRows{cols: cols, err: c.RowsErr}
	for _, row := range c.Tables[table] {
		vals := make([]driver.Value, len(cols))
		for i, col := range cols {
			vals[i] = row[col]
		}
		out.rows = append(out.rows, vals)
	}
	return out, nil
}

func without(rows []Row, col string, value any) []Row {
	kept := rows[:0:0]
	for _, r := range rows {
		if r[col] != value {
			kept = append(kept, r)
		}
	}
	return kept
}

func columns(list string) []string {
	var out []string
	for _, part := range strings.Split(list, ",") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

type stubTx struct{ conn *StubConn }

func (t stubTx) Commit() error {
	if t.conn.FailCommit {
		return errors.New("stub: commit failed")
	}
	t.conn.Commits++
	return nil
}

func (t stubTx) Rollback() error {
	t.conn.Rollbacks++
	return nil
}

type stubRows struct {
	cols []string
	rows [][]driver.Value
	next int
	err  error
}

func (r *stubRows) Columns() []string { return r.cols }

func (r *stubRows) Close() error { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.next >= len(r.rows) {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	copy(dest, r.rows[r.next])
	r.next++
	return nil
}
