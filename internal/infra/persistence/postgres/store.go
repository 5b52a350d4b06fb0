// Package postgres provides a Postgres-backed persistent store that mirrors the
// in-memory semantics while keeping the tree in normalized tables.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"triagetree/internal/infra/persistence/memory"
	"triagetree/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/triagetree?sslmode=disable"

	uniqueViolation = "23505"

	sequenceNodes = "nodes"
	sequenceAudit = "audit_entries"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists state to Postgres while reusing the in-memory implementation for transactions.
type Store struct {
	*memory.Store
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back to defaultDSN).
// It applies the embedded migrations and hydrates the in-memory store from
// the normalized tables.
func NewStore(dsn string, engine *domain.RulesEngine, opts ...memory.Option) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ApplyMigrations(ctx, db, Migrations()); err != nil {
		return nil, err
	}
	snapshot, err := loadNormalizedSnapshot(ctx, db)
	if err != nil {
		return nil, err
	}
	mem := memory.NewStore(engine, opts...)
	mem.ImportState(snapshot)
	return &Store{Store: mem, db: db}, nil
}

// RunInTransaction applies fn through the in-memory store, then rewrites the
// normalized tables. A failed write restores the previous in-memory state.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous := s.ExportState()
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if err := persistNormalized(context.WithoutCancel(ctx), s.db, s.ExportState()); err != nil {
		s.ImportState(previous)
		return res, err
	}
	return res, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// IsUniqueViolation reports whether err carries the Postgres unique_violation code.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func classifyExec(table string, err error) error {
	if IsUniqueViolation(err) {
		return domain.Wrap(domain.ErrIntegrity, fmt.Errorf("insert %s: %w", table, err))
	}
	return fmt.Errorf("insert %s: %w", table, err)
}

func persistNormalized(ctx context.Context, db *sql.DB, snapshot memory.Snapshot) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	// The ledger is append-only, so it is upserted rather than truncated.
	if _, err := tx.ExecContext(ctx, `TRUNCATE TABLE nodes, outcomes, drafts, sequences`); err != nil {
		return fmt.Errorf("truncate: %w", err)
	}
	if err := insertNodes(ctx, tx, snapshot.Nodes); err != nil {
		return err
	}
	if err := insertOutcomes(ctx, tx, snapshot.Outcomes); err != nil {
		return err
	}
	if err := upsertAuditEntries(ctx, tx, snapshot.Audit); err != nil {
		return err
	}
	if err := insertDrafts(ctx, tx, snapshot.Drafts); err != nil {
		return err
	}
	if err := insertSequences(ctx, tx, snapshot.Sequences); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

func sortedIDs[T any](m map[int64]T) []int64 {
	ids := make([]int64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func insertNodes(ctx context.Context, exec execer, nodes map[int64]domain.Node) error {
	for _, id := range sortedIDs(nodes) {
		n := nodes[id]
		if n.Depth < 0 {
			return fmt.Errorf("insert nodes: node %d has negative depth", id)
		}
		if _, err := exec.ExecContext(ctx, `INSERT INTO nodes (id, parent_id, label, depth, slot, is_leaf, created_at, updated_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			id, nullInt64(n.ParentID), n.Label, int64(n.Depth), nullInt(n.Slot), n.IsLeaf, n.CreatedAt, n.UpdatedAt); err != nil {
			return classifyExec("nodes", err)
		}
	}
	return nil
}

func insertOutcomes(ctx context.Context, exec execer, outcomes map[int64]domain.Outcome) error {
	for _, id := range sortedIDs(outcomes) {
		o := outcomes[id]
		if _, err := exec.ExecContext(ctx, `INSERT INTO outcomes (node_id, diagnostic_triage, actions, updated_by, created_at, updated_at) VALUES ($1,$2,$3,$4,$5,$6)`,
			id, o.DiagnosticTriage, o.Actions, o.UpdatedBy, o.CreatedAt, o.UpdatedAt); err != nil {
			return classifyExec("outcomes", err)
		}
	}
	return nil
}

func upsertAuditEntries(ctx context.Context, exec execer, entries map[int64]domain.AuditEntry) error {
	for _, id := range sortedIDs(entries) {
		e := entries[id]
		payload, err := marshalJSONNullable(e.Payload, !e.Payload.IsEmpty())
		if err != nil {
			return fmt.Errorf("encode audit %d payload: %w", id, err)
		}
		undo, err := marshalJSONNullable(e.UndoData, e.UndoData != nil)
		if err != nil {
			return fmt.Errorf("encode audit %d undo data: %w", id, err)
		}
		if _, err := exec.ExecContext(ctx, `INSERT INTO audit_entries (id, operation, target_id, actor, payload, undo_data, is_undoable, undone_by, undone_at, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			ON CONFLICT (id) DO UPDATE SET undone_by=EXCLUDED.undone_by, undone_at=EXCLUDED.undone_at`,
			id, string(e.Operation), e.TargetID, e.Actor, payload, undo, e.IsUndoable, nullString(e.UndoneBy), nullTime(e.UndoneAt), e.CreatedAt); err != nil {
			return classifyExec("audit_entries", err)
		}
	}
	return nil
}

func insertDrafts(ctx context.Context, exec execer, drafts map[string]domain.Draft) error {
	ids := make([]string, 0, len(drafts))
	for id := range drafts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		d := drafts[id]
		children, err := marshalJSONNullable(d.TargetChildren, true)
		if err != nil {
			return fmt.Errorf("encode draft %s: %w", id, err)
		}
		if d.TargetChildren == nil {
			children = []byte("[]")
		}
		if _, err := exec.ExecContext(ctx, `INSERT INTO drafts (id, parent_id, target_children, status, created_by, published_by, published_at, created_at, updated_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			id, d.ParentID, children, string(d.Status), d.CreatedBy, nullString(d.PublishedBy), nullTime(d.PublishedAt), d.CreatedAt, d.UpdatedAt); err != nil {
			return classifyExec("drafts", err)
		}
	}
	return nil
}

func insertSequences(ctx context.Context, exec execer, seq memory.Sequences) error {
	for _, row := range []struct {
		name  string
		value int64
	}{{sequenceNodes, seq.NextNodeID}, {sequenceAudit, seq.NextAuditID}} {
		if _, err := exec.ExecContext(ctx, `INSERT INTO sequences (name, value) VALUES ($1,$2)`, row.name, row.value); err != nil {
			return classifyExec("sequences", err)
		}
	}
	return nil
}

func loadNormalizedSnapshot(ctx context.Context, db *sql.DB) (memory.Snapshot, error) {
	snapshot := memory.Snapshot{
		Nodes:    map[int64]domain.Node{},
		Outcomes: map[int64]domain.Outcome{},
		Audit:    map[int64]domain.AuditEntry{},
		Drafts:   map[string]domain.Draft{},
	}
	loaders := []func(context.Context, *sql.DB, *memory.Snapshot) error{
		loadNodes,
		loadOutcomes,
		loadAuditEntries,
		loadDrafts,
		loadSequences,
	}
	for _, load := range loaders {
		if err := load(ctx, db, &snapshot); err != nil {
			return memory.Snapshot{}, err
		}
	}
	return snapshot, nil
}

func loadNodes(ctx context.Context, db *sql.DB, snapshot *memory.Snapshot) error {
	rows, err := db.QueryContext(ctx, `SELECT id, parent_id, label, depth, slot, is_leaf, created_at, updated_at FROM nodes`)
	if err != nil {
		return fmt.Errorf("select nodes: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			n            domain.Node
			parent, slot sql.NullInt64
			depth        int64
			created, upd time.Time
		)
		if err := rows.Scan(&n.ID, &parent, &n.Label, &depth, &slot, &n.IsLeaf, &created, &upd); err != nil {
			return fmt.Errorf("scan nodes: %w", err)
		}
		if parent.Valid {
			n.ParentID = domain.Int64Ptr(parent.Int64)
		}
		if slot.Valid {
			n.Slot = domain.IntPtr(int(slot.Int64))
		}
		n.Depth = int(depth)
		n.CreatedAt = created
		n.UpdatedAt = upd
		snapshot.Nodes[n.ID] = n
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate nodes: %w", err)
	}
	return nil
}

func loadOutcomes(ctx context.Context, db *sql.DB, snapshot *memory.Snapshot) error {
	rows, err := db.QueryContext(ctx, `SELECT node_id, diagnostic_triage, actions, updated_by, created_at, updated_at FROM outcomes`)
	if err != nil {
		return fmt.Errorf("select outcomes: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var o domain.Outcome
		if err := rows.Scan(&o.NodeID, &o.DiagnosticTriage, &o.Actions, &o.UpdatedBy, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return fmt.Errorf("scan outcomes: %w", err)
		}
		snapshot.Outcomes[o.NodeID] = o
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate outcomes: %w", err)
	}
	return nil
}

func loadAuditEntries(ctx context.Context, db *sql.DB, snapshot *memory.Snapshot) error {
	rows, err := db.QueryContext(ctx, `SELECT id, operation, target_id, actor, payload, undo_data, is_undoable, undone_by, undone_at, created_at FROM audit_entries`)
	if err != nil {
		return fmt.Errorf("select audit_entries: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			e             domain.AuditEntry
			operation     string
			payload, undo []byte
			undoneBy      sql.NullString
			undoneAt      sql.NullTime
		)
		if err := rows.Scan(&e.ID, &operation, &e.TargetID, &e.Actor, &payload, &undo, &e.IsUndoable, &undoneBy, &undoneAt, &e.CreatedAt); err != nil {
			return fmt.Errorf("scan audit_entries: %w", err)
		}
		e.Operation = domain.AuditOperation(operation)
		if len(payload) > 0 {
			e.Payload = domain.NewPayload(payload)
		}
		if len(undo) > 0 {
			var data domain.UndoData
			if err := decodeJSON(undo, &data); err != nil {
				return fmt.Errorf("decode audit %d undo data: %w", e.ID, err)
			}
			e.UndoData = &data
		}
		if undoneBy.Valid {
			by := undoneBy.String
			e.UndoneBy = &by
		}
		if undoneAt.Valid {
			at := undoneAt.Time
			e.UndoneAt = &at
		}
		snapshot.Audit[e.ID] = e
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate audit_entries: %w", err)
	}
	return nil
}

func loadDrafts(ctx context.Context, db *sql.DB, snapshot *memory.Snapshot) error {
	rows, err := db.QueryContext(ctx, `SELECT id, parent_id, target_children, status, created_by, published_by, published_at, created_at, updated_at FROM drafts`)
	if err != nil {
		return fmt.Errorf("select drafts: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			d           domain.Draft
			status      string
			children    []byte
			publishedBy sql.NullString
			publishedAt sql.NullTime
		)
		if err := rows.Scan(&d.ID, &d.ParentID, &children, &status, &d.CreatedBy, &publishedBy, &publishedAt, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return fmt.Errorf("scan drafts: %w", err)
		}
		d.Status = domain.DraftStatus(status)
		if len(children) > 0 {
			if err := decodeJSON(children, &d.TargetChildren); err != nil {
				return fmt.Errorf("decode draft %s: %w", d.ID, err)
			}
		}
		if publishedBy.Valid {
			by := publishedBy.String
			d.PublishedBy = &by
		}
		if publishedAt.Valid {
			at := publishedAt.Time
			d.PublishedAt = &at
		}
		snapshot.Drafts[d.ID] = d
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate drafts: %w", err)
	}
	return nil
}

func loadSequences(ctx context.Context, db *sql.DB, snapshot *memory.Snapshot) error {
	rows, err := db.QueryContext(ctx, `SELECT name, value FROM sequences`)
	if err != nil {
		return fmt.Errorf("select sequences: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			name  string
			value int64
		)
		if err := rows.Scan(&name, &value); err != nil {
			return fmt.Errorf("scan sequences: %w", err)
		}
		switch name {
		case sequenceNodes:
			snapshot.Sequences.NextNodeID = value
		case sequenceAudit:
			snapshot.Sequences.NextAuditID = value
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate sequences: %w", err)
	}
	return nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
