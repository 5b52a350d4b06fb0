package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"triagetree/internal/infra/persistence/memory"
	"triagetree/pkg/domain"
)

var fixedNow = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{WithClock(ClockFunc(func() time.Time { return fixedNow }))}, opts...)
	return NewInMemoryService(NewDefaultRulesEngine(), opts...)
}

// newRawService skips the commit rules so tests can seed anomalies.
func newRawService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	return NewService(memory.NewStore(nil), opts...)
}

func seedNodes(t *testing.T, svc *Service, nodes ...Node) {
	t.Helper()
	_, err := svc.Store().RunInTransaction(context.Background(), func(tx Transaction) error {
		for _, n := range nodes {
			if _, err := tx.CreateNode(n); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed nodes: %v", err)
	}
}

// seedLegacy loads nodes into svc's store without evaluating the commit
// rules, the way previously persisted data is restored on open.
func seedLegacy(t *testing.T, svc *Service, nodes ...Node) {
	t.Helper()
	raw := newRawService(t)
	seedNodes(t, raw, nodes...)
	store, ok := svc.Store().(*memory.Store)
	if !ok {
		t.Fatalf("expected a memory store, got %T", svc.Store())
	}
	store.ImportState(raw.Store().(*memory.Store).ExportState())
}

// assertTreeShape fails when a parent holds a slot outside 1..5, shares a
// slot between two children, or has more than five children. Parents listed
// in overfull are allowed past five because a merge reported their excess.
func assertTreeShape(t *testing.T, svc *Service, overfull ...int64) {
	t.Helper()
	snap, err := svc.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	exempt := make(map[int64]bool, len(overfull))
	for _, id := range overfull {
		exempt[id] = true
	}
	counts := make(map[int64]int)
	taken := make(map[int64]map[int]int64)
	for _, n := range snap.Nodes {
		if n.ParentID == nil {
			continue
		}
		parent := *n.ParentID
		counts[parent]++
		if n.Slot == nil {
			continue
		}
		slot := *n.Slot
		if slot < domain.MinSlot || slot > domain.MaxSlot {
			t.Fatalf("node %d holds slot %d outside %d..%d", n.ID, slot, domain.MinSlot, domain.MaxSlot)
		}
		if taken[parent] == nil {
			taken[parent] = make(map[int]int64)
		}
		if other, dup := taken[parent][slot]; dup {
			t.Fatalf("nodes %d and %d share slot %d of parent %d", other, n.ID, slot, parent)
		}
		taken[parent][slot] = n.ID
	}
	for parent, count := range counts {
		if count > domain.MaxChildren && !exempt[parent] {
			t.Fatalf("parent %d holds %d children (max %d)", parent, count, domain.MaxChildren)
		}
	}
}

func node(id int64, parent int64, label string, depth int, slot int) Node {
	n := Node{ID: id, Label: label, Depth: depth}
	if parent != 0 {
		n.ParentID = domain.Int64Ptr(parent)
	}
	if slot != 0 {
		n.Slot = domain.IntPtr(slot)
	}
	return n
}

func mustRoot(t *testing.T, svc *Service, label string) int64 {
	t.Helper()
	id, err := svc.CreateRootIfMissing(context.Background(), label)
	if err != nil {
		t.Fatalf("create root %q: %v", label, err)
	}
	return id
}

func mustChild(t *testing.T, svc *Service, parentID int64, label string) int64 {
	t.Helper()
	parent, err := svc.GetNode(context.Background(), parentID)
	if err != nil {
		t.Fatalf("get parent %d: %v", parentID, err)
	}
	res, err := svc.FindOrCreateChild(context.Background(), parentID, label, parent.Depth+1)
	if err != nil {
		t.Fatalf("create child %q: %v", label, err)
	}
	if res.ID == 0 {
		t.Fatalf("child %q was not created: %+v", label, res)
	}
	return res.ID
}

// slotLabels returns the labels of parentID's children in slot order.
func slotLabels(t *testing.T, svc *Service, parentID int64) []string {
	t.Helper()
	children, err := svc.ListChildren(context.Background(), parentID)
	if err != nil {
		t.Fatalf("list children of %d: %v", parentID, err)
	}
	out := make([]string, 0, len(children))
	for _, c := range children {
		out = append(out, c.Label)
	}
	return out
}

func slotOf(t *testing.T, svc *Service, id int64) int {
	t.Helper()
	n, err := svc.GetNode(context.Background(), id)
	if err != nil {
		t.Fatalf("get node %d: %v", id, err)
	}
	return n.SlotValue()
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func requireCode(t *testing.T, err error, sentinel *domain.Error) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", sentinel.Code)
	}
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected %s error, got %v", sentinel.Code, err)
	}
	if domain.KindOf(err) != sentinel.Kind {
		t.Fatalf("expected kind %s, got %s", sentinel.Kind, domain.KindOf(err))
	}
}

func auditCount(t *testing.T, svc *Service) int {
	t.Helper()
	stats, err := svc.AuditStats(context.Background())
	if err != nil {
		t.Fatalf("audit stats: %v", err)
	}
	return stats.Total
}

type logCall struct {
	level string
	msg   string
	args  []any
}

type captureLogger struct{ calls []logCall }

func (c *captureLogger) Debug(msg string, args ...any) { c.record("debug", msg, args) }
func (c *captureLogger) Info(msg string, args ...any)  { c.record("info", msg, args) }
func (c *captureLogger) Warn(msg string, args ...any)  { c.record("warn", msg, args) }
func (c *captureLogger) Error(msg string, args ...any) { c.record("error", msg, args) }

func (c *captureLogger) record(level, msg string, args []any) {
	c.calls = append(c.calls, logCall{level: level, msg: msg, args: args})
}

func (c *captureLogger) has(level, msg string) bool {
	for _, call := range c.calls {
		if call.level == level && call.msg == msg {
			return true
		}
	}
	return false
}

type metricsCall struct {
	op      string
	success bool
}

type captureMetricsRecorder struct{ calls []metricsCall }

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	c.calls = append(c.calls, metricsCall{op: op, success: success})
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}

type spanRecord struct {
	op  string
	err error
}

type captureTracer struct {
	started []string
	ended   []spanRecord
}

func (c *captureTracer) Start(ctx context.Context, op string) (context.Context, TraceSpan) {
	c.started = append(c.started, op)
	return ctx, &captureSpan{tracer: c, op: op}
}

func (c *captureTracer) has(op string, success bool) bool {
	for _, record := range c.ended {
		if record.op == op && (record.err == nil) == success {
			return true
		}
	}
	return false
}

type captureSpan struct {
	tracer *captureTracer
	op     string
}

func (s *captureSpan) End(err error) {
	s.tracer.ended = append(s.tracer.ended, spanRecord{op: s.op, err: err})
}
