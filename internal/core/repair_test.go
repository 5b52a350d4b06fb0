package core

import (
	"context"
	"testing"

	"triagetree/pkg/domain"
)

func TestRepairDepths(t *testing.T) {
	ctx := context.Background()
	svc := newRawService(t)
	seedNodes(t, svc,
		node(1, 0, "R", 0, 0),
		node(2, 1, "A", 3, 1),
		node(3, 2, "B", 0, 1),
		node(4, 99, "Orphan", 1, 1),
		node(10, 0, "X", 0, 0),
		node(11, 10, "X1", 1, 1),
		node(12, 11, "X2", 2, 1),
		node(13, 12, "X3", 3, 1),
		node(14, 13, "X4", 4, 1),
		node(15, 14, "X5", 5, 1),
		node(16, 15, "X6", 5, 1),
		node(17, 16, "X7", 6, 1),
	)

	res, err := svc.RepairDepths(ctx, "ops")
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if res.Updated != 2 || res.AuditID == 0 {
		t.Fatalf("unexpected repair result %+v", res)
	}
	if !equalIDs(res.Unrepairable, []int64{16, 17, 4}) {
		t.Fatalf("unexpected unrepairable nodes %v", res.Unrepairable)
	}
	for id, want := range map[int64]int{2: 1, 3: 2, 16: 5, 4: 1} {
		n, err := svc.GetNode(ctx, id)
		if err != nil {
			t.Fatalf("get node %d: %v", id, err)
		}
		if n.Depth != want {
			t.Fatalf("node %d: expected depth %d, got %d", id, want, n.Depth)
		}
	}

	again, err := svc.RepairDepths(ctx, "ops")
	if err != nil {
		t.Fatalf("second repair: %v", err)
	}
	if again.Updated != 0 || again.AuditID != 0 || len(again.Unrepairable) != 3 {
		t.Fatalf("expected an idempotent second pass, got %+v", again)
	}
	if auditCount(t, svc) != 1 {
		t.Fatalf("expected a single repair entry")
	}
}

func TestClearWorkspace(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	root := mustRoot(t, svc, "R")
	leaf := mustChild(t, svc, root, "A")
	mustChild(t, svc, leaf, "A1")
	if _, err := svc.PutOutcome(ctx, OutcomeInput{NodeID: 3, DiagnosticTriage: "urgent"}); err != nil {
		t.Fatalf("put outcome: %v", err)
	}
	if _, err := svc.CreateDraft(ctx, DraftInput{ParentID: root}); err != nil {
		t.Fatalf("create draft: %v", err)
	}

	res, err := svc.ClearWorkspace(ctx, "ops")
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if res.Nodes != 3 || res.Outcomes != 1 || res.Drafts != 1 || res.AuditID == 0 {
		t.Fatalf("unexpected clear result %+v", res)
	}
	roots, err := svc.ListRoots(ctx, NodeFilter{})
	if err != nil || roots.Total != 0 {
		t.Fatalf("expected empty tree, got %+v err=%v", roots, err)
	}
	drafts, err := svc.ListDrafts(ctx, nil)
	if err != nil || len(drafts) != 0 {
		t.Fatalf("expected no drafts, got %d err=%v", len(drafts), err)
	}
	stats, err := svc.AuditStats(ctx)
	if err != nil {
		t.Fatalf("audit stats: %v", err)
	}
	if stats.ByOperation[domain.AuditDataQualityRepair] != 1 || stats.ByOperation[domain.AuditOutcomeUpdate] != 1 {
		t.Fatalf("expected the ledger to survive the clear, got %+v", stats)
	}

	empty, err := svc.ClearWorkspace(ctx, "ops")
	if err != nil || empty.Nodes != 0 || empty.AuditID == 0 {
		t.Fatalf("expected clearing an empty workspace to be recorded, got %+v err=%v", empty, err)
	}
}

func TestExportPaths(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	root := mustRoot(t, svc, "R")
	a := mustChild(t, svc, root, "A")
	mustChild(t, svc, root, "B")
	a1 := mustChild(t, svc, a, "A1")
	mustRoot(t, svc, "Alpha")
	if _, err := svc.PutOutcome(ctx, OutcomeInput{NodeID: a1, DiagnosticTriage: "see GP", Actions: "book"}); err != nil {
		t.Fatalf("put outcome: %v", err)
	}

	paths, err := svc.ExportPaths(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(paths) != 3 {
		t.Fatalf("expected three paths, got %+v", paths)
	}
	want := [][]string{{"Alpha"}, {"R", "A", "A1"}, {"R", "B"}}
	for i, p := range paths {
		if !equalStrings(p.Labels, want[i]) {
			t.Fatalf("path %d: expected %v, got %v", i, want[i], p.Labels)
		}
	}
	if !equalIDs(paths[1].NodeIDs, []int64{root, a, a1}) {
		t.Fatalf("unexpected node ids %v", paths[1].NodeIDs)
	}
	if paths[1].Outcome == nil || paths[1].Outcome.DiagnosticTriage != "see GP" || paths[2].Outcome != nil {
		t.Fatalf("unexpected outcomes %+v / %+v", paths[1].Outcome, paths[2].Outcome)
	}
}

func TestPutOutcome(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	root := mustRoot(t, svc, "R")
	leaf := mustChild(t, svc, root, "A")

	first, err := svc.PutOutcome(ctx, OutcomeInput{NodeID: leaf, DiagnosticTriage: "self care", Actor: "ana"})
	if err != nil {
		t.Fatalf("put outcome: %v", err)
	}
	n, err := svc.GetNode(ctx, leaf)
	if err != nil || !n.IsLeaf {
		t.Fatalf("expected node to be flagged as a leaf, got %+v err=%v", n, err)
	}
	second, err := svc.PutOutcome(ctx, OutcomeInput{NodeID: leaf, DiagnosticTriage: "pharmacy", Actions: "ask", Actor: "ben"})
	if err != nil {
		t.Fatalf("update outcome: %v", err)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) || second.UpdatedBy != "ben" {
		t.Fatalf("expected update to keep creation time, got %+v", second)
	}
	got, ok, err := svc.GetOutcome(ctx, leaf)
	if err != nil || !ok || got.DiagnosticTriage != "pharmacy" || got.Actions != "ask" {
		t.Fatalf("unexpected stored outcome %+v ok=%v err=%v", got, ok, err)
	}
	if _, ok, err := svc.GetOutcome(ctx, root); ok || err != nil {
		t.Fatalf("expected no outcome on the root, ok=%v err=%v", ok, err)
	}

	_, err = svc.PutOutcome(ctx, OutcomeInput{NodeID: root, DiagnosticTriage: "x"})
	requireCode(t, err, domain.ErrNotALeaf)
	_, err = svc.PutOutcome(ctx, OutcomeInput{NodeID: 404})
	requireCode(t, err, domain.ErrNodeNotFound)
	_, _, err = svc.GetOutcome(ctx, 404)
	requireCode(t, err, domain.ErrNodeNotFound)

	mustChild(t, svc, leaf, "A1")
	n, _ = svc.GetNode(ctx, leaf)
	if n.IsLeaf {
		t.Fatalf("expected adding a child to clear the leaf flag")
	}
	if entries, err := svc.AuditEntries(ctx, AuditQuery{Operation: domain.AuditOutcomeUpdate}); err != nil || len(entries) != 2 {
		t.Fatalf("expected two outcome entries, got %d err=%v", len(entries), err)
	}
}

func TestSnapshot(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	root := mustRoot(t, svc, "R")
	leaf := mustChild(t, svc, root, "A")
	if _, err := svc.PutOutcome(ctx, OutcomeInput{NodeID: leaf, DiagnosticTriage: "rest"}); err != nil {
		t.Fatalf("put outcome: %v", err)
	}
	snap, err := svc.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Nodes) != 2 || snap.Nodes[0].ID != root || len(snap.Outcomes) != 1 || len(snap.Drafts) != 0 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}
