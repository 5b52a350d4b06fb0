package core

import (
	"context"
	"errors"
	"testing"

	"triagetree/pkg/domain"
)

// seedCoughTree places "Cough" twice: once under the root with {A{A1}, B}
// and once as "cough" under Fever with {B, Z}.
func seedCoughTree(t *testing.T, svc *Service) {
	t.Helper()
	seedNodes(t, svc,
		node(1, 0, "Symptoms", 0, 0),
		node(2, 1, "Cough", 1, 1),
		node(3, 1, "Fever", 1, 2),
		node(4, 2, "A", 2, 1),
		node(5, 2, "B", 2, 2),
		node(6, 4, "A1", 3, 1),
		node(7, 3, "cough", 2, 1),
		node(8, 7, "B", 3, 1),
		node(9, 7, "Z", 3, 2),
	)
}

func TestApplyDefaultChildrenForLabel(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	seedCoughTree(t, svc)

	res, err := svc.ApplyDefaultChildrenForLabel(ctx, " COUGH ", []string{"B", "C", "D", "E", "F"}, "ana")
	if err != nil {
		t.Fatalf("apply default: %v", err)
	}
	if res.Label != "COUGH" || res.ParentsMatched != 2 || res.ParentsUpdated != 2 {
		t.Fatalf("unexpected parents %+v", res)
	}
	if res.Created != 8 || res.Moved != 1 || res.Deleted != 2 || res.SkippedCreates != 0 {
		t.Fatalf("unexpected counts %+v", res)
	}
	want := []string{"B", "C", "D", "E", "F"}
	for _, parent := range []int64{2, 7} {
		if got := slotLabels(t, svc, parent); !equalStrings(got, want) {
			t.Fatalf("parent %d: unexpected children %v", parent, got)
		}
	}
	for _, gone := range []int64{4, 6, 9} {
		if _, err := svc.GetNode(ctx, gone); err == nil {
			t.Fatalf("expected node %d to be deleted", gone)
		}
	}
	if slotOf(t, svc, 5) != 1 || slotOf(t, svc, 8) != 1 {
		t.Fatalf("expected existing B nodes to hold slot 1")
	}

	entries, err := svc.AuditEntries(ctx, AuditQuery{Operation: domain.AuditApplyDefault})
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one apply-default entry, got %+v err=%v", entries, err)
	}
	entry := entries[0]
	if entry.ID != res.AuditID || !entry.IsUndoable || entry.UndoData == nil || len(entry.UndoData.Parents) != 2 {
		t.Fatalf("unexpected ledger entry %+v", entry)
	}
	if len(entry.UndoData.Parents[0].Descendants) != 1 || entry.UndoData.Parents[0].Descendants[0].Label != "A1" {
		t.Fatalf("expected A1 to be captured as a descendant, got %+v", entry.UndoData.Parents[0].Descendants)
	}
	assertTreeShape(t, svc)
}

func TestUndoRestoresApplyDefault(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	seedCoughTree(t, svc)

	res, err := svc.ApplyDefaultChildrenForLabel(ctx, "cough", []string{"B", "C", "D", "E", "F"}, "ana")
	if err != nil {
		t.Fatalf("apply default: %v", err)
	}
	ok, err := svc.Undo(ctx, res.AuditID, "ben")
	if err != nil || !ok {
		t.Fatalf("expected undo to succeed, ok=%v err=%v", ok, err)
	}
	if got := slotLabels(t, svc, 2); !equalStrings(got, []string{"A", "B"}) {
		t.Fatalf("unexpected restored children of 2: %v", got)
	}
	if got := slotLabels(t, svc, 7); !equalStrings(got, []string{"B", "Z"}) {
		t.Fatalf("unexpected restored children of 7: %v", got)
	}
	a1, err := svc.GetNode(ctx, 6)
	if err != nil {
		t.Fatalf("expected A1 to be restored: %v", err)
	}
	if a1.ParentValue() != 4 || a1.Depth != 3 || a1.SlotValue() != 1 {
		t.Fatalf("unexpected restored A1 %+v", a1)
	}
	if slotOf(t, svc, 4) != 1 || slotOf(t, svc, 5) != 2 || slotOf(t, svc, 9) != 2 {
		t.Fatalf("expected original slots back")
	}

	again, err := svc.Undo(ctx, res.AuditID, "ben")
	if err != nil || again {
		t.Fatalf("expected second undo to be a no-op, ok=%v err=%v", again, err)
	}
	stats, err := svc.AuditStats(ctx)
	if err != nil {
		t.Fatalf("audit stats: %v", err)
	}
	if stats.Total != 1 || stats.Undoable != 1 || stats.Undone != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	entries, err := svc.AuditEntries(ctx, AuditQuery{})
	if err != nil {
		t.Fatalf("audit entries: %v", err)
	}
	if entries[0].UndoneBy == nil || *entries[0].UndoneBy != "ben" || entries[0].UndoneAt == nil || !entries[0].UndoneAt.Equal(fixedNow) {
		t.Fatalf("expected undo markers, got %+v", entries[0])
	}
	assertTreeShape(t, svc)
}

func TestUndoRestoresLegacySlotCollisions(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	seedLegacy(t, svc,
		node(1, 0, "P", 0, 0),
		node(2, 1, "X", 1, 1),
		node(3, 1, "Y", 1, 1),
	)

	res, err := svc.ApplyDefaultChildrenForLabel(ctx, "P", []string{"A", "B", "C", "D", "E"}, "ana")
	if err != nil {
		t.Fatalf("apply default: %v", err)
	}
	assertTreeShape(t, svc)

	ok, err := svc.Undo(ctx, res.AuditID, "ben")
	if err != nil || !ok {
		t.Fatalf("expected undo to restore the legacy children, ok=%v err=%v", ok, err)
	}
	if got := slotLabels(t, svc, 1); !equalStrings(got, []string{"X", "Y"}) {
		t.Fatalf("unexpected restored children %v", got)
	}
	if slotOf(t, svc, 2) != 1 || slotOf(t, svc, 3) != 1 {
		t.Fatalf("expected both legacy children back in slot 1")
	}

	// The allowance covers the restore only; later writes see the collision.
	_, err = svc.Store().RunInTransaction(ctx, func(tx Transaction) error {
		_, err := tx.UpdateNode(2, func(n *Node) error {
			n.Label = "X2"
			return nil
		})
		return err
	})
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) || !violation.BlockedBy("slot_integrity") {
		t.Fatalf("expected slot integrity to block a fresh write, got %v", err)
	}
}

// blockCreateRule blocks every commit that creates a node with label.
type blockCreateRule struct{ label string }

func (blockCreateRule) Name() string { return "block_create" }

func (r blockCreateRule) Evaluate(_ context.Context, _ domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, change := range changes {
		n, ok := change.After.(domain.Node)
		if !ok || change.Action != domain.ActionCreate || n.Label != r.label {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "block_create",
			Severity: domain.SeverityBlock,
			Message:  "creation blocked",
			Entity:   domain.EntityNode,
			EntityID: formatID(n.ID),
		})
	}
	return res, nil
}

func TestUndoRejectedAtCommitReportsFalse(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	seedCoughTree(t, svc)
	svc.RulesEngine().Register(blockCreateRule{label: "A1"})

	res, err := svc.ApplyDefaultChildrenForLabel(ctx, "cough", []string{"B", "C", "D", "E", "F"}, "ana")
	if err != nil {
		t.Fatalf("apply default: %v", err)
	}
	ok, err := svc.Undo(ctx, res.AuditID, "ben")
	if err == nil || ok {
		t.Fatalf("expected a rejected undo to report false with an error, ok=%v err=%v", ok, err)
	}
	requireCode(t, err, domain.ErrPostCondition)
	if _, err := svc.GetNode(ctx, 6); err == nil {
		t.Fatalf("expected A1 to stay deleted after the rollback")
	}
	entries, err := svc.AuditEntries(ctx, AuditQuery{})
	if err != nil || len(entries) != 1 || entries[0].Undone() {
		t.Fatalf("expected the entry to remain undoable, got %+v err=%v", entries, err)
	}
	assertTreeShape(t, svc)
}

func TestUndoIgnoresEntriesItCannotReverse(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	ok, err := svc.Undo(ctx, 999, "ana")
	if err != nil || ok {
		t.Fatalf("expected missing entry to be ignored, ok=%v err=%v", ok, err)
	}
	id, err := svc.LogAudit(ctx, AuditRecord{Operation: domain.AuditChildrenUpdate, TargetID: "1", Actor: "ana"})
	if err != nil {
		t.Fatalf("log audit: %v", err)
	}
	ok, err = svc.Undo(ctx, id, "ana")
	if err != nil || ok {
		t.Fatalf("expected non-undoable entry to be ignored, ok=%v err=%v", ok, err)
	}
	_, err = svc.LogAudit(ctx, AuditRecord{Operation: "rename-everything"})
	requireCode(t, err, domain.ErrInvalidOperation)
}

func TestApplyDefaultEdgeCases(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)
	seedNodes(t, svc,
		node(1, 0, "L0", 0, 0),
		node(2, 1, "L1", 1, 1),
		node(3, 2, "L2", 2, 1),
		node(4, 3, "L3", 3, 1),
		node(5, 4, "L4", 4, 1),
		node(6, 5, "Deep", 5, 1),
	)

	_, err := svc.ApplyDefaultChildrenForLabel(ctx, "  ", []string{"A", "B", "C", "D", "E"}, "ana")
	requireCode(t, err, domain.ErrEmptyLabel)
	_, err = svc.ApplyDefaultChildrenForLabel(ctx, "Deep", []string{"A", "B"}, "ana")
	requireCode(t, err, domain.ErrMustChooseFive)

	none, err := svc.ApplyDefaultChildrenForLabel(ctx, "absent", []string{"A", "B", "C", "D", "E"}, "ana")
	if err != nil {
		t.Fatalf("apply to missing label: %v", err)
	}
	if none.ParentsMatched != 0 || none.AuditID != 0 || auditCount(t, svc) != 0 {
		t.Fatalf("expected nothing to happen, got %+v", none)
	}

	deep, err := svc.ApplyDefaultChildrenForLabel(ctx, "deep", []string{"A", "B", "C", "D", "E"}, "ana")
	if err != nil {
		t.Fatalf("apply at max depth: %v", err)
	}
	if deep.ParentsMatched != 1 || deep.ParentsUpdated != 0 || deep.SkippedCreates != 5 {
		t.Fatalf("expected skipped creates at max depth, got %+v", deep)
	}
	entries, err := svc.AuditEntries(ctx, AuditQuery{})
	if err != nil || len(entries) != 1 || entries[0].IsUndoable {
		t.Fatalf("expected one non-undoable entry, got %+v err=%v", entries, err)
	}
	if got := slotLabels(t, svc, 6); len(got) != 0 {
		t.Fatalf("expected no children at max depth, got %v", got)
	}
}
