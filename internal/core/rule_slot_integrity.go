package core

import (
	"context"
	"fmt"

	"triagetree/pkg/domain"
)

const ruleSlotIntegrity = "slot_integrity"

// NewSlotIntegrityRule blocks commits that leave a written child with a slot
// outside 1..5 or sharing its slot with a sibling.
func NewSlotIntegrityRule() domain.Rule {
	return slotIntegrityRule{}
}

type slotIntegrityRule struct{}

func (slotIntegrityRule) Name() string { return ruleSlotIntegrity }

// placement is a node's parent and slot as recorded in an undo snapshot.
type placement struct {
	parentID int64
	slot     int
}

type restoredKey struct{}

// withRestoredPlacements marks placements copied back from an undo snapshot.
// The slot integrity rule lets them keep slot collisions and out-of-range
// slots they already had, so legacy data can be restored as it was.
func withRestoredPlacements(ctx context.Context, specs []domain.ChildSpec) context.Context {
	restored := make(map[int64]placement, len(specs))
	for _, spec := range specs {
		if spec.ID == nil || spec.ParentID == nil || spec.Slot == 0 {
			continue
		}
		restored[*spec.ID] = placement{parentID: *spec.ParentID, slot: spec.Slot}
	}
	return context.WithValue(ctx, restoredKey{}, restored)
}

func restoredPlacement(ctx context.Context, n domain.Node) bool {
	restored, _ := ctx.Value(restoredKey{}).(map[int64]placement)
	p, ok := restored[n.ID]
	return ok && n.ParentID != nil && n.Slot != nil && p.parentID == *n.ParentID && p.slot == *n.Slot
}

func (slotIntegrityRule) Evaluate(ctx context.Context, view domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	ids, _ := touchedNodes(changes)
	for _, id := range ids {
		node, ok := view.FindNode(id)
		if !ok || node.Slot == nil || node.ParentID == nil {
			continue
		}
		restored := restoredPlacement(ctx, node)
		slot := *node.Slot
		if slot < domain.MinSlot || slot > domain.MaxSlot {
			if !restored {
				res.Violations = append(res.Violations, slotViolation(node, fmt.Sprintf("node %d holds slot %d outside %d..%d", node.ID, slot, domain.MinSlot, domain.MaxSlot)))
			}
			continue
		}
		for _, sibling := range view.ListChildren(node.ParentID) {
			if sibling.ID != node.ID && sibling.Slot != nil && *sibling.Slot == slot {
				if restored && restoredPlacement(ctx, sibling) {
					continue
				}
				res.Violations = append(res.Violations, slotViolation(node, fmt.Sprintf("node %d shares slot %d of parent %d with node %d", node.ID, slot, *node.ParentID, sibling.ID)))
				break
			}
		}
	}
	return res, nil
}

func slotViolation(node domain.Node, message string) domain.Violation {
	return domain.Violation{
		Rule:     ruleSlotIntegrity,
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   domain.EntityNode,
		EntityID: formatID(node.ID),
	}
}
