package core

import (
	"context"

	"triagetree/pkg/domain"
)

// chosenStats counts what applyChosen did to one parent.
type chosenStats struct {
	created     int
	moved       int
	deleted     int
	skipped     int
	before      []ChildSpec
	after       []ChildSpec
	descendants []ChildSpec
}

func (c chosenStats) changed() bool {
	return c.created+c.moved+c.deleted > 0
}

// applyChosen rewrites the children of parent to exactly chosen, slot i+1
// holding chosen[i]. Existing children are matched by label and moved into
// place; unmatched children are deleted with their subtrees. When parent sits
// at max depth, missing labels are skipped unless strict is set, in which
// case the write fails.
func applyChosen(tx Transaction, parent Node, chosen []string, strict bool) (chosenStats, error) {
	children := childrenOf(tx, parent.ID)
	stats := chosenStats{before: specs(children)}

	matched := make(map[int64]int, len(chosen))
	targets := make([]*Node, len(chosen))
	for i, label := range chosen {
		for j := range children {
			c := children[j]
			if _, used := matched[c.ID]; used || !sameLabel(c.Label, label) {
				continue
			}
			matched[c.ID] = i
			targets[i] = &children[j]
			break
		}
	}

	for _, c := range children {
		if _, keep := matched[c.ID]; keep {
			continue
		}
		removed := collectSubtree(tx, c.ID)
		stats.descendants = append(stats.descendants, specs(removed[1:])...)
		if _, err := deleteSubtree(tx, c.ID); err != nil {
			return stats, err
		}
		stats.deleted++
	}

	// Vacate the slots of moving targets first so they can trade places.
	for i, target := range targets {
		if target == nil || target.Slot == nil || *target.Slot == i+1 {
			continue
		}
		if _, err := tx.UpdateNode(target.ID, func(n *Node) error {
			n.Slot = nil
			return nil
		}); err != nil {
			return stats, err
		}
	}

	for i, label := range chosen {
		slot := i + 1
		target := targets[i]
		if target == nil {
			if parent.Depth >= domain.MaxDepth {
				if strict {
					return stats, domain.NewError(domain.ErrMaxDepthReached, "", map[string]any{"parent_id": parent.ID, "label": label})
				}
				stats.skipped++
				continue
			}
			if _, err := tx.CreateNode(Node{ParentID: &parent.ID, Label: label, Depth: parent.Depth + 1, Slot: domain.IntPtr(slot)}); err != nil {
				return stats, err
			}
			stats.created++
			continue
		}
		if target.SlotValue() == slot && target.Label == label {
			continue
		}
		stats.moved++
		if _, err := tx.UpdateNode(target.ID, func(n *Node) error {
			n.Slot = domain.IntPtr(slot)
			n.Label = label
			return nil
		}); err != nil {
			return stats, err
		}
	}

	if stats.created > 0 {
		if err := clearLeafFlag(tx, parent); err != nil {
			return stats, err
		}
	}
	stats.after = specs(childrenOf(tx, parent.ID))
	return stats, nil
}

// ApplyDefaultChildrenForLabel replaces the children of every node labeled
// label with chosen. The ledger entry carries per-parent snapshots so the
// whole application can be undone.
func (s *Service) ApplyDefaultChildrenForLabel(ctx context.Context, label string, chosen []string, actor string) (ApplyDefaultResult, error) {
	clean := domain.SanitizeLabel(label)
	out := ApplyDefaultResult{Label: clean}
	err := s.run(ctx, "apply_default_children", func(ctx context.Context) error {
		if clean == "" {
			return domain.NewError(domain.ErrEmptyLabel, "", map[string]any{"label": label})
		}
		targets, err := validateChosen(chosen)
		if err != nil {
			return err
		}
		return s.transact(ctx, func(tx Transaction) error {
			var parents []Node
			for _, n := range tx.ListNodes() {
				if sameLabel(n.Label, clean) {
					parents = append(parents, n)
				}
			}
			out.ParentsMatched = len(parents)
			if len(parents) == 0 {
				return nil
			}
			undo := &domain.UndoData{}
			for _, p := range parents {
				// An earlier parent's deletes may have removed this one.
				current, ok := tx.FindNode(p.ID)
				if !ok {
					continue
				}
				stats, err := applyChosen(tx, current, targets, false)
				if err != nil {
					return err
				}
				out.Created += stats.created
				out.Moved += stats.moved
				out.Deleted += stats.deleted
				out.SkippedCreates += stats.skipped
				if !stats.changed() {
					continue
				}
				out.ParentsUpdated++
				undo.Parents = append(undo.Parents, domain.ParentSnapshot{
					ParentID:       current.ID,
					BeforeChildren: stats.before,
					AfterChildren:  stats.after,
					Descendants:    stats.descendants,
				})
			}
			rec := AuditRecord{
				Operation: domain.AuditApplyDefault,
				TargetID:  clean,
				Actor:     actor,
				Payload: map[string]any{
					"label":           clean,
					"chosen":          targets,
					"parents_matched": out.ParentsMatched,
					"parents_updated": out.ParentsUpdated,
					"created":         out.Created,
					"moved":           out.Moved,
					"deleted":         out.Deleted,
					"skipped_creates": out.SkippedCreates,
				},
			}
			if out.ParentsUpdated > 0 {
				rec.UndoData = undo
				rec.IsUndoable = true
			}
			auditID, err := appendAudit(tx, rec)
			if err != nil {
				return err
			}
			out.AuditID = auditID
			return nil
		})
	})
	return out, err
}
