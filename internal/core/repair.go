package core

import (
	"context"

	"triagetree/pkg/domain"
)

// RepairDepths recomputes every depth from the roots down. Nodes that cannot
// be reached from a root, or that would land below the maximum depth, are
// left untouched and reported.
func (s *Service) RepairDepths(ctx context.Context, actor string) (RepairResult, error) {
	out := RepairResult{Unrepairable: []int64{}}
	err := s.run(ctx, "repair_depths", func(ctx context.Context) error {
		return s.transact(ctx, func(tx Transaction) error {
			reached := make(map[int64]struct{})
			queue := tx.ListChildren(nil)
			var fixed []int64
			for len(queue) > 0 {
				n := queue[0]
				queue = queue[1:]
				if _, seen := reached[n.ID]; seen {
					continue
				}
				want := 0
				if n.ParentID != nil {
					parent, _ := tx.FindNode(*n.ParentID)
					want = parent.Depth + 1
				}
				if want > domain.MaxDepth {
					for _, lost := range collectSubtree(tx, n.ID) {
						if _, seen := reached[lost.ID]; !seen {
							reached[lost.ID] = struct{}{}
							out.Unrepairable = append(out.Unrepairable, lost.ID)
						}
					}
					continue
				}
				reached[n.ID] = struct{}{}
				if n.Depth != want {
					if _, err := tx.UpdateNode(n.ID, func(node *Node) error {
						node.Depth = want
						return nil
					}); err != nil {
						return err
					}
					fixed = append(fixed, n.ID)
				}
				queue = append(queue, childrenOf(tx, n.ID)...)
			}
			for _, n := range tx.ListNodes() {
				if _, ok := reached[n.ID]; !ok {
					out.Unrepairable = append(out.Unrepairable, n.ID)
				}
			}
			out.Updated = len(fixed)
			if out.Updated == 0 {
				return nil
			}
			auditID, err := appendAudit(tx, AuditRecord{
				Operation: domain.AuditDataQualityRepair,
				TargetID:  "depths",
				Actor:     actor,
				Payload: map[string]any{
					"repair":       "depths",
					"updated":      fixed,
					"unrepairable": out.Unrepairable,
				},
			})
			if err != nil {
				return err
			}
			out.AuditID = auditID
			return nil
		})
	})
	return out, err
}

// ClearWorkspace removes every node, outcome, and draft. The ledger is kept
// and records the clear. The commit is refused if anything survives.
func (s *Service) ClearWorkspace(ctx context.Context, actor string) (ClearResult, error) {
	var out ClearResult
	err := s.run(ctx, "clear_workspace", func(ctx context.Context) error {
		return s.transact(ctx, func(tx Transaction) error {
			for _, d := range tx.ListDrafts() {
				if err := tx.DeleteDraft(d.ID); err != nil {
					return err
				}
				out.Drafts++
			}
			out.Outcomes = len(tx.ListOutcomes())
			nodes := tx.ListNodes()
			for i := len(nodes) - 1; i >= 0; i-- {
				if err := tx.DeleteNode(nodes[i].ID); err != nil {
					return err
				}
				out.Nodes++
			}
			if left := len(tx.ListNodes()) + len(tx.ListOutcomes()) + len(tx.ListDrafts()); left > 0 {
				return domain.NewError(domain.ErrPostCondition, "workspace clear left records behind", map[string]any{"remaining": left})
			}
			auditID, err := appendAudit(tx, AuditRecord{
				Operation: domain.AuditDataQualityRepair,
				TargetID:  "workspace",
				Actor:     actor,
				Payload: map[string]any{
					"repair":   "clear_workspace",
					"nodes":    out.Nodes,
					"outcomes": out.Outcomes,
					"drafts":   out.Drafts,
				},
			})
			if err != nil {
				return err
			}
			out.AuditID = auditID
			return nil
		})
	})
	return out, err
}
