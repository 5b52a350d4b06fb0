package core

import (
	"context"

	"triagetree/pkg/domain"
)

// PutOutcome writes the triage fields of a leaf and marks it as a leaf.
func (s *Service) PutOutcome(ctx context.Context, in OutcomeInput) (Outcome, error) {
	var out Outcome
	err := s.run(ctx, "put_outcome", func(ctx context.Context) error {
		return s.transact(ctx, func(tx Transaction) error {
			node, err := requireNode(tx, in.NodeID)
			if err != nil {
				return err
			}
			if hasChildren(tx, node.ID) {
				return domain.NewError(domain.ErrNotALeaf, "", map[string]any{"node_id": node.ID, "children": len(childrenOf(tx, node.ID))})
			}
			previous, existed := tx.FindOutcome(node.ID)
			saved, err := tx.PutOutcome(Outcome{
				NodeID:           node.ID,
				DiagnosticTriage: in.DiagnosticTriage,
				Actions:          in.Actions,
				UpdatedBy:        in.Actor,
				CreatedAt:        previous.CreatedAt,
			})
			if err != nil {
				return err
			}
			if !node.IsLeaf {
				if _, err := tx.UpdateNode(node.ID, func(n *Node) error {
					n.IsLeaf = true
					return nil
				}); err != nil {
					return err
				}
			}
			payload := map[string]any{
				"node_id":           node.ID,
				"diagnostic_triage": saved.DiagnosticTriage,
				"actions":           saved.Actions,
			}
			if existed {
				payload["previous"] = previous
			}
			if _, err := appendAudit(tx, AuditRecord{
				Operation: domain.AuditOutcomeUpdate,
				TargetID:  formatID(node.ID),
				Actor:     in.Actor,
				Payload:   payload,
			}); err != nil {
				return err
			}
			out = saved
			return nil
		})
	})
	return out, err
}

// GetOutcome returns the outcome attached to nodeID.
func (s *Service) GetOutcome(ctx context.Context, nodeID int64) (Outcome, bool, error) {
	var (
		out Outcome
		ok  bool
	)
	err := s.run(ctx, "get_outcome", func(ctx context.Context) error {
		return s.view(ctx, func(v TransactionView) error {
			if _, err := requireNode(v, nodeID); err != nil {
				return err
			}
			out, ok = v.FindOutcome(nodeID)
			return nil
		})
	})
	return out, ok, err
}
