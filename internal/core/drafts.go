package core

import (
	"context"
	"sort"

	"triagetree/pkg/domain"
)

func draftNotFound(id string) error {
	return domain.NewError(domain.ErrDraftNotFound, "", map[string]any{"draft_id": id})
}

func invalidDraft(message string, details map[string]any) error {
	return domain.NewError(domain.ErrInvalidDraft, message, details)
}

// prepareTargets validates a draft target set against parent and returns it
// with labels sanitized and parent, depth, and order filled in.
func prepareTargets(v TransactionView, parent Node, targets []ChildSpec) ([]ChildSpec, error) {
	if len(targets) > domain.MaxChildren {
		return nil, invalidDraft("a draft holds at most five children", map[string]any{"count": len(targets)})
	}
	if len(targets) > 0 && parent.Depth >= domain.MaxDepth {
		return nil, domain.NewError(domain.ErrMaxDepthReached, "", map[string]any{"parent_id": parent.ID})
	}
	current := make(map[int64]struct{})
	for _, c := range childrenOf(v, parent.ID) {
		current[c.ID] = struct{}{}
	}
	slots := make(map[int]struct{}, len(targets))
	labels := make(map[string]struct{}, len(targets))
	ids := make(map[int64]struct{}, len(targets))
	out := make([]ChildSpec, 0, len(targets))
	for i, t := range targets {
		label := domain.SanitizeLabel(t.Label)
		if label == "" {
			return nil, invalidDraft("target label is empty", map[string]any{"position": i + 1})
		}
		if t.Slot < domain.MinSlot || t.Slot > domain.MaxSlot {
			return nil, invalidDraft("target slot must be between 1 and 5", map[string]any{"position": i + 1, "slot": t.Slot})
		}
		if _, dup := slots[t.Slot]; dup {
			return nil, invalidDraft("target slots must be unique", map[string]any{"slot": t.Slot})
		}
		slots[t.Slot] = struct{}{}
		key := labelKey(label)
		if _, dup := labels[key]; dup {
			return nil, invalidDraft("target labels must be unique", map[string]any{"label": label})
		}
		labels[key] = struct{}{}
		spec := ChildSpec{
			ParentID: domain.Int64Ptr(parent.ID),
			Label:    label,
			Slot:     t.Slot,
			Depth:    parent.Depth + 1,
			IsLeaf:   t.IsLeaf,
		}
		if t.ID != nil {
			if _, ok := current[*t.ID]; !ok {
				return nil, invalidDraft("target id is not a child of the parent", map[string]any{"id": *t.ID, "parent_id": parent.ID})
			}
			if _, dup := ids[*t.ID]; dup {
				return nil, invalidDraft("target ids must be unique", map[string]any{"id": *t.ID})
			}
			ids[*t.ID] = struct{}{}
			spec.ID = domain.Int64Ptr(*t.ID)
		}
		out = append(out, spec)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out, nil
}

// CreateDraft stages a target child set for a parent.
func (s *Service) CreateDraft(ctx context.Context, in DraftInput) (Draft, error) {
	var out Draft
	err := s.run(ctx, "create_draft", func(ctx context.Context) error {
		return s.transact(ctx, func(tx Transaction) error {
			parent, err := requireParent(tx, in.ParentID)
			if err != nil {
				return err
			}
			targets, err := prepareTargets(tx, parent, in.TargetChildren)
			if err != nil {
				return err
			}
			created, err := tx.CreateDraft(Draft{
				ID:             s.newDraftID(),
				ParentID:       parent.ID,
				TargetChildren: targets,
				Status:         domain.DraftStatusDraft,
				CreatedBy:      in.Actor,
			})
			out = created
			return err
		})
	})
	return out, err
}

// UpdateDraft replaces the target children of a draft that is still editable.
func (s *Service) UpdateDraft(ctx context.Context, id string, targets []ChildSpec) (Draft, error) {
	var out Draft
	err := s.run(ctx, "update_draft", func(ctx context.Context) error {
		return s.transact(ctx, func(tx Transaction) error {
			draft, ok := tx.FindDraft(id)
			if !ok {
				return draftNotFound(id)
			}
			if !draft.Editable() {
				return domain.NewError(domain.ErrDraftNotEditable, "", map[string]any{"draft_id": id, "status": draft.Status})
			}
			parent, err := requireParent(tx, draft.ParentID)
			if err != nil {
				return err
			}
			prepared, err := prepareTargets(tx, parent, targets)
			if err != nil {
				return err
			}
			updated, err := tx.UpdateDraft(id, func(d *Draft) error {
				d.TargetChildren = prepared
				return nil
			})
			out = updated
			return err
		})
	})
	return out, err
}

// DeleteDraft discards a draft that has not been published.
func (s *Service) DeleteDraft(ctx context.Context, id string) error {
	return s.run(ctx, "delete_draft", func(ctx context.Context) error {
		return s.transact(ctx, func(tx Transaction) error {
			draft, ok := tx.FindDraft(id)
			if !ok {
				return draftNotFound(id)
			}
			if !draft.Editable() {
				return domain.NewError(domain.ErrDraftNotEditable, "", map[string]any{"draft_id": id, "status": draft.Status})
			}
			return tx.DeleteDraft(id)
		})
	})
}

// GetDraft returns a draft by id.
func (s *Service) GetDraft(ctx context.Context, id string) (Draft, error) {
	var out Draft
	err := s.run(ctx, "get_draft", func(ctx context.Context) error {
		return s.view(ctx, func(v TransactionView) error {
			draft, ok := v.FindDraft(id)
			if !ok {
				return draftNotFound(id)
			}
			out = draft
			return nil
		})
	})
	return out, err
}

// ListDrafts returns drafts ordered by creation time, optionally for one
// parent only.
func (s *Service) ListDrafts(ctx context.Context, parentID *int64) ([]Draft, error) {
	var out []Draft
	err := s.run(ctx, "list_drafts", func(ctx context.Context) error {
		return s.view(ctx, func(v TransactionView) error {
			out = []Draft{}
			for _, d := range v.ListDrafts() {
				if parentID == nil || d.ParentID == *parentID {
					out = append(out, d)
				}
			}
			sort.SliceStable(out, func(i, j int) bool {
				if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
					return out[i].CreatedAt.Before(out[j].CreatedAt)
				}
				return out[i].ID < out[j].ID
			})
			return nil
		})
	})
	return out, err
}

// CalculateDiff compares a draft's target children with the current children
// of its parent.
func (s *Service) CalculateDiff(ctx context.Context, id string) (Diff, error) {
	var out Diff
	err := s.run(ctx, "calculate_diff", func(ctx context.Context) error {
		return s.view(ctx, func(v TransactionView) error {
			draft, ok := v.FindDraft(id)
			if !ok {
				return draftNotFound(id)
			}
			if _, err := requireParent(v, draft.ParentID); err != nil {
				return err
			}
			out = computeDiff(v, draft)
			return nil
		})
	})
	return out, err
}

// computeDiff keys children by id. Targets without an id, or whose id is no
// longer a child, are creates. Operations are ordered deletes, updates,
// creates so that slots are released before they are claimed.
func computeDiff(v TransactionView, draft Draft) Diff {
	current := childrenOf(v, draft.ParentID)
	byID := make(map[int64]Node, len(current))
	for _, c := range current {
		byID[c.ID] = c
	}
	inTarget := make(map[int64]struct{}, len(draft.TargetChildren))
	var creates, updates, deletes []Operation
	for _, t := range draft.TargetChildren {
		target := t
		if t.ID != nil {
			if existing, ok := byID[*t.ID]; ok {
				inTarget[existing.ID] = struct{}{}
				if existing.Label != t.Label || existing.SlotValue() != t.Slot || existing.IsLeaf != t.IsLeaf {
					before := existing.Spec()
					target.ID = domain.Int64Ptr(existing.ID)
					updates = append(updates, Operation{Kind: domain.OperationUpdate, NodeID: existing.ID, Before: &before, After: &target})
				}
				continue
			}
			target.ID = nil
		}
		creates = append(creates, Operation{Kind: domain.OperationCreate, After: &target})
	}
	for _, c := range current {
		if _, ok := inTarget[c.ID]; ok {
			continue
		}
		before := c.Spec()
		deletes = append(deletes, Operation{Kind: domain.OperationDelete, NodeID: c.ID, Before: &before})
	}
	diff := Diff{DraftID: draft.ID, ParentID: draft.ParentID, Operations: []Operation{}}
	diff.Operations = append(diff.Operations, deletes...)
	diff.Operations = append(diff.Operations, updates...)
	diff.Operations = append(diff.Operations, creates...)
	diff.Summary = domain.DiffSummary{
		Creates: len(creates),
		Updates: len(updates),
		Deletes: len(deletes),
		Total:   len(diff.Operations),
	}
	return diff
}

// PublishDraft applies a draft in one transaction and marks it published. A
// draft whose diff is empty publishes successfully with nothing applied and
// keeps its status.
func (s *Service) PublishDraft(ctx context.Context, req PublishRequest) (PublishResult, error) {
	var out PublishResult
	err := s.run(ctx, "publish_draft", func(ctx context.Context) error {
		return s.transact(ctx, func(tx Transaction) error {
			draft, ok := tx.FindDraft(req.DraftID)
			if !ok {
				return draftNotFound(req.DraftID)
			}
			parent, err := requireParent(tx, draft.ParentID)
			if err != nil {
				return err
			}
			if err := checkExpectedVersion(tx, parent.ID, req.ExpectedVersion); err != nil {
				return err
			}
			diff := computeDiff(tx, draft)
			out.Diff = diff
			out.Draft = draft
			if diff.Empty() {
				return nil
			}
			if !draft.Editable() {
				return domain.NewError(domain.ErrDraftNotEditable, "", map[string]any{"draft_id": draft.ID, "status": draft.Status})
			}
			if err := applyDiff(tx, parent, diff); err != nil {
				return err
			}
			out.Applied = len(diff.Operations)
			now := s.now()
			published, err := tx.UpdateDraft(draft.ID, func(d *Draft) error {
				by := req.Actor
				d.Status = domain.DraftStatusPublished
				d.PublishedBy = &by
				d.PublishedAt = &now
				return nil
			})
			if err != nil {
				return err
			}
			out.Draft = published
			auditID, err := appendAudit(tx, AuditRecord{
				Operation: domain.AuditChildrenUpdate,
				TargetID:  formatID(parent.ID),
				Actor:     req.Actor,
				Payload: map[string]any{
					"draft_id":   draft.ID,
					"parent_id":  parent.ID,
					"operations": diff.Operations,
					"summary":    diff.Summary,
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

func applyDiff(tx Transaction, parent Node, diff Diff) error {
	created := false
	for _, op := range diff.Operations {
		switch op.Kind {
		case domain.OperationDelete:
			if _, err := deleteSubtree(tx, op.NodeID); err != nil {
				return err
			}
		case domain.OperationUpdate:
			after := *op.After
			if _, err := tx.UpdateNode(op.NodeID, func(n *Node) error {
				n.Label = after.Label
				n.Slot = after.SlotPtr()
				n.IsLeaf = after.IsLeaf
				return nil
			}); err != nil {
				return err
			}
		case domain.OperationCreate:
			if parent.Depth >= domain.MaxDepth {
				return domain.NewError(domain.ErrMaxDepthReached, "", map[string]any{"parent_id": parent.ID})
			}
			after := *op.After
			if _, err := tx.CreateNode(Node{
				ParentID: domain.Int64Ptr(parent.ID),
				Label:    after.Label,
				Depth:    parent.Depth + 1,
				Slot:     after.SlotPtr(),
				IsLeaf:   after.IsLeaf,
			}); err != nil {
				return err
			}
			created = true
		}
	}
	if created {
		return clearLeafFlag(tx, parent)
	}
	return nil
}
