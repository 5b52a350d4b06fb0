package core

import (
	"context"
	"sort"

	"triagetree/pkg/domain"
)

// groupMembers returns the siblings addressed by key ordered by id.
func groupMembers(v TransactionView, key GroupKey) []Node {
	var members []Node
	for _, n := range v.ListChildren(key.ParentID) {
		if sameLabel(n.Label, key.Label) {
			members = append(members, n)
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
	return members
}

func keepMember(members []Node, keepID int64, key GroupKey) (Node, error) {
	for _, m := range members {
		if m.ID == keepID {
			return m, nil
		}
	}
	return Node{}, domain.NewError(domain.ErrKeepIDNotInGroup, "", map[string]any{
		"keep_id":   keepID,
		"parent_id": key.ParentID,
		"label":     key.Label,
		"members":   nodeIDs(members),
	})
}

// normalizeChildren assigns slots 1..5 to the first five children of
// parentID in slot order and clears the slot of the rest.
func normalizeChildren(tx Transaction, parentID int64) (int, []Node, error) {
	children := childrenOf(tx, parentID)
	changed := 0
	var excess []Node
	for i, c := range children {
		var want *int
		if i < domain.MaxChildren {
			want = domain.IntPtr(i + 1)
		}
		if want == nil {
			excess = append(excess, c)
		}
		if sameSlot(c.Slot, want) {
			continue
		}
		updated, err := tx.UpdateNode(c.ID, func(n *Node) error {
			n.Slot = want
			return nil
		})
		if err != nil {
			return changed, excess, err
		}
		changed++
		if want == nil {
			excess[len(excess)-1] = updated
		}
	}
	return changed, excess, nil
}

func sameSlot(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// NormalizeParent renumbers the children of parentID to slots 1..5 in their
// current order. Children beyond the fifth lose their slot and are reported
// as excess; nothing is deleted.
func (s *Service) NormalizeParent(ctx context.Context, parentID int64, actor string, expected *int) (NormalizeResult, error) {
	out := NormalizeResult{ParentID: parentID, ExcessChildren: []Node{}}
	err := s.run(ctx, "normalize_parent", func(ctx context.Context) error {
		return s.transact(ctx, func(tx Transaction) error {
			if _, err := requireParent(tx, parentID); err != nil {
				return err
			}
			if err := checkExpectedVersion(tx, parentID, expected); err != nil {
				return err
			}
			before := specs(childrenOf(tx, parentID))
			changed, excess, err := normalizeChildren(tx, parentID)
			if err != nil {
				return err
			}
			out.Changed = changed
			if excess != nil {
				out.ExcessChildren = excess
			}
			if changed == 0 {
				return nil
			}
			auditID, err := appendAudit(tx, AuditRecord{
				Operation: domain.AuditDataQualityRepair,
				TargetID:  formatID(parentID),
				Actor:     actor,
				Payload: map[string]any{
					"repair":    "normalize_parent",
					"parent_id": parentID,
					"changed":   changed,
					"before":    before,
					"after":     specs(childrenOf(tx, parentID)),
					"excess":    nodeIDs(excess),
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

// mergeStats accumulates the effects of folding duplicates into a survivor.
type mergeStats struct {
	removed    []int64
	reparented int
	targets    []int64
}

// mergeInto folds src into dst. Children of src whose label already exists
// under dst are merged recursively; the rest are re-parented onto dst. An
// outcome moves with a leaf into a destination that has none.
func mergeInto(tx Transaction, src, dst Node, stats *mergeStats) error {
	type pair struct{ src, dst Node }
	work := []pair{{src: src, dst: dst}}
	seenTarget := make(map[int64]struct{})
	for len(work) > 0 {
		p := work[0]
		work = work[1:]
		if p.src.ID == p.dst.ID {
			continue
		}
		if _, ok := seenTarget[p.dst.ID]; !ok {
			seenTarget[p.dst.ID] = struct{}{}
			stats.targets = append(stats.targets, p.dst.ID)
		}
		dstChildren := childrenOf(tx, p.dst.ID)
		srcChildren := childrenOf(tx, p.src.ID)
		for _, c := range srcChildren {
			if twin, ok := findByLabel(dstChildren, c.Label); ok {
				work = append(work, pair{src: c, dst: twin})
				continue
			}
			if err := reparent(tx, c.ID, p.dst); err != nil {
				return err
			}
			moved, _ := tx.FindNode(c.ID)
			dstChildren = append(dstChildren, moved)
			stats.reparented++
		}
		if len(srcChildren) > 0 {
			if err := clearLeafFlag(tx, p.dst); err != nil {
				return err
			}
		}
		if err := transferOutcome(tx, p.src, p.dst, len(srcChildren) == 0); err != nil {
			return err
		}
		if err := tx.DeleteNode(p.src.ID); err != nil {
			return err
		}
		stats.removed = append(stats.removed, p.src.ID)
	}
	return nil
}

func transferOutcome(tx Transaction, src, dst Node, srcIsLeaf bool) error {
	outcome, ok := tx.FindOutcome(src.ID)
	if !ok || !srcIsLeaf || hasChildren(tx, dst.ID) {
		return nil
	}
	if _, exists := tx.FindOutcome(dst.ID); exists {
		return nil
	}
	outcome.NodeID = dst.ID
	_, err := tx.PutOutcome(outcome)
	return err
}

// mergeGroup folds every member except keep into keep and renumbers the
// children of every node that received children.
func mergeGroup(tx Transaction, members []Node, keep Node) (mergeStats, []Node, error) {
	var stats mergeStats
	for _, m := range members {
		if m.ID == keep.ID {
			continue
		}
		if err := mergeInto(tx, m, keep, &stats); err != nil {
			return stats, nil, err
		}
	}
	excess := []Node{}
	for _, id := range stats.targets {
		if _, ok := tx.FindNode(id); !ok {
			continue
		}
		_, over, err := normalizeChildren(tx, id)
		if err != nil {
			return stats, nil, err
		}
		excess = append(excess, over...)
	}
	return stats, excess, nil
}

// MergeDuplicateParents collapses the group addressed by key into keepID.
func (s *Service) MergeDuplicateParents(ctx context.Context, key GroupKey, keepID int64, actor string) (MergeResult, error) {
	out := MergeResult{KeepID: keepID, Removed: []int64{}, ExcessChildren: []Node{}}
	err := s.run(ctx, "merge_duplicate_parents", func(ctx context.Context) error {
		return s.transact(ctx, func(tx Transaction) error {
			members := groupMembers(tx, key)
			keep, err := keepMember(members, keepID, key)
			if err != nil {
				return err
			}
			stats, excess, err := mergeGroup(tx, members, keep)
			if err != nil {
				return err
			}
			if stats.removed != nil {
				out.Removed = stats.removed
			}
			out.Reparented = stats.reparented
			out.ExcessChildren = excess
			if len(members) < 2 {
				return nil
			}
			auditID, err := appendAudit(tx, AuditRecord{
				Operation: domain.AuditConflictResolve,
				TargetID:  formatID(keepID),
				Actor:     actor,
				Payload: map[string]any{
					"mode":       "merge",
					"parent_id":  key.ParentID,
					"label":      key.Label,
					"keep_id":    keepID,
					"removed":    out.Removed,
					"reparented": out.Reparented,
					"excess":     nodeIDs(excess),
					"children":   specs(childrenOf(tx, keepID)),
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

// ResolveConflictGroup merges the group into KeepID and then sets its
// children to exactly Chosen. Either the whole target configuration commits
// or nothing does.
func (s *Service) ResolveConflictGroup(ctx context.Context, req ResolveRequest) (ResolveResult, error) {
	out := ResolveResult{KeepID: req.KeepID, Removed: []int64{}}
	err := s.run(ctx, "resolve_conflict_group", func(ctx context.Context) error {
		chosen, err := validateChosen(req.Chosen)
		if err != nil {
			return err
		}
		return s.transact(ctx, func(tx Transaction) error {
			members := groupMembers(tx, req.Key)
			keep, err := keepMember(members, req.KeepID, req.Key)
			if err != nil {
				return err
			}
			if err := checkExpectedVersion(tx, keep.ID, req.ExpectedVersion); err != nil {
				return err
			}
			beforeMembers := specs(members)
			stats, _, err := mergeGroup(tx, members, keep)
			if err != nil {
				return err
			}
			if stats.removed != nil {
				out.Removed = stats.removed
			}
			keep, err = requireNode(tx, keep.ID)
			if err != nil {
				return err
			}
			applied, err := applyChosen(tx, keep, chosen, true)
			if err != nil {
				return err
			}
			out.Created = applied.created
			out.Moved = applied.moved
			out.Deleted = applied.deleted
			out.Children = childrenOf(tx, keep.ID)
			auditID, err := appendAudit(tx, AuditRecord{
				Operation: domain.AuditConflictResolve,
				TargetID:  formatID(keep.ID),
				Actor:     req.Actor,
				Payload: map[string]any{
					"mode":       "resolve",
					"parent_id":  req.Key.ParentID,
					"label":      req.Key.Label,
					"keep_id":    keep.ID,
					"chosen":     chosen,
					"members":    beforeMembers,
					"removed":    out.Removed,
					"reparented": stats.reparented,
					"created":    out.Created,
					"moved":      out.Moved,
					"deleted":    out.Deleted,
					"before":     applied.before,
					"after":      applied.after,
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

// GetConflictGroup returns the members of the group addressed by key and the
// union of their children, counted by label.
func (s *Service) GetConflictGroup(ctx context.Context, key GroupKey) (ConflictGroup, error) {
	out := ConflictGroup{Key: key}
	err := s.run(ctx, "get_conflict_group", func(ctx context.Context) error {
		return s.view(ctx, func(v TransactionView) error {
			members := groupMembers(v, key)
			if len(members) == 0 {
				return domain.NewError(domain.ErrNodeNotFound, "no nodes match the conflict group", map[string]any{
					"parent_id": key.ParentID,
					"label":     key.Label,
				})
			}
			out.Members = members
			byLabel := make(map[string]*GroupChild)
			var order []string
			for _, m := range members {
				for _, c := range childrenOf(v, m.ID) {
					k := labelKey(c.Label)
					gc, ok := byLabel[k]
					if !ok {
						gc = &GroupChild{Label: c.Label}
						byLabel[k] = gc
						order = append(order, k)
					}
					gc.Count++
					gc.NodeIDs = append(gc.NodeIDs, c.ID)
					out.TotalChildren++
				}
			}
			out.Children = make([]GroupChild, 0, len(order))
			for _, k := range order {
				out.Children = append(out.Children, *byLabel[k])
			}
			sort.SliceStable(out.Children, func(i, j int) bool {
				a, b := out.Children[i], out.Children[j]
				if a.Count != b.Count {
					return a.Count > b.Count
				}
				return labelKey(a.Label) < labelKey(b.Label)
			})
			out.UniqueChildren = len(out.Children)
			return nil
		})
	})
	return out, err
}
