package core

import (
	"context"
	"sort"
	"strings"

	"triagetree/pkg/domain"
)

// CreateRootIfMissing returns the root labeled label, creating it at depth 0
// when absent.
func (s *Service) CreateRootIfMissing(ctx context.Context, label string) (int64, error) {
	clean := domain.SanitizeLabel(label)
	var id int64
	err := s.run(ctx, "create_root_if_missing", func(ctx context.Context) error {
		if clean == "" {
			return domain.NewError(domain.ErrEmptyLabel, "", map[string]any{"label": label})
		}
		return s.transact(ctx, func(tx Transaction) error {
			if existing, ok := findByLabel(tx.ListChildren(nil), clean); ok {
				id = existing.ID
				return nil
			}
			created, err := tx.CreateNode(Node{Label: clean, Depth: 0})
			if err != nil {
				return err
			}
			id = created.ID
			return nil
		})
	})
	return id, err
}

// FindOrCreateChild returns the child of parentID with label at depth,
// creating it in the first free slot. When no slot is free nothing is created
// and Overfull is set.
func (s *Service) FindOrCreateChild(ctx context.Context, parentID int64, label string, depth int) (ChildResult, error) {
	clean := domain.SanitizeLabel(label)
	var out ChildResult
	err := s.run(ctx, "find_or_create_child", func(ctx context.Context) error {
		if clean == "" {
			return domain.NewError(domain.ErrEmptyLabel, "", map[string]any{"label": label})
		}
		return s.transact(ctx, func(tx Transaction) error {
			parent, err := requireParent(tx, parentID)
			if err != nil {
				return err
			}
			if depth != parent.Depth+1 {
				return domain.NewError(domain.ErrInvalidDepth, "", map[string]any{"parent_depth": parent.Depth, "depth": depth})
			}
			children := childrenOf(tx, parentID)
			for _, c := range children {
				if c.Depth == depth && sameLabel(c.Label, clean) {
					out = ChildResult{ID: c.ID}
					return nil
				}
			}
			if parent.Depth >= domain.MaxDepth {
				return domain.NewError(domain.ErrMaxDepthReached, "", map[string]any{"parent_id": parentID})
			}
			// Unslotted excess children still count toward the ceiling.
			slot, ok := FirstFreeSlot(children)
			if !ok || len(children) >= domain.MaxChildren {
				out = ChildResult{Overfull: true}
				return nil
			}
			created, err := tx.CreateNode(Node{ParentID: &parent.ID, Label: clean, Depth: depth, Slot: domain.IntPtr(slot)})
			if err != nil {
				return err
			}
			if err := clearLeafFlag(tx, parent); err != nil {
				return err
			}
			out = ChildResult{ID: created.ID, Created: true}
			return nil
		})
	})
	return out, err
}

// PutSlot writes label into one slot of a parent. It never overwrites a
// different occupant unless that occupant's label can trade places with an
// existing sibling.
func (s *Service) PutSlot(ctx context.Context, req PutSlotRequest) (PutSlotResult, error) {
	clean := domain.SanitizeLabel(req.Label)
	var out PutSlotResult
	err := s.run(ctx, "put_slot", func(ctx context.Context) error {
		if req.Slot < domain.MinSlot || req.Slot > domain.MaxSlot {
			return domain.NewError(domain.ErrSlotOutOfRange, "", map[string]any{"slot": req.Slot})
		}
		if clean == "" {
			return domain.NewError(domain.ErrEmptyLabel, "", map[string]any{"label": req.Label})
		}
		return s.transact(ctx, func(tx Transaction) error {
			parent, err := requireParent(tx, req.ParentID)
			if err != nil {
				return err
			}
			if parent.Depth >= domain.MaxDepth {
				return domain.NewError(domain.ErrMaxDepthReached, "", map[string]any{"parent_id": parent.ID})
			}
			if err := checkExpectedVersion(tx, parent.ID, req.ExpectedVersion); err != nil {
				return err
			}
			children := childrenOf(tx, parent.ID)
			occupant, occupied := findBySlot(children, req.Slot)
			var existing Node
			var exists bool
			for _, c := range children {
				if sameLabel(c.Label, clean) && (!occupied || c.ID != occupant.ID) {
					existing, exists = c, true
					break
				}
			}

			switch {
			case occupied && sameLabel(occupant.Label, clean):
				out.NodeID = occupant.ID
				if occupant.Label == clean {
					out.Action = PutSlotNoop
					return nil
				}
				if _, err := tx.UpdateNode(occupant.ID, func(n *Node) error {
					n.Label = clean
					return nil
				}); err != nil {
					return err
				}
				out.Action = PutSlotUpdated
			case exists:
				if occupied {
					// The occupant takes over the slot the moved label leaves.
					vacated := existing.Slot
					if _, err := tx.UpdateNode(occupant.ID, func(n *Node) error {
						n.Slot = vacated
						return nil
					}); err != nil {
						return err
					}
				}
				if _, err := tx.UpdateNode(existing.ID, func(n *Node) error {
					n.Slot = domain.IntPtr(req.Slot)
					return nil
				}); err != nil {
					return err
				}
				out = PutSlotResult{Action: PutSlotMoved, NodeID: existing.ID}
			case occupied:
				return domain.NewError(domain.ErrSlotOccupied, "", map[string]any{
					"parent_id":      parent.ID,
					"slot":           req.Slot,
					"occupant_id":    occupant.ID,
					"occupant_label": occupant.Label,
					"label":          clean,
				})
			case len(children) >= domain.MaxChildren:
				return domain.NewError(domain.ErrParentFull, "", map[string]any{
					"parent_id":   parent.ID,
					"slot":        req.Slot,
					"child_count": len(children),
					"label":       clean,
				})
			default:
				created, err := tx.CreateNode(Node{ParentID: &parent.ID, Label: clean, Depth: parent.Depth + 1, Slot: domain.IntPtr(req.Slot)})
				if err != nil {
					return err
				}
				if err := clearLeafFlag(tx, parent); err != nil {
					return err
				}
				out = PutSlotResult{Action: PutSlotCreated, NodeID: created.ID}
			}

			auditID, err := appendAudit(tx, AuditRecord{
				Operation: domain.AuditChildrenUpdate,
				TargetID:  formatID(parent.ID),
				Actor:     req.Actor,
				Payload: map[string]any{
					"parent_id": parent.ID,
					"slot":      req.Slot,
					"label":     clean,
					"action":    out.Action,
					"node_id":   out.NodeID,
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

// DeleteSubtree removes nodeID, its descendants, and their outcomes. Deleting
// a missing node succeeds with zero effect.
func (s *Service) DeleteSubtree(ctx context.Context, nodeID int64, actor string, expected *int) (DeleteResult, error) {
	var out DeleteResult
	err := s.run(ctx, "delete_subtree", func(ctx context.Context) error {
		return s.transact(ctx, func(tx Transaction) error {
			root, ok := tx.FindNode(nodeID)
			if !ok {
				return nil
			}
			if err := checkExpectedVersion(tx, nodeID, expected); err != nil {
				return err
			}
			removal, err := deleteSubtree(tx, nodeID)
			if err != nil {
				return err
			}
			out.Deleted = len(removal.nodes)
			out.Outcomes = removal.outcomes
			auditID, err := appendAudit(tx, AuditRecord{
				Operation: domain.AuditDeleteSubtree,
				TargetID:  formatID(nodeID),
				Actor:     actor,
				Payload: map[string]any{
					"node_id":   nodeID,
					"label":     root.Label,
					"parent_id": root.ParentID,
					"deleted":   out.Deleted,
					"outcomes":  out.Outcomes,
					"nodes":     specs(removal.nodes),
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

// GetNode returns a node by id.
func (s *Service) GetNode(ctx context.Context, id int64) (Node, error) {
	var out Node
	err := s.run(ctx, "get_node", func(ctx context.Context) error {
		return s.view(ctx, func(v TransactionView) error {
			n, err := requireNode(v, id)
			out = n
			return err
		})
	})
	return out, err
}

// ListChildren returns the children of parentID in slot order.
func (s *Service) ListChildren(ctx context.Context, parentID int64) ([]Node, error) {
	var out []Node
	err := s.run(ctx, "list_children", func(ctx context.Context) error {
		return s.view(ctx, func(v TransactionView) error {
			if _, err := requireParent(v, parentID); err != nil {
				return err
			}
			out = childrenOf(v, parentID)
			return nil
		})
	})
	return out, err
}

func matchesFilter(n Node, f NodeFilter) bool {
	if f.Depth != nil && n.Depth != *f.Depth {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		return strings.Contains(strings.ToLower(n.Label), q)
	}
	return true
}

// ListRoots pages the roots ordered by label then id.
func (s *Service) ListRoots(ctx context.Context, filter NodeFilter) (PageResult[Node], error) {
	var out PageResult[Node]
	err := s.run(ctx, "list_roots", func(ctx context.Context) error {
		return s.view(ctx, func(v TransactionView) error {
			var roots []Node
			for _, n := range v.ListChildren(nil) {
				if matchesFilter(n, filter) {
					roots = append(roots, n)
				}
			}
			domain.SortNodes(roots)
			out = paginate(roots, filter.Page, s.defaultLimit, s.maxLimit)
			return nil
		})
	})
	return out, err
}

// ListParents pages every node that has at least one child.
func (s *Service) ListParents(ctx context.Context, filter NodeFilter) (PageResult[ParentSummary], error) {
	var out PageResult[ParentSummary]
	err := s.run(ctx, "list_parents", func(ctx context.Context) error {
		return s.view(ctx, func(v TransactionView) error {
			var parents []Node
			for _, n := range v.ListNodes() {
				if matchesFilter(n, filter) && hasChildren(v, n.ID) {
					parents = append(parents, n)
				}
			}
			domain.SortNodes(parents)
			rows := make([]ParentSummary, 0, len(parents))
			for _, p := range parents {
				children := childrenOf(v, p.ID)
				rows = append(rows, ParentSummary{Node: p, ChildCount: len(children), MissingSlots: FreeSlots(children)})
			}
			out = paginate(rows, filter.Page, s.defaultLimit, s.maxLimit)
			return nil
		})
	})
	return out, err
}

// ListLeaves pages every node without children.
func (s *Service) ListLeaves(ctx context.Context, filter NodeFilter) (PageResult[LeafSummary], error) {
	var out PageResult[LeafSummary]
	err := s.run(ctx, "list_leaves", func(ctx context.Context) error {
		return s.view(ctx, func(v TransactionView) error {
			var leaves []Node
			for _, n := range v.ListNodes() {
				if matchesFilter(n, filter) && !hasChildren(v, n.ID) {
					leaves = append(leaves, n)
				}
			}
			domain.SortNodes(leaves)
			rows := make([]LeafSummary, 0, len(leaves))
			for _, n := range leaves {
				_, has := v.FindOutcome(n.ID)
				rows = append(rows, LeafSummary{Node: n, HasOutcome: has})
			}
			out = paginate(rows, filter.Page, s.defaultLimit, s.maxLimit)
			return nil
		})
	})
	return out, err
}

// MissingSlots pages the inner nodes that hold fewer than five children
// together with their free slots.
func (s *Service) MissingSlots(ctx context.Context, filter NodeFilter) (PageResult[ParentSummary], error) {
	var out PageResult[ParentSummary]
	err := s.run(ctx, "missing_slots", func(ctx context.Context) error {
		return s.view(ctx, func(v TransactionView) error {
			var rows []ParentSummary
			nodes := v.ListNodes()
			domain.SortNodes(nodes)
			for _, n := range nodes {
				if !isInnerPosition(n) || !matchesFilter(n, filter) {
					continue
				}
				children := childrenOf(v, n.ID)
				if len(children) >= domain.MaxChildren {
					continue
				}
				rows = append(rows, ParentSummary{Node: n, ChildCount: len(children), MissingSlots: FreeSlots(children)})
			}
			out = paginate(rows, filter.Page, s.defaultLimit, s.maxLimit)
			return nil
		})
	})
	return out, err
}

// isInnerPosition reports whether a node is expected to carry five children.
func isInnerPosition(n Node) bool {
	return n.Depth < domain.MaxDepth && !n.IsLeaf
}

// PathLookup follows labels from a root and returns the node reached, its
// children as the next options, and its outcome when present.
func (s *Service) PathLookup(ctx context.Context, labels []string) (PathResult, error) {
	var out PathResult
	err := s.run(ctx, "path_lookup", func(ctx context.Context) error {
		if len(labels) == 0 {
			return domain.NewError(domain.ErrEmptyLabel, "path requires at least one label", nil)
		}
		return s.view(ctx, func(v TransactionView) error {
			candidates := v.ListChildren(nil)
			var current Node
			for depth, label := range labels {
				next, ok := findByLabel(candidates, label)
				if !ok {
					return domain.NewError(domain.ErrPathNotFound, "", map[string]any{"depth": depth, "label": label})
				}
				current = next
				candidates = childrenOf(v, current.ID)
			}
			out = PathResult{NodeID: current.ID, Node: current, Options: candidates}
			if outcome, ok := v.FindOutcome(current.ID); ok {
				out.Outcome = &outcome
			}
			return nil
		})
	})
	return out, err
}

// AggregateLabels pages label occurrence counts across the whole tree.
func (s *Service) AggregateLabels(ctx context.Context, filter NodeFilter) (PageResult[LabelAggregate], error) {
	var out PageResult[LabelAggregate]
	err := s.run(ctx, "aggregate_labels", func(ctx context.Context) error {
		return s.view(ctx, func(v TransactionView) error {
			byKey := make(map[string]*LabelAggregate)
			var order []string
			nodes := v.ListNodes()
			for _, n := range nodes {
				if !matchesFilter(n, filter) {
					continue
				}
				key := labelKey(n.Label)
				agg, ok := byKey[key]
				if !ok {
					agg = &LabelAggregate{Label: n.Label}
					byKey[key] = agg
					order = append(order, key)
				}
				agg.Occurrences++
				agg.NodeIDs = append(agg.NodeIDs, n.ID)
				if !containsInt(agg.Depths, n.Depth) {
					agg.Depths = append(agg.Depths, n.Depth)
				}
			}
			sort.Strings(order)
			rows := make([]LabelAggregate, 0, len(order))
			for _, key := range order {
				agg := byKey[key]
				sort.Ints(agg.Depths)
				rows = append(rows, *agg)
			}
			out = paginate(rows, filter.Page, s.defaultLimit, s.maxLimit)
			return nil
		})
	})
	return out, err
}

func containsInt(values []int, v int) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
