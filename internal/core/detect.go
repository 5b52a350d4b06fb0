package core

import (
	"context"
	"sort"

	"triagetree/pkg/domain"
)

// DuplicateGroup is a set of siblings sharing one label.
type DuplicateGroup struct {
	ParentID    *int64  `json:"parent_id,omitempty"`
	ParentLabel string  `json:"parent_label,omitempty"`
	Label       string  `json:"label"`
	Depth       int     `json:"depth"`
	Count       int     `json:"count"`
	Slots       []int   `json:"slots"`
	NodeIDs     []int64 `json:"node_ids"`
}

// FillStatus classifies a parent's child count.
type FillStatus string

// Fill statuses.
const (
	FillUnderfilled FillStatus = "underfilled"
	FillOverfilled  FillStatus = "overfilled"
)

// FillReport is a parent whose child count differs from five.
type FillReport struct {
	Node         Node       `json:"node"`
	ChildCount   int        `json:"child_count"`
	Status       FillStatus `json:"status"`
	MissingSlots []int      `json:"missing_slots"`
}

// SlotIssue classifies a slot anomaly.
type SlotIssue string

// Slot anomaly kinds.
const (
	SlotNull       SlotIssue = "null_slot"
	SlotDuplicate  SlotIssue = "duplicate_slot"
	SlotOutOfRange SlotIssue = "out_of_range"
)

// SlotAnomaly is one child with an unusable slot.
type SlotAnomaly struct {
	Node  Node      `json:"node"`
	Issue SlotIssue `json:"issue"`
}

// OrphanReason explains why a node is detached.
type OrphanReason string

// Orphan reasons.
const (
	OrphanMissingParent OrphanReason = "missing_parent"
	OrphanBrokenChain   OrphanReason = "broken_chain"
)

// OrphanReport is a non-root node whose parent chain is broken.
type OrphanReport struct {
	Node   Node         `json:"node"`
	Reason OrphanReason `json:"reason"`
}

// DepthAnomaly is a node whose depth does not follow its parent.
type DepthAnomaly struct {
	Node     Node `json:"node"`
	Expected int  `json:"expected_depth"`
}

// ConflictSummary counts every anomaly class at once.
type ConflictSummary struct {
	DuplicateGroups int `json:"duplicate_groups"`
	Overfilled      int `json:"overfilled"`
	Underfilled     int `json:"underfilled"`
	NullSlots       int `json:"null_slots"`
	DuplicateSlots  int `json:"duplicate_slots"`
	OutOfRangeSlots int `json:"out_of_range_slots"`
	Orphans         int `json:"orphans"`
	DepthAnomalies  int `json:"depth_anomalies"`
	Total           int `json:"total"`
}

// siblingSets groups every node by parent key (0 for roots).
func siblingSets(nodes []Node) (map[int64][]Node, []int64) {
	sets := make(map[int64][]Node)
	var keys []int64
	for _, n := range nodes {
		key := n.ParentValue()
		if _, ok := sets[key]; !ok {
			keys = append(keys, key)
		}
		sets[key] = append(sets[key], n)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return sets, keys
}

func detectDuplicates(v TransactionView) []DuplicateGroup {
	sets, keys := siblingSets(v.ListNodes())
	var groups []DuplicateGroup
	for _, parentKey := range keys {
		byLabel := make(map[string][]Node)
		var order []string
		for _, n := range sets[parentKey] {
			key := labelKey(n.Label)
			if _, ok := byLabel[key]; !ok {
				order = append(order, key)
			}
			byLabel[key] = append(byLabel[key], n)
		}
		for _, key := range order {
			members := byLabel[key]
			if len(members) < 2 {
				continue
			}
			g := DuplicateGroup{
				ParentID: members[0].ParentID,
				Label:    members[0].Label,
				Depth:    members[0].Depth,
				Count:    len(members),
				Slots:    []int{},
			}
			if g.ParentID != nil {
				if parent, ok := v.FindNode(*g.ParentID); ok {
					g.ParentLabel = parent.Label
				}
			}
			for _, m := range members {
				g.NodeIDs = append(g.NodeIDs, m.ID)
				if m.Slot != nil {
					g.Slots = append(g.Slots, *m.Slot)
				}
			}
			sort.Ints(g.Slots)
			groups = append(groups, g)
		}
	}
	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i], groups[j]
		if a.Depth != b.Depth {
			return a.Depth < b.Depth
		}
		if a.Label != b.Label {
			return a.Label < b.Label
		}
		return a.NodeIDs[0] < b.NodeIDs[0]
	})
	return groups
}

func detectFill(v TransactionView) []FillReport {
	nodes := v.ListNodes()
	domain.SortNodes(nodes)
	var out []FillReport
	for _, n := range nodes {
		children := childrenOf(v, n.ID)
		count := len(children)
		switch {
		case count > domain.MaxChildren:
			out = append(out, FillReport{Node: n, ChildCount: count, Status: FillOverfilled, MissingSlots: FreeSlots(children)})
		case count < domain.MaxChildren && (count > 0 || isInnerPosition(n)):
			out = append(out, FillReport{Node: n, ChildCount: count, Status: FillUnderfilled, MissingSlots: FreeSlots(children)})
		}
	}
	return out
}

func detectSlots(v TransactionView) []SlotAnomaly {
	sets, keys := siblingSets(v.ListNodes())
	var out []SlotAnomaly
	for _, parentKey := range keys {
		if parentKey == 0 {
			continue
		}
		bySlot := make(map[int]int)
		for _, n := range sets[parentKey] {
			if n.Slot != nil {
				bySlot[*n.Slot]++
			}
		}
		for _, n := range sets[parentKey] {
			switch {
			case n.Slot == nil:
				out = append(out, SlotAnomaly{Node: n, Issue: SlotNull})
			case *n.Slot < domain.MinSlot || *n.Slot > domain.MaxSlot:
				out = append(out, SlotAnomaly{Node: n, Issue: SlotOutOfRange})
			case bySlot[*n.Slot] > 1:
				out = append(out, SlotAnomaly{Node: n, Issue: SlotDuplicate})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return domain.NodeLess(out[i].Node, out[j].Node) })
	return out
}

func detectOrphans(v TransactionView) []OrphanReport {
	nodes := v.ListNodes()
	domain.SortNodes(nodes)
	var out []OrphanReport
	for _, n := range nodes {
		if n.ParentID == nil {
			continue
		}
		parent, ok := v.FindNode(*n.ParentID)
		switch {
		case !ok:
			out = append(out, OrphanReport{Node: n, Reason: OrphanMissingParent})
		case parent.Depth >= n.Depth:
			out = append(out, OrphanReport{Node: n, Reason: OrphanBrokenChain})
		}
	}
	return out
}

func detectDepth(v TransactionView) []DepthAnomaly {
	nodes := v.ListNodes()
	domain.SortNodes(nodes)
	var out []DepthAnomaly
	for _, n := range nodes {
		if n.ParentID == nil {
			if n.Depth != 0 {
				out = append(out, DepthAnomaly{Node: n, Expected: 0})
			}
			continue
		}
		parent, ok := v.FindNode(*n.ParentID)
		if !ok {
			continue
		}
		if n.Depth != parent.Depth+1 {
			out = append(out, DepthAnomaly{Node: n, Expected: parent.Depth + 1})
		}
	}
	return out
}

// DuplicateLabels pages sibling groups sharing a label.
func (s *Service) DuplicateLabels(ctx context.Context, page Page) (PageResult[DuplicateGroup], error) {
	var out PageResult[DuplicateGroup]
	err := s.run(ctx, "duplicate_labels", func(ctx context.Context) error {
		return s.view(ctx, func(v TransactionView) error {
			out = paginate(detectDuplicates(v), page, s.defaultLimit, s.maxLimit)
			return nil
		})
	})
	return out, err
}

// FillAnomalies pages parents holding more or fewer than five children.
func (s *Service) FillAnomalies(ctx context.Context, page Page) (PageResult[FillReport], error) {
	var out PageResult[FillReport]
	err := s.run(ctx, "fill_anomalies", func(ctx context.Context) error {
		return s.view(ctx, func(v TransactionView) error {
			out = paginate(detectFill(v), page, s.defaultLimit, s.maxLimit)
			return nil
		})
	})
	return out, err
}

// SlotAnomalies pages children with absent, out of range, or shared slots.
func (s *Service) SlotAnomalies(ctx context.Context, page Page) (PageResult[SlotAnomaly], error) {
	var out PageResult[SlotAnomaly]
	err := s.run(ctx, "slot_anomalies", func(ctx context.Context) error {
		return s.view(ctx, func(v TransactionView) error {
			out = paginate(detectSlots(v), page, s.defaultLimit, s.maxLimit)
			return nil
		})
	})
	return out, err
}

// Orphans pages non-root nodes whose parent is missing or not above them.
func (s *Service) Orphans(ctx context.Context, page Page) (PageResult[OrphanReport], error) {
	var out PageResult[OrphanReport]
	err := s.run(ctx, "orphans", func(ctx context.Context) error {
		return s.view(ctx, func(v TransactionView) error {
			out = paginate(detectOrphans(v), page, s.defaultLimit, s.maxLimit)
			return nil
		})
	})
	return out, err
}

// DepthAnomalies pages nodes whose depth does not follow their parent.
func (s *Service) DepthAnomalies(ctx context.Context, page Page) (PageResult[DepthAnomaly], error) {
	var out PageResult[DepthAnomaly]
	err := s.run(ctx, "depth_anomalies", func(ctx context.Context) error {
		return s.view(ctx, func(v TransactionView) error {
			out = paginate(detectDepth(v), page, s.defaultLimit, s.maxLimit)
			return nil
		})
	})
	return out, err
}

// ConflictSummary runs every detector against one snapshot.
func (s *Service) ConflictSummary(ctx context.Context) (ConflictSummary, error) {
	var out ConflictSummary
	err := s.run(ctx, "conflict_summary", func(ctx context.Context) error {
		return s.view(ctx, func(v TransactionView) error {
			out.DuplicateGroups = len(detectDuplicates(v))
			for _, r := range detectFill(v) {
				if r.Status == FillOverfilled {
					out.Overfilled++
				} else {
					out.Underfilled++
				}
			}
			for _, a := range detectSlots(v) {
				switch a.Issue {
				case SlotNull:
					out.NullSlots++
				case SlotDuplicate:
					out.DuplicateSlots++
				case SlotOutOfRange:
					out.OutOfRangeSlots++
				}
			}
			out.Orphans = len(detectOrphans(v))
			out.DepthAnomalies = len(detectDepth(v))
			out.Total = out.DuplicateGroups + out.Overfilled + out.Underfilled + out.NullSlots +
				out.DuplicateSlots + out.OutOfRangeSlots + out.Orphans + out.DepthAnomalies
			return nil
		})
	})
	return out, err
}
