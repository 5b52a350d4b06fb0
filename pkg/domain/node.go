package domain

import (
	"sort"
	"strings"
	"time"
)

const (
	// MaxDepth is the deepest level a node may occupy. Roots sit at depth 0.
	MaxDepth = 5
	// MaxChildren is the slot ceiling for every parent.
	MaxChildren = 5
	// MinSlot and MaxSlot bound the slot numbers a child may hold.
	MinSlot = 1
	MaxSlot = MaxChildren
)

// Node represents one tree position.
type Node struct {
	ID        int64     `json:"id"`
	ParentID  *int64    `json:"parent_id,omitempty"`
	Label     string    `json:"label"`
	Depth     int       `json:"depth"`
	Slot      *int      `json:"slot,omitempty"`
	IsLeaf    bool      `json:"is_leaf"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsRoot reports whether the node has no parent.
func (n Node) IsRoot() bool { return n.ParentID == nil }

// HasParent reports whether the node is owned by parentID. A nil parentID
// matches roots.
func (n Node) HasParent(parentID *int64) bool {
	if parentID == nil || n.ParentID == nil {
		return parentID == nil && n.ParentID == nil
	}
	return *n.ParentID == *parentID
}

// SlotValue returns the slot or 0 when absent.
func (n Node) SlotValue() int {
	if n.Slot == nil {
		return 0
	}
	return *n.Slot
}

// ParentValue returns the parent id or 0 for roots.
func (n Node) ParentValue() int64 {
	if n.ParentID == nil {
		return 0
	}
	return *n.ParentID
}

// Clone returns a deep copy of the node.
func (n Node) Clone() Node {
	cp := n
	if n.ParentID != nil {
		cp.ParentID = Int64Ptr(*n.ParentID)
	}
	if n.Slot != nil {
		cp.Slot = IntPtr(*n.Slot)
	}
	return cp
}

// Spec captures the node shape as a ChildSpec.
func (n Node) Spec() ChildSpec {
	return ChildSpec{
		ID:       Int64Ptr(n.ID),
		ParentID: cloneInt64Ptr(n.ParentID),
		Label:    n.Label,
		Slot:     n.SlotValue(),
		Depth:    n.Depth,
		IsLeaf:   n.IsLeaf,
	}
}

// Outcome holds the free-text triage fields attached 1:1 to a leaf node.
type Outcome struct {
	NodeID           int64     `json:"node_id"`
	DiagnosticTriage string    `json:"diagnostic_triage"`
	Actions          string    `json:"actions"`
	UpdatedBy        string    `json:"updated_by,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ChildSpec is the typed description of one child used by drafts, audit
// snapshots, and undo restoration. A zero Slot means no slot.
type ChildSpec struct {
	ID       *int64 `json:"id,omitempty"`
	ParentID *int64 `json:"parent_id,omitempty"`
	Label    string `json:"label"`
	Slot     int    `json:"slot"`
	Depth    int    `json:"depth"`
	IsLeaf   bool   `json:"is_leaf"`
}

// IDValue returns the id or 0 when the spec describes a new node.
func (c ChildSpec) IDValue() int64 {
	if c.ID == nil {
		return 0
	}
	return *c.ID
}

// SlotPtr returns the slot as an optional value.
func (c ChildSpec) SlotPtr() *int {
	if c.Slot == 0 {
		return nil
	}
	return IntPtr(c.Slot)
}

// Node converts the spec into a node record.
func (c ChildSpec) Node() Node {
	return Node{
		ID:       c.IDValue(),
		ParentID: cloneInt64Ptr(c.ParentID),
		Label:    c.Label,
		Depth:    c.Depth,
		Slot:     c.SlotPtr(),
		IsLeaf:   c.IsLeaf,
	}
}

var absentLabels = map[string]struct{}{
	"nan":  {},
	"none": {},
	"null": {},
	"nil":  {},
	"n/a":  {},
}

// SanitizeLabel trims the label and maps empty or "nan"-like values to "".
func SanitizeLabel(label string) string {
	trimmed := strings.TrimSpace(label)
	if _, ok := absentLabels[strings.ToLower(trimmed)]; ok {
		return ""
	}
	return trimmed
}

// SortNodes orders nodes by depth, then label, then id.
func SortNodes(nodes []Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		return NodeLess(nodes[i], nodes[j])
	})
}

// NodeLess is the canonical report ordering: depth, then label, then id.
func NodeLess(a, b Node) bool {
	if a.Depth != b.Depth {
		return a.Depth < b.Depth
	}
	if a.Label != b.Label {
		return a.Label < b.Label
	}
	return a.ID < b.ID
}

// SortBySlot orders siblings by slot ascending with absent slots last, then id.
func SortBySlot(nodes []Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		a, b := nodes[i], nodes[j]
		switch {
		case a.Slot == nil && b.Slot != nil:
			return false
		case a.Slot != nil && b.Slot == nil:
			return true
		case a.Slot != nil && b.Slot != nil && *a.Slot != *b.Slot:
			return *a.Slot < *b.Slot
		}
		return a.ID < b.ID
	})
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 { return &v }

func cloneInt64Ptr(v *int64) *int64 {
	if v == nil {
		return nil
	}
	return Int64Ptr(*v)
}
