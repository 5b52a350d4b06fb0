package domain

import "time"

// AuditOperation enumerates the high-impact operations recorded in the ledger.
type AuditOperation string

// Ledger operation kinds.
const (
	AuditConflictResolve   AuditOperation = "conflict-resolve"
	AuditApplyDefault      AuditOperation = "apply-default"
	AuditDeleteSubtree     AuditOperation = "delete-subtree"
	AuditDataQualityRepair AuditOperation = "data-quality-repair"
	AuditChildrenUpdate    AuditOperation = "children-update"
	AuditOutcomeUpdate     AuditOperation = "outcome-update"
)

// AuditOperations lists every known kind in a stable order.
var AuditOperations = []AuditOperation{
	AuditConflictResolve,
	AuditApplyDefault,
	AuditDeleteSubtree,
	AuditDataQualityRepair,
	AuditChildrenUpdate,
	AuditOutcomeUpdate,
}

// Valid reports whether op is a known ledger kind.
func (op AuditOperation) Valid() bool {
	for _, known := range AuditOperations {
		if op == known {
			return true
		}
	}
	return false
}

// AuditEntry is an immutable ledger record. Only the undo marker fields change,
// once, when the entry is undone.
type AuditEntry struct {
	ID         int64          `json:"id"`
	Operation  AuditOperation `json:"operation"`
	TargetID   string         `json:"target_id"`
	Actor      string         `json:"actor"`
	Payload    Payload        `json:"payload"`
	UndoData   *UndoData      `json:"undo_data,omitempty"`
	IsUndoable bool           `json:"is_undoable"`
	UndoneBy   *string        `json:"undone_by,omitempty"`
	UndoneAt   *time.Time     `json:"undone_at,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Undone reports whether the entry has already been reversed.
func (e AuditEntry) Undone() bool { return e.UndoneAt != nil }

// Clone returns a deep copy of the entry.
func (e AuditEntry) Clone() AuditEntry {
	cp := e
	cp.Payload = NewPayload(e.Payload.Raw())
	if !e.Payload.Defined() {
		cp.Payload = UndefinedPayload()
	}
	if e.UndoData != nil {
		data := e.UndoData.Clone()
		cp.UndoData = &data
	}
	if e.UndoneBy != nil {
		by := *e.UndoneBy
		cp.UndoneBy = &by
	}
	if e.UndoneAt != nil {
		at := *e.UndoneAt
		cp.UndoneAt = &at
	}
	return cp
}

// UndoData holds the pre-operation snapshot needed to reverse an entry.
type UndoData struct {
	Parents []ParentSnapshot `json:"parents"`
}

// Clone returns a deep copy of the snapshot.
func (u UndoData) Clone() UndoData {
	out := UndoData{Parents: make([]ParentSnapshot, len(u.Parents))}
	for i, p := range u.Parents {
		out.Parents[i] = ParentSnapshot{
			ParentID:       p.ParentID,
			BeforeChildren: cloneSpecs(p.BeforeChildren),
			AfterChildren:  cloneSpecs(p.AfterChildren),
			Descendants:    cloneSpecs(p.Descendants),
		}
	}
	return out
}

// RestoredSpecs lists every node an undo of the snapshot puts back.
func (u UndoData) RestoredSpecs() []ChildSpec {
	var out []ChildSpec
	for _, p := range u.Parents {
		out = append(out, p.BeforeChildren...)
		out = append(out, p.Descendants...)
	}
	return out
}

// ParentSnapshot records one parent's direct children before and after an
// operation. Descendants holds the subtrees below children removed by the
// operation so that undo can restore them too.
type ParentSnapshot struct {
	ParentID       int64       `json:"parent_id"`
	BeforeChildren []ChildSpec `json:"before_children"`
	AfterChildren  []ChildSpec `json:"after_children"`
	Descendants    []ChildSpec `json:"descendants,omitempty"`
}

// AuditStats aggregates ledger totals.
type AuditStats struct {
	Total       int                    `json:"total"`
	ByOperation map[AuditOperation]int `json:"by_operation"`
	Undoable    int                    `json:"undoable"`
	Undone      int                    `json:"undone"`
}

func cloneSpecs(in []ChildSpec) []ChildSpec {
	if in == nil {
		return nil
	}
	out := make([]ChildSpec, len(in))
	for i, c := range in {
		out[i] = c
		if c.ID != nil {
			out[i].ID = Int64Ptr(*c.ID)
		}
		out[i].ParentID = cloneInt64Ptr(c.ParentID)
	}
	return out
}
