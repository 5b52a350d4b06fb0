package domain

import "time"

// DraftStatus tracks the publish state machine.
type DraftStatus string

// Draft statuses. Published is terminal.
const (
	DraftStatusDraft     DraftStatus = "draft"
	DraftStatusPublished DraftStatus = "published"
)

// Draft is a staged target child set for one parent.
type Draft struct {
	ID             string      `json:"id"`
	ParentID       int64       `json:"parent_id"`
	TargetChildren []ChildSpec `json:"target_children"`
	Status         DraftStatus `json:"status"`
	CreatedBy      string      `json:"created_by,omitempty"`
	PublishedBy    *string     `json:"published_by,omitempty"`
	PublishedAt    *time.Time  `json:"published_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Editable reports whether the draft may still be changed.
func (d Draft) Editable() bool { return d.Status == DraftStatusDraft }

// Clone returns a deep copy of the draft.
func (d Draft) Clone() Draft {
	cp := d
	cp.TargetChildren = cloneSpecs(d.TargetChildren)
	if d.PublishedBy != nil {
		by := *d.PublishedBy
		cp.PublishedBy = &by
	}
	if d.PublishedAt != nil {
		at := *d.PublishedAt
		cp.PublishedAt = &at
	}
	return cp
}

// OperationKind enumerates the diff operations a publish applies.
type OperationKind string

// Diff operation kinds.
const (
	OperationCreate OperationKind = "create"
	OperationUpdate OperationKind = "update"
	OperationDelete OperationKind = "delete"
)

// Operation is one typed step of a draft diff. Before is set for update and
// delete; After is set for create and update.
type Operation struct {
	Kind   OperationKind `json:"kind"`
	NodeID int64         `json:"node_id,omitempty"`
	Before *ChildSpec    `json:"before,omitempty"`
	After  *ChildSpec    `json:"after,omitempty"`
}

// DiffSummary counts operations by kind.
type DiffSummary struct {
	Creates int `json:"creates"`
	Updates int `json:"updates"`
	Deletes int `json:"deletes"`
	Total   int `json:"total"`
}

// Diff is the set difference between a parent's children and a draft target.
type Diff struct {
	DraftID    string      `json:"draft_id"`
	ParentID   int64       `json:"parent_id"`
	Operations []Operation `json:"operations"`
	Summary    DiffSummary `json:"summary"`
}

// Empty reports whether applying the diff would change nothing.
func (d Diff) Empty() bool { return len(d.Operations) == 0 }
