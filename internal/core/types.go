package core

import (
	"time"

	"triagetree/pkg/domain"
)

type (
	// Node aliases domain.Node.
	Node = domain.Node
	// Outcome aliases domain.Outcome.
	Outcome = domain.Outcome
	// ChildSpec aliases domain.ChildSpec.
	ChildSpec = domain.ChildSpec
	// AuditEntry aliases domain.AuditEntry.
	AuditEntry = domain.AuditEntry
	// AuditOperation aliases domain.AuditOperation.
	AuditOperation = domain.AuditOperation
	// Draft aliases domain.Draft.
	Draft = domain.Draft
	// Diff aliases domain.Diff.
	Diff = domain.Diff
	// Operation aliases domain.Operation.
	Operation = domain.Operation
	// Result aliases domain.Result.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView.
	TransactionView = domain.TransactionView
	// PersistentStore aliases domain.PersistentStore.
	PersistentStore = domain.PersistentStore
)

// Page requests a window of a report. Zero values fall back to the service
// defaults.
type Page struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// PageResult is one window of a deterministically ordered result set.
type PageResult[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func paginate[T any](items []T, page Page, defaultLimit, maxLimit int) PageResult[T] {
	limit := page.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if maxLimit > 0 && limit > maxLimit {
		limit = maxLimit
	}
	offset := page.Offset
	if offset < 0 {
		offset = 0
	}
	out := PageResult[T]{Total: len(items), Limit: limit, Offset: offset, Items: []T{}}
	if offset >= len(items) {
		return out
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	out.Items = append(out.Items, items[offset:end]...)
	return out
}

// NodeFilter narrows listing queries.
type NodeFilter struct {
	// Query matches labels case-insensitively by substring.
	Query string `json:"query,omitempty"`
	Depth *int   `json:"depth,omitempty"`
	Page
}

// ChildResult reports the outcome of FindOrCreateChild.
type ChildResult struct {
	ID       int64 `json:"id"`
	Created  bool  `json:"created"`
	Overfull bool  `json:"overfull"`
}

// PutSlotAction classifies a single-slot write.
type PutSlotAction string

// Single-slot write outcomes.
const (
	PutSlotCreated PutSlotAction = "created"
	PutSlotUpdated PutSlotAction = "updated"
	PutSlotMoved   PutSlotAction = "moved"
	PutSlotNoop    PutSlotAction = "noop"
)

// PutSlotRequest writes label into slot under ParentID.
type PutSlotRequest struct {
	ParentID        int64  `json:"parent_id"`
	Slot            int    `json:"slot"`
	Label           string `json:"label"`
	Actor           string `json:"actor"`
	ExpectedVersion *int   `json:"expected_version,omitempty"`
}

// PutSlotResult describes what a slot write did.
type PutSlotResult struct {
	Action  PutSlotAction `json:"action"`
	NodeID  int64         `json:"node_id"`
	AuditID int64         `json:"audit_id,omitempty"`
}

// DeleteResult summarizes a subtree deletion.
type DeleteResult struct {
	Deleted  int   `json:"deleted"`
	Outcomes int   `json:"outcomes"`
	AuditID  int64 `json:"audit_id,omitempty"`
}

// ParentSummary is one row of the parents listing.
type ParentSummary struct {
	Node         Node  `json:"node"`
	ChildCount   int   `json:"child_count"`
	MissingSlots []int `json:"missing_slots"`
}

// LeafSummary is one row of the leaves listing.
type LeafSummary struct {
	Node       Node `json:"node"`
	HasOutcome bool `json:"has_outcome"`
}

// PathResult is the node reached by following a label sequence from a root.
type PathResult struct {
	NodeID  int64    `json:"node_id"`
	Node    Node     `json:"node"`
	Options []Node   `json:"options"`
	Outcome *Outcome `json:"outcome,omitempty"`
}

// LabelAggregate counts the occurrences of a label across the tree.
type LabelAggregate struct {
	Label       string  `json:"label"`
	Occurrences int     `json:"occurrences"`
	Depths      []int   `json:"depths"`
	NodeIDs     []int64 `json:"node_ids"`
}

// GroupKey identifies a conflict group: siblings under ParentID sharing Label.
// A nil ParentID addresses roots.
type GroupKey struct {
	ParentID *int64 `json:"parent_id,omitempty"`
	Label    string `json:"label"`
}

// NormalizeResult reports a normalize-parent run.
type NormalizeResult struct {
	ParentID       int64  `json:"parent_id"`
	Changed        int    `json:"changed"`
	ExcessChildren []Node `json:"excess_children"`
	AuditID        int64  `json:"audit_id,omitempty"`
}

// MergeResult reports a duplicate-parent merge.
type MergeResult struct {
	KeepID         int64   `json:"keep_id"`
	Removed        []int64 `json:"removed"`
	Reparented     int     `json:"reparented"`
	ExcessChildren []Node  `json:"excess_children"`
	AuditID        int64   `json:"audit_id,omitempty"`
}

// ResolveRequest collapses a conflict group into KeepID with exactly the
// Chosen children in slot order.
type ResolveRequest struct {
	Key             GroupKey `json:"key"`
	KeepID          int64    `json:"keep_id"`
	Chosen          []string `json:"chosen"`
	Actor           string   `json:"actor"`
	ExpectedVersion *int     `json:"expected_version,omitempty"`
}

// ResolveResult reports a conflict-group resolution.
type ResolveResult struct {
	KeepID   int64   `json:"keep_id"`
	Removed  []int64 `json:"removed"`
	Created  int     `json:"created"`
	Moved    int     `json:"moved"`
	Deleted  int     `json:"deleted"`
	Children []Node  `json:"children"`
	AuditID  int64   `json:"audit_id"`
}

// GroupChild summarizes one distinct child label across a conflict group.
type GroupChild struct {
	Label   string  `json:"label"`
	Count   int     `json:"count"`
	NodeIDs []int64 `json:"node_ids"`
}

// ConflictGroup is the read-only view used to choose labels before resolving.
type ConflictGroup struct {
	Key            GroupKey     `json:"key"`
	Members        []Node       `json:"members"`
	Children       []GroupChild `json:"children"`
	UniqueChildren int          `json:"unique_children"`
	TotalChildren  int          `json:"total_children"`
}

// ApplyDefaultResult aggregates a default-children application.
type ApplyDefaultResult struct {
	Label          string `json:"label"`
	ParentsMatched int    `json:"parents_matched"`
	ParentsUpdated int    `json:"parents_updated"`
	Created        int    `json:"created"`
	Moved          int    `json:"moved"`
	Deleted        int    `json:"deleted"`
	SkippedCreates int    `json:"skipped_creates"`
	AuditID        int64  `json:"audit_id,omitempty"`
}

// AuditRecord is the input to LogAudit.
type AuditRecord struct {
	Operation  AuditOperation   `json:"operation"`
	TargetID   string           `json:"target_id"`
	Actor      string           `json:"actor"`
	Payload    any              `json:"payload,omitempty"`
	UndoData   *domain.UndoData `json:"undo_data,omitempty"`
	IsUndoable bool             `json:"is_undoable"`
}

// AuditQuery pages the ledger newest first. AfterID returns entries older
// than the given id.
type AuditQuery struct {
	Limit     int            `json:"limit"`
	AfterID   *int64         `json:"after_id,omitempty"`
	Operation AuditOperation `json:"operation,omitempty"`
}

// NodeVersion is the optimistic concurrency fingerprint of a node.
type NodeVersion struct {
	ID        int64     `json:"id"`
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DraftInput creates or replaces a draft's target children.
type DraftInput struct {
	ParentID       int64       `json:"parent_id"`
	TargetChildren []ChildSpec `json:"target_children"`
	Actor          string      `json:"actor"`
}

// PublishRequest applies a draft.
type PublishRequest struct {
	DraftID         string `json:"draft_id"`
	Actor           string `json:"actor"`
	ExpectedVersion *int   `json:"expected_version,omitempty"`
}

// PublishResult reports a draft publication.
type PublishResult struct {
	Draft   Draft `json:"draft"`
	Diff    Diff  `json:"diff"`
	Applied int   `json:"applied"`
	AuditID int64 `json:"audit_id,omitempty"`
}

// OutcomeInput writes the triage fields of a leaf.
type OutcomeInput struct {
	NodeID           int64  `json:"node_id"`
	DiagnosticTriage string `json:"diagnostic_triage"`
	Actions          string `json:"actions"`
	Actor            string `json:"actor"`
}

// PathRecord is one root-to-leaf path.
type PathRecord struct {
	Labels  []string `json:"labels"`
	NodeIDs []int64  `json:"node_ids"`
	Outcome *Outcome `json:"outcome,omitempty"`
}

// RepairResult reports a depth repair pass.
type RepairResult struct {
	Updated      int     `json:"updated"`
	Unrepairable []int64 `json:"unrepairable"`
	AuditID      int64   `json:"audit_id,omitempty"`
}

// ClearResult reports a workspace clear.
type ClearResult struct {
	Nodes    int   `json:"nodes"`
	Outcomes int   `json:"outcomes"`
	Drafts   int   `json:"drafts"`
	AuditID  int64 `json:"audit_id"`
}
