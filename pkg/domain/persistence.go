package domain

import "context"

// TransactionView provides read-only access to snapshot data for rules and
// read queries. Every returned value is a copy.
type TransactionView interface {
	FindNode(id int64) (Node, bool)
	// ListNodes returns every node ordered by id.
	ListNodes() []Node
	// ListChildren returns the children of parentID ordered by slot (absent
	// slots last) then id. A nil parentID lists roots.
	ListChildren(parentID *int64) []Node
	FindOutcome(nodeID int64) (Outcome, bool)
	ListOutcomes() []Outcome
	FindAuditEntry(id int64) (AuditEntry, bool)
	// ListAuditEntries returns the ledger ordered by id ascending.
	ListAuditEntries() []AuditEntry
	FindDraft(id string) (Draft, bool)
	ListDrafts() []Draft
}

// Transaction exposes the mutations a persistence implementation must support
// within an atomic scope. Reads observe the transaction's own writes.
type Transaction interface {
	TransactionView
	Snapshot() TransactionView
	// CreateNode stores a node. A zero ID is assigned from the store sequence;
	// an explicit ID is kept as long as it is unused.
	CreateNode(Node) (Node, error)
	UpdateNode(id int64, mutator func(*Node) error) (Node, error)
	// DeleteNode removes a single node together with its outcome.
	DeleteNode(id int64) error
	PutOutcome(Outcome) (Outcome, error)
	DeleteOutcome(nodeID int64) error
	// AppendAuditEntry assigns the next ledger id and stores the entry.
	AppendAuditEntry(AuditEntry) (AuditEntry, error)
	UpdateAuditEntry(id int64, mutator func(*AuditEntry) error) (AuditEntry, error)
	CreateDraft(Draft) (Draft, error)
	UpdateDraft(id string, mutator func(*Draft) error) (Draft, error)
	DeleteDraft(id string) error
}

// PersistentStore is the abstraction over the memory, sqlite, and postgres backends.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
}
