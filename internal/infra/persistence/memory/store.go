// Package memory provides an in-memory implementation of the tree persistence
// store used for tests, ephemeral environments, and as the transactional core
// of the durable backends.
package memory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"triagetree/pkg/domain"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var (
	_ domain.PersistentStore = (*Store)(nil)
	_ domain.Transaction     = (*transaction)(nil)
)

type (
	// Node aliases domain.Node for in-memory persistence operations.
	Node = domain.Node
	// Outcome aliases domain.Outcome.
	Outcome = domain.Outcome
	// AuditEntry aliases domain.AuditEntry.
	AuditEntry = domain.AuditEntry
	// Draft aliases domain.Draft.
	Draft = domain.Draft
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

// rootKey indexes roots in the children map. Node ids start at 1.
const rootKey int64 = 0

type memoryState struct {
	nodes       map[int64]Node
	children    map[int64]map[int64]struct{}
	outcomes    map[int64]Outcome
	audit       map[int64]AuditEntry
	drafts      map[string]Draft
	nextNodeID  int64
	nextAuditID int64
}

// Sequences carries the id counters so restored stores never reuse ids.
type Sequences struct {
	NextNodeID  int64 `json:"next_node_id"`
	NextAuditID int64 `json:"next_audit_id"`
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Nodes     map[int64]Node       `json:"nodes"`
	Outcomes  map[int64]Outcome    `json:"outcomes"`
	Audit     map[int64]AuditEntry `json:"audit"`
	Drafts    map[string]Draft     `json:"drafts"`
	Sequences Sequences            `json:"sequences"`
}

func newMemoryState() memoryState {
	return memoryState{
		nodes:       make(map[int64]Node),
		children:    make(map[int64]map[int64]struct{}),
		outcomes:    make(map[int64]Outcome),
		audit:       make(map[int64]AuditEntry),
		drafts:      make(map[string]Draft),
		nextNodeID:  1,
		nextAuditID: 1,
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		Nodes:    make(map[int64]Node, len(state.nodes)),
		Outcomes: make(map[int64]Outcome, len(state.outcomes)),
		Audit:    make(map[int64]AuditEntry, len(state.audit)),
		Drafts:   make(map[string]Draft, len(state.drafts)),
		Sequences: Sequences{
			NextNodeID:  state.nextNodeID,
			NextAuditID: state.nextAuditID,
		},
	}
	for k, v := range state.nodes {
		s.Nodes[k] = v.Clone()
	}
	for k, v := range state.outcomes {
		s.Outcomes[k] = v
	}
	for k, v := range state.audit {
		s.Audit[k] = v.Clone()
	}
	for k, v := range state.drafts {
		s.Drafts[k] = v.Clone()
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Nodes {
		v.ID = k
		state.nodes[k] = v.Clone()
		state.index(v)
	}
	for k, v := range s.Outcomes {
		v.NodeID = k
		state.outcomes[k] = v
	}
	for k, v := range s.Audit {
		v.ID = k
		state.audit[k] = v.Clone()
	}
	for k, v := range s.Drafts {
		v.ID = k
		state.drafts[k] = v.Clone()
	}
	state.nextNodeID = s.Sequences.NextNodeID
	state.nextAuditID = s.Sequences.NextAuditID
	return state
}

// migrateSnapshot repairs snapshots written by older builds or by hand: nil
// buckets, outcomes whose node no longer exists, and sequences that lag the
// highest stored id.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	if snapshot.Nodes == nil {
		snapshot.Nodes = map[int64]Node{}
	}
	if snapshot.Outcomes == nil {
		snapshot.Outcomes = map[int64]Outcome{}
	}
	if snapshot.Audit == nil {
		snapshot.Audit = map[int64]AuditEntry{}
	}
	if snapshot.Drafts == nil {
		snapshot.Drafts = map[string]Draft{}
	}
	for id := range snapshot.Outcomes {
		if _, ok := snapshot.Nodes[id]; !ok {
			delete(snapshot.Outcomes, id)
		}
	}
	var maxNode, maxAudit int64
	for id := range snapshot.Nodes {
		if id > maxNode {
			maxNode = id
		}
	}
	for id := range snapshot.Audit {
		if id > maxAudit {
			maxAudit = id
		}
	}
	if snapshot.Sequences.NextNodeID <= maxNode {
		snapshot.Sequences.NextNodeID = maxNode + 1
	}
	if snapshot.Sequences.NextAuditID <= maxAudit {
		snapshot.Sequences.NextAuditID = maxAudit + 1
	}
	return snapshot
}

func (s memoryState) clone() memoryState {
	cloned := memoryState{
		nodes:       make(map[int64]Node, len(s.nodes)),
		children:    make(map[int64]map[int64]struct{}, len(s.children)),
		outcomes:    make(map[int64]Outcome, len(s.outcomes)),
		audit:       make(map[int64]AuditEntry, len(s.audit)),
		drafts:      make(map[string]Draft, len(s.drafts)),
		nextNodeID:  s.nextNodeID,
		nextAuditID: s.nextAuditID,
	}
	for k, v := range s.nodes {
		cloned.nodes[k] = v.Clone()
	}
	for parent, ids := range s.children {
		set := make(map[int64]struct{}, len(ids))
		for id := range ids {
			set[id] = struct{}{}
		}
		cloned.children[parent] = set
	}
	for k, v := range s.outcomes {
		cloned.outcomes[k] = v
	}
	for k, v := range s.audit {
		cloned.audit[k] = v.Clone()
	}
	for k, v := range s.drafts {
		cloned.drafts[k] = v.Clone()
	}
	return cloned
}

func parentKey(n Node) int64 {
	if n.ParentID == nil {
		return rootKey
	}
	return *n.ParentID
}

func (s *memoryState) index(n Node) {
	key := parentKey(n)
	set, ok := s.children[key]
	if !ok {
		set = make(map[int64]struct{})
		s.children[key] = set
	}
	set[n.ID] = struct{}{}
}

func (s *memoryState) unindex(n Node) {
	key := parentKey(n)
	set, ok := s.children[key]
	if !ok {
		return
	}
	delete(set, n.ID)
	if len(set) == 0 {
		delete(s.children, key)
	}
}

// Store provides an in-memory transactional store for the tree domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithNow overrides the clock used for record timestamps.
func WithNow(fn func() time.Time) Option {
	return func(s *Store) {
		if fn != nil {
			s.nowFn = fn
		}
	}
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine, opts ...Option) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	s := &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// RunInTransaction executes fn within a transactional copy of the store state.
// The copy replaces the committed state only when fn succeeds, the context is
// still live, and no rule reports a blocking violation.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	tx := &transaction{
		state: s.state.clone(),
		now:   s.nowFn(),
	}
	tx.transactionView = transactionView{state: &tx.state}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()

	return fn(newTransactionView(&snapshot))
}

// transactionView exposes a read-only snapshot of the state to rules and queries.
type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// FindNode returns the node with id.
func (v transactionView) FindNode(id int64) (Node, bool) {
	n, ok := v.state.nodes[id]
	if !ok {
		return Node{}, false
	}
	return n.Clone(), true
}

// ListNodes returns all nodes ordered by id.
func (v transactionView) ListNodes() []Node {
	out := make([]Node, 0, len(v.state.nodes))
	for _, n := range v.state.nodes {
		out = append(out, n.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListChildren returns the children of parentID, or roots when parentID is nil.
func (v transactionView) ListChildren(parentID *int64) []Node {
	key := rootKey
	if parentID != nil {
		key = *parentID
	}
	ids := v.state.children[key]
	out := make([]Node, 0, len(ids))
	for id := range ids {
		out = append(out, v.state.nodes[id].Clone())
	}
	domain.SortBySlot(out)
	return out
}

// FindOutcome returns the outcome attached to nodeID.
func (v transactionView) FindOutcome(nodeID int64) (Outcome, bool) {
	o, ok := v.state.outcomes[nodeID]
	return o, ok
}

// ListOutcomes returns all outcomes ordered by node id.
func (v transactionView) ListOutcomes() []Outcome {
	out := make([]Outcome, 0, len(v.state.outcomes))
	for _, o := range v.state.outcomes {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

// FindAuditEntry returns the ledger entry with id.
func (v transactionView) FindAuditEntry(id int64) (AuditEntry, bool) {
	e, ok := v.state.audit[id]
	if !ok {
		return AuditEntry{}, false
	}
	return e.Clone(), true
}

// ListAuditEntries returns the ledger ordered by id ascending.
func (v transactionView) ListAuditEntries() []AuditEntry {
	out := make([]AuditEntry, 0, len(v.state.audit))
	for _, e := range v.state.audit {
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindDraft returns the draft with id.
func (v transactionView) FindDraft(id string) (Draft, bool) {
	d, ok := v.state.drafts[id]
	if !ok {
		return Draft{}, false
	}
	return d.Clone(), true
}

// ListDrafts returns all drafts ordered by creation time then id.
func (v transactionView) ListDrafts() []Draft {
	out := make([]Draft, 0, len(v.state.drafts))
	for _, d := range v.state.drafts {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// transaction represents a mutation set applied to the store state.
type transaction struct {
	transactionView
	state   memoryState
	changes []Change
	now     time.Time
}

// helper to record and append change entries.
func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// CreateNode stores a new node within the transaction.
func (tx *transaction) CreateNode(n Node) (Node, error) {
	if n.ID == 0 {
		n.ID = tx.state.nextNodeID
	}
	if n.ID < 0 {
		return Node{}, fmt.Errorf("node id %d is invalid", n.ID)
	}
	if _, exists := tx.state.nodes[n.ID]; exists {
		return Node{}, fmt.Errorf("node %d already exists", n.ID)
	}
	if n.ID >= tx.state.nextNodeID {
		tx.state.nextNodeID = n.ID + 1
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = tx.now
	}
	n.UpdatedAt = tx.now
	tx.state.nodes[n.ID] = n.Clone()
	tx.state.index(n)
	tx.recordChange(Change{Entity: domain.EntityNode, Action: domain.ActionCreate, After: n.Clone()})
	return n.Clone(), nil
}

// UpdateNode mutates a node using the provided mutator function.
func (tx *transaction) UpdateNode(id int64, mutator func(*Node) error) (Node, error) {
	current, ok := tx.state.nodes[id]
	if !ok {
		return Node{}, fmt.Errorf("node %d not found", id)
	}
	before := current.Clone()
	if err := mutator(&current); err != nil {
		return Node{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	if parentKey(before) != parentKey(current) {
		tx.state.unindex(before)
		tx.state.index(current)
	}
	tx.state.nodes[id] = current.Clone()
	tx.recordChange(Change{Entity: domain.EntityNode, Action: domain.ActionUpdate, Before: before, After: current.Clone()})
	return current.Clone(), nil
}

// DeleteNode removes a node and its outcome from the transaction state.
// Children are left in place; callers delete subtrees leaf-first.
func (tx *transaction) DeleteNode(id int64) error {
	current, ok := tx.state.nodes[id]
	if !ok {
		return fmt.Errorf("node %d not found", id)
	}
	if outcome, ok := tx.state.outcomes[id]; ok {
		delete(tx.state.outcomes, id)
		tx.recordChange(Change{Entity: domain.EntityOutcome, Action: domain.ActionDelete, Before: outcome})
	}
	tx.state.unindex(current)
	delete(tx.state.nodes, id)
	tx.recordChange(Change{Entity: domain.EntityNode, Action: domain.ActionDelete, Before: current.Clone()})
	return nil
}

// PutOutcome creates or replaces the outcome attached to a node.
func (tx *transaction) PutOutcome(o Outcome) (Outcome, error) {
	if _, ok := tx.state.nodes[o.NodeID]; !ok {
		return Outcome{}, fmt.Errorf("node %d not found", o.NodeID)
	}
	o.UpdatedAt = tx.now
	if existing, ok := tx.state.outcomes[o.NodeID]; ok {
		o.CreatedAt = existing.CreatedAt
		tx.state.outcomes[o.NodeID] = o
		tx.recordChange(Change{Entity: domain.EntityOutcome, Action: domain.ActionUpdate, Before: existing, After: o})
		return o, nil
	}
	o.CreatedAt = tx.now
	tx.state.outcomes[o.NodeID] = o
	tx.recordChange(Change{Entity: domain.EntityOutcome, Action: domain.ActionCreate, After: o})
	return o, nil
}

// DeleteOutcome removes the outcome attached to nodeID.
func (tx *transaction) DeleteOutcome(nodeID int64) error {
	current, ok := tx.state.outcomes[nodeID]
	if !ok {
		return fmt.Errorf("outcome for node %d not found", nodeID)
	}
	delete(tx.state.outcomes, nodeID)
	tx.recordChange(Change{Entity: domain.EntityOutcome, Action: domain.ActionDelete, Before: current})
	return nil
}

// AppendAuditEntry stores a ledger entry under the next sequence id.
func (tx *transaction) AppendAuditEntry(e AuditEntry) (AuditEntry, error) {
	if !e.Operation.Valid() {
		return AuditEntry{}, fmt.Errorf("audit operation %q is not supported", e.Operation)
	}
	e.ID = tx.state.nextAuditID
	tx.state.nextAuditID++
	if e.CreatedAt.IsZero() {
		e.CreatedAt = tx.now
	}
	tx.state.audit[e.ID] = e.Clone()
	tx.recordChange(Change{Entity: domain.EntityAuditEntry, Action: domain.ActionCreate, After: e.Clone()})
	return e.Clone(), nil
}

// UpdateAuditEntry mutates a ledger entry. Only undo markers are expected to change.
func (tx *transaction) UpdateAuditEntry(id int64, mutator func(*AuditEntry) error) (AuditEntry, error) {
	current, ok := tx.state.audit[id]
	if !ok {
		return AuditEntry{}, fmt.Errorf("audit entry %d not found", id)
	}
	before := current.Clone()
	if err := mutator(&current); err != nil {
		return AuditEntry{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	tx.state.audit[id] = current.Clone()
	tx.recordChange(Change{Entity: domain.EntityAuditEntry, Action: domain.ActionUpdate, Before: before, After: current.Clone()})
	return current.Clone(), nil
}

// CreateDraft stores a new draft.
func (tx *transaction) CreateDraft(d Draft) (Draft, error) {
	if d.ID == "" {
		d.ID = newID()
	}
	if _, exists := tx.state.drafts[d.ID]; exists {
		return Draft{}, fmt.Errorf("draft %q already exists", d.ID)
	}
	d.CreatedAt = tx.now
	d.UpdatedAt = tx.now
	tx.state.drafts[d.ID] = d.Clone()
	tx.recordChange(Change{Entity: domain.EntityDraft, Action: domain.ActionCreate, After: d.Clone()})
	return d.Clone(), nil
}

// UpdateDraft mutates a draft using the provided mutator function.
func (tx *transaction) UpdateDraft(id string, mutator func(*Draft) error) (Draft, error) {
	current, ok := tx.state.drafts[id]
	if !ok {
		return Draft{}, fmt.Errorf("draft %q not found", id)
	}
	before := current.Clone()
	if err := mutator(&current); err != nil {
		return Draft{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.drafts[id] = current.Clone()
	tx.recordChange(Change{Entity: domain.EntityDraft, Action: domain.ActionUpdate, Before: before, After: current.Clone()})
	return current.Clone(), nil
}

// DeleteDraft removes a draft.
func (tx *transaction) DeleteDraft(id string) error {
	current, ok := tx.state.drafts[id]
	if !ok {
		return fmt.Errorf("draft %q not found", id)
	}
	delete(tx.state.drafts, id)
	tx.recordChange(Change{Entity: domain.EntityDraft, Action: domain.ActionDelete, Before: current.Clone()})
	return nil
}
