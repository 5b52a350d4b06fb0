// Package domain defines the tree records, value types, and rule evaluation
// primitives shared by the triagetree engine and its persistence backends.
package domain

// EntityType identifies the type of record stored in the tree domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityNode identifies a tree position.
	EntityNode EntityType = "node"
	// EntityOutcome identifies the triage record attached to a leaf node.
	EntityOutcome EntityType = "outcome"
	// EntityAuditEntry identifies an audit ledger record.
	EntityAuditEntry EntityType = "audit_entry"
	// EntityDraft identifies a staged child set.
	EntityDraft EntityType = "draft"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured in the change log.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string     `json:"rule"`
	Severity Severity   `json:"severity"`
	Message  string     `json:"message"`
	Entity   EntityType `json:"entity"`
	EntityID string     `json:"entity_id,omitempty"`
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation `json:"violations,omitempty"`
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// Blocking returns only the blocking violations.
func (r Result) Blocking() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			out = append(out, v)
		}
	}
	return out
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	blocking := e.Result.Blocking()
	if len(blocking) == 0 {
		return "transaction blocked by rules"
	}
	return "transaction blocked by rules: " + blocking[0].Rule + ": " + blocking[0].Message
}

// BlockedBy reports whether the named rule produced a blocking violation.
func (e RuleViolationError) BlockedBy(rule string) bool {
	for _, v := range e.Result.Blocking() {
		if v.Rule == rule {
			return true
		}
	}
	return false
}
