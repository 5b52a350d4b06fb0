package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers can branch without string matching.
type ErrorKind string

// Error kinds.
const (
	// KindValidation marks malformed input rejected before any mutation.
	KindValidation ErrorKind = "validation"
	// KindConflict marks a state-dependent write rejection.
	KindConflict ErrorKind = "conflict"
	// KindIntegrity marks a store-level constraint violation raised during a race.
	KindIntegrity ErrorKind = "integrity"
	// KindFatal marks a post-operation consistency failure.
	KindFatal ErrorKind = "fatal"
	// KindNotFound marks a lookup that resolved nothing.
	KindNotFound ErrorKind = "not_found"
	// KindUnknown is reported for errors outside the taxonomy.
	KindUnknown ErrorKind = "unknown"
)

// Code identifies a specific failure within a kind.
type Code string

// Failure codes.
const (
	CodeSlotOutOfRange     Code = "slot_out_of_range"
	CodeEmptyLabel         Code = "empty_label"
	CodeMustChooseFive     Code = "must_choose_five"
	CodeDuplicateLabels    Code = "duplicate_labels"
	CodeParentNotFound     Code = "parent_not_found"
	CodeMaxDepthReached    Code = "max_depth_reached"
	CodeInvalidDepth       Code = "invalid_depth"
	CodeInvalidDraft       Code = "invalid_draft"
	CodeInvalidOperation   Code = "invalid_operation"
	CodeSlotOccupied       Code = "slot_occupied"
	CodeParentFull         Code = "parent_full"
	CodeKeepIDNotInGroup   Code = "keep_id_not_in_group"
	CodeVersionMismatch    Code = "version_mismatch"
	CodeDraftNotEditable   Code = "draft_not_editable"
	CodeNotALeaf           Code = "not_a_leaf"
	CodeNodeNotFound       Code = "node_not_found"
	CodeDraftNotFound      Code = "draft_not_found"
	CodePathNotFound       Code = "path_not_found"
	CodeIntegrityViolation Code = "integrity_violation"
	CodePostCondition      Code = "post_condition_failed"
)

// Sentinel errors for errors.Is checks. Matching compares codes only, so an
// Error built with NewError(..., CodeSlotOccupied, ...) matches ErrSlotOccupied.
var (
	ErrSlotOutOfRange   = &Error{Kind: KindValidation, Code: CodeSlotOutOfRange, Message: "slot must be between 1 and 5"}
	ErrEmptyLabel       = &Error{Kind: KindValidation, Code: CodeEmptyLabel, Message: "label is empty"}
	ErrMustChooseFive   = &Error{Kind: KindValidation, Code: CodeMustChooseFive, Message: "exactly five non-blank labels are required"}
	ErrDuplicateLabels  = &Error{Kind: KindValidation, Code: CodeDuplicateLabels, Message: "chosen labels must be unique"}
	ErrParentNotFound   = &Error{Kind: KindValidation, Code: CodeParentNotFound, Message: "parent not found"}
	ErrMaxDepthReached  = &Error{Kind: KindValidation, Code: CodeMaxDepthReached, Message: "maximum depth reached"}
	ErrInvalidDepth     = &Error{Kind: KindValidation, Code: CodeInvalidDepth, Message: "depth does not follow parent"}
	ErrInvalidDraft     = &Error{Kind: KindValidation, Code: CodeInvalidDraft, Message: "draft target children are invalid"}
	ErrInvalidOperation = &Error{Kind: KindValidation, Code: CodeInvalidOperation, Message: "unknown audit operation"}
	ErrSlotOccupied     = &Error{Kind: KindConflict, Code: CodeSlotOccupied, Message: "slot is occupied by a different label"}
	ErrParentFull       = &Error{Kind: KindConflict, Code: CodeParentFull, Message: "parent already holds five children"}
	ErrKeepIDNotInGroup = &Error{Kind: KindConflict, Code: CodeKeepIDNotInGroup, Message: "keep id is not part of the duplicate group"}
	ErrVersionMismatch  = &Error{Kind: KindConflict, Code: CodeVersionMismatch, Message: "version mismatch"}
	ErrDraftNotEditable = &Error{Kind: KindConflict, Code: CodeDraftNotEditable, Message: "draft is no longer editable"}
	ErrNotALeaf         = &Error{Kind: KindConflict, Code: CodeNotALeaf, Message: "node has children"}
	ErrNodeNotFound     = &Error{Kind: KindNotFound, Code: CodeNodeNotFound, Message: "node not found"}
	ErrDraftNotFound    = &Error{Kind: KindNotFound, Code: CodeDraftNotFound, Message: "draft not found"}
	ErrPathNotFound     = &Error{Kind: KindNotFound, Code: CodePathNotFound, Message: "path not found"}
	ErrIntegrity        = &Error{Kind: KindIntegrity, Code: CodeIntegrityViolation, Message: "integrity violation"}
	ErrPostCondition    = &Error{Kind: KindFatal, Code: CodePostCondition, Message: "post-condition check failed"}
)

// Error is the typed failure returned by engine operations.
type Error struct {
	Kind    ErrorKind      `json:"kind"`
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

// NewError builds an Error from a sentinel, overriding message and details.
func NewError(sentinel *Error, message string, details map[string]any) *Error {
	if message == "" {
		message = sentinel.Message
	}
	return &Error{Kind: sentinel.Kind, Code: sentinel.Code, Message: message, Details: details}
}

// Wrap builds an Error from a sentinel that carries cause.
func Wrap(sentinel *Error, cause error) *Error {
	msg := sentinel.Message
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", sentinel.Message, cause)
	}
	return &Error{Kind: sentinel.Kind, Code: sentinel.Code, Message: msg, Err: cause}
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches any Error sharing the same code.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

// ErrorKind implements Kinded.
func (e *Error) ErrorKind() ErrorKind { return e.Kind }

// VersionConflictError is the structured payload returned when a conditional
// write observes a different version than the caller expected.
type VersionConflictError struct {
	NodeID   int64  `json:"id"`
	Expected int    `json:"expected_version"`
	Current  int    `json:"current_version"`
	Hint     string `json:"hint"`
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version mismatch for node %d: expected %d, current %d", e.NodeID, e.Expected, e.Current)
}

// Is matches ErrVersionMismatch.
func (e *VersionConflictError) Is(target error) bool {
	var other *Error
	return errors.As(target, &other) && other.Code == CodeVersionMismatch
}

// ErrorKind implements Kinded.
func (e *VersionConflictError) ErrorKind() ErrorKind { return KindConflict }

// Kinded is implemented by errors that belong to the taxonomy.
type Kinded interface {
	ErrorKind() ErrorKind
}

// KindOf classifies err. Nil yields "".
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var kinded Kinded
	if errors.As(err, &kinded) {
		return kinded.ErrorKind()
	}
	return KindUnknown
}

// CodeOf returns the failure code carried by err, if any.
func CodeOf(err error) Code {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Code
	}
	var conflict *VersionConflictError
	if errors.As(err, &conflict) {
		return CodeVersionMismatch
	}
	return ""
}
