package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := NewError(ErrSlotOccupied, "slot 1 holds \"A\"", map[string]any{"slot": 1})
	if !errors.Is(err, ErrSlotOccupied) {
		t.Fatalf("expected errors.Is to match sentinel by code")
	}
	if errors.Is(err, ErrSlotOutOfRange) {
		t.Fatalf("different codes must not match")
	}
	wrapped := fmt.Errorf("put slot: %w", err)
	if KindOf(wrapped) != KindConflict {
		t.Fatalf("expected conflict kind through wrapping, got %s", KindOf(wrapped))
	}
	if CodeOf(wrapped) != CodeSlotOccupied {
		t.Fatalf("expected slot_occupied code, got %s", CodeOf(wrapped))
	}
}

func TestNewErrorDefaultsMessage(t *testing.T) {
	err := NewError(ErrEmptyLabel, "", nil)
	if err.Message != ErrEmptyLabel.Message {
		t.Fatalf("expected sentinel message")
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("duplicate key value")
	err := Wrap(ErrIntegrity, cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause to be reachable")
	}
	if KindOf(err) != KindIntegrity {
		t.Fatalf("expected integrity kind")
	}
}

func TestVersionConflictError(t *testing.T) {
	err := error(&VersionConflictError{NodeID: 4, Expected: 3, Current: 5, Hint: "re-read"})
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("version conflict should match ErrVersionMismatch")
	}
	if KindOf(err) != KindConflict || CodeOf(err) != CodeVersionMismatch {
		t.Fatalf("unexpected classification %s/%s", KindOf(err), CodeOf(err))
	}
	var payload *VersionConflictError
	if !errors.As(fmt.Errorf("wrap: %w", err), &payload) || payload.Current != 5 {
		t.Fatalf("expected structured payload to survive wrapping")
	}
}

func TestKindOfUnknownAndNil(t *testing.T) {
	if KindOf(nil) != "" {
		t.Fatalf("nil error should have empty kind")
	}
	if KindOf(errors.New("x")) != KindUnknown {
		t.Fatalf("plain errors are unknown")
	}
	if CodeOf(errors.New("x")) != "" {
		t.Fatalf("plain errors carry no code")
	}
}
