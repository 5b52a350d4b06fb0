package domain

import (
	"bytes"
	"encoding/json"
)

// Payload wraps the JSON body recorded with an audit entry. Producers build
// it from typed structs with NewPayloadFromValue and consumers decode it back
// into the struct matching the entry's operation.
type Payload struct {
	defined bool
	raw     json.RawMessage
}

// NewPayload builds a payload wrapper from raw JSON. The bytes are cloned to
// prevent callers from mutating shared state. Passing a nil slice yields a
// defined but empty payload; use UndefinedPayload for "not set".
func NewPayload(raw json.RawMessage) Payload {
	payload := Payload{defined: true}
	if raw != nil {
		payload.raw = cloneRawMessage(raw)
	}
	return payload
}

// NewPayloadFromValue marshals a typed value into a Payload.
func NewPayloadFromValue[T any](value T) (Payload, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return Payload{}, err
	}
	return NewPayload(raw), nil
}

// UndefinedPayload returns an uninitialized payload wrapper.
func UndefinedPayload() Payload {
	return Payload{}
}

// Defined reports whether the payload has been initialized.
func (p Payload) Defined() bool {
	return p.defined
}

// IsEmpty reports whether the payload contains no bytes.
func (p Payload) IsEmpty() bool {
	if !p.defined {
		return true
	}
	return len(p.raw) == 0
}

// Raw returns a cloned copy of the underlying JSON bytes. Nil is returned when
// the payload is undefined or empty.
func (p Payload) Raw() json.RawMessage {
	if !p.defined || len(p.raw) == 0 {
		return nil
	}
	return cloneRawMessage(p.raw)
}

// Decode unmarshals the payload into target. Empty payloads leave target untouched.
func (p Payload) Decode(target any) error {
	if p.IsEmpty() {
		return nil
	}
	return json.Unmarshal(p.raw, target)
}

// MarshalJSON emits the wrapped bytes, or null when empty.
func (p Payload) MarshalJSON() ([]byte, error) {
	if p.IsEmpty() {
		return []byte("null"), nil
	}
	return cloneRawMessage(p.raw), nil
}

// UnmarshalJSON stores a copy of data. A JSON null yields an undefined payload.
func (p *Payload) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*p = Payload{}
		return nil
	}
	*p = NewPayload(data)
	return nil
}

func cloneRawMessage(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	cloned := make(json.RawMessage, len(raw))
	copy(cloned, raw)
	return cloned
}
