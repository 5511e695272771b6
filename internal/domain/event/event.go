// Package event defines the AgentEvent wire record: the immutable,
// signed unit of state change published on the agent event channel.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/SubCtl/internal/domain"
)

// Type identifies the kind of agent event.
type Type string

const (
	TypeHeartbeat      Type = "heartbeat"
	TypeStatusChange   Type = "status-change"
	TypeTokenDelta     Type = "token-delta"
	TypeToolCall       Type = "tool-call"
	TypeTicketAssign   Type = "ticket-assign"
	TypeTicketComplete Type = "ticket-complete"
)

// Valid reports whether t is a known event type.
func (t Type) Valid() bool {
	switch t {
	case TypeHeartbeat, TypeStatusChange, TypeTokenDelta,
		TypeToolCall, TypeTicketAssign, TypeTicketComplete:
		return true
	}
	return false
}

// Event is a single state change for one agent. An event is immutable
// once signed: it is either accepted in full after verification and
// folded into the agent projection, or rejected in full.
//
// ID doubles as the ordering tie-break: two events with the same
// timestamp are ordered by lexicographic ID comparison so that all
// observers converge on the same winner.
type Event struct {
	ID         string          `json:"id"`
	AgentLabel string          `json:"agent_label"`
	Type       Type            `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	KeyID      string          `json:"key_id,omitempty"`
	Signature  string          `json:"signature,omitempty"`
}

// New constructs an event with a fresh ID and the current UTC time,
// marshals payload into the wire form, and validates the result.
func New(label string, typ Type, payload any) (*Event, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", typ, err)
		}
		raw = data
	}

	ev := &Event{
		ID:         uuid.NewString(),
		AgentLabel: label,
		Type:       typ,
		Payload:    raw,
		Timestamp:  time.Now().UTC(),
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return ev, nil
}

// Validate checks structural validity: non-empty label and ID, a known
// type, a non-zero timestamp, and a payload that decodes strictly for
// the type. Semantic checks (status transitions) belong to the fold.
func (e *Event) Validate() error {
	if e == nil {
		return fmt.Errorf("nil event: %w", domain.ErrValidation)
	}
	if e.ID == "" {
		return fmt.Errorf("event id is empty: %w", domain.ErrValidation)
	}
	if e.AgentLabel == "" {
		return fmt.Errorf("agent label is empty: %w", domain.ErrValidation)
	}
	if !e.Type.Valid() {
		return fmt.Errorf("unknown event type %q: %w", e.Type, domain.ErrValidation)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("event timestamp is zero: %w", domain.ErrValidation)
	}
	if _, err := e.DecodePayload(); err != nil {
		return err
	}
	return nil
}

// canonicalEvent mirrors Event without the signature, with the
// timestamp pinned to UTC RFC3339Nano so the byte form is stable.
type canonicalEvent struct {
	ID         string          `json:"id"`
	AgentLabel string          `json:"agent_label"`
	Type       Type            `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  string          `json:"timestamp"`
	KeyID      string          `json:"key_id,omitempty"`
}

// Canonical returns the deterministic serialization that signatures
// cover: every field except Signature. The payload participates as the
// exact raw bytes that were signed, so any single-field tamper changes
// the canonical form.
func (e *Event) Canonical() ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("nil event: %w", domain.ErrValidation)
	}
	c := canonicalEvent{
		ID:         e.ID,
		AgentLabel: e.AgentLabel,
		Type:       e.Type,
		Payload:    e.Payload,
		Timestamp:  e.Timestamp.UTC().Format(time.RFC3339Nano),
		KeyID:      e.KeyID,
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("canonical serialization: %w", err)
	}
	return data, nil
}

// Decode parses wire bytes into an Event, rejecting unknown fields.
func Decode(data []byte) (*Event, error) {
	var ev Event
	if err := decodeStrict(data, &ev); err != nil {
		return nil, fmt.Errorf("decode event: %v: %w", err, domain.ErrValidation)
	}
	return &ev, nil
}

// Encode returns the wire form of the event.
func (e *Event) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return data, nil
}
