package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Strob0t/SubCtl/internal/domain"
)

// HeartbeatPayload is a liveness report. All fields are optional: an
// empty heartbeat only refreshes the agent's last-updated time.
// CustomCodeRatio is a pointer because zero is a meaningful report.
type HeartbeatPayload struct {
	Status          string             `json:"status,omitempty"`
	Channel         string             `json:"channel,omitempty"`
	Packages        map[string]float64 `json:"packages,omitempty"`
	CustomCodeRatio *float64           `json:"custom_code_ratio,omitempty"`
}

// StatusChangePayload moves the agent through its status machine.
type StatusChangePayload struct {
	Status string `json:"status"`
}

// TokenDeltaPayload adds token consumption. Deltas are non-negative;
// usage only ever grows.
type TokenDeltaPayload struct {
	Prompt     int64 `json:"prompt"`
	Completion int64 `json:"completion"`
}

// ToolCallPayload records one tool invocation by the agent.
type ToolCallPayload struct {
	Tool    string `json:"tool"`
	Outcome string `json:"outcome,omitempty"`
}

// TicketAssignPayload sets the agent's active ticket.
type TicketAssignPayload struct {
	Ticket string `json:"ticket"`
}

// TicketCompletePayload clears the active ticket if it matches.
type TicketCompletePayload struct {
	Ticket string `json:"ticket"`
}

// DecodePayload decodes the event's payload into the typed variant for
// its type and validates the variant's own invariants. Unknown payload
// fields are rejected so a misrouted or malformed producer fails loudly
// instead of being silently folded.
func (e *Event) DecodePayload() (any, error) {
	raw := e.Payload
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}

	switch e.Type {
	case TypeHeartbeat:
		var p HeartbeatPayload
		if err := decodeStrict(raw, &p); err != nil {
			return nil, payloadErr(e.Type, err)
		}
		for pkg, score := range p.Packages {
			if pkg == "" {
				return nil, payloadErr(e.Type, errors.New("empty package name"))
			}
			if score < 0 || score > 1 {
				return nil, payloadErr(e.Type, fmt.Errorf("compliance score %v for %s out of [0,1]", score, pkg))
			}
		}
		if p.CustomCodeRatio != nil && (*p.CustomCodeRatio < 0 || *p.CustomCodeRatio > 1) {
			return nil, payloadErr(e.Type, fmt.Errorf("custom code ratio %v out of [0,1]", *p.CustomCodeRatio))
		}
		return p, nil
	case TypeStatusChange:
		var p StatusChangePayload
		if err := decodeStrict(raw, &p); err != nil {
			return nil, payloadErr(e.Type, err)
		}
		if p.Status == "" {
			return nil, payloadErr(e.Type, errors.New("status is empty"))
		}
		return p, nil
	case TypeTokenDelta:
		var p TokenDeltaPayload
		if err := decodeStrict(raw, &p); err != nil {
			return nil, payloadErr(e.Type, err)
		}
		if p.Prompt < 0 || p.Completion < 0 {
			return nil, payloadErr(e.Type, fmt.Errorf("negative delta prompt=%d completion=%d", p.Prompt, p.Completion))
		}
		return p, nil
	case TypeToolCall:
		var p ToolCallPayload
		if err := decodeStrict(raw, &p); err != nil {
			return nil, payloadErr(e.Type, err)
		}
		if p.Tool == "" {
			return nil, payloadErr(e.Type, errors.New("tool is empty"))
		}
		return p, nil
	case TypeTicketAssign:
		var p TicketAssignPayload
		if err := decodeStrict(raw, &p); err != nil {
			return nil, payloadErr(e.Type, err)
		}
		if p.Ticket == "" {
			return nil, payloadErr(e.Type, errors.New("ticket is empty"))
		}
		return p, nil
	case TypeTicketComplete:
		var p TicketCompletePayload
		if err := decodeStrict(raw, &p); err != nil {
			return nil, payloadErr(e.Type, err)
		}
		if p.Ticket == "" {
			return nil, payloadErr(e.Type, errors.New("ticket is empty"))
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown event type %q: %w", e.Type, domain.ErrValidation)
	}
}

func payloadErr(typ Type, err error) error {
	return fmt.Errorf("%s payload: %v: %w", typ, err, domain.ErrValidation)
}

// decodeStrict unmarshals with unknown fields disallowed and rejects
// trailing data after the first JSON value.
func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after payload")
	}
	return nil
}
