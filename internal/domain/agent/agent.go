// Package agent defines the AgentInfo projection: the current state of
// one sub-agent as folded from its event history.
package agent

import (
	"fmt"
	"time"

	"github.com/Strob0t/SubCtl/internal/domain"
)

// Status represents the current state of an agent.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusWorking    Status = "working"
	StatusBlocked    Status = "blocked"
	StatusError      Status = "error"
	StatusTerminated Status = "terminated"
)

// ParseStatus converts a wire string into a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown status %q: %w", s, domain.ErrValidation)
	}
	return st, nil
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusWorking, StatusBlocked, StatusError, StatusTerminated:
		return true
	}
	return false
}

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusTerminated
}

// CanTransition reports whether the status machine allows moving from s
// to next. Every status may move to terminated, and a self transition
// is always allowed so repeated heartbeats stay idempotent.
func (s Status) CanTransition(next Status) bool {
	if s == StatusTerminated {
		return false
	}
	if next == s || next == StatusTerminated {
		return true
	}
	switch s {
	case StatusIdle:
		return next == StatusWorking
	case StatusWorking:
		return next == StatusIdle || next == StatusBlocked || next == StatusError
	case StatusBlocked:
		return next == StatusWorking || next == StatusError
	case StatusError:
		return false
	}
	return false
}

// TokenUsage is cumulative token consumption. It only ever grows.
type TokenUsage struct {
	Prompt     int64 `json:"prompt"`
	Completion int64 `json:"completion"`
}

// Total returns prompt plus completion tokens.
func (t TokenUsage) Total() int64 {
	return t.Prompt + t.Completion
}

// ToolCall is one recorded tool invocation.
type ToolCall struct {
	Tool      string    `json:"tool"`
	Outcome   string    `json:"outcome,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Info is the per-agent projection stored under the agent's label. It
// is a pure fold over the agent's accepted events: two observers that
// apply the same events in the same order hold identical Info values.
type Info struct {
	Label             string             `json:"label"`
	Status            Status             `json:"status"`
	Channel           string             `json:"channel,omitempty"`
	LastUpdated       time.Time          `json:"last_updated"`
	LastEventID       string             `json:"last_event_id,omitempty"`
	TokensUsed        TokenUsage         `json:"tokens_used"`
	ActiveTicket      string             `json:"active_ticket,omitempty"`
	ToolsInvoked      []ToolCall         `json:"tools_invoked,omitempty"`
	PackageCompliance map[string]float64 `json:"package_compliance,omitempty"`
	CustomCodeRatio   float64            `json:"custom_code_ratio,omitempty"`
}

// New returns the zero-history projection for a label: an idle agent
// that has never reported.
func New(label string) (Info, error) {
	if label == "" {
		return Info{}, fmt.Errorf("agent label is empty: %w", domain.ErrValidation)
	}
	return Info{Label: label, Status: StatusIdle}, nil
}

// StaleAfter reports whether the agent has gone silent: no accepted
// event within window as of now.
func (i Info) StaleAfter(now time.Time, window time.Duration) bool {
	return now.Sub(i.LastUpdated) > window
}

// Clone returns a deep copy. Info carries a slice and a map, so the
// shallow value copy is not enough to keep folds side-effect free.
func (i Info) Clone() Info {
	out := i
	if i.ToolsInvoked != nil {
		out.ToolsInvoked = make([]ToolCall, len(i.ToolsInvoked))
		copy(out.ToolsInvoked, i.ToolsInvoked)
	}
	if i.PackageCompliance != nil {
		out.PackageCompliance = make(map[string]float64, len(i.PackageCompliance))
		for k, v := range i.PackageCompliance {
			out.PackageCompliance[k] = v
		}
	}
	return out
}
