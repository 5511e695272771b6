package agent

import "time"

// DetailFlags selects which optional sections an inspection includes.
// The zero value returns the bare projection.
type DetailFlags struct {
	ToolLog    bool
	Tokens     bool
	Compliance bool
	Tickets    bool
}

// Any reports whether at least one section is selected.
func (f DetailFlags) Any() bool {
	return f.ToolLog || f.Tokens || f.Compliance || f.Tickets
}

// TicketRecord is one entry of the ticket history reconstructed from
// the recent-event log. CompletedAt is nil while the ticket is open.
type TicketRecord struct {
	Ticket      string     `json:"ticket"`
	AssignedAt  time.Time  `json:"assigned_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Detail is a full inspection of one agent: the folded projection plus
// the sections the caller selected. Unselected sections stay nil;
// selected sections are non-nil even when empty.
type Detail struct {
	Info       Info               `json:"info"`
	ToolLog    []ToolCall         `json:"tool_log,omitempty"`
	Tokens     *TokenUsage        `json:"tokens,omitempty"`
	Compliance map[string]float64 `json:"compliance,omitempty"`
	Tickets    []TicketRecord     `json:"tickets,omitempty"`
}
