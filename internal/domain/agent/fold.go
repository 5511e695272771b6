package agent

import (
	"errors"
	"fmt"

	"github.com/Strob0t/SubCtl/internal/domain"
	"github.com/Strob0t/SubCtl/internal/domain/event"
)

// DefaultToolLogLimit bounds ToolsInvoked when no limit is configured.
const DefaultToolLogLimit = 50

// Apply folds one event into the projection and returns the updated
// copy. The input is never mutated. toolLogLimit bounds ToolsInvoked;
// values below 1 fall back to DefaultToolLogLimit.
//
// Ordering: an event older than LastUpdated, or equal-timestamped with
// an ID not lexicographically greater than LastEventID, returns
// ErrOutOfOrder and leaves the projection unchanged. Re-applying the
// last accepted event therefore hits the same check, which makes the
// fold idempotent under redelivery.
func Apply(info Info, ev *event.Event, toolLogLimit int) (Info, error) {
	if ev == nil {
		return info, fmt.Errorf("nil event: %w", domain.ErrValidation)
	}
	if ev.AgentLabel != info.Label {
		return info, fmt.Errorf("event for %q applied to %q: %w", ev.AgentLabel, info.Label, domain.ErrValidation)
	}
	if info.Status.Terminal() {
		return info, fmt.Errorf("agent %s: %w", info.Label, domain.ErrTerminated)
	}
	if ev.Timestamp.Before(info.LastUpdated) {
		return info, fmt.Errorf("event %s at %s behind projection at %s: %w",
			ev.ID, ev.Timestamp.Format("15:04:05.000"), info.LastUpdated.Format("15:04:05.000"), domain.ErrOutOfOrder)
	}
	if ev.Timestamp.Equal(info.LastUpdated) && ev.ID <= info.LastEventID {
		return info, fmt.Errorf("event %s does not win tie against %s: %w",
			ev.ID, info.LastEventID, domain.ErrOutOfOrder)
	}

	payload, err := ev.DecodePayload()
	if err != nil {
		return info, err
	}
	if toolLogLimit < 1 {
		toolLogLimit = DefaultToolLogLimit
	}

	next := info.Clone()
	switch p := payload.(type) {
	case event.HeartbeatPayload:
		if p.Status != "" {
			st, err := ParseStatus(p.Status)
			if err != nil {
				return info, err
			}
			if !next.Status.CanTransition(st) {
				return info, transitionErr(next.Status, st)
			}
			next.Status = st
		}
		if p.Channel != "" {
			next.Channel = p.Channel
		}
		if len(p.Packages) > 0 {
			if next.PackageCompliance == nil {
				next.PackageCompliance = make(map[string]float64, len(p.Packages))
			}
			for pkg, score := range p.Packages {
				next.PackageCompliance[pkg] = score
			}
		}
		if p.CustomCodeRatio != nil {
			next.CustomCodeRatio = *p.CustomCodeRatio
		}
	case event.StatusChangePayload:
		st, err := ParseStatus(p.Status)
		if err != nil {
			return info, err
		}
		if !next.Status.CanTransition(st) {
			return info, transitionErr(next.Status, st)
		}
		next.Status = st
	case event.TokenDeltaPayload:
		next.TokensUsed.Prompt += p.Prompt
		next.TokensUsed.Completion += p.Completion
	case event.ToolCallPayload:
		next.ToolsInvoked = append(next.ToolsInvoked, ToolCall{
			Tool:      p.Tool,
			Outcome:   p.Outcome,
			Timestamp: ev.Timestamp,
		})
		if len(next.ToolsInvoked) > toolLogLimit {
			trimmed := make([]ToolCall, toolLogLimit)
			copy(trimmed, next.ToolsInvoked[len(next.ToolsInvoked)-toolLogLimit:])
			next.ToolsInvoked = trimmed
		}
	case event.TicketAssignPayload:
		next.ActiveTicket = p.Ticket
	case event.TicketCompletePayload:
		if next.ActiveTicket == p.Ticket {
			next.ActiveTicket = ""
		}
	default:
		return info, fmt.Errorf("unhandled payload %T: %w", payload, domain.ErrValidation)
	}

	next.LastUpdated = ev.Timestamp.UTC()
	next.LastEventID = ev.ID
	return next, nil
}

func transitionErr(from, to Status) error {
	return fmt.Errorf("status %s cannot move to %s: %w", from, to, domain.ErrValidation)
}

// Replay folds a sequence of events into a fresh projection. Events
// rejected for ordering or after termination are skipped; the first
// validation failure stops the fold.
func Replay(label string, events []*event.Event, toolLogLimit int) (Info, error) {
	info, err := New(label)
	if err != nil {
		return Info{}, err
	}
	for _, ev := range events {
		next, err := Apply(info, ev, toolLogLimit)
		switch {
		case err == nil:
			info = next
		case isSkippable(err):
			continue
		default:
			return info, err
		}
	}
	return info, nil
}

func isSkippable(err error) bool {
	return errors.Is(err, domain.ErrOutOfOrder) || errors.Is(err, domain.ErrTerminated)
}
