// Package statestore defines the port for the shared agent state store:
// a transactional key-value namespace for agent projections plus a
// pub-sub channel for signed agent events. The store is the sole
// arbiter of state; the orchestrator holds no authoritative copy.
package statestore

import (
	"context"
	"time"

	"github.com/Strob0t/SubCtl/internal/domain/agent"
	"github.com/Strob0t/SubCtl/internal/domain/event"
)

// Subscription is a live feed of agent events. Events arrive on C until
// Stop is called or the subscribing context is cancelled, after which C
// is closed. A slow consumer does not block the publisher; delivery is
// best-effort and the caller is expected to reconcile via reads.
type Subscription struct {
	ch   chan *event.Event
	stop func()
}

// NewSubscription builds a subscription around a delivery channel and a
// cancel function. Adapters call this; consumers only read C and Stop.
func NewSubscription(ch chan *event.Event, stop func()) *Subscription {
	return &Subscription{ch: ch, stop: stop}
}

// C returns the delivery channel.
func (s *Subscription) C() <-chan *event.Event {
	return s.ch
}

// Stop cancels the subscription. Safe to call more than once.
func (s *Subscription) Stop() {
	if s.stop != nil {
		s.stop()
		s.stop = nil
	}
}

// Store is the port interface for agent state and events.
//
// Implementations never retry: a store that cannot be reached returns
// an error wrapping domain.ErrStoreUnavailable and leaves retry policy
// to the caller.
type Store interface {
	// GetAgent returns the projection stored under label, or an error
	// wrapping domain.ErrNotFound when the label has never been seen.
	GetAgent(ctx context.Context, label string) (agent.Info, error)

	// ListAgents returns every stored projection in unspecified order.
	ListAgents(ctx context.Context) ([]agent.Info, error)

	// PutAgent upserts the projection under its label.
	PutAgent(ctx context.Context, info agent.Info) error

	// PublishEvent appends the event to the durable event channel for
	// its agent label.
	PublishEvent(ctx context.Context, ev *event.Event) error

	// SubscribeEvents opens a live subscription to all agent events.
	// The subscription ends when ctx is cancelled or Stop is called.
	SubscribeEvents(ctx context.Context) (*Subscription, error)

	// RecentEvents returns retained events in publish order, filtered
	// to one agent label, or to every label when label is empty. since
	// bounds how far back to read; zero or negative reads the whole
	// retained log, which is itself bounded by the store's retention
	// window. An empty slice is not an error.
	RecentEvents(ctx context.Context, label string, since time.Duration) ([]*event.Event, error)

	// Close releases the store connection.
	Close() error
}
