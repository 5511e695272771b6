package natsstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/SubCtl/internal/domain"
	"github.com/Strob0t/SubCtl/internal/domain/event"
	"github.com/Strob0t/SubCtl/internal/port/statestore"
)

// subscriptionBuffer bounds the live event channel. A consumer that
// falls further behind loses intermediate events and reconciles via
// reads, matching the port's best-effort delivery contract.
const subscriptionBuffer = 64

// PublishEvent appends the event to the stream under its label subject.
func (s *Store) PublishEvent(ctx context.Context, ev *event.Event) error {
	if ev == nil || ev.AgentLabel == "" {
		return fmt.Errorf("event has no agent label: %w", domain.ErrValidation)
	}
	data, err := ev.Encode()
	if err != nil {
		return err
	}
	subject := subjectPrefix + ev.AgentLabel
	if _, err := s.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s: %v: %w", subject, err, domain.ErrStoreUnavailable)
	}
	return nil
}

// coreSub guards the delivery channel so a late in-flight NATS callback
// cannot send on a closed channel.
type coreSub struct {
	mu     sync.Mutex
	ch     chan *event.Event
	closed bool
}

func (c *coreSub) deliver(ev *event.Event) (delivered bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.ch <- ev:
		return true
	default:
		return false
	}
}

func (c *coreSub) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
}

// SubscribeEvents opens a live feed of all agent events. JetStream
// publishes traverse core NATS subjects, so a plain subscription sees
// every event without creating a durable consumer.
func (s *Store) SubscribeEvents(ctx context.Context) (*statestore.Subscription, error) {
	cs := &coreSub{ch: make(chan *event.Event, subscriptionBuffer)}

	natsSub, err := s.nc.Subscribe(subjectPrefix+">", func(msg *nats.Msg) {
		ev, err := event.Decode(msg.Data)
		if err != nil {
			s.log.Warn("dropping undecodable event", "subject", msg.Subject, "error", err)
			return
		}
		if !cs.deliver(ev) {
			s.log.Warn("event subscriber lagging, dropping event", "subject", msg.Subject, "event_id", ev.ID)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe events: %v: %w", err, domain.ErrStoreUnavailable)
	}

	var once sync.Once
	done := make(chan struct{})
	stop := func() {
		once.Do(func() {
			if err := natsSub.Unsubscribe(); err != nil {
				s.log.Warn("unsubscribe failed", "error", err)
			}
			close(done)
			cs.close()
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-done:
		}
	}()

	return statestore.NewSubscription(cs.ch, stop), nil
}

// RecentEvents reads retained events in publish order, filtered to one
// label or, when label is empty, across every agent. since bounds how
// far back to read; zero or negative reads the whole retained log.
func (s *Store) RecentEvents(ctx context.Context, label string, since time.Duration) ([]*event.Event, error) {
	filter := subjectPrefix + ">"
	if label != "" {
		filter = subjectPrefix + label
	}

	cfg := jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{filter},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	}
	if since > 0 {
		start := time.Now().Add(-since)
		cfg.DeliverPolicy = jetstream.DeliverByStartTimePolicy
		cfg.OptStartTime = &start
	}

	cons, err := s.js.OrderedConsumer(ctx, s.stream, cfg)
	if err != nil {
		return nil, fmt.Errorf("ordered consumer for %s: %v: %w", filter, err, domain.ErrStoreUnavailable)
	}

	var out []*event.Event
	for {
		batch, err := cons.FetchNoWait(100)
		if err != nil {
			return nil, fmt.Errorf("fetch events for %s: %v: %w", filter, err, domain.ErrStoreUnavailable)
		}
		count := 0
		for msg := range batch.Messages() {
			count++
			ev, err := event.Decode(msg.Data())
			if err != nil {
				s.log.Warn("skipping undecodable retained event", "subject", msg.Subject(), "error", err)
				continue
			}
			out = append(out, ev)
		}
		if err := batch.Error(); err != nil {
			return nil, fmt.Errorf("fetch events for %s: %v: %w", filter, err, domain.ErrStoreUnavailable)
		}
		if count == 0 {
			return out, nil
		}
	}
}
