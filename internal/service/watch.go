package service

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/SubCtl/internal/domain/agent"
	"github.com/Strob0t/SubCtl/internal/domain/event"
	"github.com/Strob0t/SubCtl/internal/port/statestore"
	"github.com/Strob0t/SubCtl/internal/resilience"
)

// Watch streams fleet snapshots until ctx is cancelled, after which the
// returned channel is closed. A snapshot is emitted on start, after
// every observed event, and on a fixed poll tick; the tick is not an
// optimization, staleness transitions emit no event and can only be
// observed by polling. Delivery is latest-wins: a slow reader misses
// intermediate snapshots instead of delaying them.
//
// If the live event feed cannot be opened the watch degrades to
// polling, logs a warning, and keeps trying to restore the feed in the
// background.
func (o *Orchestrator) Watch(ctx context.Context, includeStale bool) (<-chan []agent.Info, error) {
	// The subscription is long-lived, so it bypasses the per-call
	// breaker and timeout that guard store round trips.
	sub, err := o.store.SubscribeEvents(ctx)
	if err != nil {
		o.log.Warn("live event feed unavailable, watch falls back to polling", "error", err)
		sub = nil
	}

	w := &watcher{
		orch:         o,
		includeStale: includeStale,
		sub:          sub,
		out:          make(chan []agent.Info, 1),
		dirty:        make(chan struct{}, 1),
	}
	go w.run(ctx)
	return w.out, nil
}

// watcher is one Watch call's state. intake owns sub after start.
type watcher struct {
	orch         *Orchestrator
	includeStale bool
	sub          *statestore.Subscription
	out          chan []agent.Info
	dirty        chan struct{}
}

func (w *watcher) run(ctx context.Context) {
	defer close(w.out)
	w.kick()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.intake(gctx) })
	g.Go(func() error { return w.refresh(gctx) })
	_ = g.Wait()
}

// kick marks the fleet view dirty. Kicks coalesce: any number of
// triggers between two refreshes collapse into one.
func (w *watcher) kick() {
	select {
	case w.dirty <- struct{}{}:
	default:
	}
}

// intake turns observed events, poll ticks, and feed recoveries into
// refresh triggers. It never blocks on snapshot computation. The
// adapter only closes the feed when it is torn down, so a closed
// channel is treated as feed loss and resubscribed with backoff.
func (w *watcher) intake(ctx context.Context) error {
	ticker := time.NewTicker(w.orch.opts.PollInterval)
	defer ticker.Stop()
	defer func() {
		if w.sub != nil {
			w.sub.Stop()
		}
	}()

	backoff := resilience.NewBackoff(time.Second, 30*time.Second)
	var events <-chan *event.Event
	if w.sub != nil {
		events = w.sub.C()
	}
	var retry <-chan time.Time
	if events == nil {
		retry = time.After(backoff.Next())
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.kick()
		case _, ok := <-events:
			if !ok {
				events = nil
				d := backoff.Next()
				w.orch.log.Warn("live event feed lost, retrying", "delay", d)
				retry = time.After(d)
				continue
			}
			w.kick()
		case <-retry:
			retry = nil
			sub, err := w.orch.store.SubscribeEvents(ctx)
			if err != nil {
				d := backoff.Next()
				w.orch.log.Warn("event feed resubscribe failed", "error", err, "delay", d)
				retry = time.After(d)
				continue
			}
			backoff.Reset()
			w.sub = sub
			events = sub.C()
			w.orch.log.Info("live event feed restored")
			w.kick()
		}
	}
}

// refresh recomputes the snapshot whenever intake signals and delivers
// it. The output buffer holds one snapshot; when the reader is behind,
// the pending snapshot is replaced rather than queued.
func (w *watcher) refresh(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.dirty:
		}

		snap, err := w.orch.ListAgents(ctx, w.includeStale)
		if err != nil {
			w.orch.log.Warn("watch snapshot failed", "error", err)
			continue
		}
		w.orch.countSnapshot(ctx)

		select {
		case w.out <- snap:
		default:
			select {
			case <-w.out:
			default:
			}
			w.out <- snap
		}
	}
}
