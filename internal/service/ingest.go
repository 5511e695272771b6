package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/Strob0t/SubCtl/internal/domain"
	"github.com/Strob0t/SubCtl/internal/domain/event"
	"github.com/Strob0t/SubCtl/internal/logger"
	"github.com/Strob0t/SubCtl/internal/port/statestore"
	"github.com/Strob0t/SubCtl/internal/resilience"
)

// replayCache remembers recently settled event IDs so stream
// redeliveries are dropped before they hit the store. It is an
// optimization only: the fold's ordering check already makes
// re-application a no-op.
type replayCache struct {
	c   *ristretto.Cache[string, struct{}]
	ttl time.Duration
}

func newReplayCache(size int64, ttl time.Duration) (*replayCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, struct{}]{
		NumCounters: size * 10,
		MaxCost:     size,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &replayCache{c: c, ttl: ttl}, nil
}

func (r *replayCache) Seen(id string) bool {
	_, ok := r.c.Get(id)
	return ok
}

func (r *replayCache) Mark(id string) {
	r.c.SetWithTTL(id, struct{}{}, 1, r.ttl)
}

func (r *replayCache) Close() {
	r.c.Close()
}

// RunIngest runs the fold daemon: replay the retained event log to
// catch up, then consume the live feed, folding each event into the
// stored projections. Blocks until ctx is cancelled and returns the
// context's error. A lost feed is resubscribed with backoff, and the
// catch-up replay runs again to cover the gap.
func (o *Orchestrator) RunIngest(ctx context.Context) error {
	cache, err := newReplayCache(o.opts.ReplayCacheSize, o.opts.ReplayCacheTTL)
	if err != nil {
		return fmt.Errorf("create replay cache: %w", err)
	}
	defer cache.Close()

	backoff := resilience.NewBackoff(time.Second, 30*time.Second)
	for {
		sub, err := o.store.SubscribeEvents(ctx)
		if err != nil {
			o.log.Warn("subscribe to event feed failed", "error", err)
			if err := backoff.Sleep(ctx); err != nil {
				return err
			}
			continue
		}
		backoff.Reset()

		// Subscribe before catching up so events published during the
		// replay are buffered rather than missed.
		o.catchUp(ctx, cache)
		if ctx.Err() != nil {
			sub.Stop()
			return ctx.Err()
		}
		o.log.Info("ingest running")

		err = o.consume(ctx, sub, cache)
		sub.Stop()
		if err != nil {
			return err
		}
		o.log.Warn("event feed closed, resubscribing")
		if err := backoff.Sleep(ctx); err != nil {
			return err
		}
	}
}

// catchUp folds whatever the retained log still holds. Store failures
// here are not fatal: the live feed still works, and anything missed
// surfaces again on the next resubscribe.
func (o *Orchestrator) catchUp(ctx context.Context, cache *replayCache) {
	events, err := o.recentEvents(ctx, "", 0)
	if err != nil {
		o.log.Warn("event log replay failed", "error", err)
		return
	}
	settled := 0
	for _, ev := range events {
		if ctx.Err() != nil {
			return
		}
		if cache.Seen(ev.ID) {
			continue
		}
		if o.settle(ctx, ev, cache) {
			settled++
		}
	}
	if settled > 0 {
		o.log.Info("event log replayed", "retained", len(events), "settled", settled)
	}
}

func (o *Orchestrator) consume(ctx context.Context, sub *statestore.Subscription, cache *replayCache) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.C():
			if !ok {
				return nil
			}
			if cache.Seen(ev.ID) {
				o.log.Debug("duplicate event dropped", "event_id", ev.ID)
				continue
			}
			if !o.settle(ctx, ev, cache) {
				return ctx.Err()
			}
		}
	}
}

// settle runs one event through the write path without republishing,
// retrying while the store is unavailable. It reports whether the
// event reached a final outcome; false means ctx ended first.
func (o *Orchestrator) settle(ctx context.Context, ev *event.Event, cache *replayCache) bool {
	evCtx := logger.WithEventID(ctx, ev.ID)
	err := o.record(evCtx, ev, false)
	if errors.Is(err, domain.ErrStoreUnavailable) {
		err = o.retryRecord(evCtx, ev)
	}
	if err != nil && ctx.Err() != nil {
		return false
	}
	// Rejections are final too: marking the ID keeps the same bad
	// event from being re-verified on every redelivery.
	cache.Mark(ev.ID)
	return true
}

// retryRecord retries one event until the store comes back.
func (o *Orchestrator) retryRecord(ctx context.Context, ev *event.Event) error {
	backoff := resilience.NewBackoff(500*time.Millisecond, 15*time.Second)
	for {
		o.log.Warn("store unavailable, holding event for retry", "event_id", logger.EventID(ctx))
		if err := backoff.Sleep(ctx); err != nil {
			return err
		}
		err := o.record(ctx, ev, false)
		if !errors.Is(err, domain.ErrStoreUnavailable) {
			return err
		}
	}
}
