// Package service implements the orchestrator: the control-plane logic
// that folds signed agent events into projections, answers fleet
// queries, and feeds live watchers. All state lives in the shared
// store; the orchestrator holds no authoritative copy and any number
// of instances may run against the same bucket.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Strob0t/SubCtl/internal/adapter/otel"
	"github.com/Strob0t/SubCtl/internal/config"
	"github.com/Strob0t/SubCtl/internal/domain"
	"github.com/Strob0t/SubCtl/internal/domain/agent"
	"github.com/Strob0t/SubCtl/internal/domain/event"
	"github.com/Strob0t/SubCtl/internal/port/statestore"
	"github.com/Strob0t/SubCtl/internal/resilience"
	"github.com/Strob0t/SubCtl/internal/trust"
)

// Options carries the orchestrator's tuning knobs, typically derived
// from the loaded configuration via FromConfig.
type Options struct {
	// StalenessWindow is how long an agent may stay silent before it
	// is dropped from active views.
	StalenessWindow time.Duration
	// PollInterval drives the mandatory watch refresh tick. Staleness
	// transitions emit no event, so watchers must poll to observe them.
	PollInterval time.Duration
	// ToolLogLimit bounds the per-agent tool invocation log.
	ToolLogLimit int
	// StoreTimeout bounds every individual store round trip.
	StoreTimeout time.Duration

	BreakerMaxFailures int
	BreakerTimeout     time.Duration

	ReplayCacheSize int64
	ReplayCacheTTL  time.Duration

	// Clock is the time source for staleness decisions. Defaults to
	// time.Now.
	Clock func() time.Time
}

// FromConfig derives orchestrator options from the loaded configuration.
func FromConfig(cfg *config.Config) Options {
	return Options{
		StalenessWindow:    cfg.Orchestrator.StalenessWindow,
		PollInterval:       cfg.Orchestrator.PollInterval,
		ToolLogLimit:       cfg.Orchestrator.ToolLogRetention,
		StoreTimeout:       cfg.NATS.Timeout,
		BreakerMaxFailures: cfg.Breaker.MaxFailures,
		BreakerTimeout:     cfg.Breaker.Timeout,
		ReplayCacheSize:    cfg.Ingest.ReplayCacheSize,
		ReplayCacheTTL:     cfg.Ingest.ReplayCacheTTL,
	}
}

func (o Options) withDefaults() Options {
	if o.StalenessWindow <= 0 {
		o.StalenessWindow = 10 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.ToolLogLimit <= 0 {
		o.ToolLogLimit = agent.DefaultToolLogLimit
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 5 * time.Second
	}
	if o.BreakerMaxFailures <= 0 {
		o.BreakerMaxFailures = 5
	}
	if o.BreakerTimeout <= 0 {
		o.BreakerTimeout = 30 * time.Second
	}
	if o.ReplayCacheSize <= 0 {
		o.ReplayCacheSize = 4096
	}
	if o.ReplayCacheTTL <= 0 {
		o.ReplayCacheTTL = 10 * time.Minute
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

// Orchestrator is the control-plane service over the shared state
// store. Safe for concurrent use.
type Orchestrator struct {
	store    statestore.Store
	verifier *trust.Verifier
	signer   *trust.Signer
	metrics  *otel.Metrics
	breaker  *resilience.Breaker
	log      *slog.Logger
	now      func() time.Time
	opts     Options
}

// NewOrchestrator wires the orchestrator service. A nil verifier gets
// an empty trust set, which rejects every event; a nil signer disables
// Emit for read-only deployments.
func NewOrchestrator(
	store statestore.Store,
	verifier *trust.Verifier,
	signer *trust.Signer,
	metrics *otel.Metrics,
	opts Options,
	log *slog.Logger,
) *Orchestrator {
	opts = opts.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	if verifier == nil {
		verifier = trust.NewVerifier(nil, nil, log)
	}
	isStoreFailure := func(err error) bool { return errors.Is(err, domain.ErrStoreUnavailable) }
	return &Orchestrator{
		store:    store,
		verifier: verifier,
		signer:   signer,
		metrics:  metrics,
		breaker:  resilience.NewBreaker(opts.BreakerMaxFailures, opts.BreakerTimeout, isStoreFailure),
		log:      log,
		now:      opts.Clock,
		opts:     opts,
	}
}

// ListAgents returns the fleet snapshot sorted by label. Agents that
// have been silent longer than the staleness window are filtered out
// unless includeStale is set.
func (o *Orchestrator) ListAgents(ctx context.Context, includeStale bool) ([]agent.Info, error) {
	infos, err := o.listAgents(ctx)
	if err != nil {
		return nil, err
	}
	if !includeStale {
		now := o.now()
		active := make([]agent.Info, 0, len(infos))
		for _, info := range infos {
			if !info.StaleAfter(now, o.opts.StalenessWindow) {
				active = append(active, info)
			}
		}
		infos = active
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Label < infos[j].Label })
	return infos, nil
}

// InspectAgent returns one agent's projection plus the detail sections
// selected by flags. Unselected sections stay nil. An unknown label
// returns an error wrapping domain.ErrNotFound.
func (o *Orchestrator) InspectAgent(ctx context.Context, label string, flags agent.DetailFlags) (*agent.Detail, error) {
	if label == "" {
		return nil, fmt.Errorf("agent label is empty: %w", domain.ErrValidation)
	}
	info, err := o.getAgent(ctx, label)
	if err != nil {
		return nil, err
	}

	d := &agent.Detail{Info: info}
	if flags.ToolLog {
		d.ToolLog = make([]agent.ToolCall, len(info.ToolsInvoked))
		copy(d.ToolLog, info.ToolsInvoked)
	}
	if flags.Tokens {
		usage := info.TokensUsed
		d.Tokens = &usage
	}
	if flags.Compliance {
		d.Compliance = make(map[string]float64, len(info.PackageCompliance))
		for pkg, score := range info.PackageCompliance {
			d.Compliance[pkg] = score
		}
	}
	if flags.Tickets {
		records, err := o.ticketHistory(ctx, label)
		if err != nil {
			return nil, err
		}
		d.Tickets = records
	}
	return d, nil
}

// RecordEvent is the single write path for agent events: verify the
// signature, validate the shape, fold into the stored projection, then
// republish on the live event channel. Stale and terminated-target
// events are dropped as logged no-ops so redelivery stays harmless;
// verification and validation failures return an error wrapping
// domain.ErrRejected.
func (o *Orchestrator) RecordEvent(ctx context.Context, ev *event.Event) error {
	return o.record(ctx, ev, true)
}

// Emit constructs, signs, and records an event produced by this
// process. The signing key must be in the trust set or the event will
// reject on its own write path.
func (o *Orchestrator) Emit(ctx context.Context, label string, typ event.Type, payload any) (*event.Event, error) {
	if o.signer == nil {
		return nil, fmt.Errorf("no signing key loaded: %w", domain.ErrValidation)
	}
	ev, err := event.New(label, typ, payload)
	if err != nil {
		return nil, err
	}
	if err := o.signer.Sign(ev); err != nil {
		return nil, fmt.Errorf("sign event: %w", err)
	}
	if err := o.RecordEvent(ctx, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// record runs the write path. publish is false on the ingest path,
// where the event was consumed from the stream and republishing would
// duplicate it.
func (o *Orchestrator) record(ctx context.Context, ev *event.Event, publish bool) error {
	if ev == nil {
		return fmt.Errorf("nil event: %w", domain.ErrValidation)
	}
	log := o.log.With("event_id", ev.ID, "agent", ev.AgentLabel, "type", ev.Type)

	if err := o.verifier.Verify(ev); err != nil {
		o.countRejected(ctx, "signature")
		log.Warn("event rejected", "error", err)
		return err
	}
	if err := ev.Validate(); err != nil {
		o.countRejected(ctx, "shape")
		log.Warn("event rejected", "error", err)
		return fmt.Errorf("event %s: %v: %w", ev.ID, err, domain.ErrRejected)
	}

	info, err := o.getAgent(ctx, ev.AgentLabel)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		info, err = agent.New(ev.AgentLabel)
		if err != nil {
			return err
		}
		log.Info("new agent observed")
	case err != nil:
		return fmt.Errorf("load agent %s: %w", ev.AgentLabel, err)
	}

	next, err := agent.Apply(info, ev, o.opts.ToolLogLimit)
	switch {
	case errors.Is(err, domain.ErrOutOfOrder):
		o.countDropped(ctx, "stale")
		log.Warn("stale event dropped", "event_time", ev.Timestamp, "last_updated", info.LastUpdated)
		return nil
	case errors.Is(err, domain.ErrTerminated):
		o.countDropped(ctx, "terminated")
		log.Warn("event for terminated agent dropped")
		return nil
	case err != nil:
		o.countRejected(ctx, "fold")
		log.Warn("event rejected", "error", err)
		return fmt.Errorf("fold event %s: %v: %w", ev.ID, err, domain.ErrRejected)
	}

	if err := o.putAgent(ctx, next); err != nil {
		return fmt.Errorf("store agent %s: %w", ev.AgentLabel, err)
	}
	o.countAccepted(ctx)
	if next.Status != info.Status {
		log.Info("agent status changed", "from", info.Status, "to", next.Status)
	} else {
		log.Debug("event folded", "status", next.Status)
	}

	if publish {
		if err := o.publishEvent(ctx, ev); err != nil {
			return fmt.Errorf("publish event %s: %w", ev.ID, err)
		}
	}
	return nil
}

// ticketHistory rebuilds the assignment history from the retained
// event log. Only events that verify against the trust set count;
// anything else on the stream is untrusted noise.
func (o *Orchestrator) ticketHistory(ctx context.Context, label string) ([]agent.TicketRecord, error) {
	events, err := o.recentEvents(ctx, label, 0)
	if err != nil {
		return nil, fmt.Errorf("load event history for %s: %w", label, err)
	}
	sort.Slice(events, func(i, j int) bool {
		if events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].ID < events[j].ID
		}
		return events[i].Timestamp.Before(events[j].Timestamp)
	})

	records := []agent.TicketRecord{}
	open := map[string]int{}
	for _, ev := range events {
		if err := o.verifier.Verify(ev); err != nil {
			o.log.Debug("skipping unverified retained event", "event_id", ev.ID, "error", err)
			continue
		}
		payload, err := ev.DecodePayload()
		if err != nil {
			continue
		}
		switch p := payload.(type) {
		case event.TicketAssignPayload:
			open[p.Ticket] = len(records)
			records = append(records, agent.TicketRecord{Ticket: p.Ticket, AssignedAt: ev.Timestamp})
		case event.TicketCompletePayload:
			if idx, ok := open[p.Ticket]; ok {
				done := ev.Timestamp
				records[idx].CompletedAt = &done
				delete(open, p.Ticket)
			}
		}
	}
	return records, nil
}

// storeCall runs one store round trip through the circuit breaker with
// the configured timeout, and records its latency.
func (o *Orchestrator) storeCall(ctx context.Context, op string, fn func(context.Context) error) error {
	start := time.Now()
	err := o.breaker.Execute(func() error {
		cctx, cancel := context.WithTimeout(ctx, o.opts.StoreTimeout)
		defer cancel()
		return fn(cctx)
	})
	if o.metrics != nil {
		o.metrics.StoreLatency.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("op", op)))
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, resilience.ErrCircuitOpen):
		return fmt.Errorf("%s: %v: %w", op, err, domain.ErrStoreUnavailable)
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return fmt.Errorf("%s timed out after %s: %w", op, o.opts.StoreTimeout, domain.ErrStoreUnavailable)
	default:
		return err
	}
}

func (o *Orchestrator) getAgent(ctx context.Context, label string) (agent.Info, error) {
	var info agent.Info
	err := o.storeCall(ctx, "get_agent", func(ctx context.Context) error {
		var err error
		info, err = o.store.GetAgent(ctx, label)
		return err
	})
	return info, err
}

func (o *Orchestrator) listAgents(ctx context.Context) ([]agent.Info, error) {
	var infos []agent.Info
	err := o.storeCall(ctx, "list_agents", func(ctx context.Context) error {
		var err error
		infos, err = o.store.ListAgents(ctx)
		return err
	})
	return infos, err
}

func (o *Orchestrator) putAgent(ctx context.Context, info agent.Info) error {
	return o.storeCall(ctx, "put_agent", func(ctx context.Context) error {
		return o.store.PutAgent(ctx, info)
	})
}

func (o *Orchestrator) publishEvent(ctx context.Context, ev *event.Event) error {
	return o.storeCall(ctx, "publish_event", func(ctx context.Context) error {
		return o.store.PublishEvent(ctx, ev)
	})
}

func (o *Orchestrator) recentEvents(ctx context.Context, label string, since time.Duration) ([]*event.Event, error) {
	var events []*event.Event
	err := o.storeCall(ctx, "recent_events", func(ctx context.Context) error {
		var err error
		events, err = o.store.RecentEvents(ctx, label, since)
		return err
	})
	return events, err
}

func (o *Orchestrator) countAccepted(ctx context.Context) {
	if o.metrics != nil {
		o.metrics.EventsAccepted.Add(ctx, 1)
	}
}

func (o *Orchestrator) countRejected(ctx context.Context, stage string) {
	if o.metrics != nil {
		o.metrics.EventsRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
	}
}

func (o *Orchestrator) countDropped(ctx context.Context, reason string) {
	if o.metrics != nil {
		o.metrics.EventsOutOfOrder.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
}

func (o *Orchestrator) countSnapshot(ctx context.Context) {
	if o.metrics != nil {
		o.metrics.WatchSnapshots.Add(ctx, 1)
	}
}
