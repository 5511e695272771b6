package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "subctl"

// Metrics holds all subctl metric instruments.
type Metrics struct {
	EventsAccepted   metric.Int64Counter
	EventsRejected   metric.Int64Counter
	EventsOutOfOrder metric.Int64Counter
	WatchSnapshots   metric.Int64Counter
	StoreLatency     metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.EventsAccepted, err = meter.Int64Counter("subctl.events.accepted",
		metric.WithDescription("Number of events verified and folded into agent state"))
	if err != nil {
		return nil, err
	}

	m.EventsRejected, err = meter.Int64Counter("subctl.events.rejected",
		metric.WithDescription("Number of events rejected by verification or validation"))
	if err != nil {
		return nil, err
	}

	m.EventsOutOfOrder, err = meter.Int64Counter("subctl.events.out_of_order",
		metric.WithDescription("Number of stale events dropped by the ordering check"))
	if err != nil {
		return nil, err
	}

	m.WatchSnapshots, err = meter.Int64Counter("subctl.watch.snapshots",
		metric.WithDescription("Number of fleet snapshots emitted to watchers"))
	if err != nil {
		return nil, err
	}

	m.StoreLatency, err = meter.Float64Histogram("subctl.store.latency_seconds",
		metric.WithDescription("State store round trip latency in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
