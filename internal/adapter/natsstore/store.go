// Package natsstore implements the state store port on NATS JetStream:
// a KV bucket for agent projections and a bounded stream for signed
// agent events.
package natsstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/SubCtl/internal/domain"
	"github.com/Strob0t/SubCtl/internal/domain/agent"
)

const (
	// DefaultBucket holds one agent.Info value per agent label.
	DefaultBucket = "agents"
	// DefaultStream retains recent agent events for audit and replay.
	DefaultStream = "SUBCTL_EVENTS"
	// DefaultMaxAge bounds how long published events are retained.
	DefaultMaxAge = time.Hour

	subjectPrefix = "agents.events."
)

// Options configures the store connection. Zero fields fall back to the
// package defaults.
type Options struct {
	URL    string
	Bucket string
	Stream string
	MaxAge time.Duration
}

func (o Options) withDefaults() Options {
	if o.URL == "" {
		o.URL = nats.DefaultURL
	}
	if o.Bucket == "" {
		o.Bucket = DefaultBucket
	}
	if o.Stream == "" {
		o.Stream = DefaultStream
	}
	if o.MaxAge <= 0 {
		o.MaxAge = DefaultMaxAge
	}
	return o
}

// Store implements statestore.Store using NATS JetStream.
type Store struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	kv     jetstream.KeyValue
	stream string
	log    *slog.Logger
}

// Connect establishes a connection to NATS and ensures the KV bucket
// and the event stream exist.
func Connect(ctx context.Context, opts Options, log *slog.Logger) (*Store, error) {
	opts = opts.withDefaults()
	if log == nil {
		log = slog.Default()
	}

	nc, err := nats.Connect(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %v: %w", err, domain.ErrStoreUnavailable)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      opts.Bucket,
		Description: "agent projections, one value per label",
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream kv bucket create: %v: %w", err, domain.ErrStoreUnavailable)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        opts.Stream,
		Description: "signed agent events",
		Subjects:    []string{subjectPrefix + ">"},
		MaxAge:      opts.MaxAge,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %v: %w", err, domain.ErrStoreUnavailable)
	}

	log.Info("state store connected", "url", opts.URL, "bucket", opts.Bucket, "stream", opts.Stream, "max_age", opts.MaxAge)
	return &Store{nc: nc, js: js, kv: kv, stream: opts.Stream, log: log}, nil
}

// GetAgent returns the projection stored under label.
func (s *Store) GetAgent(ctx context.Context, label string) (agent.Info, error) {
	if label == "" {
		return agent.Info{}, fmt.Errorf("agent label is empty: %w", domain.ErrValidation)
	}
	entry, err := s.kv.Get(ctx, label)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return agent.Info{}, fmt.Errorf("agent %s: %w", label, domain.ErrNotFound)
		}
		return agent.Info{}, fmt.Errorf("kv get %s: %v: %w", label, err, domain.ErrStoreUnavailable)
	}
	info, err := decodeInfo(entry.Value())
	if err != nil {
		return agent.Info{}, fmt.Errorf("agent %s: %w", label, err)
	}
	return info, nil
}

// ListAgents returns every stored projection.
func (s *Store) ListAgents(ctx context.Context) ([]agent.Info, error) {
	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("kv list keys: %v: %w", err, domain.ErrStoreUnavailable)
	}
	defer func() { _ = lister.Stop() }()

	var out []agent.Info
	for key := range lister.Keys() {
		info, err := s.GetAgent(ctx, key)
		if err != nil {
			// A key deleted between list and get is not an error.
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}

// PutAgent upserts the projection under its label.
func (s *Store) PutAgent(ctx context.Context, info agent.Info) error {
	if info.Label == "" {
		return fmt.Errorf("agent label is empty: %w", domain.ErrValidation)
	}
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode agent %s: %w", info.Label, err)
	}
	if _, err := s.kv.Put(ctx, info.Label, data); err != nil {
		return fmt.Errorf("kv put %s: %v: %w", info.Label, err, domain.ErrStoreUnavailable)
	}
	return nil
}

// Close shuts down the NATS connection.
func (s *Store) Close() error {
	s.nc.Close()
	return nil
}

// decodeInfo parses a stored projection, rejecting unknown fields so a
// newer writer's schema is caught instead of silently dropped.
func decodeInfo(data []byte) (agent.Info, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var info agent.Info
	if err := dec.Decode(&info); err != nil {
		return agent.Info{}, fmt.Errorf("decode projection: %w", err)
	}
	return info, nil
}
