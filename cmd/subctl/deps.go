package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/SubCtl/internal/adapter/natsstore"
	"github.com/Strob0t/SubCtl/internal/adapter/otel"
	"github.com/Strob0t/SubCtl/internal/config"
	"github.com/Strob0t/SubCtl/internal/logger"
	"github.com/Strob0t/SubCtl/internal/service"
	"github.com/Strob0t/SubCtl/internal/trust"
)

// deps bundles everything a subcommand needs against the store.
type deps struct {
	cfg   *config.Config
	orch  *service.Orchestrator
	log   *slog.Logger
	close func()
}

type loadOptions struct {
	// needSigner loads the private key; read-only commands leave it
	// false so a missing key file is not an error.
	needSigner bool
	// keyFile overrides the configured signing key path.
	keyFile string
	// refresh overrides the watch poll interval.
	refresh time.Duration
}

// loadDeps loads config, connects the state store, and wires the
// orchestrator with its trust set and metrics.
func loadDeps(ctx context.Context, lo loadOptions) (*deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if lo.refresh > 0 {
		cfg.Orchestrator.PollInterval = lo.refresh
	}

	log := logger.New(cfg.Logging)
	slog.SetDefault(log)

	shutdownMetrics, err := otel.InitMetrics(ctx, cfg.Logging.Service, cfg.Metrics.OTLPEndpoint)
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	metrics, err := otel.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("create metrics: %w", err)
	}

	store, err := natsstore.Connect(ctx, natsstore.Options{
		URL:    cfg.NATS.URL,
		Bucket: cfg.Store.Bucket,
		Stream: cfg.Store.Stream,
		MaxAge: cfg.Store.MaxAge,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("connect store: %w", err)
	}

	verifier, err := buildVerifier(cfg, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	var signer *trust.Signer
	if lo.needSigner {
		path := cfg.Trust.PrivateKeyFile
		if lo.keyFile != "" {
			path = lo.keyFile
		}
		signer, err = trust.NewSignerFromFile(path)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("load signing key %s: %w", path, err)
		}
	}

	orch := service.NewOrchestrator(store, verifier, signer, metrics, service.FromConfig(cfg), log)
	d := &deps{cfg: cfg, orch: orch, log: log}
	d.close = func() {
		_ = store.Close()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownMetrics(sctx)
	}
	return d, nil
}

func buildVerifier(cfg *config.Config, log *slog.Logger) (*trust.Verifier, error) {
	keys := make([]trust.TrustedKey, 0, len(cfg.Trust.Keys))
	for _, k := range cfg.Trust.Keys {
		tk, err := trust.TrustedKeyFromHex(k.ID, k.PublicKey, k.Expires)
		if err != nil {
			return nil, fmt.Errorf("trust key %q: %w", k.ID, err)
		}
		keys = append(keys, tk)
	}
	return trust.NewVerifier(keys, cfg.Trust.Revoked, log), nil
}
