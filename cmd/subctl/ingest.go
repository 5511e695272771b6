package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
)

func printIngestHelp() {
	fmt.Fprint(os.Stderr, `Run the fold daemon.

The daemon consumes the shared event feed, verifies each event and
folds it into the agent projections. Run exactly one ingest process
per fleet; duplicate deliveries are suppressed but concurrent folders
would race on the projection bucket.

Usage:
  subctl ingest

The daemon runs until interrupted.
`)
}

func runIngest(args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.Usage = printIngestHelp
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	d, err := loadDeps(ctx, loadOptions{})
	if err != nil {
		return err
	}
	defer d.close()

	d.log.Info("ingest starting",
		"nats_url", d.cfg.NATS.URL,
		"bucket", d.cfg.Store.Bucket,
		"stream", d.cfg.Store.Stream)

	if err := d.orch.RunIngest(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("ingest: %w", err)
	}
	d.log.Info("ingest stopped")
	return nil
}
