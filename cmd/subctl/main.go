package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	// Conservative default until the configured logger takes over in
	// loadDeps. Everything diagnostic goes to stderr; stdout belongs
	// to tables and JSON.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "subctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" || args[0] == "-h" {
		printHelp()
		return nil
	}

	switch args[0] {
	case "agents":
		return runAgents(args[1:])
	case "ingest":
		return runIngest(args[1:])
	case "keys":
		return runKeys(args[1:])
	default:
		printHelp()
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func printHelp() {
	fmt.Fprintf(os.Stderr, `Usage: subctl <command> [options]

Commands:
  agents list      Show the fleet (active agents by default)
  agents inspect   Show one agent in detail
  agents emit      Sign and record an agent event
  ingest           Run the fold daemon
  keys gen         Create (or load) the signing key
  keys show        Print the signing key's public identity
  help             Show this help message

Examples:
  subctl agents list --watch
  subctl agents list --stale --json
  subctl agents inspect builder-7 --tools --tickets
  subctl agents emit --label builder-7 --type heartbeat --status working
  subctl ingest
  subctl keys gen
`)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
