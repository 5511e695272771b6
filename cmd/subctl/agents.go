package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Strob0t/SubCtl/internal/domain"
	"github.com/Strob0t/SubCtl/internal/domain/agent"
	"github.com/Strob0t/SubCtl/internal/domain/event"
)

// runAgents dispatches agent subcommands (list, inspect, emit).
func runAgents(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAgentsHelp()
		return nil
	}

	switch args[0] {
	case "list":
		return runAgentsList(args[1:])
	case "inspect":
		return runAgentsInspect(args[1:])
	case "emit":
		return runAgentsEmit(args[1:])
	default:
		printAgentsHelp()
		return fmt.Errorf("unknown agents command: %s", args[0])
	}
}

func printAgentsHelp() {
	fmt.Fprintf(os.Stderr, `Usage: subctl agents <command> [options]

Commands:
  list      Show the fleet (active agents by default)
  inspect   Show one agent in detail
  emit      Sign and record an agent event

Examples:
  subctl agents list --stale
  subctl agents list --watch --refresh 2s
  subctl agents inspect builder-7 --tools --tokens --packages --tickets
  subctl agents emit --label builder-7 --type status-change --status working
  subctl agents emit --label builder-7 --type token-delta --prompt 120 --completion 30
  subctl agents emit --label builder-7 --type heartbeat --package core=0.92 --package net=0.85
`)
}

func runAgentsList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	stale := fs.Bool("stale", false, "include agents outside the staleness window")
	watch := fs.Bool("watch", false, "stream snapshots until interrupted")
	refresh := fs.Duration("refresh", 0, "watch poll interval override")
	asJSON := fs.Bool("json", false, "emit JSON instead of a table")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	d, err := loadDeps(ctx, loadOptions{refresh: *refresh})
	if err != nil {
		return err
	}
	defer d.close()

	if !*watch {
		infos, err := d.orch.ListAgents(ctx, *stale)
		if errors.Is(err, domain.ErrStoreUnavailable) {
			return fmt.Errorf("fleet state unknown: %w", err)
		}
		if err != nil {
			return err
		}
		if *asJSON {
			return printJSON(os.Stdout, infos)
		}
		fmt.Println(renderAgentTable(infos, d.cfg.Orchestrator.StalenessWindow, *stale, colorEnabled()))
		return nil
	}
	return watchAgents(ctx, d, *stale, *asJSON)
}

// watchAgents re-renders the fleet for every snapshot until the user
// interrupts. The previous-snapshot cache is bounded so a long watch
// over a churning fleet cannot grow without limit.
func watchAgents(ctx context.Context, d *deps, includeStale, asJSON bool) error {
	snapshots, err := d.orch.Watch(ctx, includeStale)
	if err != nil {
		return err
	}
	prev, err := lru.New[string, agent.Info](512)
	if err != nil {
		return err
	}

	isTTY := colorEnabled()
	enc := json.NewEncoder(os.Stdout)
	for snap := range snapshots {
		if asJSON {
			if err := enc.Encode(snap); err != nil {
				return err
			}
			continue
		}
		if isTTY {
			fmt.Print("\x1b[2J\x1b[H")
		}
		fmt.Println(renderWatchTable(snap, prev, d.cfg.Orchestrator.StalenessWindow, includeStale, isTTY))
	}
	// The channel closes on interrupt; that is the normal way out.
	return nil
}

func runAgentsInspect(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	tools := fs.Bool("tools", false, "include the tool invocation log")
	tokens := fs.Bool("tokens", false, "include token usage")
	packages := fs.Bool("packages", false, "include package compliance scores")
	tickets := fs.Bool("tickets", false, "include ticket history")
	asJSON := fs.Bool("json", false, "emit JSON instead of text")
	if err := fs.Parse(args); err != nil {
		return err
	}
	label := fs.Arg(0)
	if label == "" {
		return fmt.Errorf("usage: subctl agents inspect LABEL [options]")
	}

	ctx, stop := signalContext()
	defer stop()

	d, err := loadDeps(ctx, loadOptions{})
	if err != nil {
		return err
	}
	defer d.close()

	detail, err := d.orch.InspectAgent(ctx, label, agent.DetailFlags{
		ToolLog:    *tools,
		Tokens:     *tokens,
		Compliance: *packages,
		Tickets:    *tickets,
	})
	if errors.Is(err, domain.ErrStoreUnavailable) {
		return fmt.Errorf("state of %q unknown: %w", label, err)
	}
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("agent %q is not known to the store", label)
	}
	if err != nil {
		return err
	}

	if *asJSON {
		return printJSON(os.Stdout, detail)
	}
	fmt.Println(renderDetail(detail, d.cfg.Orchestrator.StalenessWindow, colorEnabled()))
	return nil
}

// pkgFlag collects repeated --package name=score pairs.
type pkgFlag struct {
	m map[string]float64
}

func (p *pkgFlag) String() string {
	if len(p.m) == 0 {
		return ""
	}
	parts := make([]string, 0, len(p.m))
	for name, score := range p.m {
		parts = append(parts, fmt.Sprintf("%s=%g", name, score))
	}
	return strings.Join(parts, ",")
}

func (p *pkgFlag) Set(v string) error {
	name, val, ok := strings.Cut(v, "=")
	if !ok || name == "" {
		return fmt.Errorf("expected name=score, got %q", v)
	}
	score, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fmt.Errorf("score in %q: %v", v, err)
	}
	if p.m == nil {
		p.m = map[string]float64{}
	}
	p.m[name] = score
	return nil
}

func runAgentsEmit(args []string) error {
	fs := flag.NewFlagSet("emit", flag.ContinueOnError)
	label := fs.String("label", "", "agent label (required)")
	typ := fs.String("type", "", "event type (required)")
	keyFile := fs.String("key", "", "signing key file (default from config)")
	asJSON := fs.Bool("json", false, "print the recorded event as JSON")

	status := fs.String("status", "", "status for heartbeat/status-change")
	channel := fs.String("channel", "", "channel for heartbeat")
	ratio := fs.Float64("ratio", -1, "custom code ratio for heartbeat (0..1)")
	prompt := fs.Int64("prompt", 0, "prompt token delta")
	completion := fs.Int64("completion", 0, "completion token delta")
	tool := fs.String("tool", "", "tool name for tool-call")
	outcome := fs.String("outcome", "", "tool outcome for tool-call")
	ticket := fs.String("ticket", "", "ticket for ticket-assign/ticket-complete")
	rawPayload := fs.String("payload", "", "raw JSON payload (overrides typed flags)")
	var pkgs pkgFlag
	fs.Var(&pkgs, "package", "package compliance as name=score, repeatable")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *label == "" {
		return fmt.Errorf("--label is required")
	}
	if *typ == "" {
		return fmt.Errorf("--type is required")
	}
	evType := event.Type(*typ)
	if !evType.Valid() {
		return fmt.Errorf("unknown event type %q", *typ)
	}

	payload, err := buildPayload(evType, emitFlags{
		status:     *status,
		channel:    *channel,
		ratio:      *ratio,
		prompt:     *prompt,
		completion: *completion,
		tool:       *tool,
		outcome:    *outcome,
		ticket:     *ticket,
		packages:   pkgs.m,
		raw:        *rawPayload,
	})
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	d, err := loadDeps(ctx, loadOptions{needSigner: true, keyFile: *keyFile})
	if err != nil {
		return err
	}
	defer d.close()

	ev, err := d.orch.Emit(ctx, *label, evType, payload)
	if err != nil {
		return err
	}

	if *asJSON {
		return printJSON(os.Stdout, ev)
	}
	fmt.Fprintf(os.Stderr, "recorded %s for %s (event %s)\n", ev.Type, ev.AgentLabel, ev.ID)
	return nil
}

type emitFlags struct {
	status     string
	channel    string
	ratio      float64
	prompt     int64
	completion int64
	tool       string
	outcome    string
	ticket     string
	packages   map[string]float64
	raw        string
}

// buildPayload assembles the typed payload for an emitted event. A raw
// JSON payload bypasses the typed flags entirely.
func buildPayload(typ event.Type, f emitFlags) (any, error) {
	if f.raw != "" {
		return json.RawMessage(f.raw), nil
	}

	switch typ {
	case event.TypeHeartbeat:
		p := event.HeartbeatPayload{Status: f.status, Channel: f.channel, Packages: f.packages}
		if f.ratio >= 0 {
			r := f.ratio
			p.CustomCodeRatio = &r
		}
		return p, nil
	case event.TypeStatusChange:
		if f.status == "" {
			return nil, fmt.Errorf("--status is required for status-change")
		}
		return event.StatusChangePayload{Status: f.status}, nil
	case event.TypeTokenDelta:
		return event.TokenDeltaPayload{Prompt: f.prompt, Completion: f.completion}, nil
	case event.TypeToolCall:
		if f.tool == "" {
			return nil, fmt.Errorf("--tool is required for tool-call")
		}
		return event.ToolCallPayload{Tool: f.tool, Outcome: f.outcome}, nil
	case event.TypeTicketAssign:
		if f.ticket == "" {
			return nil, fmt.Errorf("--ticket is required for ticket-assign")
		}
		return event.TicketAssignPayload{Ticket: f.ticket}, nil
	case event.TypeTicketComplete:
		if f.ticket == "" {
			return nil, fmt.Errorf("--ticket is required for ticket-complete")
		}
		return event.TicketCompletePayload{Ticket: f.ticket}, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", typ)
	}
}
