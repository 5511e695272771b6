package agent_test

import (
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/SubCtl/internal/domain"
	"github.com/Strob0t/SubCtl/internal/domain/agent"
)

func TestParseStatus(t *testing.T) {
	for _, s := range []string{"idle", "working", "blocked", "error", "terminated"} {
		st, err := agent.ParseStatus(s)
		if err != nil {
			t.Fatalf("ParseStatus(%q): %v", s, err)
		}
		if string(st) != s {
			t.Fatalf("ParseStatus(%q) = %q", s, st)
		}
	}
	if _, err := agent.ParseStatus("sleeping"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to agent.Status
		want     bool
	}{
		{agent.StatusIdle, agent.StatusWorking, true},
		{agent.StatusIdle, agent.StatusBlocked, false},
		{agent.StatusIdle, agent.StatusError, false},
		{agent.StatusWorking, agent.StatusIdle, true},
		{agent.StatusWorking, agent.StatusBlocked, true},
		{agent.StatusWorking, agent.StatusError, true},
		{agent.StatusBlocked, agent.StatusWorking, true},
		{agent.StatusBlocked, agent.StatusError, true},
		{agent.StatusBlocked, agent.StatusIdle, false},
		{agent.StatusError, agent.StatusWorking, false},
		{agent.StatusError, agent.StatusIdle, false},
		{agent.StatusIdle, agent.StatusTerminated, true},
		{agent.StatusWorking, agent.StatusTerminated, true},
		{agent.StatusBlocked, agent.StatusTerminated, true},
		{agent.StatusError, agent.StatusTerminated, true},
		{agent.StatusTerminated, agent.StatusIdle, false},
		{agent.StatusTerminated, agent.StatusWorking, false},
		{agent.StatusTerminated, agent.StatusTerminated, false},
		{agent.StatusWorking, agent.StatusWorking, true},
		{agent.StatusBlocked, agent.StatusBlocked, true},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestNewInfo(t *testing.T) {
	info, err := agent.New("agent-alpha")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if info.Label != "agent-alpha" || info.Status != agent.StatusIdle {
		t.Fatalf("info = %+v", info)
	}
	if _, err := agent.New(""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestStaleAfter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	window := 10 * time.Minute

	fresh := agent.Info{Label: "a", LastUpdated: now.Add(-(9*time.Minute + 59*time.Second))}
	if fresh.StaleAfter(now, window) {
		t.Fatal("agent updated 9m59s ago must not be stale")
	}
	exact := agent.Info{Label: "a", LastUpdated: now.Add(-window)}
	if exact.StaleAfter(now, window) {
		t.Fatal("agent updated exactly one window ago must not be stale")
	}
	gone := agent.Info{Label: "a", LastUpdated: now.Add(-(10*time.Minute + 1*time.Second))}
	if !gone.StaleAfter(now, window) {
		t.Fatal("agent updated 10m01s ago must be stale")
	}
}

func TestCloneIsolation(t *testing.T) {
	orig := agent.Info{
		Label:             "agent-a",
		Status:            agent.StatusWorking,
		ToolsInvoked:      []agent.ToolCall{{Tool: "grep"}},
		PackageCompliance: map[string]float64{"core": 0.9},
	}
	cp := orig.Clone()
	cp.ToolsInvoked[0].Tool = "sed"
	cp.ToolsInvoked = append(cp.ToolsInvoked, agent.ToolCall{Tool: "awk"})
	cp.PackageCompliance["core"] = 0.1

	if orig.ToolsInvoked[0].Tool != "grep" {
		t.Fatalf("clone leaked into original tool log: %+v", orig.ToolsInvoked)
	}
	if len(orig.ToolsInvoked) != 1 {
		t.Fatalf("original tool log length = %d", len(orig.ToolsInvoked))
	}
	if orig.PackageCompliance["core"] != 0.9 {
		t.Fatalf("clone leaked into original compliance: %v", orig.PackageCompliance)
	}
}

func TestTokenUsageTotal(t *testing.T) {
	u := agent.TokenUsage{Prompt: 120, Completion: 30}
	if u.Total() != 150 {
		t.Fatalf("Total = %d", u.Total())
	}
}
