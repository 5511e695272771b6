package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/Strob0t/SubCtl/internal/domain/agent"
	"github.com/Strob0t/SubCtl/internal/domain/event"
	"github.com/Strob0t/SubCtl/internal/service"
)

// recvSnapshot waits for the next snapshot or fails the test.
func recvSnapshot(t *testing.T, ch <-chan []agent.Info, timeout time.Duration) []agent.Info {
	t.Helper()
	select {
	case snap, ok := <-ch:
		if !ok {
			t.Fatal("snapshot channel closed early")
		}
		return snap
	case <-time.After(timeout):
		t.Fatal("no snapshot before timeout")
	}
	return nil
}

// waitForSnapshot reads snapshots until cond holds or the deadline
// passes. Intermediate snapshots are expected and skipped.
func waitForSnapshot(t *testing.T, ch <-chan []agent.Info, timeout time.Duration, cond func([]agent.Info) bool) []agent.Info {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				t.Fatal("snapshot channel closed while waiting")
			}
			if cond(snap) {
				return snap
			}
		case <-deadline:
			t.Fatal("snapshot condition not met before timeout")
		}
	}
}

func watchOptions() service.Options {
	return service.Options{PollInterval: 30 * time.Millisecond}
}

func TestWatchEmitsInitialSnapshot(t *testing.T) {
	store := newMockStore()
	rig := newTestRig(t, store, watchOptions())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store.seed(agent.Info{Label: "alpha", Status: agent.StatusWorking, LastUpdated: testEpoch})

	ch, err := rig.orch.Watch(ctx, false)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	snap := recvSnapshot(t, ch, 2*time.Second)
	if len(snap) != 1 || snap[0].Label != "alpha" {
		t.Fatalf("initial snapshot = %+v, want [alpha]", snap)
	}
}

func TestWatchReactsToEvents(t *testing.T) {
	store := newMockStore()
	rig := newTestRig(t, store, service.Options{PollInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := rig.orch.Watch(ctx, false)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	recvSnapshot(t, ch, 2*time.Second)

	// RecordEvent republishes, which reaches the watch subscription.
	// The poll interval is an hour, so only the event can trigger this.
	ev := rig.signedEvent(t, "alpha", event.TypeHeartbeat,
		event.HeartbeatPayload{Status: "working"}, "ev-1", testEpoch)
	if err := rig.orch.RecordEvent(ctx, ev); err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}

	waitForSnapshot(t, ch, 2*time.Second, func(snap []agent.Info) bool {
		return len(snap) == 1 && snap[0].Label == "alpha" && snap[0].Status == agent.StatusWorking
	})
}

func TestWatchPollTickCatchesSilentChanges(t *testing.T) {
	store := newMockStore()
	rig := newTestRig(t, store, watchOptions())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := rig.orch.Watch(ctx, false)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	recvSnapshot(t, ch, 2*time.Second)

	// Mutate the store without any event, as another orchestrator
	// instance would. Only the poll tick can observe this.
	store.seed(agent.Info{Label: "beta", Status: agent.StatusIdle, LastUpdated: testEpoch})

	waitForSnapshot(t, ch, 2*time.Second, func(snap []agent.Info) bool {
		return len(snap) == 1 && snap[0].Label == "beta"
	})
}

func TestWatchIncludeStale(t *testing.T) {
	store := newMockStore()
	rig := newTestRig(t, store, service.Options{PollInterval: 30 * time.Millisecond, StalenessWindow: 10 * time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store.seed(agent.Info{Label: "old", Status: agent.StatusWorking, LastUpdated: testEpoch.Add(-time.Hour)})

	ch, err := rig.orch.Watch(ctx, true)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	snap := recvSnapshot(t, ch, 2*time.Second)
	if len(snap) != 1 || snap[0].Label != "old" {
		t.Fatalf("stale watch snapshot = %+v, want [old]", snap)
	}
}

func TestWatchChannelClosesOnCancel(t *testing.T) {
	store := newMockStore()
	rig := newTestRig(t, store, watchOptions())
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := rig.orch.Watch(ctx, false)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	recvSnapshot(t, ch, 2*time.Second)
	cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel not closed after cancel")
		}
	}
}

func TestWatchDegradesToPollingWhenSubscribeFails(t *testing.T) {
	store := newMockStore()
	store.subErr = context.DeadlineExceeded
	rig := newTestRig(t, store, watchOptions())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store.seed(agent.Info{Label: "alpha", Status: agent.StatusWorking, LastUpdated: testEpoch})

	ch, err := rig.orch.Watch(ctx, false)
	if err != nil {
		t.Fatalf("Watch must not fail when the feed is down, got %v", err)
	}
	snap := recvSnapshot(t, ch, 2*time.Second)
	if len(snap) != 1 || snap[0].Label != "alpha" {
		t.Fatalf("degraded snapshot = %+v, want [alpha]", snap)
	}
}

func TestWatchLatestWins(t *testing.T) {
	store := newMockStore()
	rig := newTestRig(t, store, service.Options{PollInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := rig.orch.Watch(ctx, false)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	// Do not read while several events fold; the single-slot buffer
	// must end up holding the newest state, not the oldest.
	for i, delta := range []int64{100, 150, 200} {
		ev := rig.signedEvent(t, "alpha", event.TypeTokenDelta,
			event.TokenDeltaPayload{Prompt: delta},
			"ev-"+string(rune('a'+i)), testEpoch.Add(time.Duration(i)*time.Second))
		if err := rig.orch.RecordEvent(ctx, ev); err != nil {
			t.Fatalf("RecordEvent %d: %v", i, err)
		}
	}

	waitForSnapshot(t, ch, 2*time.Second, func(snap []agent.Info) bool {
		return len(snap) == 1 && snap[0].TokensUsed.Prompt == 450
	})
}
