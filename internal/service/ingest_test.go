package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Strob0t/SubCtl/internal/domain"
	"github.com/Strob0t/SubCtl/internal/domain/agent"
	"github.com/Strob0t/SubCtl/internal/domain/event"
	"github.com/Strob0t/SubCtl/internal/service"
)

func ingestOptions() service.Options {
	return service.Options{ReplayCacheSize: 128, ReplayCacheTTL: time.Minute}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func startIngest(t *testing.T, rig *testRig) (cancel func(), done chan error) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done = make(chan error, 1)
	go func() { done <- rig.orch.RunIngest(ctx) }()
	t.Cleanup(stop)
	return stop, done
}

func TestIngestFoldsLiveEvents(t *testing.T) {
	store := newMockStore()
	rig := newTestRig(t, store, ingestOptions())
	cancel, done := startIngest(t, rig)

	waitFor(t, 2*time.Second, func() bool { return store.subCount() > 0 })

	ev := rig.signedEvent(t, "alpha", event.TypeHeartbeat,
		event.HeartbeatPayload{Status: "working"}, "ev-1", testEpoch)
	store.emit(ev)

	waitFor(t, 2*time.Second, func() bool {
		info, ok := store.agentByLabel("alpha")
		return ok && info.Status == agent.StatusWorking
	})
	if store.publishedCount() != 0 {
		t.Errorf("ingest republished a stream event (%d published)", store.publishedCount())
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("RunIngest returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunIngest did not stop after cancel")
	}
}

func TestIngestSuppressesDuplicateDeliveries(t *testing.T) {
	store := newMockStore()
	rig := newTestRig(t, store, ingestOptions())
	startIngest(t, rig)

	waitFor(t, 2*time.Second, func() bool { return store.subCount() > 0 })

	ev := rig.signedEvent(t, "alpha", event.TypeHeartbeat, nil, "ev-1", testEpoch)
	store.emit(ev)
	store.emit(ev)

	waitFor(t, 2*time.Second, func() bool {
		_, ok := store.agentByLabel("alpha")
		return ok
	})
	time.Sleep(100 * time.Millisecond)
	if store.putCount() != 1 {
		t.Errorf("put calls = %d, want 1 (duplicate must not refold)", store.putCount())
	}
}

func TestIngestCatchUpReplaysRetainedLog(t *testing.T) {
	store := newMockStore()
	rig := newTestRig(t, store, ingestOptions())
	store.retained = []*event.Event{
		rig.signedEvent(t, "alpha", event.TypeHeartbeat,
			event.HeartbeatPayload{Status: "working"}, "ev-1", testEpoch),
		rig.signedEvent(t, "alpha", event.TypeTokenDelta,
			event.TokenDeltaPayload{Prompt: 100, Completion: 20}, "ev-2", testEpoch.Add(time.Second)),
	}
	startIngest(t, rig)

	waitFor(t, 2*time.Second, func() bool {
		info, ok := store.agentByLabel("alpha")
		return ok && info.TokensUsed.Total() == 120 && info.Status == agent.StatusWorking
	})
	if store.publishedCount() != 0 {
		t.Errorf("catch-up republished retained events (%d published)", store.publishedCount())
	}
}

func TestIngestRejectedEventNeverSurfaces(t *testing.T) {
	store := newMockStore()
	rig := newTestRig(t, store, ingestOptions())
	startIngest(t, rig)

	waitFor(t, 2*time.Second, func() bool { return store.subCount() > 0 })

	// A corrupted event straight off the wire, then a good one. The
	// good one landing proves the bad one was already processed.
	forged := &event.Event{ID: "ev-bad", AgentLabel: "ghost", Type: event.TypeHeartbeat, Timestamp: testEpoch}
	store.emit(forged)
	store.emit(rig.signedEvent(t, "alpha", event.TypeHeartbeat, nil, "ev-good", testEpoch))

	waitFor(t, 2*time.Second, func() bool {
		_, ok := store.agentByLabel("alpha")
		return ok
	})
	if _, ok := store.agentByLabel("ghost"); ok {
		t.Error("unverified event created an agent")
	}

	all, err := rig.orch.ListAgents(context.Background(), true)
	if err != nil {
		t.Fatalf("ListAgents: %v", err)
	}
	if len(all) != 1 || all[0].Label != "alpha" {
		t.Errorf("agents = %+v, want only alpha", all)
	}
}

func TestIngestRetriesWhileStoreUnavailable(t *testing.T) {
	store := newMockStore()
	opts := ingestOptions()
	opts.BreakerMaxFailures = 2
	opts.BreakerTimeout = 50 * time.Millisecond
	rig := newTestRig(t, store, opts)

	store.setGetErr(fmt.Errorf("kv lookup: %w", domain.ErrStoreUnavailable))
	startIngest(t, rig)

	waitFor(t, 2*time.Second, func() bool { return store.subCount() > 0 })
	store.emit(rig.signedEvent(t, "alpha", event.TypeHeartbeat, nil, "ev-1", testEpoch))

	// Give the first attempt time to fail, then heal the store. The
	// held event must fold once retries get through.
	time.Sleep(150 * time.Millisecond)
	store.setGetErr(nil)

	waitFor(t, 5*time.Second, func() bool {
		_, ok := store.agentByLabel("alpha")
		return ok
	})
}
