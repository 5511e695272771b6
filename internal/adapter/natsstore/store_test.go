package natsstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/Strob0t/SubCtl/internal/domain"
	"github.com/Strob0t/SubCtl/internal/domain/agent"
	"github.com/Strob0t/SubCtl/internal/domain/event"
)

// testConnect connects to NATS or skips the test if NATS_URL is not set.
func testConnect(t *testing.T) *Store {
	t.Helper()

	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := Connect(context.Background(), Options{URL: url, MaxAge: 5 * time.Minute}, log)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return s
}

// uniqueLabel derives a per-test agent label that is valid both as a KV
// key and as a subject token.
func uniqueLabel(t *testing.T) string {
	t.Helper()
	name := strings.NewReplacer("/", "-", " ", "-").Replace(t.Name())
	return fmt.Sprintf("%s-%d", name, time.Now().UnixNano())
}

func TestStore_PutGetAgent(t *testing.T) {
	s := testConnect(t)
	ctx := context.Background()
	label := uniqueLabel(t)

	want := agent.Info{
		Label:       label,
		Status:      agent.StatusWorking,
		Channel:     "fleet-1",
		LastUpdated: time.Now().UTC().Truncate(time.Millisecond),
		LastEventID: "ev-01",
		TokensUsed:  agent.TokenUsage{Prompt: 120, Completion: 30},
	}
	if err := s.PutAgent(ctx, want); err != nil {
		t.Fatalf("PutAgent: %v", err)
	}

	got, err := s.GetAgent(ctx, label)
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if got.Label != want.Label || got.Status != want.Status || got.TokensUsed != want.TokensUsed {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if !got.LastUpdated.Equal(want.LastUpdated) {
		t.Errorf("last updated = %v, want %v", got.LastUpdated, want.LastUpdated)
	}
}

func TestStore_GetAgentNotFound(t *testing.T) {
	s := testConnect(t)

	_, err := s.GetAgent(context.Background(), uniqueLabel(t))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_ListAgentsIncludesPut(t *testing.T) {
	s := testConnect(t)
	ctx := context.Background()
	label := uniqueLabel(t)

	if err := s.PutAgent(ctx, agent.Info{Label: label, Status: agent.StatusIdle}); err != nil {
		t.Fatalf("PutAgent: %v", err)
	}

	infos, err := s.ListAgents(ctx)
	if err != nil {
		t.Fatalf("ListAgents: %v", err)
	}
	for _, info := range infos {
		if info.Label == label {
			return
		}
	}
	t.Fatalf("label %s missing from ListAgents result", label)
}

func TestStore_PublishSubscribe(t *testing.T) {
	s := testConnect(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	label := uniqueLabel(t)

	sub, err := s.SubscribeEvents(ctx)
	if err != nil {
		t.Fatalf("SubscribeEvents: %v", err)
	}
	defer sub.Stop()

	want, err := event.New(label, event.TypeTokenDelta, event.TokenDeltaPayload{Prompt: 10, Completion: 2})
	if err != nil {
		t.Fatalf("event.New: %v", err)
	}
	if err := s.PublishEvent(ctx, want); err != nil {
		t.Fatalf("PublishEvent: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case got, ok := <-sub.C():
			if !ok {
				t.Fatal("subscription closed before delivery")
			}
			// Other tests may publish concurrently; match on label.
			if got.AgentLabel != label {
				continue
			}
			if got.ID != want.ID || got.Type != want.Type {
				t.Fatalf("got %+v, want %+v", got, want)
			}
			return
		case <-deadline:
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestStore_SubscriptionStopsOnCancel(t *testing.T) {
	s := testConnect(t)
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := s.SubscribeEvents(ctx)
	if err != nil {
		t.Fatalf("SubscribeEvents: %v", err)
	}

	cancel()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-sub.C():
			if !ok {
				return
			}
			// Drain anything buffered before the close.
		case <-deadline:
			t.Fatal("channel not closed after context cancellation")
		}
	}
}

func TestStore_RecentEvents(t *testing.T) {
	s := testConnect(t)
	ctx := context.Background()
	label := uniqueLabel(t)

	var published []*event.Event
	for i := 0; i < 3; i++ {
		ev, err := event.New(label, event.TypeToolCall, event.ToolCallPayload{Tool: fmt.Sprintf("tool-%d", i)})
		if err != nil {
			t.Fatalf("event.New: %v", err)
		}
		if err := s.PublishEvent(ctx, ev); err != nil {
			t.Fatalf("PublishEvent: %v", err)
		}
		published = append(published, ev)
	}

	got, err := s.RecentEvents(ctx, label, time.Minute)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(got) != len(published) {
		t.Fatalf("got %d events, want %d", len(got), len(published))
	}
	for i := range got {
		if got[i].ID != published[i].ID {
			t.Errorf("event[%d] = %s, want %s", i, got[i].ID, published[i].ID)
		}
	}
}

func TestStore_RecentEventsEmpty(t *testing.T) {
	s := testConnect(t)

	got, err := s.RecentEvents(context.Background(), uniqueLabel(t), time.Minute)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d events for unseen label", len(got))
	}
}

func TestStore_RetainedLogRebuildsProjection(t *testing.T) {
	s := testConnect(t)
	ctx := context.Background()
	label := uniqueLabel(t)

	base := time.Now().UTC()
	payloads := []struct {
		typ     event.Type
		payload any
	}{
		{event.TypeStatusChange, event.StatusChangePayload{Status: "working"}},
		{event.TypeTokenDelta, event.TokenDeltaPayload{Prompt: 120, Completion: 30}},
		{event.TypeStatusChange, event.StatusChangePayload{Status: "blocked"}},
	}
	for i, p := range payloads {
		ev, err := event.New(label, p.typ, p.payload)
		if err != nil {
			t.Fatalf("event.New: %v", err)
		}
		// Distinct timestamps keep the fold's ordering tie-break out
		// of play regardless of clock resolution.
		ev.Timestamp = base.Add(time.Duration(i) * time.Millisecond)
		if err := s.PublishEvent(ctx, ev); err != nil {
			t.Fatalf("PublishEvent: %v", err)
		}
	}

	// since <= 0 reads the whole retained log.
	got, err := s.RecentEvents(ctx, label, 0)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(got) != len(payloads) {
		t.Fatalf("got %d events, want %d", len(got), len(payloads))
	}

	info, err := agent.Replay(label, got, 0)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if info.Status != agent.StatusBlocked {
		t.Errorf("status = %s, want %s", info.Status, agent.StatusBlocked)
	}
	if info.TokensUsed != (agent.TokenUsage{Prompt: 120, Completion: 30}) {
		t.Errorf("tokens = %+v, want {120 30}", info.TokensUsed)
	}
}
