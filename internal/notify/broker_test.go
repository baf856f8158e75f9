package notify

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

// testLogger returns a logger for tests that discards most output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestBroker() *Broker {
	return &Broker{
		subscribers: make(map[uuid.UUID]map[chan []byte]struct{}),
		logger:      testLogger(),
	}
}

func TestBrokerFanOut(t *testing.T) {
	broker := newTestBroker()
	decisionID := uuid.New()

	// Subscribe two clients to the same decision.
	ch1 := broker.Subscribe(decisionID)
	ch2 := broker.Subscribe(decisionID)

	event := formatSSE("updated", `{"decision_id":"abc"}`)
	broker.broadcast(decisionID, event)

	// Both should receive it.
	for i, ch := range []chan []byte{ch1, ch2} {
		select {
		case got := <-ch:
			if string(got) != string(event) {
				t.Errorf("ch%d: got %q, want %q", i+1, got, event)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("ch%d: timed out waiting for event", i+1)
		}
	}

	// Unsubscribe ch1, broadcast again, only ch2 should receive.
	broker.Unsubscribe(decisionID, ch1)
	event2 := formatSSE("updated", `{"decision_id":"def"}`)
	broker.broadcast(decisionID, event2)

	select {
	case got := <-ch2:
		if string(got) != string(event2) {
			t.Errorf("ch2: got %q, want %q", got, event2)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("ch2: timed out waiting for event after ch1 unsubscribed")
	}

	broker.Unsubscribe(decisionID, ch2)
}

func TestBrokerScopedByDecision(t *testing.T) {
	broker := newTestBroker()
	watched := uuid.New()
	other := uuid.New()

	ch := broker.Subscribe(watched)
	defer broker.Unsubscribe(watched, ch)

	broker.broadcast(other, formatSSE("updated", `{"decision_id":"other"}`))

	select {
	case got := <-ch:
		t.Fatalf("received event for a different decision: %q", got)
	case <-time.After(50 * time.Millisecond):
		// Correct: events for other decisions never arrive.
	}
}

func TestFormatSSE(t *testing.T) {
	got := string(formatSSE("updated", `{"decision_id":"123"}`))
	want := "event: updated\ndata: {\"decision_id\":\"123\"}\n\n"
	if got != want {
		t.Errorf("formatSSE: got %q, want %q", got, want)
	}
}

func TestBrokerSlowSubscriber(t *testing.T) {
	broker := newTestBroker()
	decisionID := uuid.New()

	// A slow subscriber whose buffer we never drain.
	slow := broker.Subscribe(decisionID)
	fast := broker.Subscribe(decisionID)

	// Fill the slow subscriber's buffer.
	for range 65 {
		broker.broadcast(decisionID, formatSSE("updated", "fill"))
	}

	// Drain fast so it has room again.
	for len(fast) > 0 {
		<-fast
	}

	event := formatSSE("updated", "after-fill")
	broker.broadcast(decisionID, event)

	select {
	case <-fast:
		// Fast subscriber is not blocked by the slow one.
	case <-time.After(100 * time.Millisecond):
		t.Fatal("fast subscriber should receive events even when slow subscriber is blocked")
	}

	broker.Unsubscribe(decisionID, slow)
	broker.Unsubscribe(decisionID, fast)
}

func TestDispatchInvokesListeners(t *testing.T) {
	broker := newTestBroker()
	decisionID := uuid.New()

	var got []uuid.UUID
	broker.AddListener(func(id uuid.UUID) { got = append(got, id) })

	ch := broker.Subscribe(decisionID)
	defer broker.Unsubscribe(decisionID, ch)

	broker.dispatch(`{"decision_id":"` + decisionID.String() + `"}`)

	if len(got) != 1 || got[0] != decisionID {
		t.Fatalf("listener calls: got %v, want [%s]", got, decisionID)
	}
	select {
	case <-ch:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("subscriber did not receive the dispatched event")
	}

	// A malformed payload reaches neither listeners nor subscribers.
	broker.dispatch("not json")
	if len(got) != 1 {
		t.Fatalf("listener called for malformed payload: %v", got)
	}
}

func TestUnsubscribeUnknown(t *testing.T) {
	broker := newTestBroker()
	// Unsubscribing a channel that was never registered must not panic.
	broker.Unsubscribe(uuid.New(), make(chan []byte))
}
