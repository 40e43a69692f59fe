package progress

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func collect(t *testing.T, stream <-chan Event, want int) []Event {
	t.Helper()
	var events []Event
	deadline := time.After(2 * time.Second)
	for len(events) < want {
		select {
		case ev, ok := <-stream:
			if !ok {
				t.Fatalf("stream closed after %d events, want %d", len(events), want)
			}
			events = append(events, ev)
		case <-deadline:
			t.Fatalf("timed out after %d events, want %d", len(events), want)
		}
	}
	return events
}

func TestEmitAndSubscribeFIFO(t *testing.T) {
	bus := NewBus(zap.NewNop())
	bus.Open("s1")
	bus.Emit("s1", "searching", "gathering sources", map[string]any{"strategy": "direct"})
	bus.Emit("s1", "evaluating", "running panel", nil)
	bus.Emit("s1", StageComplete, "done", nil)

	done := make(chan struct{})
	defer close(done)
	stream := bus.Subscribe("s1", done)

	events := collect(t, stream, 3)
	stages := []string{"searching", "evaluating", StageComplete}
	for i, want := range stages {
		if events[i].Stage != want {
			t.Errorf("event %d stage = %q, want %q", i, events[i].Stage, want)
		}
	}

	// Terminal event ends the stream.
	if _, ok := <-stream; ok {
		t.Error("stream should close after terminal event")
	}
}

func TestEmitUnknownSessionIsNoOp(t *testing.T) {
	bus := NewBus(zap.NewNop())
	bus.Emit("ghost", "searching", "ignored", nil)
}

func TestSubscribeUnknownSessionCloses(t *testing.T) {
	bus := NewBus(zap.NewNop())
	done := make(chan struct{})
	defer close(done)
	if _, ok := <-bus.Subscribe("ghost", done); ok {
		t.Error("stream for unknown session should be closed")
	}
}

func TestFullQueueDropsEvents(t *testing.T) {
	bus := NewBus(zap.NewNop())
	bus.Open("s1")
	for i := 0; i < queueCapacity+10; i++ {
		bus.Emit("s1", "searching", "flood", nil)
	}

	bus.mu.Lock()
	dropped := bus.sessions["s1"].dropped
	queued := len(bus.sessions["s1"].ch)
	bus.mu.Unlock()

	if queued != queueCapacity {
		t.Errorf("queued = %d, want %d", queued, queueCapacity)
	}
	if dropped != 10 {
		t.Errorf("dropped = %d, want 10", dropped)
	}
}

func TestCancel(t *testing.T) {
	bus := NewBus(zap.NewNop())
	bus.Open("s1")

	if err := bus.CheckCancelled("s1"); err != nil {
		t.Fatalf("fresh session should not be cancelled: %v", err)
	}
	if !bus.Cancel("s1") {
		t.Fatal("Cancel should report success for a known session")
	}
	if err := bus.CheckCancelled("s1"); !errors.Is(err, ErrCancelled) {
		t.Errorf("CheckCancelled = %v, want ErrCancelled", err)
	}
	if bus.Cancel("ghost") {
		t.Error("Cancel should report failure for an unknown session")
	}

	done := make(chan struct{})
	defer close(done)
	events := collect(t, bus.Subscribe("s1", done), 1)
	if events[0].Stage != StageCancelled {
		t.Errorf("stage = %q, want %q", events[0].Stage, StageCancelled)
	}
}

func TestCheckCancelledEmptySessionID(t *testing.T) {
	bus := NewBus(zap.NewNop())
	if err := bus.CheckCancelled(""); err != nil {
		t.Errorf("empty session ID should never be cancelled: %v", err)
	}
}

func TestSubscriberDoneStopsPump(t *testing.T) {
	bus := NewBus(zap.NewNop())
	bus.Open("s1")

	done := make(chan struct{})
	stream := bus.Subscribe("s1", done)
	bus.Emit("s1", "searching", "one", nil)
	collect(t, stream, 1)
	close(done)

	// Pump exits; goleak in TestMain verifies no goroutine remains.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-stream:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream did not close after done")
		}
	}
}
