package eventbus

import (
	"testing"
	"time"

	"github.com/dadof3littlemonsters/transcription-pipeline-go/internal/platform/logger"
)

func mustTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(log.Sync)
	return log
}

func recvEvent(t *testing.T, ch <-chan Event, timeout time.Duration) Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for event")
	}
	return Event{}
}

func TestHubBroadcastOrderingAndDisconnect(t *testing.T) {
	hub := NewHub(mustTestLogger(t))
	sub := hub.Subscribe()

	first := Event{JobID: "job-1", Status: "PROCESSING"}
	second := Event{JobID: "job-1", Status: "COMPLETE"}
	hub.Broadcast(first)
	hub.Broadcast(second)

	gotFirst := recvEvent(t, sub.Outbound, time.Second)
	gotSecond := recvEvent(t, sub.Outbound, time.Second)
	if gotFirst.Status != "PROCESSING" {
		t.Fatalf("first event: want=PROCESSING got=%s", gotFirst.Status)
	}
	if gotSecond.Status != "COMPLETE" {
		t.Fatalf("second event: want=COMPLETE got=%s", gotSecond.Status)
	}

	hub.Unsubscribe(sub)
	select {
	case _, ok := <-sub.Outbound:
		if ok {
			t.Fatalf("subscriber outbound should be closed after unsubscribe")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timed out waiting for subscriber channel close")
	}
	if hub.Count() != 0 {
		t.Fatalf("Count() = %d, want 0 after unsubscribe", hub.Count())
	}
}

func TestHubBroadcastReachesMultipleSubscribers(t *testing.T) {
	hub := NewHub(mustTestLogger(t))
	subA := hub.Subscribe()
	subB := hub.Subscribe()

	evt := Event{JobID: "job-2", Status: "FAILED", Error: "boom"}
	hub.Broadcast(evt)

	gotA := recvEvent(t, subA.Outbound, time.Second)
	gotB := recvEvent(t, subB.Outbound, time.Second)
	if gotA.JobID != "job-2" || gotB.JobID != "job-2" {
		t.Fatalf("expected both subscribers to receive the event, got a=%+v b=%+v", gotA, gotB)
	}
}

func TestHubDropsOldestWhenSubscriberQueueFull(t *testing.T) {
	hub := NewHub(mustTestLogger(t))
	sub := hub.Subscribe()

	for i := 0; i < subscriberQueueSize+5; i++ {
		hub.Broadcast(Event{JobID: "job-3", Status: "PROCESSING", StageDetail: string(rune('a' + i%26))})
	}

	if len(sub.Outbound) != subscriberQueueSize {
		t.Fatalf("queue len = %d, want full buffer of %d after overflow", len(sub.Outbound), subscriberQueueSize)
	}

	// The oldest events should have been dropped; the head of the queue
	// should be one of the later broadcasts, not the first.
	first := recvEvent(t, sub.Outbound, time.Second)
	if first.StageDetail == "a" {
		t.Fatalf("expected oldest event to have been dropped on overflow")
	}
}

func TestNoopBusNeverErrors(t *testing.T) {
	var bus Bus = NoopBus{}
	if err := bus.Publish(nil, Event{JobID: "x"}); err != nil {
		t.Fatalf("NoopBus.Publish returned error: %v", err)
	}
	if err := bus.StartForwarder(nil, func(Event) {}); err != nil {
		t.Fatalf("NoopBus.StartForwarder returned error: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Fatalf("NoopBus.Close returned error: %v", err)
	}
}
