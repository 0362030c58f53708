package hub

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeSubscriber struct {
	mu     sync.Mutex
	events []Event
	closed bool
	fail   bool
}

func (f *fakeSubscriber) Send(e Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errFakeSendFailure
	}
	f.events = append(f.events, e)
	return nil
}

func (f *fakeSubscriber) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSubscriber) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func (f *fakeSubscriber) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type sentinelErr string

func (e sentinelErr) Error() string { return string(e) }

const errFakeSendFailure = sentinelErr("fake send failure")

func TestHubDeliversToMatchingInvestigation(t *testing.T) {
	h := New()
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	defer cancel()

	sub := &fakeSubscriber{}
	h.Subscribe("s1", "inv-1", sub)

	h.Publish("inv-1", Event{Type: EventTaskStarted, TaskID: "t1"})
	h.Publish("inv-2", Event{Type: EventTaskStarted, TaskID: "t2"})

	deadline := time.After(time.Second)
	for sub.count() < 1 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for delivery")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	if sub.count() != 1 {
		t.Fatalf("expected exactly one delivered event, got %d", sub.count())
	}
}

func TestHubEvictsFailingSubscriber(t *testing.T) {
	h := New()
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	defer cancel()

	sub := &fakeSubscriber{fail: true}
	h.Subscribe("s1", "inv-1", sub)
	h.Publish("inv-1", Event{Type: EventTaskFailed})

	deadline := time.After(time.Second)
	for !sub.isClosed() {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for eviction")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func TestHubBroadcastSubscriberReceivesAllInvestigations(t *testing.T) {
	h := New()
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	defer cancel()

	sub := &fakeSubscriber{}
	h.Subscribe("admin", "", sub)

	h.Publish("inv-1", Event{Type: EventTaskStarted})
	h.Publish("inv-2", Event{Type: EventTaskCompleted})

	deadline := time.After(time.Second)
	for sub.count() < 2 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for broadcast delivery")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}
