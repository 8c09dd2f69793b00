package statebus

import (
	"testing"
	"time"
)

func TestBusDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus()
	first := bus.Subscribe()
	defer first.Close()
	second := bus.Subscribe()
	defer second.Close()
	event := terminalEvent("build", StateSuccess, time.Now().UTC())
	bus.Publish(event)
	for _, sub := range []Subscription{first, second} {
		select {
		case got := <-sub.Events:
			if got.Goal != "build" {
				t.Fatalf("unexpected event %+v", got)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event")
		}
	}
}

func TestBusSuppressesDuplicateEventIDs(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()
	defer sub.Close()
	event := terminalEvent("build", StateSuccess, time.Now().UTC())
	bus.Publish(event)
	bus.Publish(event)
	select {
	case <-sub.Events:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for first delivery")
	}
	select {
	case got := <-sub.Events:
		t.Fatalf("expected duplicate to be suppressed, got %+v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusDropsOldestOnOverflow(t *testing.T) {
	bus := NewBus(BusWithSubscriberCapacity(1))
	sub := bus.Subscribe()
	defer sub.Close()
	now := time.Now().UTC()
	bus.Publish(terminalEvent("first", StateSuccess, now))
	bus.Publish(terminalEvent("second", StateSuccess, now.Add(time.Second)))
	select {
	case got := <-sub.Events:
		if got.Goal != "second" {
			t.Fatalf("expected newest event to survive overflow, got %q", got.Goal)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event")
	}
}

func TestBusPublishNeverBlocksAgainstDrainingConsumer(t *testing.T) {
	bus := NewBus(BusWithSubscriberCapacity(1))
	sub := bus.Subscribe()
	defer sub.Close()
	// A consumer racing the overflow path must not wedge the publisher.
	go func() {
		for range sub.Events {
		}
	}()
	done := make(chan struct{})
	go func() {
		defer close(done)
		now := time.Now().UTC()
		for i := 0; i < 1000; i++ {
			bus.Publish(terminalEvent("build", StateSuccess, now.Add(time.Duration(i)*time.Millisecond)))
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("publish blocked against a draining consumer")
	}
}

func TestBusClosedSubscriptionIsIgnored(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()
	sub.Close()
	// Publishing after close must not panic on the closed channel.
	bus.Publish(terminalEvent("build", StateSuccess, time.Now().UTC()))
}
