package statebus

import (
	"sync"
)

const (
	defaultSubscriberCapacity = 100
	defaultDedupeWindow       = 1024
)

// Bus fans goal-state events out to subscribers with buffering,
// deduplication by event ID, and bounded channel semantics: a slow
// subscriber loses its oldest buffered event rather than blocking the
// publisher.
type Bus struct {
	mu           sync.RWMutex
	subscribers  map[*subscriber]struct{}
	recentIDs    map[string]struct{}
	recentOrder  []string
	channelSize  int
	dedupeWindow int
	logger       Logger
}

// BusOption customizes Bus construction.
type BusOption func(*Bus)

// BusWithLogger injects a logger for drop diagnostics.
func BusWithLogger(logger Logger) BusOption {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// BusWithSubscriberCapacity overrides the buffered channel size per
// subscriber.
func BusWithSubscriberCapacity(capacity int) BusOption {
	return func(b *Bus) {
		if capacity > 0 {
			b.channelSize = capacity
		}
	}
}

// BusWithDedupeWindow controls how many recent event IDs are retained for
// duplicate suppression.
func BusWithDedupeWindow(size int) BusOption {
	return func(b *Bus) {
		if size > 0 {
			b.dedupeWindow = size
		}
	}
}

// NewBus constructs a bus with sane defaults.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		subscribers:  map[*subscriber]struct{}{},
		recentIDs:    map[string]struct{}{},
		recentOrder:  make([]string, 0, defaultDedupeWindow),
		channelSize:  defaultSubscriberCapacity,
		dedupeWindow: defaultDedupeWindow,
		logger:       nopLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Subscription represents an active subscriber.
type Subscription struct {
	Events <-chan Event
	cancel func()
}

// Close terminates the subscription.
func (s Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Subscribe registers for all goal-state events published after the call.
func (b *Bus) Subscribe() Subscription {
	sub := newSubscriber(b.channelSize, b.logger)
	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()
	return Subscription{
		Events: sub.channel(),
		cancel: func() {
			b.mu.Lock()
			delete(b.subscribers, sub)
			b.mu.Unlock()
			sub.close()
		},
	}
}

// Publish delivers the event to every subscriber. Events whose ID was
// seen within the dedupe window are ignored.
func (b *Bus) Publish(event Event) {
	if event.EventID != "" && b.isDuplicate(event.EventID) {
		return
	}
	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subscribers))
	for sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()
	for _, sub := range subs {
		sub.deliver(event)
	}
}

func (b *Bus) isDuplicate(eventID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.recentIDs[eventID]; ok {
		return true
	}
	b.recentIDs[eventID] = struct{}{}
	b.recentOrder = append(b.recentOrder, eventID)
	if len(b.recentOrder) > b.dedupeWindow {
		oldest := b.recentOrder[0]
		b.recentOrder = b.recentOrder[1:]
		delete(b.recentIDs, oldest)
	}
	return false
}

type subscriber struct {
	ch      chan Event
	logger  Logger
	closed  bool
	closeMu sync.Mutex
}

func newSubscriber(capacity int, logger Logger) *subscriber {
	if capacity <= 0 {
		capacity = defaultSubscriberCapacity
	}
	return &subscriber{
		ch:     make(chan Event, capacity),
		logger: logger,
	}
}

func (s *subscriber) channel() <-chan Event {
	return s.ch
}

func (s *subscriber) deliver(event Event) {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- event:
	default:
		// Drop-oldest, without ever blocking: the consumer may drain the
		// buffer between the failed send and the receive, and close()
		// waits on the same mutex.
		select {
		case oldest := <-s.ch:
			if s.logger != nil {
				s.logger.Printf("statebus: dropped %s for %s (queue overflow)", oldest.State, oldest.Goal)
			}
		default:
		}
		select {
		case s.ch <- event:
		default:
		}
	}
}

func (s *subscriber) close() {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
