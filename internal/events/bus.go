// Package events publishes pipeline lifecycle events to subscribers.
package events

import (
	"sync"
	"time"
)

// EventType represents the type of event being published.
type EventType string

const (
	// EventRunStarted is published before the first step of a run.
	EventRunStarted EventType = "run_started"
	// EventStepStarted is published when a step's executor is invoked.
	EventStepStarted EventType = "step_started"
	// EventStepCompleted is published when a step signals success.
	EventStepCompleted EventType = "step_completed"
	// EventStepFailed is published when a step signals failure.
	EventStepFailed EventType = "step_failed"
	// EventRunFinished is published once per run, after the last step or
	// the first failure.
	EventRunFinished EventType = "run_finished"
	// EventWatchTriggered is published when a file change dispatches a
	// watch binding.
	EventWatchTriggered EventType = "watch_triggered"
)

// AllEventTypes lists every event type, in lifecycle order.
var AllEventTypes = []EventType{
	EventRunStarted,
	EventStepStarted,
	EventStepCompleted,
	EventStepFailed,
	EventRunFinished,
	EventWatchTriggered,
}

// Event represents a pipeline event.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      map[string]any
}

// Subscriber is a function that receives events.
type Subscriber func(Event)

// Bus is a non-blocking Publish/Subscribe event bus.
// Events are delivered asynchronously via buffered channels. If a
// subscriber's channel is full, the event is dropped for that subscriber.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	bufferSize  int
	delivery    sync.WaitGroup
	closed      bool
}

// NewBus creates a new event bus with the specified buffer size per subscriber.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers fn for the given event type. fn is called on a
// dedicated goroutine, in publish order. Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}
	ch := make(chan Event, b.bufferSize)
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)

	b.delivery.Add(1)
	go func() {
		defer b.delivery.Done()
		for event := range ch {
			func() {
				// A panicking subscriber must not stop delivery to itself
				// or block the publisher.
				defer func() { _ = recover() }()
				fn(event)
			}()
		}
	}()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subs := b.subscribers[eventType]
		for i, subCh := range subs {
			if subCh == ch {
				b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}
}

// SubscribeAll registers fn for every event type.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	unsubs := make([]func(), 0, len(AllEventTypes))
	for _, t := range AllEventTypes {
		unsubs = append(unsubs, b.Subscribe(t, fn))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Publish sends an event to all subscribers of the given type without
// blocking. A nil Bus discards the event.
func (b *Bus) Publish(eventType EventType, data map[string]any) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	for _, ch := range b.subscribers[eventType] {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close closes all subscriber channels and waits until events already
// queued have been delivered.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for eventType, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, eventType)
	}
	b.mu.Unlock()

	b.delivery.Wait()
}
