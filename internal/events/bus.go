/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	EventSessionOpened        EventType = "session.opened"
	EventSessionFinalized     EventType = "session.finalized"
	EventDepartureRegistered  EventType = "departure.registered"
	EventDepartureConfirmed   EventType = "departure.confirmed"
	EventDepartureEdited      EventType = "departure.edited"
	EventDepartureDeleted     EventType = "departure.deleted"
	EventLineIntervalChanged  EventType = "line.interval_changed"
	EventScheduleRecalculated EventType = "schedule.recalculated"
	EventConfirmationsReset   EventType = "confirmations.reset"
)

// AllEventTypes lists every event the dispatcher publishes.
var AllEventTypes = []EventType{
	EventSessionOpened,
	EventSessionFinalized,
	EventDepartureRegistered,
	EventDepartureConfirmed,
	EventDepartureEdited,
	EventDepartureDeleted,
	EventLineIntervalChanged,
	EventScheduleRecalculated,
	EventConfirmationsReset,
}

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Publisher is the send side of a bus.
type Publisher interface {
	Publish(eventType EventType, payload Payload)
}

// Broker is a bus that can be subscribed to and shut down. The in-process
// Bus and the Redis and NATS buses all satisfy it.
type Broker interface {
	Publisher
	Subscribe(eventType EventType) Subscriber
	Unsubscribe(eventType EventType, sub Subscriber)
	Close() error
}

// Bus implements a simple in-process pubsub.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 32)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers. Slow subscribers drop events rather
// than block the publisher.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[eventType] {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}
	b.subs[eventType] = subs
}

// Close closes every subscriber channel.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for eventType, subs := range b.subs {
		for _, sub := range subs {
			close(sub)
		}
		delete(b.subs, eventType)
	}
	return nil
}
