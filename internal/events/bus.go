// Copyright 2026 The ASDGPT Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Subscription is a handle for a registered subscriber.
type Subscription struct {
	ID          string
	Type        EventType
	Callback    func(*Event)
	Unsubscribe func()
}

// Bus manages event distribution to subscribers. Publishing is asynchronous
// through a bounded queue so the polling loop never blocks on a slow
// subscriber; overflow drops the event with a warning.
type Bus struct {
	subscribers  map[EventType][]*Subscription
	mu           sync.RWMutex
	eventQueue   chan *Event
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
	shutdown     bool
}

// NewBus creates a new event bus and starts its queue processor.
func NewBus() *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	bus := &Bus{
		subscribers: make(map[EventType][]*Subscription),
		eventQueue:  make(chan *Event, 1000),
		ctx:         ctx,
		cancel:      cancel,
	}

	go bus.processQueue()

	return bus
}

// Subscribe registers a callback for a specific event type.
func (b *Bus) Subscribe(t EventType, callback func(*Event)) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := fmt.Sprintf("%d", time.Now().UnixNano())
	sub := &Subscription{
		ID:       id,
		Type:     t,
		Callback: callback,
	}

	sub.Unsubscribe = func() {
		b.unsubscribe(sub)
	}

	b.subscribers[t] = append(b.subscribers[t], sub)
	return sub
}

// SubscribeAll registers a callback for every event type.
func (b *Bus) SubscribeAll(callback func(*Event)) []*Subscription {
	types := []EventType{
		EventModeChanged,
		EventInterventionStarted,
		EventInterventionStopped,
		EventInferenceSucceeded,
		EventInferenceFailed,
		EventBreakerOpened,
		EventBreakerClosed,
		EventPersistentFailure,
	}
	subs := make([]*Subscription, 0, len(types))
	for _, t := range types {
		subs = append(subs, b.Subscribe(t, callback))
	}
	return subs
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[sub.Type]
	for i, s := range subs {
		if s.ID == sub.ID {
			b.subscribers[sub.Type] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

// Publish distributes an event to all subscribers synchronously.
func (b *Bus) Publish(e *Event) {
	b.mu.RLock()
	subs := b.subscribers[e.Type]
	// Copy slice to avoid holding lock during execution
	activeSubs := make([]*Subscription, len(subs))
	copy(activeSubs, subs)
	b.mu.RUnlock()

	for _, sub := range activeSubs {
		// Execute safely
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("Panic in event subscriber for %s: %v", e.Type, r)
				}
			}()
			sub.Callback(e)
		}()
	}
}

// PublishAsync distributes an event asynchronously via the queue.
func (b *Bus) PublishAsync(e *Event) {
	b.mu.RLock()
	isShutdown := b.shutdown
	b.mu.RUnlock()

	if isShutdown {
		return
	}

	select {
	case <-b.ctx.Done():
		// Bus is shutting down, ignore event
		return
	case b.eventQueue <- e:
		// Queued
	default:
		log.Warnf("Event queue full, dropping event: %s", e.Type)
	}
}

func (b *Bus) processQueue() {
	for {
		select {
		case <-b.ctx.Done():
			return
		case event, ok := <-b.eventQueue:
			if !ok {
				return
			}
			if event != nil {
				b.Publish(event)
			}
		}
	}
}

// Shutdown stops the event bus processing.
func (b *Bus) Shutdown() {
	b.shutdownOnce.Do(func() {
		b.mu.Lock()
		b.shutdown = true
		b.mu.Unlock()

		b.cancel()
		close(b.eventQueue)
	})
}
