// Copyright 2026 The ASDGPT Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribePublish(t *testing.T) {
	bus := NewBus()
	defer bus.Shutdown()

	var got []*Event
	bus.Subscribe(EventModeChanged, func(e *Event) {
		got = append(got, e)
	})

	ev := New(EventModeChanged)
	ev.OldMode = "active"
	ev.NewMode = "snoozed"
	bus.Publish(ev)

	require.Len(t, got, 1)
	assert.Equal(t, "snoozed", got[0].NewMode)

	// Unrelated types are not delivered.
	bus.Publish(New(EventBreakerOpened))
	assert.Len(t, got, 1)
}

func TestSubscribeAllReceivesEverything(t *testing.T) {
	bus := NewBus()
	defer bus.Shutdown()

	var mu sync.Mutex
	count := 0
	bus.SubscribeAll(func(e *Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	bus.Publish(New(EventModeChanged))
	bus.Publish(New(EventInferenceFailed))
	bus.Publish(New(EventInterventionStarted))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, count)
}

func TestPublishSurvivesPanickingSubscriber(t *testing.T) {
	bus := NewBus()
	defer bus.Shutdown()

	delivered := false
	bus.Subscribe(EventModeChanged, func(e *Event) {
		panic("bad subscriber")
	})
	bus.Subscribe(EventModeChanged, func(e *Event) {
		delivered = true
	})

	assert.NotPanics(t, func() {
		bus.Publish(New(EventModeChanged))
	})
	assert.True(t, delivered)
}

func TestPublishAsyncDelivers(t *testing.T) {
	bus := NewBus()
	defer bus.Shutdown()

	ch := make(chan *Event, 1)
	bus.Subscribe(EventBreakerOpened, func(e *Event) {
		ch <- e
	})

	bus.PublishAsync(New(EventBreakerOpened))

	select {
	case e := <-ch:
		assert.Equal(t, EventBreakerOpened, e.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("async event was not delivered")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	defer bus.Shutdown()

	count := 0
	sub := bus.Subscribe(EventModeChanged, func(e *Event) { count++ })
	bus.Publish(New(EventModeChanged))
	sub.Unsubscribe()
	bus.Publish(New(EventModeChanged))

	assert.Equal(t, 1, count)
}

func TestHasReason(t *testing.T) {
	ev := New(EventModeChanged)
	ev.Reasons = []string{"from_snooze_expiry"}

	assert.True(t, ev.HasReason("from_snooze_expiry"))
	assert.False(t, ev.HasReason("manual"))
}
