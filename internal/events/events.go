// Copyright 2026 The ASDGPT Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package events distributes engine notifications (mode changes, intervention
// starts, inference outcomes) to in-process subscribers such as the history
// collector and the management API status cache.
package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies a kind of engine notification.
type EventType string

const (
	// EventModeChanged fires on every accepted mode transition.
	EventModeChanged EventType = "mode_changed"

	// EventInterventionStarted fires when the scheduler accepts a candidate.
	EventInterventionStarted EventType = "intervention_started"

	// EventInterventionStopped fires when a running intervention is preempted.
	EventInterventionStopped EventType = "intervention_stopped"

	// EventInferenceSucceeded fires after a validated inference result.
	EventInferenceSucceeded EventType = "inference_succeeded"

	// EventInferenceFailed fires after a call sequence exhausts its retries.
	EventInferenceFailed EventType = "inference_failed"

	// EventBreakerOpened fires when the circuit breaker trips open.
	EventBreakerOpened EventType = "breaker_opened"

	// EventBreakerClosed fires when a success heals the breaker.
	EventBreakerClosed EventType = "breaker_closed"

	// EventPersistentFailure fires once when error-mode recovery gives up.
	EventPersistentFailure EventType = "persistent_failure"
)

// Event is a single engine notification.
type Event struct {
	// ID uniquely identifies this event.
	ID string `json:"id"`

	// Type is the event kind.
	Type EventType `json:"type"`

	// Timestamp is when the event was created.
	Timestamp time.Time `json:"timestamp"`

	// OldMode and NewMode are set for mode-change events.
	OldMode string `json:"old_mode,omitempty"`
	NewMode string `json:"new_mode,omitempty"`

	// Reasons carries transition flags such as "from_snooze_expiry" or
	// "meeting_detected".
	Reasons []string `json:"reasons,omitempty"`

	// Data carries event-specific details.
	Data map[string]interface{} `json:"data,omitempty"`
}

// New creates an event of the given type stamped with a fresh ID.
func New(t EventType) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      t,
		Timestamp: time.Now(),
		Data:      make(map[string]interface{}),
	}
}

// HasReason reports whether the event carries the given transition flag.
func (e *Event) HasReason(reason string) bool {
	for _, r := range e.Reasons {
		if r == reason {
			return true
		}
	}
	return false
}
