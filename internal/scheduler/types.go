// Copyright 2026 The ASDGPT Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package scheduler

import (
	"time"
)

// CategorySystem is the reserved bypass-all category for system
// notifications such as mode-change announcements. Candidates in this
// category skip mode, cooldown, suppression, and custom-rule checks.
const CategorySystem = "system"

// Candidate is a proposed intervention. It carries either a library id or
// an ad-hoc type plus message.
type Candidate struct {
	// ID names a library intervention. Optional when Type and Message
	// are both set.
	ID string `json:"id,omitempty"`

	// Type is an ad-hoc intervention type used when ID is empty.
	Type string `json:"type,omitempty"`

	// Message is required for ad-hoc candidates; for library candidates
	// it overrides the library message when set.
	Message string `json:"message,omitempty"`

	// Category drives the cooldown table. Defaults to the library
	// entry's category, or "regulation" for ad-hoc candidates.
	Category string `json:"category,omitempty"`

	// Tier is the requested severity, defaulting to 1.
	Tier int `json:"tier,omitempty"`

	// Extra carries optional collaborator fields passed through to the
	// actuator payload.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// Record is one accepted intervention start. Appended to a bounded history
// and read-only afterward; used solely to compute escalation and cooldown
// decisions for subsequent candidates.
type Record struct {
	// RecordID uniquely identifies this start.
	RecordID string `json:"record_id"`

	// ID is the intervention id (library or synthesized ad-hoc).
	ID string `json:"id"`

	// Category is the resolved category.
	Category string `json:"category"`

	// Tier is the tier the intervention started at.
	Tier int `json:"tier"`

	// Timestamp is when the start was accepted.
	Timestamp time.Time `json:"timestamp"`
}

// Payload is what the actuator collaborator executes. Its tier-dependent
// fields are a pure function of the tier, not a separate rule system:
// tier 2 adds a sound cue, tier 3 adds an urgent spoken prefix plus a
// visual/force-action prompt.
type Payload struct {
	RecordID string `json:"record_id"`
	ID       string `json:"id"`
	Message  string `json:"message"`
	Tier     int    `json:"tier"`

	// SoundCue plays an attention sound before speaking. Tier >= 2.
	SoundCue bool `json:"sound_cue"`

	// UrgentPrefix is prepended to the spoken message. Tier >= 3.
	UrgentPrefix string `json:"urgent_prefix,omitempty"`

	// VisualPrompt shows an on-screen prompt. Tier >= 3.
	VisualPrompt bool `json:"visual_prompt"`

	// ForceAction requires the user to acknowledge. Tier >= 3.
	ForceAction bool `json:"force_action"`

	// Extra carries candidate passthrough fields.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// Actuator is the collaborator that executes speech/sound/visual steps.
// Start's return indicates acceptance, not completion; the collaborator
// reports completion through Scheduler.Completed.
type Actuator interface {
	// Start begins executing a payload.
	Start(p Payload) error

	// Stop interrupts the currently executing intervention, if any.
	Stop() error
}

// shapePayload derives the tier-dependent payload fields.
func shapePayload(recordID, id, message string, tier int, extra map[string]interface{}) Payload {
	p := Payload{
		RecordID: recordID,
		ID:       id,
		Message:  message,
		Tier:     tier,
		Extra:    extra,
	}
	if tier >= 2 {
		p.SoundCue = true
	}
	if tier >= 3 {
		p.UrgentPrefix = "This is important. "
		p.VisualPrompt = true
		p.ForceAction = true
	}
	return p
}
