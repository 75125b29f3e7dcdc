// Copyright 2026 The ASDGPT Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package trigger decides, each tick, whether an inference call is warranted
// and whether an accepted result may act or only update state.
package trigger

import (
	"sync"
	"time"

	"github.com/IAMCANADIAN-cyber/ASDGPT-sub000/internal/config"
	"github.com/IAMCANADIAN-cyber/ASDGPT-sub000/internal/sensors"
)

// Reason explains why a trigger fired.
type Reason string

const (
	// ReasonHighAudioLevel fires when loudness exceeds the threshold and
	// the signal is classified as speech.
	ReasonHighAudioLevel Reason = "high_audio_level"

	// ReasonHighVideoActivity fires when motion exceeds the threshold and
	// a face is present.
	ReasonHighVideoActivity Reason = "high_video_activity"

	// ReasonPeriodicCheck fires on the configured interval when no event
	// trigger did.
	ReasonPeriodicCheck Reason = "periodic_check"
)

// Inputs is everything the policy reads for one tick's decision.
type Inputs struct {
	// Snapshot holds the cached sensor metrics.
	Snapshot sensors.Snapshot

	// Mode is the engine's current mode name.
	Mode string

	// LastCallAt is when the last call sequence was issued, successful or
	// not. Zero when no call has been made yet.
	LastCallAt time.Time

	// InFlight reports whether a call sequence is currently running.
	InFlight bool

	// Now is the tick timestamp.
	Now time.Time
}

// Decision is the policy's output for one tick.
type Decision struct {
	// Trigger reports whether an inference call should be issued.
	Trigger bool

	// Reason explains the trigger, when one fired.
	Reason Reason

	// AllowIntervention reports whether an accepted result may start an
	// intervention. False outside active mode: in dnd/snoozed the call
	// still runs for monitoring, but suggestions are discarded.
	AllowIntervention bool
}

// Policy evaluates trigger decisions against configured thresholds.
// Thresholds are swapped by config hot reload from the watcher goroutine
// while the control loop evaluates, so access goes through a lock.
type Policy struct {
	mu  sync.RWMutex
	cfg config.TriggerConfig
}

// NewPolicy creates a policy with the given thresholds.
func NewPolicy(cfg config.TriggerConfig) *Policy {
	return &Policy{cfg: cfg}
}

// SetConfig swaps the thresholds. Used by config hot reload.
func (p *Policy) SetConfig(cfg config.TriggerConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
}

// Evaluate runs the decision order: event triggers first (audio, then
// video), then the periodic check. A trigger is suppressed entirely when no
// sensor data has been captured yet, a call is already in flight, or the
// minimum inter-call interval has not passed. The floor applies to event
// triggers too, to bound call rate under sensor noise.
func (p *Policy) Evaluate(in Inputs) Decision {
	p.mu.RLock()
	cfg := p.cfg
	p.mu.RUnlock()

	d := Decision{AllowIntervention: in.Mode == "active"}

	if !in.Snapshot.HasAny() {
		return d
	}
	if in.InFlight {
		return d
	}
	if !in.LastCallAt.IsZero() && in.Now.Sub(in.LastCallAt) < cfg.MinCallInterval() {
		return d
	}

	switch {
	case in.Snapshot.HasAudio &&
		in.Snapshot.Audio.Level > cfg.AudioLevelThreshold &&
		in.Snapshot.Audio.IsSpeech:
		d.Trigger = true
		d.Reason = ReasonHighAudioLevel

	case in.Snapshot.HasVideo &&
		in.Snapshot.Video.Activity > cfg.VideoActivityThreshold &&
		in.Snapshot.Video.FacePresent:
		d.Trigger = true
		d.Reason = ReasonHighVideoActivity

	case in.LastCallAt.IsZero() || in.Now.Sub(in.LastCallAt) >= cfg.PeriodicInterval():
		d.Trigger = true
		d.Reason = ReasonPeriodicCheck
	}

	return d
}
