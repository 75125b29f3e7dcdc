// Copyright 2026 The ASDGPT Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/IAMCANADIAN-cyber/ASDGPT-sub000/internal/events"
)

// Mode is the engine's operating mode. It is owned exclusively by the
// engine and mutated only through its transition function.
type Mode string

const (
	// ModeActive is normal operation: triggers fire and interventions run.
	ModeActive Mode = "active"

	// ModePaused stops triggering entirely until resumed.
	ModePaused Mode = "paused"

	// ModeSnoozed monitors without intervening until the wake deadline.
	ModeSnoozed Mode = "snoozed"

	// ModeDND monitors without intervening while a meeting is detected.
	ModeDND Mode = "dnd"

	// ModeError is entered when a collaborator reports hardware failure.
	ModeError Mode = "error"
)

// Transition reason flags passed to the notification callback.
const (
	ReasonManual          = "manual"
	ReasonPauseToggle     = "pause_toggle"
	ReasonCycle           = "cycle"
	ReasonFromSnoozeExpiry = "from_snooze_expiry"
	ReasonMeetingDetected = "meeting_detected"
	ReasonMeetingCleared  = "meeting_cleared"
	ReasonRecovery        = "recovery"
	ReasonHardwareFailure = "hardware_failure"
)

// ParseMode validates a requested mode name.
func ParseMode(name string) (Mode, error) {
	switch Mode(name) {
	case ModeActive, ModePaused, ModeSnoozed, ModeDND, ModeError:
		return Mode(name), nil
	default:
		return "", fmt.Errorf("unknown mode %q", name)
	}
}

// cycleOrder is the manual mode cycle: active -> paused -> snoozed -> active.
var cycleOrder = []Mode{ModeActive, ModePaused, ModeSnoozed}

// nextInCycle returns the mode following m in the manual cycle. Modes
// outside the cycle (dnd, error) cycle back to active.
func nextInCycle(m Mode) Mode {
	for i, mode := range cycleOrder {
		if mode == m {
			return cycleOrder[(i+1)%len(cycleOrder)]
		}
	}
	return ModeActive
}

// transitionLocked applies a mode change. It is the single mutation point
// for the mode field. A same-mode request is an idempotent no-op unless
// force is set (snooze expiry must notify even though mode == mode after
// the wake). Returns whether the transition was accepted.
//
// Callers hold e.mu.
func (e *Engine) transitionLocked(to Mode, force bool, reasons ...string) bool {
	from := e.mode
	if from == to && !force {
		return false
	}

	switch to {
	case ModePaused:
		if from != ModePaused {
			e.priorMode = from
		}
	case ModeSnoozed:
		e.snoozeUntil = e.now().Add(e.cfg.SnoozeDuration())
	case ModeDND:
		if from != ModeDND {
			e.priorToDND = from
		}
	case ModeActive:
		if from == ModeError {
			// Recovery probation: tolerate failures for a while before
			// error mode can be re-entered.
			e.probationUntil = e.now().Add(e.cfg.Recovery.Probation())
			e.recoveryAttempts = 0
			e.persistentFailureSent = false
		}
	}

	e.mode = to
	log.Infof("Mode change %s -> %s", from, to)

	ev := events.New(events.EventModeChanged)
	ev.OldMode = string(from)
	ev.NewMode = string(to)
	ev.Reasons = reasons
	e.notify(ev)

	return true
}

// notify publishes a transition through the single notification callback.
// The default callback feeds the event bus.
func (e *Engine) notify(ev *events.Event) {
	if e.notifyFn != nil {
		e.notifyFn(ev)
		return
	}
	if e.bus != nil {
		e.bus.PublishAsync(ev)
	}
}
