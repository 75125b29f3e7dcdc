// Copyright 2026 The ASDGPT Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package actuator delivers intervention payloads to the user. The daemon
// itself has no speech or display stack; the console actuator renders
// payloads to the structured log, where a desktop shell or TTS sidecar
// tails them.
package actuator

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/IAMCANADIAN-cyber/ASDGPT-sub000/internal/scheduler"
)

// Console renders intervention payloads to the log.
type Console struct {
	mu      sync.Mutex
	current scheduler.Payload
	running bool
}

// NewConsole returns a console actuator.
func NewConsole() *Console {
	return &Console{}
}

// Start begins delivering a payload, replacing whatever was running.
func (c *Console) Start(p scheduler.Payload) error {
	c.mu.Lock()
	c.current = p
	c.running = true
	c.mu.Unlock()

	msg := p.Message
	if p.UrgentPrefix != "" {
		msg = p.UrgentPrefix + msg
	}
	fields := log.Fields{
		"intervention": p.ID,
		"tier":         p.Tier,
	}
	if p.SoundCue {
		fields["sound_cue"] = true
	}
	if p.VisualPrompt {
		fields["visual_prompt"] = true
	}
	if p.ForceAction {
		fields["force_action"] = true
	}
	log.WithFields(fields).Infof("INTERVENTION %s", msg)
	return nil
}

// Stop ends the current delivery, if any.
func (c *Console) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil
	}
	log.WithField("intervention", c.current.ID).Info("Intervention stopped")
	c.running = false
	return nil
}

// Running reports whether a payload is currently being delivered.
func (c *Console) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
