// Copyright 2026 The ASDGPT Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package scheduler admission-controls candidate interventions against
// cooldowns, tier escalation history, suppression lists, and preemption,
// and shapes the accepted payload by tier.
package scheduler

import (
	"fmt"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// LibraryEntry describes one known intervention.
type LibraryEntry struct {
	// Category drives the cooldown table lookup.
	Category string `yaml:"category" json:"category"`

	// Message is the default spoken/displayed text.
	Message string `yaml:"message" json:"message"`

	// TierMessages optionally overrides the message per tier.
	TierMessages map[int]string `yaml:"tier-messages,omitempty" json:"tier_messages,omitempty"`
}

// Library resolves intervention ids to their definitions. It is loaded from
// a YAML file mapping id to entry and can be hot-reloaded.
type Library struct {
	mu      sync.RWMutex
	entries map[string]LibraryEntry
}

// NewLibrary creates an empty library.
func NewLibrary() *Library {
	return &Library{entries: make(map[string]LibraryEntry)}
}

// LoadFile replaces the library contents from the YAML file at path.
// A missing file leaves the library empty rather than failing: ad-hoc
// candidates carry their own message.
func (l *Library) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		log.Debugf("Intervention library %s not found, starting empty", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read intervention library: %w", err)
	}

	entries := make(map[string]LibraryEntry)
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to parse intervention library: %w", err)
	}

	l.mu.Lock()
	l.entries = entries
	l.mu.Unlock()

	log.Infof("Loaded %d interventions from %s", len(entries), path)
	return nil
}

// Resolve looks up an intervention id.
func (l *Library) Resolve(id string) (LibraryEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entry, ok := l.entries[id]
	return entry, ok
}

// Put registers an entry. Used by tests and built-in reflexive ids.
func (l *Library) Put(id string, entry LibraryEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[id] = entry
}

// MessageForTier returns the entry's message for a tier, falling back to
// the default message.
func (e LibraryEntry) MessageForTier(tier int) string {
	if msg, ok := e.TierMessages[tier]; ok {
		return msg
	}
	return e.Message
}
