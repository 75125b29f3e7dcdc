// Copyright 2026 The ASDGPT Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package persist

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/IAMCANADIAN-cyber/ASDGPT-sub000/internal/util"
)

// PreferenceStat tracks positive feedback for one intervention id.
type PreferenceStat struct {
	// Count is how many times positive feedback arrived for this id.
	Count int `json:"count"`

	// LastSeen is when feedback last arrived.
	LastSeen time.Time `json:"last_seen"`
}

// PreferenceStore accumulates per-intervention positive-feedback stats.
// It is incremented when feedback arrives and consulted read-only when the
// engine builds inference context.
type PreferenceStore struct {
	mu      sync.Mutex
	path    string
	entries map[string]PreferenceStat
	now     func() time.Time
}

// NewPreferenceStore creates a store backed by the JSON file at path.
// The file shape is {"intervention_id": {"count": n, "last_seen": ts}, ...}.
func NewPreferenceStore(path string) *PreferenceStore {
	return &PreferenceStore{
		path:    path,
		entries: make(map[string]PreferenceStat),
		now:     time.Now,
	}
}

// SetClock overrides the store's clock. Test hook.
func (p *PreferenceStore) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// Load reads the file, replacing the in-memory map. A missing file is not
// an error.
func (p *PreferenceStore) Load() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read preferences file: %w", err)
	}

	entries := make(map[string]PreferenceStat)
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to parse preferences JSON: %w", err)
	}
	p.entries = entries
	return nil
}

// Record increments the stat for id.
func (p *PreferenceStore) Record(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	stat := p.entries[id]
	stat.Count++
	stat.LastSeen = p.now()
	p.entries[id] = stat
	p.saveLocked()
}

// Get returns the stat for id.
func (p *PreferenceStore) Get(id string) (PreferenceStat, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	stat, ok := p.entries[id]
	return stat, ok
}

// TopIDs returns up to limit intervention ids ordered by feedback count,
// highest first. Used for the inference context's preferred-ids hint.
func (p *PreferenceStore) TopIDs(limit int) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]string, 0, len(p.entries))
	for id := range p.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := p.entries[ids[i]], p.entries[ids[j]]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return ids[i] < ids[j]
	})
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids
}

func (p *PreferenceStore) saveLocked() {
	if err := util.AtomicWriteJSON(p.path, p.entries, 0o644); err != nil {
		log.Errorf("Failed to write preferences file: %v", err)
	}
}
