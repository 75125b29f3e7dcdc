// Copyright 2026 The ASDGPT Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package persist round-trips the suppression and preference maps through
// the JSON files owned by the persistence collaborator. The in-memory maps
// are the authority during a session; files are reloaded at startup (purging
// expired entries) and rewritten on change.
package persist

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/IAMCANADIAN-cyber/ASDGPT-sub000/internal/util"
)

// SuppressionStore holds intervention ids the user has silenced, each with
// an expiry timestamp. Entries past expiry are lazily purged on read.
type SuppressionStore struct {
	mu      sync.Mutex
	path    string
	entries map[string]time.Time
	now     func() time.Time
}

// NewSuppressionStore creates a store backed by the JSON file at path.
// The file shape is {"intervention_id": "RFC3339 expiry", ...}.
func NewSuppressionStore(path string) *SuppressionStore {
	return &SuppressionStore{
		path:    path,
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// SetClock overrides the store's clock. Test hook.
func (s *SuppressionStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Load reads the file, replacing the in-memory map. Expired entries are
// dropped on load. A missing file is not an error.
func (s *SuppressionStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read suppression file: %w", err)
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse suppression JSON: %w", err)
	}

	now := s.now()
	s.entries = make(map[string]time.Time, len(raw))
	purged := 0
	for id, expiryStr := range raw {
		expiry, err := time.Parse(time.RFC3339, expiryStr)
		if err != nil {
			log.Warnf("Dropping suppression entry %q with bad expiry %q: %v", id, expiryStr, err)
			continue
		}
		if !expiry.After(now) {
			purged++
			continue
		}
		s.entries[id] = expiry
	}
	if purged > 0 {
		log.Infof("Purged %d expired suppression entries on load", purged)
	}
	return nil
}

// IsSuppressed reports whether id has an unexpired entry. Expired entries
// are purged as a side effect of the check.
func (s *SuppressionStore) IsSuppressed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, ok := s.entries[id]
	if !ok {
		return false
	}
	if !expiry.After(s.now()) {
		delete(s.entries, id)
		s.saveLocked()
		return false
	}
	return true
}

// Suppress records an entry for id lasting the given duration.
func (s *SuppressionStore) Suppress(id string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[id] = s.now().Add(d)
	s.saveLocked()
}

// Remove deletes any entry for id.
func (s *SuppressionStore) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; ok {
		delete(s.entries, id)
		s.saveLocked()
	}
}

// IDs returns the ids with unexpired entries.
func (s *SuppressionStore) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	ids := make([]string, 0, len(s.entries))
	for id, expiry := range s.entries {
		if expiry.After(now) {
			ids = append(ids, id)
		}
	}
	return ids
}

// saveLocked writes the map in the collaborator file shape. Failures are
// logged rather than propagated: the in-memory map stays authoritative.
func (s *SuppressionStore) saveLocked() {
	raw := make(map[string]string, len(s.entries))
	for id, expiry := range s.entries {
		raw[id] = expiry.Format(time.RFC3339)
	}

	if err := util.AtomicWriteJSON(s.path, raw, 0o644); err != nil {
		log.Errorf("Failed to write suppression file: %v", err)
	}
}
