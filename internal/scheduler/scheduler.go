// Copyright 2026 The ASDGPT Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package scheduler

import (
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/IAMCANADIAN-cyber/ASDGPT-sub000/internal/config"
	"github.com/IAMCANADIAN-cyber/ASDGPT-sub000/internal/events"
	"github.com/IAMCANADIAN-cyber/ASDGPT-sub000/internal/persist"
)

// activeRun tracks the currently executing intervention.
type activeRun struct {
	recordID string
	id       string
	tier     int
}

// Scheduler admission-controls candidate interventions. All of its state
// (history, cooldown timers, suppression map, active run) is serialized
// through one mutex; the polling path and the inference completion path
// both propose through it.
type Scheduler struct {
	mu sync.Mutex

	cfg         config.SchedulerConfig
	library     *Library
	suppression *persist.SuppressionStore
	rules       *RuleSet
	actuator    Actuator
	bus         *events.Bus

	// modeFn and stateFn read engine-owned state for admission decisions
	// and rule environments.
	modeFn  func() string
	stateFn func() map[string]int

	history        []Record
	lastByID       map[string]time.Time
	lastByCategory map[string]time.Time
	lastTierByID   map[string]int
	active         *activeRun

	now func() time.Time
}

// New creates a scheduler.
func New(cfg config.SchedulerConfig, library *Library, suppression *persist.SuppressionStore, actuator Actuator, bus *events.Bus, modeFn func() string, stateFn func() map[string]int) *Scheduler {
	return &Scheduler{
		cfg:            cfg,
		library:        library,
		suppression:    suppression,
		rules:          NewRuleSet(cfg.Rules),
		actuator:       actuator,
		bus:            bus,
		modeFn:         modeFn,
		stateFn:        stateFn,
		lastByID:       make(map[string]time.Time),
		lastByCategory: make(map[string]time.Time),
		lastTierByID:   make(map[string]int),
		now:            time.Now,
	}
}

// SetClock overrides the scheduler's clock. Test hook.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetConfig swaps cooldown tables and rules. Used by config hot reload.
func (s *Scheduler) SetConfig(cfg config.SchedulerConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.rules = NewRuleSet(cfg.Rules)
}

// Propose runs the admission checks against a candidate and, when accepted,
// records it and begins execution. The return value reports acceptance.
func (s *Scheduler) Propose(c Candidate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	// 1. A candidate must carry an id or an ad-hoc type with a message.
	id := c.ID
	if id == "" {
		if c.Type == "" || c.Message == "" {
			log.Debug("Rejecting intervention candidate without id or type+message")
			return false
		}
		id = c.Type
	}

	message, category, ok := s.resolveLocked(c, id)
	if !ok {
		return false
	}
	tier := c.Tier
	if tier <= 0 {
		tier = 1
	}

	// System notifications bypass every check below.
	if category == CategorySystem {
		s.acceptLocked(id, category, tier, message, c.Extra, false)
		return true
	}

	// 2. Outside active mode nothing may act.
	if mode := s.modeFn(); mode != "active" {
		log.Debugf("Rejecting intervention %s: mode is %s", id, mode)
		return false
	}

	// 3. Suppression, with lazy purge of expired entries.
	if s.suppression != nil && s.suppression.IsSuppressed(id) {
		log.Debugf("Rejecting intervention %s: suppressed", id)
		return false
	}

	// 4. Escalation / cooldown interaction.
	now := s.now()
	cooldown := s.cfg.CategoryCooldown(category)
	if last, seen := s.lastByID[id]; seen {
		elapsed := now.Sub(last)
		switch {
		case elapsed >= cooldown:
			// Fully cooled: accept at the requested tier.
		case elapsed >= s.cfg.NagInterval():
			// Escalation candidate: bypass the category cooldown and
			// raise the tier monotonically.
			prior := s.lastTierByID[id]
			tier = prior + 1
			if tier > s.cfg.MaxTier {
				tier = s.cfg.MaxTier
			}
			// Re-resolve in case the library carries tier overrides.
			if c.Message == "" {
				if entry, found := s.library.Resolve(id); found {
					message = entry.MessageForTier(tier)
				}
			}
		default:
			log.Debugf("Rejecting intervention %s: nag interval not reached", id)
			return false
		}
	} else if last, seen := s.lastByCategory[category]; seen && now.Sub(last) < cooldown {
		log.Debugf("Rejecting intervention %s: category %s cooling down", id, category)
		return false
	}

	// Custom rules may veto anything short of a system notification.
	env := RuleEnv{
		ID:       id,
		Category: category,
		Tier:     tier,
		Hour:     now.Hour(),
		Mode:     s.modeFn(),
	}
	if s.stateFn != nil {
		env.State = s.stateFn()
	}
	if !s.rules.Allows(env) {
		return false
	}

	// 5. Preemption: only a strictly higher tier displaces a running
	// intervention.
	if s.active != nil {
		if tier <= s.active.tier {
			log.Debugf("Rejecting intervention %s: tier %d does not exceed active tier %d", id, tier, s.active.tier)
			return false
		}
		s.stopActiveLocked("preempted")
	}

	s.acceptLocked(id, category, tier, message, c.Extra, true)
	return true
}

// resolveLocked determines the candidate's message and category.
func (s *Scheduler) resolveLocked(c Candidate, id string) (message, category string, ok bool) {
	message = c.Message
	category = c.Category

	if c.ID != "" {
		entry, found := s.library.Resolve(c.ID)
		if found {
			if message == "" {
				tier := c.Tier
				if tier <= 0 {
					tier = 1
				}
				message = entry.MessageForTier(tier)
			}
			if category == "" {
				category = entry.Category
			}
		}
		if message == "" {
			log.Warnf("Rejecting intervention %s: not in library and no message supplied", id)
			return "", "", false
		}
	}
	if category == "" {
		category = "regulation"
	}
	return message, category, true
}

// acceptLocked records an accepted start and begins execution.
func (s *Scheduler) acceptLocked(id, category string, tier int, message string, extra map[string]interface{}, trackActive bool) {
	now := s.now()
	rec := Record{
		RecordID:  uuid.NewString(),
		ID:        id,
		Category:  category,
		Tier:      tier,
		Timestamp: now,
	}

	s.history = append(s.history, rec)
	if limit := s.cfg.HistoryLimit; limit > 0 && len(s.history) > limit {
		s.history = s.history[len(s.history)-limit:]
	}
	s.lastByID[id] = now
	s.lastByCategory[category] = now
	s.lastTierByID[id] = tier

	payload := shapePayload(rec.RecordID, id, message, tier, extra)
	if s.actuator != nil {
		if err := s.actuator.Start(payload); err != nil {
			log.Errorf("Actuator rejected intervention %s: %v", id, err)
		}
	}
	if trackActive {
		s.active = &activeRun{recordID: rec.RecordID, id: id, tier: tier}
	}

	log.Infof("Started intervention %s (tier %d, category %s)", id, tier, category)

	if s.bus != nil {
		ev := events.New(events.EventInterventionStarted)
		ev.Data = map[string]interface{}{
			"record_id": rec.RecordID,
			"id":        id,
			"category":  category,
			"tier":      tier,
		}
		s.bus.PublishAsync(ev)
	}
}

// stopActiveLocked interrupts the running intervention.
func (s *Scheduler) stopActiveLocked(reason string) {
	if s.active == nil {
		return
	}
	if s.actuator != nil {
		if err := s.actuator.Stop(); err != nil {
			log.Warnf("Failed to stop intervention %s: %v", s.active.id, err)
		}
	}
	if s.bus != nil {
		ev := events.New(events.EventInterventionStopped)
		ev.Data = map[string]interface{}{
			"record_id": s.active.recordID,
			"id":        s.active.id,
			"tier":      s.active.tier,
			"reason":    reason,
		}
		s.bus.PublishAsync(ev)
	}
	s.active = nil
}

// Completed is called by the actuator collaborator when an intervention
// finishes executing.
func (s *Scheduler) Completed(recordID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil && s.active.recordID == recordID {
		s.active = nil
	}
}

// StopActive interrupts the running intervention, if any.
func (s *Scheduler) StopActive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopActiveLocked("requested")
}

// ActiveTier returns the tier of the running intervention, or 0.
func (s *Scheduler) ActiveTier() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return 0
	}
	return s.active.tier
}

// Recent returns up to n most recent records, newest last.
func (s *Scheduler) Recent(n int) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n <= 0 || n > len(s.history) {
		n = len(s.history)
	}
	out := make([]Record, n)
	copy(out, s.history[len(s.history)-n:])
	return out
}

// LastRecord returns the most recent record for an intervention id.
func (s *Scheduler) LastRecord(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].ID == id {
			return s.history[i], true
		}
	}
	return Record{}, false
}
