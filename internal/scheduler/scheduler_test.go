// Copyright 2026 The ASDGPT Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package scheduler

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IAMCANADIAN-cyber/ASDGPT-sub000/internal/config"
	"github.com/IAMCANADIAN-cyber/ASDGPT-sub000/internal/persist"
)

type fakeActuator struct {
	mu      sync.Mutex
	started []Payload
	stops   int
}

func (f *fakeActuator) Start(p Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, p)
	return nil
}

func (f *fakeActuator) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeActuator) last() Payload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started[len(f.started)-1]
}

func (f *fakeActuator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.started)
}

type schedFixture struct {
	sched    *Scheduler
	actuator *fakeActuator
	supp     *persist.SuppressionStore
	mode     string
	now      time.Time
}

func newFixture(t *testing.T) *schedFixture {
	t.Helper()

	f := &schedFixture{
		actuator: &fakeActuator{},
		supp:     persist.NewSuppressionStore(filepath.Join(t.TempDir(), "suppression.json")),
		mode:     "active",
		now:      time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
	}

	lib := NewLibrary()
	lib.Put("calming_breath", LibraryEntry{
		Category: "regulation",
		Message:  "Take a slow breath.",
		TierMessages: map[int]string{
			3: "Stop and breathe with me now.",
		},
	})
	lib.Put("posture_reset", LibraryEntry{
		Category: "posture",
		Message:  "Check your posture.",
	})

	cfg := config.SchedulerConfig{
		MaxTier:        3,
		NagIntervalSec: 60,
		CategoryCooldownsSec: map[string]int{
			"regulation": 600,
			"posture":    1200,
		},
		DefaultCooldownSec: 600,
		HistoryLimit:       100,
	}

	f.sched = New(cfg, lib, f.supp, f.actuator, nil,
		func() string { return f.mode },
		func() map[string]int { return map[string]int{"arousal": 50} })
	f.sched.SetClock(func() time.Time { return f.now })
	f.supp.SetClock(func() time.Time { return f.now })
	return f
}

func (f *schedFixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func TestProposeRejectsEmptyCandidate(t *testing.T) {
	f := newFixture(t)

	assert.False(t, f.sched.Propose(Candidate{}))
	assert.False(t, f.sched.Propose(Candidate{Type: "custom"}), "type without message")
	assert.Equal(t, 0, f.actuator.count())
}

func TestProposeLibraryCandidate(t *testing.T) {
	f := newFixture(t)

	require.True(t, f.sched.Propose(Candidate{ID: "calming_breath"}))
	p := f.actuator.last()
	assert.Equal(t, "calming_breath", p.ID)
	assert.Equal(t, "Take a slow breath.", p.Message)
	assert.Equal(t, 1, p.Tier)
	assert.False(t, p.SoundCue)
}

func TestProposeUnknownIDWithoutMessageRejected(t *testing.T) {
	f := newFixture(t)

	assert.False(t, f.sched.Propose(Candidate{ID: "mystery"}))
}

func TestProposeAdHocCandidate(t *testing.T) {
	f := newFixture(t)

	require.True(t, f.sched.Propose(Candidate{Type: "hydration", Message: "Drink some water."}))
	p := f.actuator.last()
	assert.Equal(t, "hydration", p.ID)
	assert.Equal(t, "Drink some water.", p.Message)
}

func TestProposeRejectedOutsideActiveMode(t *testing.T) {
	f := newFixture(t)
	f.mode = "dnd"

	assert.False(t, f.sched.Propose(Candidate{ID: "calming_breath"}))
}

func TestSystemCategoryBypassesEverything(t *testing.T) {
	f := newFixture(t)
	f.mode = "error"
	f.supp.Suppress("sensor_down", time.Hour)

	require.True(t, f.sched.Propose(Candidate{
		ID:       "sensor_down",
		Message:  "Camera disconnected.",
		Category: CategorySystem,
	}))
	// System notifications do not own the actuator slot.
	assert.Equal(t, 0, f.sched.ActiveTier())
}

func TestSuppressedCandidateRejected(t *testing.T) {
	f := newFixture(t)
	f.supp.Suppress("calming_breath", time.Hour)

	assert.False(t, f.sched.Propose(Candidate{ID: "calming_breath"}))

	// Expiry re-admits it.
	f.advance(2 * time.Hour)
	assert.True(t, f.sched.Propose(Candidate{ID: "calming_breath"}))
}

func TestNagWindowEscalatesTier(t *testing.T) {
	f := newFixture(t)

	require.True(t, f.sched.Propose(Candidate{ID: "calming_breath"}))
	f.sched.Completed(f.actuator.last().RecordID)

	// Within the nag interval: rejected outright.
	f.advance(30 * time.Second)
	assert.False(t, f.sched.Propose(Candidate{ID: "calming_breath"}))

	// Inside [nag, cooldown): escalate 1 -> 2.
	f.advance(31 * time.Second)
	require.True(t, f.sched.Propose(Candidate{ID: "calming_breath"}))
	p := f.actuator.last()
	assert.Equal(t, 2, p.Tier)
	assert.True(t, p.SoundCue)
	assert.Empty(t, p.UrgentPrefix)
	f.sched.Completed(p.RecordID)

	// Again: escalate 2 -> 3 with the tier-3 message and urgent shaping.
	f.advance(61 * time.Second)
	require.True(t, f.sched.Propose(Candidate{ID: "calming_breath"}))
	p = f.actuator.last()
	assert.Equal(t, 3, p.Tier)
	assert.Equal(t, "Stop and breathe with me now.", p.Message)
	assert.Equal(t, "This is important. ", p.UrgentPrefix)
	assert.True(t, p.VisualPrompt)
	assert.True(t, p.ForceAction)
	f.sched.Completed(p.RecordID)

	// Escalation is capped at MaxTier.
	f.advance(61 * time.Second)
	require.True(t, f.sched.Propose(Candidate{ID: "calming_breath"}))
	assert.Equal(t, 3, f.actuator.last().Tier)
}

func TestNagEscalationIgnoresRequestedTier(t *testing.T) {
	f := newFixture(t)

	require.True(t, f.sched.Propose(Candidate{ID: "calming_breath"}))
	f.sched.Completed(f.actuator.last().RecordID)

	// A nag that asks for tier 3 against a prior tier-1 record still steps
	// one tier at a time.
	f.advance(61 * time.Second)
	require.True(t, f.sched.Propose(Candidate{ID: "calming_breath", Tier: 3}))
	assert.Equal(t, 2, f.actuator.last().Tier)
}

func TestFullCooldownResetsTier(t *testing.T) {
	f := newFixture(t)

	require.True(t, f.sched.Propose(Candidate{ID: "calming_breath"}))
	f.sched.Completed(f.actuator.last().RecordID)

	f.advance(11 * time.Minute)
	require.True(t, f.sched.Propose(Candidate{ID: "calming_breath"}))
	assert.Equal(t, 1, f.actuator.last().Tier)
}

func TestCategoryCooldownBlocksNewIDs(t *testing.T) {
	f := newFixture(t)

	require.True(t, f.sched.Propose(Candidate{Type: "breathing", Message: "Breathe.", Category: "regulation"}))
	f.sched.Completed(f.actuator.last().RecordID)

	f.advance(2 * time.Minute)
	assert.False(t, f.sched.Propose(Candidate{ID: "calming_breath"}),
		"different id in a cooling category is rejected")

	f.advance(10 * time.Minute)
	assert.True(t, f.sched.Propose(Candidate{ID: "calming_breath"}))
}

func TestPreemptionRequiresStrictlyHigherTier(t *testing.T) {
	f := newFixture(t)

	require.True(t, f.sched.Propose(Candidate{ID: "calming_breath"}))
	require.Equal(t, 1, f.sched.ActiveTier())

	// Same tier in a different category: no preemption.
	f.advance(1 * time.Second)
	assert.False(t, f.sched.Propose(Candidate{ID: "posture_reset", Tier: 1}))
	assert.Equal(t, 0, f.actuator.stops)

	// Strictly higher tier preempts.
	assert.True(t, f.sched.Propose(Candidate{ID: "posture_reset", Tier: 3}))
	assert.Equal(t, 1, f.actuator.stops)
	assert.Equal(t, 3, f.sched.ActiveTier())
}

func TestCompletedClearsActive(t *testing.T) {
	f := newFixture(t)

	require.True(t, f.sched.Propose(Candidate{ID: "calming_breath"}))
	rec := f.actuator.last().RecordID

	f.sched.Completed("some-other-record")
	assert.Equal(t, 1, f.sched.ActiveTier(), "completion of a stale record is ignored")

	f.sched.Completed(rec)
	assert.Equal(t, 0, f.sched.ActiveTier())
}

func TestRecentKeepsChronologicalOrder(t *testing.T) {
	f := newFixture(t)

	require.True(t, f.sched.Propose(Candidate{ID: "calming_breath"}))
	f.sched.Completed(f.actuator.last().RecordID)
	f.advance(15 * time.Minute)
	require.True(t, f.sched.Propose(Candidate{ID: "posture_reset"}))

	recent := f.sched.Recent(10)
	require.Len(t, recent, 2)
	assert.Equal(t, "calming_breath", recent[0].ID)
	assert.Equal(t, "posture_reset", recent[1].ID)

	last := f.sched.Recent(1)
	require.Len(t, last, 1)
	assert.Equal(t, "posture_reset", last[0].ID)
}

func TestCustomRuleVetoes(t *testing.T) {
	f := newFixture(t)
	f.sched.SetConfig(config.SchedulerConfig{
		MaxTier:            3,
		NagIntervalSec:     60,
		DefaultCooldownSec: 600,
		HistoryLimit:       100,
		Rules:              []string{`category != "posture"`},
	})

	assert.False(t, f.sched.Propose(Candidate{ID: "posture_reset"}))
	assert.True(t, f.sched.Propose(Candidate{ID: "calming_breath"}))
}
