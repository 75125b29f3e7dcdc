// Copyright 2026 The ASDGPT Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IAMCANADIAN-cyber/ASDGPT-sub000/internal/config"
	"github.com/IAMCANADIAN-cyber/ASDGPT-sub000/internal/estimator"
	"github.com/IAMCANADIAN-cyber/ASDGPT-sub000/internal/events"
	"github.com/IAMCANADIAN-cyber/ASDGPT-sub000/internal/inference"
	"github.com/IAMCANADIAN-cyber/ASDGPT-sub000/internal/persist"
	"github.com/IAMCANADIAN-cyber/ASDGPT-sub000/internal/scheduler"
	"github.com/IAMCANADIAN-cyber/ASDGPT-sub000/internal/sensors"
	"github.com/IAMCANADIAN-cyber/ASDGPT-sub000/internal/trigger"
)

// stubCaller returns queued results/errors in order, repeating the last.
type stubCaller struct {
	mu       sync.Mutex
	results  []*inference.Result
	errs     []error
	calls    int
	payloads []inference.ContextPayload
}

func (s *stubCaller) queue(res *inference.Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, res)
	s.errs = append(s.errs, err)
}

func (s *stubCaller) Call(_ context.Context, _ sensors.AudioMetrics, _ sensors.VideoMetrics, payload inference.ContextPayload) (*inference.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, payload)
	i := s.calls
	s.calls++
	if len(s.results) == 0 {
		return nil, errors.New("no result queued")
	}
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	return s.results[i], s.errs[i]
}

func (s *stubCaller) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubCaller) lastPayload() inference.ContextPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payloads[len(s.payloads)-1]
}

type captureActuator struct {
	mu      sync.Mutex
	started []scheduler.Payload
}

func (a *captureActuator) Start(p scheduler.Payload) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.started = append(a.started, p)
	return nil
}

func (a *captureActuator) Stop() error { return nil }

func (a *captureActuator) ids() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.started))
	for i, p := range a.started {
		out[i] = p.ID
	}
	return out
}

type fixture struct {
	t        *testing.T
	eng      *Engine
	cfg      *config.Config
	sched    *scheduler.Scheduler
	est      *estimator.Estimator
	caller   *stubCaller
	act      *captureActuator
	supp     *persist.SuppressionStore
	prefs    *persist.PreferenceStore
	breaker  *inference.Breaker
	probeErr error

	mu     sync.Mutex
	now    time.Time
	events []*events.Event
}

func newFixture(t *testing.T, mutate func(cfg *config.Config)) *fixture {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Triggers.MinCallIntervalSec = 15
	cfg.Inference.FallbackEnabled = true
	if mutate != nil {
		mutate(cfg)
	}

	f := &fixture{
		t:      t,
		cfg:    cfg,
		caller: &stubCaller{},
		act:    &captureActuator{},
		now:    time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.now
	}

	f.est = estimator.New(cfg.Estimator)
	f.supp = persist.NewSuppressionStore(filepath.Join(t.TempDir(), "suppression.json"))
	f.supp.SetClock(clock)
	f.prefs = persist.NewPreferenceStore(filepath.Join(t.TempDir(), "preferences.json"))

	lib := scheduler.NewLibrary()
	lib.Put("calming_breath", scheduler.LibraryEntry{Category: "regulation", Message: "Take a slow breath."})
	lib.Put("doom_scroll_breaker", scheduler.LibraryEntry{Category: "break", Message: "Put the phone down for a minute."})

	var eng *Engine
	f.sched = scheduler.New(cfg.Scheduler, lib, f.supp, f.act, nil,
		func() string {
			if eng == nil {
				return ""
			}
			return eng.Mode()
		},
		f.est.Values)
	f.sched.SetClock(clock)

	f.breaker = inference.NewBreaker(cfg.Inference.BreakerMaxFailures, cfg.Inference.BreakerCooldown())
	f.breaker.SetClock(clock)

	eng = New(cfg, Deps{
		Estimator:   f.est,
		Policy:      trigger.NewPolicy(cfg.Triggers),
		Breaker:     f.breaker,
		Client:      f.caller,
		Scheduler:   f.sched,
		Suppression: f.supp,
		Preferences: f.prefs,
		RecoveryProbe: func() error {
			f.mu.Lock()
			defer f.mu.Unlock()
			return f.probeErr
		},
	})
	eng.SetClock(clock)
	eng.SetNotifyFn(func(ev *events.Event) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.events = append(f.events, ev)
	})
	f.eng = eng
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// tick runs one Update and joins any inference sequence it dispatched.
func (f *fixture) tick() {
	f.eng.Update()
	f.eng.Shutdown(5 * time.Second)
}

func (f *fixture) setProbeErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probeErr = err
}

func (f *fixture) eventsOfType(t events.EventType) []*events.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*events.Event
	for _, ev := range f.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (f *fixture) lastModeChange() *events.Event {
	changes := f.eventsOfType(events.EventModeChanged)
	if len(changes) == 0 {
		return nil
	}
	return changes[len(changes)-1]
}

func loudSpeech() sensors.AudioMetrics {
	return sensors.AudioMetrics{Level: 0.9, IsSpeech: true}
}

func goodResult(dims map[string]float64) *inference.Result {
	if dims == nil {
		dims = map[string]float64{"arousal": 50, "overload": 30, "focus": 60, "energy": 60, "mood": 60}
	}
	return &inference.Result{StateEstimation: dims}
}

func TestSnoozeExpiryWakesWithReason(t *testing.T) {
	f := newFixture(t, nil)

	require.NoError(t, f.eng.SetMode("snoozed"))
	f.tick()
	assert.Equal(t, "snoozed", f.eng.Mode())

	f.advance(f.cfg.SnoozeDuration() + time.Second)
	f.tick()

	assert.Equal(t, "active", f.eng.Mode())
	change := f.lastModeChange()
	require.NotNil(t, change)
	assert.Equal(t, "snoozed", change.OldMode)
	assert.Equal(t, "active", change.NewMode)
	assert.True(t, change.HasReason(ReasonFromSnoozeExpiry))
}

func TestPauseRecordsPriorMode(t *testing.T) {
	f := newFixture(t, nil)

	require.NoError(t, f.eng.SetMode("snoozed"))
	assert.Equal(t, "paused", f.eng.TogglePauseResume())

	// Snooze has not expired: resume goes back to snoozed.
	assert.Equal(t, "snoozed", f.eng.TogglePauseResume())

	// Pause again, let the snooze run out, then resume: active.
	f.eng.TogglePauseResume()
	f.advance(f.cfg.SnoozeDuration() + time.Second)
	assert.Equal(t, "active", f.eng.TogglePauseResume())
}

func TestCycleMode(t *testing.T) {
	f := newFixture(t, nil)

	assert.Equal(t, "paused", f.eng.CycleMode())
	assert.Equal(t, "snoozed", f.eng.CycleMode())
	assert.Equal(t, "active", f.eng.CycleMode())
}

func TestSetModeRejectsUnknown(t *testing.T) {
	f := newFixture(t, nil)

	assert.Error(t, f.eng.SetMode("zen"))
	assert.Equal(t, "active", f.eng.Mode())
	assert.Nil(t, f.lastModeChange())
}

func TestSetModeSameModeIsNoOp(t *testing.T) {
	f := newFixture(t, nil)

	require.NoError(t, f.eng.SetMode("active"))
	assert.Nil(t, f.lastModeChange())
}

func TestMeetingHeuristicEntersDNDAndInputClearsIt(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Meeting.Enabled = true
		cfg.Meeting.SpeechSpanSec = 90
		cfg.Meeting.InputIdleSec = 120
	})

	f.caller.queue(goodResult(nil), nil)

	f.eng.IngestAudio(loudSpeech())
	f.eng.IngestVideo(sensors.VideoMetrics{Activity: 0.1, FacePresent: true})
	f.tick()
	assert.Equal(t, "active", f.eng.Mode(), "speech span not yet sustained")

	f.advance(3 * time.Minute)
	f.eng.IngestAudio(loudSpeech())
	f.tick()

	assert.Equal(t, "dnd", f.eng.Mode())
	change := f.lastModeChange()
	require.NotNil(t, change)
	assert.True(t, change.HasReason(ReasonMeetingDetected))

	f.eng.RegisterUserInput()
	assert.Equal(t, "active", f.eng.Mode())
	assert.True(t, f.lastModeChange().HasReason(ReasonMeetingCleared))
}

func TestDNDDiscardsCandidates(t *testing.T) {
	f := newFixture(t, nil)

	res := goodResult(nil)
	res.Suggestion = &inference.Suggestion{ID: "calming_breath"}
	f.caller.queue(res, nil)

	require.NoError(t, f.eng.SetMode("dnd"))
	f.eng.IngestAudio(loudSpeech())
	f.tick()

	assert.Equal(t, 1, f.caller.callCount(), "monitoring calls continue in dnd")
	assert.Empty(t, f.act.ids(), "suggestions are discarded outside active mode")
}

func TestSuggestionProposedInActiveMode(t *testing.T) {
	f := newFixture(t, nil)

	res := goodResult(nil)
	res.Suggestion = &inference.Suggestion{ID: "calming_breath"}
	f.caller.queue(res, nil)

	f.eng.IngestAudio(loudSpeech())
	f.tick()

	assert.Equal(t, []string{"calming_breath"}, f.act.ids())
	succeeded := f.eventsOfType(events.EventInferenceSucceeded)
	assert.Len(t, succeeded, 1)
}

func TestReflexiveTriggerOverridesSuggestion(t *testing.T) {
	f := newFixture(t, nil)

	res := goodResult(nil)
	res.VisualContext = []string{"phone_usage"}
	res.Suggestion = &inference.Suggestion{ID: "calming_breath"}
	f.caller.queue(res, nil)

	for i := 0; i < 3; i++ {
		f.eng.IngestAudio(loudSpeech())
		f.tick()
		f.advance(16 * time.Second)
		if recent := f.sched.Recent(1); len(recent) > 0 {
			f.sched.Completed(recent[0].RecordID)
		}
	}

	require.Equal(t, 3, f.caller.callCount())
	ids := f.act.ids()
	require.NotEmpty(t, ids)
	assert.Equal(t, "doom_scroll_breaker", ids[len(ids)-1],
		"third consecutive phone_usage tag fires the reflexive intervention")

	// The counter reset on fire: the next tagged result starts over.
	f.eng.IngestAudio(loudSpeech())
	f.tick()
	assert.Equal(t, "doom_scroll_breaker", ids[len(ids)-1])
}

func TestTagCounterResetsOnAbsence(t *testing.T) {
	f := newFixture(t, nil)

	tagged := goodResult(nil)
	tagged.VisualContext = []string{"phone_usage"}
	clean := goodResult(nil)

	f.caller.queue(tagged, nil)
	f.caller.queue(tagged, nil)
	f.caller.queue(clean, nil)
	f.caller.queue(tagged, nil)

	for i := 0; i < 4; i++ {
		f.eng.IngestAudio(loudSpeech())
		f.tick()
		f.advance(16 * time.Second)
	}

	assert.NotContains(t, f.act.ids(), "doom_scroll_breaker",
		"a gap in the tag stream resets the persistence counter")
}

func TestBreakerTripAndFallback(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Inference.BreakerMaxFailures = 1
	})

	f.caller.queue(nil, errors.New("backend down"))

	f.eng.IngestAudio(loudSpeech())
	f.tick()

	assert.Len(t, f.eventsOfType(events.EventInferenceFailed), 1)
	assert.Len(t, f.eventsOfType(events.EventBreakerOpened), 1)

	// Next trigger short-circuits to the fallback: no backend call, but
	// the estimator still moves off baseline.
	before, _ := f.est.Value("overload")
	f.advance(16 * time.Second)
	f.eng.IngestAudio(loudSpeech())
	f.tick()

	assert.Equal(t, 1, f.caller.callCount(), "open breaker suppresses backend calls")
	after, _ := f.est.Value("overload")
	assert.Greater(t, after, before, "fallback result feeds the estimator")
}

func TestBreakerHealsOnSuccess(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Inference.BreakerMaxFailures = 1
		cfg.Inference.BreakerCooldownSec = 30
	})

	f.caller.queue(nil, errors.New("backend down"))
	f.caller.queue(goodResult(nil), nil)

	f.eng.IngestAudio(loudSpeech())
	f.tick()
	require.Len(t, f.eventsOfType(events.EventBreakerOpened), 1)

	// After the cooldown the next sequence is admitted and heals.
	f.advance(31 * time.Second)
	f.eng.IngestAudio(loudSpeech())
	f.tick()

	assert.Len(t, f.eventsOfType(events.EventBreakerClosed), 1)
	assert.Equal(t, 2, f.caller.callCount())
}

func TestErrorModeRecoveryAndPersistentFailure(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Recovery.AttemptIntervalSec = 30
		cfg.Recovery.MaxAttempts = 2
		cfg.Recovery.ProbationSec = 60
	})
	f.setProbeErr(errors.New("camera offline"))

	f.eng.ReportHardwareFailure(errors.New("camera offline"))
	require.Equal(t, "error", f.eng.Mode())

	// Attempts run on the configured interval; two failures exhaust the
	// budget and emit exactly one persistent-failure notification.
	f.tick()
	f.advance(31 * time.Second)
	f.tick()
	f.advance(31 * time.Second)
	f.tick()
	assert.Len(t, f.eventsOfType(events.EventPersistentFailure), 1)
	assert.Equal(t, "error", f.eng.Mode())

	// Probing continues; a later success recovers to active.
	f.setProbeErr(nil)
	f.advance(31 * time.Second)
	f.tick()
	assert.Equal(t, "active", f.eng.Mode())
	assert.True(t, f.lastModeChange().HasReason(ReasonRecovery))

	// Failures during probation are tolerated.
	f.eng.ReportHardwareFailure(errors.New("camera flaky"))
	assert.Equal(t, "active", f.eng.Mode())

	// After probation the same failure re-enters error mode.
	f.advance(2 * time.Minute)
	f.eng.ReportHardwareFailure(errors.New("camera offline"))
	assert.Equal(t, "error", f.eng.Mode())
}

func TestRecoveryIntervalRespected(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Recovery.AttemptIntervalSec = 30
		cfg.Recovery.MaxAttempts = 5
	})
	f.setProbeErr(errors.New("offline"))
	f.eng.ReportHardwareFailure(errors.New("offline"))

	f.tick()
	f.advance(10 * time.Second)
	f.tick()

	f.setProbeErr(nil)
	f.advance(5 * time.Second)
	f.tick()
	assert.Equal(t, "error", f.eng.Mode(), "no second attempt before the interval passes")

	f.advance(30 * time.Second)
	f.tick()
	assert.Equal(t, "active", f.eng.Mode())
}

func TestPausedModeSuppressesCalls(t *testing.T) {
	f := newFixture(t, nil)
	f.caller.queue(goodResult(nil), nil)

	require.NoError(t, f.eng.SetMode("paused"))
	f.eng.IngestAudio(loudSpeech())
	f.tick()

	assert.Equal(t, 0, f.caller.callCount())
}

func TestUpdateNeverIssuesConcurrentCalls(t *testing.T) {
	f := newFixture(t, nil)

	release := make(chan struct{})
	blocking := &blockingCaller{release: release}
	f.eng.client = blocking

	f.eng.IngestAudio(loudSpeech())
	f.eng.Update()

	// Second tick while the first call is stuck: no new dispatch.
	f.advance(16 * time.Second)
	f.eng.Update()
	f.advance(16 * time.Second)
	f.eng.Update()

	close(release)
	f.eng.Shutdown(5 * time.Second)
	assert.Equal(t, 1, blocking.count())
}

type blockingCaller struct {
	mu      sync.Mutex
	calls   int
	release chan struct{}
}

func (b *blockingCaller) Call(_ context.Context, _ sensors.AudioMetrics, _ sensors.VideoMetrics, _ inference.ContextPayload) (*inference.Result, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	<-b.release
	return nil, errors.New("released")
}

func (b *blockingCaller) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func TestFeedbackRoutesToStores(t *testing.T) {
	f := newFixture(t, nil)

	res := goodResult(nil)
	res.Suggestion = &inference.Suggestion{ID: "calming_breath"}
	f.caller.queue(res, nil)

	f.eng.IngestAudio(loudSpeech())
	f.tick()
	require.Equal(t, []string{"calming_breath"}, f.act.ids())

	f.eng.RegisterFeedback(1)
	stat, ok := f.prefs.Get("calming_breath")
	require.True(t, ok)
	assert.Equal(t, 1, stat.Count)

	f.eng.RegisterFeedback(-1)
	assert.True(t, f.supp.IsSuppressed("calming_breath"))
	assert.Equal(t, 0, f.sched.ActiveTier(), "negative feedback stops the running intervention")
}

func TestContextPayloadCarriesEngineState(t *testing.T) {
	f := newFixture(t, nil)
	f.supp.Suppress("doom_scroll_breaker", time.Hour)
	f.prefs.Record("calming_breath")

	f.caller.queue(goodResult(nil), nil)
	f.eng.IngestAudio(loudSpeech())
	f.tick()

	payload := f.caller.lastPayload()
	assert.Equal(t, "active", payload.Mode)
	assert.Equal(t, string(trigger.ReasonHighAudioLevel), payload.TriggerReason)
	assert.Contains(t, payload.SuppressedIDs, "doom_scroll_breaker")
	assert.Contains(t, payload.PreferredIDs, "calming_breath")
}

func TestFeedbackSkipsSystemNotifications(t *testing.T) {
	f := newFixture(t, nil)

	res := goodResult(nil)
	res.Suggestion = &inference.Suggestion{ID: "calming_breath"}
	f.caller.queue(res, nil)

	f.eng.IngestAudio(loudSpeech())
	f.tick()
	require.Equal(t, []string{"calming_breath"}, f.act.ids())

	// A system announcement lands in the record history after the
	// intervention started.
	require.True(t, f.sched.Propose(scheduler.Candidate{
		Type:     "mode_change",
		Message:  "Monitoring resumed.",
		Category: scheduler.CategorySystem,
	}))

	f.eng.RegisterFeedback(-1)
	assert.Equal(t, []string{"calming_breath"}, f.supp.IDs(),
		"negative feedback targets the last real intervention, not the announcement")
}

func TestConfigReloadConcurrentWithUpdates(t *testing.T) {
	f := newFixture(t, nil)
	f.caller.queue(goodResult(nil), nil)
	f.eng.IngestAudio(loudSpeech())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			next := config.DefaultConfig()
			next.Triggers.AudioLevelThreshold = 0.5 + float64(i%10)/100
			next.Inference.RetryAttempts = 1 + i%3
			f.eng.ApplyConfig(next)
		}
	}()

	for i := 0; i < 200; i++ {
		f.eng.Update()
		f.advance(16 * time.Second)
	}
	<-done
	f.eng.Shutdown(5 * time.Second)
}

func TestApplyConfigRetunesBreaker(t *testing.T) {
	f := newFixture(t, nil)

	next := config.DefaultConfig()
	next.Inference.BreakerMaxFailures = 1
	f.eng.ApplyConfig(next)

	f.caller.queue(nil, errors.New("backend down"))
	f.eng.IngestAudio(loudSpeech())
	f.tick()

	assert.Len(t, f.eventsOfType(events.EventBreakerOpened), 1,
		"a reloaded failure threshold applies without restart")
}
