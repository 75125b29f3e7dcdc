// Copyright 2026 The ASDGPT Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package engine runs the adaptive control loop: it owns the operating
// mode, caches the latest sensor metrics, decides when to issue inference
// calls and folds their results into the state estimate and the
// intervention scheduler.
//
// All engine state lives behind a single mutex. Update() never blocks on
// network work: at most one inference sequence runs in a background
// goroutine at a time, and its completion re-enters through the same lock.
package engine

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/IAMCANADIAN-cyber/ASDGPT-sub000/internal/config"
	"github.com/IAMCANADIAN-cyber/ASDGPT-sub000/internal/estimator"
	"github.com/IAMCANADIAN-cyber/ASDGPT-sub000/internal/events"
	"github.com/IAMCANADIAN-cyber/ASDGPT-sub000/internal/inference"
	"github.com/IAMCANADIAN-cyber/ASDGPT-sub000/internal/persist"
	"github.com/IAMCANADIAN-cyber/ASDGPT-sub000/internal/scheduler"
	"github.com/IAMCANADIAN-cyber/ASDGPT-sub000/internal/sensors"
	"github.com/IAMCANADIAN-cyber/ASDGPT-sub000/internal/trigger"
)

// Caller issues one complete inference call sequence (attempts plus
// backoff). *inference.Client satisfies it; tests substitute stubs.
type Caller interface {
	Call(ctx context.Context, audio sensors.AudioMetrics, video sensors.VideoMetrics, payload inference.ContextPayload) (*inference.Result, error)
}

// reflexiveInterventions maps watched scene tags to the intervention
// synthesized when the tag persists across consecutive results. The
// synthesized candidate overrides whatever the backend suggested.
var reflexiveInterventions = map[string]string{
	"phone_usage":      "doom_scroll_breaker",
	"slouched_posture": "posture_reset",
	"screen_glare":     "eye_strain_break",
}

// negativeFeedbackSuppression is how long an intervention id stays
// suppressed after the user reacts negatively to it.
const negativeFeedbackSuppression = 24 * time.Hour

// stateHistoryDepth bounds the rolling state-vector history sent as
// inference context.
const stateHistoryDepth = 5

// Deps are the engine's collaborators, injected at construction.
type Deps struct {
	Estimator   *estimator.Estimator
	Policy      *trigger.Policy
	Breaker     *inference.Breaker
	Client      Caller
	Scheduler   *scheduler.Scheduler
	Suppression *persist.SuppressionStore
	Preferences *persist.PreferenceStore
	Bus         *events.Bus

	// RecoveryProbe checks whether the failed hardware is reachable
	// again. nil means recovery attempts always succeed.
	RecoveryProbe func() error
}

// Engine is the control loop coordinator.
type Engine struct {
	mu  sync.Mutex
	cfg *config.Config

	est         *estimator.Estimator
	policy      *trigger.Policy
	breaker     *inference.Breaker
	client      Caller
	sched       *scheduler.Scheduler
	suppression *persist.SuppressionStore
	preferences *persist.PreferenceStore
	bus         *events.Bus
	probe       func() error

	// Mode machine state. See modes.go.
	mode                  Mode
	priorMode             Mode
	priorToDND            Mode
	snoozeUntil           time.Time
	probationUntil        time.Time
	recoveryAttempts      int
	lastRecoveryAt        time.Time
	persistentFailureSent bool

	// Cached sensor metrics, overwritten in place by ingest.
	audio    sensors.AudioMetrics
	video    sensors.VideoMetrics
	hasAudio bool
	hasVideo bool

	// speechSince is when the current uninterrupted speech span began.
	// Zero when the latest audio carried no speech.
	speechSince time.Time
	lastInputAt time.Time

	inFlight   bool
	lastCallAt time.Time

	tagCounts    map[string]int
	stateHistory []map[string]int

	notifyFn func(*events.Event)
	now      func() time.Time
	startAt  time.Time
	wg       sync.WaitGroup
}

// New creates an engine in the configured default mode.
func New(cfg *config.Config, deps Deps) *Engine {
	e := &Engine{
		cfg:         cfg,
		est:         deps.Estimator,
		policy:      deps.Policy,
		breaker:     deps.Breaker,
		client:      deps.Client,
		sched:       deps.Scheduler,
		suppression: deps.Suppression,
		preferences: deps.Preferences,
		bus:         deps.Bus,
		probe:       deps.RecoveryProbe,
		tagCounts:   make(map[string]int),
		now:         time.Now,
	}
	e.startAt = e.now()
	mode, err := ParseMode(cfg.DefaultMode)
	if err != nil {
		log.Warnf("Invalid default mode %q, starting active", cfg.DefaultMode)
		mode = ModeActive
	}
	e.mode = mode
	if mode == ModeSnoozed {
		e.snoozeUntil = e.now().Add(cfg.SnoozeDuration())
	}
	return e
}

// SetClock replaces the time source. Test hook.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
	e.startAt = now()
}

// SetNotifyFn replaces the default bus-publishing transition callback.
func (e *Engine) SetNotifyFn(fn func(*events.Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notifyFn = fn
}

// Mode returns the current operating mode name.
func (e *Engine) Mode() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return string(e.mode)
}

// Status is a point-in-time view of the engine for the management API.
type Status struct {
	Mode        string           `json:"mode"`
	SnoozeUntil *time.Time       `json:"snooze_until,omitempty"`
	InFlight    bool             `json:"inference_in_flight"`
	LastCallAt  *time.Time       `json:"last_inference_at,omitempty"`
	HasAudio    bool             `json:"has_audio"`
	HasVideo    bool             `json:"has_video"`
	TagCounts   map[string]int   `json:"tag_counts,omitempty"`
	State       map[string]int   `json:"state"`
	Breaker     inference.BreakerState `json:"breaker"`
}

// Status snapshots the engine for reporting. The returned maps are copies.
func (e *Engine) Status() Status {
	e.mu.Lock()
	st := Status{
		Mode:     string(e.mode),
		InFlight: e.inFlight,
		HasAudio: e.hasAudio,
		HasVideo: e.hasVideo,
	}
	if !e.snoozeUntil.IsZero() && e.mode == ModeSnoozed {
		t := e.snoozeUntil
		st.SnoozeUntil = &t
	}
	if !e.lastCallAt.IsZero() {
		t := e.lastCallAt
		st.LastCallAt = &t
	}
	if len(e.tagCounts) > 0 {
		st.TagCounts = make(map[string]int, len(e.tagCounts))
		for k, v := range e.tagCounts {
			st.TagCounts[k] = v
		}
	}
	e.mu.Unlock()

	st.State = e.est.Values()
	st.Breaker = e.breaker.State()
	return st
}

// ApplyConfig swaps in a reloaded configuration. Thresholds take effect on
// the next tick; the current mode and in-flight work are untouched.
func (e *Engine) ApplyConfig(cfg *config.Config) {
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
	e.policy.SetConfig(cfg.Triggers)
	e.sched.SetConfig(cfg.Scheduler)
	e.breaker.SetConfig(cfg.Inference.BreakerMaxFailures, cfg.Inference.BreakerCooldown())
}

// IngestAudio caches the latest audio metrics and tracks the running
// speech span for the meeting heuristic.
func (e *Engine) IngestAudio(m sensors.AudioMetrics) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.audio = m
	e.hasAudio = true
	if m.IsSpeech {
		if e.speechSince.IsZero() {
			e.speechSince = e.now()
		}
	} else {
		e.speechSince = time.Time{}
	}
}

// IngestVideo caches the latest video metrics.
func (e *Engine) IngestVideo(m sensors.VideoMetrics) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.video = m
	e.hasVideo = true
}

// RegisterUserInput records manual user activity. Input observed while in
// dnd ends the meeting state immediately.
func (e *Engine) RegisterUserInput() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastInputAt = e.now()
	if e.mode == ModeDND {
		target := e.priorToDND
		if target == "" {
			target = ModeActive
		}
		e.transitionLocked(target, false, ReasonMeetingCleared)
	}
}

// RegisterFeedback folds a user reaction to the most recent intervention
// into the preference and suppression stores. Positive values reinforce,
// negative values suppress the id and stop the intervention if it is still
// running. Zero is ignored.
func (e *Engine) RegisterFeedback(value int) {
	if value == 0 {
		return
	}
	// System notifications land in the record history too but are not
	// interventions the user can react to; take the newest real one.
	recent := e.sched.Recent(10)
	var id string
	for i := len(recent) - 1; i >= 0; i-- {
		if recent[i].Category != scheduler.CategorySystem {
			id = recent[i].ID
			break
		}
	}
	if id == "" {
		log.Debug("Feedback received with no intervention on record")
		return
	}
	if value > 0 {
		e.preferences.Record(id)
		log.Infof("Positive feedback for %s", id)
		return
	}
	e.suppression.Suppress(id, negativeFeedbackSuppression)
	e.sched.StopActive()
	log.Infof("Negative feedback for %s, suppressed", id)
}

// SetMode requests an explicit mode change. Unknown names are rejected.
func (e *Engine) SetMode(name string, reasons ...string) error {
	mode, err := ParseMode(name)
	if err != nil {
		log.Warnf("Rejected mode request: %v", err)
		return err
	}
	if len(reasons) == 0 {
		reasons = []string{ReasonManual}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transitionLocked(mode, false, reasons...)
	return nil
}

// CycleMode advances through the manual cycle active -> paused -> snoozed.
func (e *Engine) CycleMode() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transitionLocked(nextInCycle(e.mode), false, ReasonCycle)
	return string(e.mode)
}

// TogglePauseResume pauses from any mode, or resumes to the mode recorded
// at pause time. Resuming to an already expired snooze lands in active.
func (e *Engine) TogglePauseResume() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mode != ModePaused {
		e.transitionLocked(ModePaused, false, ReasonPauseToggle)
		return string(e.mode)
	}
	target := e.priorMode
	if target == "" {
		target = ModeActive
	}
	if target == ModeSnoozed && !e.now().Before(e.snoozeUntil) {
		target = ModeActive
	}
	e.transitionLocked(target, false, ReasonPauseToggle)
	return string(e.mode)
}

// ReportHardwareFailure is the collaborator surface for sensor/hardware
// faults. During the probation window after a recovery the failure is
// logged and tolerated instead of re-entering error mode.
func (e *Engine) ReportHardwareFailure(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mode == ModeError {
		return
	}
	if !e.probationUntil.IsZero() && e.now().Before(e.probationUntil) {
		log.Warnf("Hardware failure during recovery probation, tolerating: %v", err)
		return
	}
	log.Errorf("Hardware failure: %v", err)
	e.recoveryAttempts = 0
	e.lastRecoveryAt = time.Time{}
	e.persistentFailureSent = false
	e.transitionLocked(ModeError, false, ReasonHardwareFailure)
}

// Update runs one control loop tick: snooze expiry, error recovery, the
// meeting heuristic and the trigger decision. It never blocks on network
// work and returns immediately when an inference sequence is dispatched.
func (e *Engine) Update() {
	e.mu.Lock()
	now := e.now()

	// Snooze deadline check runs before anything else so the tick that
	// crosses the deadline already acts in active mode. The wake is
	// forced so the notification fires with its reason flag even though
	// manual wake may have raced it.
	if e.mode == ModeSnoozed && !now.Before(e.snoozeUntil) {
		e.transitionLocked(ModeActive, true, ReasonFromSnoozeExpiry)
	}

	if e.mode == ModeError {
		e.attemptRecoveryLocked(now)
		e.mu.Unlock()
		return
	}

	if e.mode == ModePaused {
		e.mu.Unlock()
		return
	}

	if e.mode == ModeActive && e.cfg.Meeting.Enabled && e.meetingDetectedLocked(now) {
		e.transitionLocked(ModeDND, false, ReasonMeetingDetected)
	}

	dec := e.policy.Evaluate(trigger.Inputs{
		Snapshot:   e.snapshotLocked(),
		Mode:       string(e.mode),
		LastCallAt: e.lastCallAt,
		InFlight:   e.inFlight,
		Now:        now,
	})
	if !dec.Trigger {
		e.mu.Unlock()
		return
	}

	e.inFlight = true
	e.lastCallAt = now
	snap := e.snapshotLocked()
	payload := e.buildPayloadLocked(dec, now)
	e.mu.Unlock()

	log.Debugf("Dispatching inference, reason=%s", dec.Reason)
	e.wg.Add(1)
	go e.runInference(dec, snap, payload)
}

// snapshotLocked assembles the cached metrics. Callers hold e.mu.
func (e *Engine) snapshotLocked() sensors.Snapshot {
	return sensors.Snapshot{
		Audio:    e.audio,
		Video:    e.video,
		HasAudio: e.hasAudio,
		HasVideo: e.hasVideo,
	}
}

// meetingDetectedLocked applies the meeting heuristic: a sustained speech
// span with a face present and no recent manual input.
func (e *Engine) meetingDetectedLocked(now time.Time) bool {
	if !e.hasAudio || !e.hasVideo {
		return false
	}
	if e.speechSince.IsZero() || now.Sub(e.speechSince) < e.cfg.Meeting.SpeechSpan() {
		return false
	}
	if !e.video.FacePresent {
		return false
	}
	lastInput := e.lastInputAt
	if lastInput.IsZero() {
		lastInput = e.startAt
	}
	return now.Sub(lastInput) >= e.cfg.Meeting.InputIdle()
}

// attemptRecoveryLocked runs one recovery attempt when the interval has
// elapsed. After the attempt budget is exhausted a single persistent
// failure notification is emitted; probing continues regardless.
func (e *Engine) attemptRecoveryLocked(now time.Time) {
	if !e.lastRecoveryAt.IsZero() && now.Sub(e.lastRecoveryAt) < e.cfg.Recovery.AttemptInterval() {
		return
	}
	e.lastRecoveryAt = now
	e.recoveryAttempts++

	var err error
	if e.probe != nil {
		err = e.probe()
	}
	if err == nil {
		log.Infof("Recovery succeeded after %d attempt(s)", e.recoveryAttempts)
		e.transitionLocked(ModeActive, false, ReasonRecovery)
		return
	}

	log.Warnf("Recovery attempt %d/%d failed: %v", e.recoveryAttempts, e.cfg.Recovery.MaxAttempts, err)
	if e.recoveryAttempts >= e.cfg.Recovery.MaxAttempts && !e.persistentFailureSent {
		e.persistentFailureSent = true
		ev := events.New(events.EventPersistentFailure)
		ev.Data["attempts"] = e.recoveryAttempts
		ev.Data["error"] = err.Error()
		e.notify(ev)
	}
}

// buildPayloadLocked assembles the structured context for one call.
func (e *Engine) buildPayloadLocked(dec trigger.Decision, now time.Time) inference.ContextPayload {
	history := make([]map[string]int, len(e.stateHistory))
	copy(history, e.stateHistory)
	return inference.ContextPayload{
		Mode:          string(e.mode),
		TriggerReason: string(dec.Reason),
		ActiveWindow:  e.video.ActiveWindow,
		SuppressedIDs: e.suppression.IDs(),
		PreferredIDs:  e.preferences.TopIDs(5),
		History:       history,
		Timestamp:     now,
	}
}

// runInference executes one call sequence off the lock and folds the
// outcome back in. When the breaker is open the sequence short-circuits
// to the local fallback without touching the failure tally.
func (e *Engine) runInference(dec trigger.Decision, snap sensors.Snapshot, payload inference.ContextPayload) {
	defer e.wg.Done()

	// Snapshot config once: hot reload may swap e.cfg mid-sequence.
	e.mu.Lock()
	infCfg := e.cfg.Inference
	baseline := e.cfg.Estimator.Baseline
	e.mu.Unlock()

	var res *inference.Result
	if e.breaker.Allow() {
		ctx, cancel := context.WithTimeout(context.Background(), callBudget(infCfg))
		r, err := e.client.Call(ctx, snap.Audio, snap.Video, payload)
		cancel()
		if err != nil {
			tripped := e.breaker.RecordFailure()
			log.Warnf("Inference sequence failed: %v", err)
			ev := events.New(events.EventInferenceFailed)
			ev.Data["error"] = err.Error()
			e.notify(ev)
			if tripped {
				log.Errorf("Circuit breaker opened after %d consecutive failures", infCfg.BreakerMaxFailures)
				e.notify(events.New(events.EventBreakerOpened))
			}
		} else {
			res = r
			if e.breaker.RecordSuccess() {
				log.Info("Circuit breaker closed")
				e.notify(events.New(events.EventBreakerClosed))
			}
			e.notify(events.New(events.EventInferenceSucceeded))
		}
	} else if infCfg.FallbackEnabled {
		log.Debug("Breaker open, synthesizing fallback result")
		res = inference.Synthesize(snap, baseline)
	} else {
		log.Debug("Breaker open, dropping trigger")
	}

	e.complete(dec, res)
}

func callBudget(cfg config.InferenceConfig) time.Duration {
	perAttempt := cfg.AttemptTimeout() + cfg.RetryBackoff()
	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	// Backoff doubles each retry; budget the worst case plus slack.
	return time.Duration(attempts)*perAttempt*2 + time.Second
}

// complete folds a finished sequence back into engine state. res is nil
// when the sequence failed with no fallback. Any candidate intervention is
// proposed to the scheduler only when the trigger allowed interventions
// AND the engine is still in active mode now.
func (e *Engine) complete(dec trigger.Decision, res *inference.Result) {
	e.mu.Lock()
	e.inFlight = false

	var cand *scheduler.Candidate
	if res != nil {
		est := make(map[string]interface{}, len(res.StateEstimation))
		for dim, v := range res.StateEstimation {
			est[dim] = v
		}
		e.est.Apply(est)
		e.pushStateHistoryLocked(e.est.Values())
		cand = e.selectCandidateLocked(res)
	}
	allow := dec.AllowIntervention && e.mode == ModeActive
	e.mu.Unlock()

	if cand == nil {
		return
	}
	if !allow {
		log.Debugf("Discarding candidate %s%s outside active mode", cand.ID, cand.Type)
		return
	}
	e.sched.Propose(*cand)
}

func (e *Engine) pushStateHistoryLocked(values map[string]int) {
	e.stateHistory = append(e.stateHistory, values)
	if len(e.stateHistory) > stateHistoryDepth {
		e.stateHistory = e.stateHistory[len(e.stateHistory)-stateHistoryDepth:]
	}
}

// selectCandidateLocked picks the intervention candidate for a result.
// A reflexive trigger synthesized from persistent scene tags overrides the
// backend's suggestion.
func (e *Engine) selectCandidateLocked(res *inference.Result) *scheduler.Candidate {
	if id := e.updateTagCountsLocked(res.VisualContext); id != "" {
		log.Infof("Reflexive trigger %s", id)
		return &scheduler.Candidate{ID: id}
	}
	s := res.Suggestion
	if s == nil {
		return nil
	}
	if s.ID != "" {
		return &scheduler.Candidate{ID: s.ID}
	}
	if s.Type != "" && s.Message != "" {
		return &scheduler.Candidate{Type: s.Type, Message: s.Message}
	}
	return nil
}

// updateTagCountsLocked advances the per-tag persistence counters for one
// result. A watched tag present in the result increments its counter;
// absence resets it. The first counter to reach the threshold fires its
// reflexive intervention and resets.
func (e *Engine) updateTagCountsLocked(tags []string) string {
	present := make(map[string]bool, len(tags))
	for _, t := range tags {
		present[t] = true
	}

	fired := ""
	for tag, id := range reflexiveInterventions {
		if !present[tag] {
			delete(e.tagCounts, tag)
			continue
		}
		e.tagCounts[tag]++
		if fired == "" && e.tagCounts[tag] >= e.cfg.Scheduler.ReflexiveTagThreshold {
			e.tagCounts[tag] = 0
			fired = id
		}
	}
	return fired
}

// Shutdown waits for any in-flight inference sequence, up to timeout.
func (e *Engine) Shutdown(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		log.Warn("Shutdown timed out waiting for in-flight inference")
	}
}
