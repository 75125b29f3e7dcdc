// Copyright 2026 The ASDGPT Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package inference

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// BreakerState is a snapshot of the circuit breaker for status surfaces.
type BreakerState struct {
	// Open reports whether calls are currently short-circuited.
	Open bool `json:"open"`

	// ConsecutiveFailures is the current failure tally.
	ConsecutiveFailures int `json:"consecutive_failures"`

	// OpenUntil is when the cooldown ends, zero when closed.
	OpenUntil time.Time `json:"open_until,omitempty"`
}

// Breaker tracks consecutive call-sequence failures and short-circuits
// calls while open. One attempt sequence (up to the configured HTTP retries)
// counts as exactly one failure or success, never more.
type Breaker struct {
	mu          sync.Mutex
	failures    int
	openUntil   time.Time
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(maxFailures int, cooldown time.Duration) *Breaker {
	return &Breaker{
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         time.Now,
	}
}

// SetClock overrides the breaker's clock. Test hook.
func (b *Breaker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// SetConfig swaps the threshold and cooldown. Used by config hot reload.
// The current failure tally and open window are left alone; the new
// threshold applies from the next recorded failure.
func (b *Breaker) SetConfig(maxFailures int, cooldown time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maxFailures = maxFailures
	b.cooldown = cooldown
}

// Allow reports whether a call may be attempted. While open and inside the
// cooldown window it returns false; once the window passes, calls flow again
// (the failure tally is kept until a success heals it).
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.openUntil.IsZero() || !b.now().Before(b.openUntil)
}

// RecordSuccess resets the failure tally unconditionally. Success always
// heals, regardless of the breaker's current state. The return reports a
// close event: true only when the breaker had been tripped open.
func (b *Breaker) RecordSuccess() (healed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	healed = !b.openUntil.IsZero()
	b.failures = 0
	b.openUntil = time.Time{}
	return healed
}

// RecordFailure increments the failure tally and opens the breaker once the
// threshold is reached. It returns true when this failure tripped the
// breaker open.
func (b *Breaker) RecordFailure() (tripped bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.failures >= b.maxFailures {
		tripped = b.failures == b.maxFailures
		b.openUntil = b.now().Add(b.cooldown)
		log.Warnf("Inference circuit breaker open after %d consecutive failures (cooldown %s)", b.failures, b.cooldown)
	}
	return tripped
}

// State returns a snapshot of the breaker.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	open := !b.openUntil.IsZero() && b.now().Before(b.openUntil)
	s := BreakerState{
		Open:                open,
		ConsecutiveFailures: b.failures,
	}
	if open {
		s.OpenUntil = b.openUntil
	}
	return s
}
