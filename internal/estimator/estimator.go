// Copyright 2026 The ASDGPT Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package estimator maintains the smoothed psychophysiological state vector.
// Each dimension keeps a fixed-depth ring of recent estimates; the exposed
// value is the ring mean, giving a bounded, lagged response to new signal
// while damping single-sample noise.
package estimator

import (
	"encoding/json"
	"math"
	"strconv"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/IAMCANADIAN-cyber/ASDGPT-sub000/internal/config"
)

// Estimator owns the state vector. The set of dimensions is fixed at
// construction from the configured baseline; estimates for unknown
// dimensions are ignored.
type Estimator struct {
	mu    sync.RWMutex
	rings map[string]*ring
	depth int
}

// New creates an estimator with every dimension's ring pre-filled with its
// baseline value.
func New(cfg config.EstimatorConfig) *Estimator {
	e := &Estimator{
		rings: make(map[string]*ring, len(cfg.Baseline)),
		depth: cfg.HistoryDepth,
	}
	for dim, baseline := range cfg.Baseline {
		e.rings[dim] = newRing(cfg.HistoryDepth, float64(baseline))
	}
	return e
}

// Apply folds a partial or complete state estimation into the vector.
// For each known dimension present: the value is coerced to a number,
// clamped to [0,100], pushed into the ring, and the dimension's current
// value becomes the ring mean. Non-numeric values are dropped with a
// warning and do not perturb history. Absent dimensions stay untouched.
func (e *Estimator) Apply(estimates map[string]interface{}) {
	if len(estimates) == 0 {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for dim, raw := range estimates {
		r, ok := e.rings[dim]
		if !ok {
			log.Debugf("Estimator ignoring unknown dimension %q", dim)
			continue
		}
		v, ok := coerceNumber(raw)
		if !ok {
			log.Warnf("Estimator dropping non-numeric value for %s: %v", dim, raw)
			continue
		}
		r.push(clamp(v))
	}
}

// Value returns the current smoothed value of one dimension, rounded to the
// nearest integer.
func (e *Estimator) Value(dim string) (int, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	r, ok := e.rings[dim]
	if !ok {
		return 0, false
	}
	return int(math.Round(r.mean())), true
}

// Values returns a snapshot of the full smoothed state vector.
func (e *Estimator) Values() map[string]int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[string]int, len(e.rings))
	for dim, r := range e.rings {
		out[dim] = int(math.Round(r.mean()))
	}
	return out
}

// History returns the raw ring samples for a dimension, oldest first.
// Used by the status surface and tests.
func (e *Estimator) History(dim string) []float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	r, ok := e.rings[dim]
	if !ok {
		return nil
	}
	return r.snapshot()
}

// Dimensions returns the dimension names the vector tracks.
func (e *Estimator) Dimensions() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	dims := make([]string, 0, len(e.rings))
	for dim := range e.rings {
		dims = append(dims, dim)
	}
	return dims
}

// Depth returns the configured ring depth.
func (e *Estimator) Depth() int {
	return e.depth
}

// clamp bounds v to [0,100]. Out-of-range values are clamped, not rejected.
func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// coerceNumber converts the JSON-shaped value types an inference result may
// carry into a float64.
func coerceNumber(raw interface{}) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
