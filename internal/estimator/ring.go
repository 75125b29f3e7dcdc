// Copyright 2026 The ASDGPT Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package estimator

// ring is a fixed-depth FIFO of smoothing samples for one dimension.
// It is created pre-filled with the baseline so smoothing never starts at
// zero, and therefore is always full: a push overwrites the oldest sample.
type ring struct {
	samples []float64
	head    int // index where the next push lands
}

// newRing creates a ring of the given depth with every slot set to baseline.
func newRing(depth int, baseline float64) *ring {
	r := &ring{samples: make([]float64, depth)}
	for i := range r.samples {
		r.samples[i] = baseline
	}
	return r
}

// push overwrites the oldest sample with v.
func (r *ring) push(v float64) {
	r.samples[r.head] = v
	r.head = (r.head + 1) % len(r.samples)
}

// mean returns the arithmetic mean of all samples.
func (r *ring) mean() float64 {
	var sum float64
	for _, s := range r.samples {
		sum += s
	}
	return sum / float64(len(r.samples))
}

// snapshot returns the samples oldest-first.
func (r *ring) snapshot() []float64 {
	out := make([]float64, len(r.samples))
	for i := range r.samples {
		out[i] = r.samples[(r.head+i)%len(r.samples)]
	}
	return out
}
