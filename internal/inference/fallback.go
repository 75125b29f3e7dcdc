// Copyright 2026 The ASDGPT Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package inference

import (
	"github.com/IAMCANADIAN-cyber/ASDGPT-sub000/internal/sensors"
)

// Fallback thresholds mirror the trigger policy's notion of "loud" and
// "high motion" but are deliberately independent so tuning one does not
// silently move the other.
const (
	fallbackLoudLevel  = 0.7
	fallbackHighMotion = 0.6
)

// Synthesize derives a heuristic result from current sensor levels for use
// while the breaker is open, so downstream state estimation keeps receiving
// some signal. Loud audio maps to elevated overload with a calming
// suggestion; high motion maps to elevated arousal with a grounding
// suggestion; otherwise the baseline is echoed with no suggestion.
func Synthesize(snapshot sensors.Snapshot, baseline map[string]int) *Result {
	est := make(map[string]float64, len(baseline))
	for dim, v := range baseline {
		est[dim] = float64(v)
	}

	res := &Result{StateEstimation: est, Fallback: true}

	switch {
	case snapshot.HasAudio && snapshot.Audio.Level >= fallbackLoudLevel:
		bump(est, "overload", 75)
		bump(est, "arousal", 60)
		res.Suggestion = &Suggestion{
			ID: "calming_breath",
		}
	case snapshot.HasVideo && snapshot.Video.Activity >= fallbackHighMotion:
		bump(est, "arousal", 70)
		res.Suggestion = &Suggestion{
			ID: "grounding_pause",
		}
	}

	return res
}

// bump raises a dimension to at least v, when the dimension exists.
func bump(est map[string]float64, dim string, v float64) {
	if cur, ok := est[dim]; ok && cur < v {
		est[dim] = v
	}
}
