// Copyright 2026 The ASDGPT Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package sensors defines the audio/video metric snapshots the engine caches
// between ticks, and the tolerant parsing of collaborator-supplied feature
// payloads. The core only reads named fields and tolerates absence; feature
// extraction itself happens upstream.
package sensors

import (
	"time"

	"github.com/tidwall/gjson"
)

// AudioMetrics is the most recent audio feature snapshot.
type AudioMetrics struct {
	// Level is the normalized loudness in [0,1].
	Level float64 `json:"level"`

	// IsSpeech reports whether the upstream classifier tagged the signal
	// as speech rather than noise.
	IsSpeech bool `json:"is_speech"`

	// RMS is the raw root-mean-square amplitude, when provided.
	RMS float64 `json:"rms"`

	// Pitch is the estimated fundamental frequency in Hz, when provided.
	Pitch float64 `json:"pitch"`

	// CapturedAt is when the snapshot was recorded.
	CapturedAt time.Time `json:"captured_at"`
}

// VideoMetrics is the most recent video feature snapshot.
type VideoMetrics struct {
	// Activity is the normalized motion level in [0,1].
	Activity float64 `json:"activity"`

	// FacePresent reports whether a face was detected in frame.
	FacePresent bool `json:"face_present"`

	// ActiveWindow is the focused window title, already PII-redacted
	// upstream. May be empty.
	ActiveWindow string `json:"active_window"`

	// CapturedAt is when the snapshot was recorded.
	CapturedAt time.Time `json:"captured_at"`
}

// Snapshot bundles the cached metrics handed to the trigger policy each tick.
type Snapshot struct {
	Audio AudioMetrics
	Video VideoMetrics

	// HasAudio and HasVideo report whether any sample of that kind has
	// been captured yet. Triggers are suppressed until at least one
	// sensor has reported.
	HasAudio bool
	HasVideo bool
}

// HasAny reports whether any sensor data has been captured.
func (s Snapshot) HasAny() bool {
	return s.HasAudio || s.HasVideo
}

// ParseAudio extracts an audio snapshot from a collaborator payload.
// Missing fields keep their zero values; extra fields are ignored.
func ParseAudio(payload []byte, now time.Time) AudioMetrics {
	m := AudioMetrics{CapturedAt: now}
	m.Level = gjson.GetBytes(payload, "level").Float()
	m.IsSpeech = gjson.GetBytes(payload, "is_speech").Bool()
	m.RMS = gjson.GetBytes(payload, "rms").Float()
	m.Pitch = gjson.GetBytes(payload, "pitch").Float()
	if m.Level == 0 && m.RMS > 0 {
		// Some collaborators only report raw RMS; treat it as the level
		// when already normalized.
		if m.RMS <= 1 {
			m.Level = m.RMS
		}
	}
	return m
}

// ParseVideo extracts a video snapshot from a collaborator payload.
// Missing fields keep their zero values; extra fields are ignored.
func ParseVideo(payload []byte, now time.Time) VideoMetrics {
	m := VideoMetrics{CapturedAt: now}
	m.Activity = gjson.GetBytes(payload, "activity").Float()
	m.FacePresent = gjson.GetBytes(payload, "face_present").Bool()
	m.ActiveWindow = gjson.GetBytes(payload, "active_window").String()
	return m
}
