// Copyright 2026 The ASDGPT Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package inference wraps the external inference backend: the HTTP client
// with its bounded retry loop, response schema validation, the circuit
// breaker protecting the engine from backend failures, and the heuristic
// fallback used while the breaker is open.
package inference

import (
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// ErrInvalidResult marks a response that reached us but failed schema
// validation. It counts as a breaker failure, identically to a transport
// error, and is never coerced into a partially-populated result.
var ErrInvalidResult = errors.New("inference: invalid result shape")

// ErrBreakerOpen is returned when the circuit breaker short-circuits a call.
var ErrBreakerOpen = errors.New("inference: circuit breaker open")

// Suggestion is an optional intervention hint in an inference result.
type Suggestion struct {
	// ID names a library intervention, when set.
	ID string `json:"id,omitempty"`

	// Type is an ad-hoc intervention type used when ID is empty.
	Type string `json:"type,omitempty"`

	// Message is the spoken/displayed text for ad-hoc suggestions.
	Message string `json:"message,omitempty"`
}

// Result is a validated inference response.
type Result struct {
	// StateEstimation maps dimension name to estimate. Always present
	// and in range after validation.
	StateEstimation map[string]float64 `json:"state_estimation"`

	// VisualContext carries observed scene tags, e.g. "phone_usage".
	VisualContext []string `json:"visual_context,omitempty"`

	// Suggestion is the backend's proposed intervention, if any.
	Suggestion *Suggestion `json:"suggestion,omitempty"`

	// Fallback marks a locally synthesized result substituted while the
	// breaker is open.
	Fallback bool `json:"fallback,omitempty"`
}

// ContextPayload is the structured context the engine sends alongside the
// raw sensor summaries on every inference call.
type ContextPayload struct {
	Mode          string              `json:"mode"`
	TriggerReason string              `json:"trigger_reason"`
	ActiveWindow  string              `json:"active_window,omitempty"`
	SuppressedIDs []string            `json:"suppressed_ids,omitempty"`
	PreferredIDs  []string            `json:"preferred_ids,omitempty"`
	History       []map[string]int    `json:"history,omitempty"`
	Timestamp     time.Time           `json:"timestamp"`
	Extra         map[string]interface{} `json:"extra,omitempty"`
}

// ValidateResult parses and validates a raw inference response body.
// requiredDims lists the state dimensions that must be present; each must be
// numeric and within [0,100]. visual_context, when present, must be an array
// of strings; suggestion, when present, must be an object.
func ValidateResult(body []byte, requiredDims []string) (*Result, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: not valid JSON", ErrInvalidResult)
	}

	est := gjson.GetBytes(body, "state_estimation")
	if !est.Exists() || !est.IsObject() {
		return nil, fmt.Errorf("%w: missing state_estimation", ErrInvalidResult)
	}

	res := &Result{StateEstimation: make(map[string]float64)}

	for _, dim := range requiredDims {
		v := est.Get(dim)
		if !v.Exists() {
			return nil, fmt.Errorf("%w: state_estimation missing %q", ErrInvalidResult, dim)
		}
		if v.Type != gjson.Number {
			return nil, fmt.Errorf("%w: state_estimation.%s is not a number", ErrInvalidResult, dim)
		}
		f := v.Float()
		if f < 0 || f > 100 {
			return nil, fmt.Errorf("%w: state_estimation.%s=%v outside [0,100]", ErrInvalidResult, dim, f)
		}
		res.StateEstimation[dim] = f
	}

	// Extra dimensions (e.g. optional ones) ride along when numeric and
	// in range; anything else in the object is a schema violation.
	var extraErr error
	est.ForEach(func(key, value gjson.Result) bool {
		dim := key.String()
		if _, seen := res.StateEstimation[dim]; seen {
			return true
		}
		if value.Type != gjson.Number {
			extraErr = fmt.Errorf("%w: state_estimation.%s is not a number", ErrInvalidResult, dim)
			return false
		}
		f := value.Float()
		if f < 0 || f > 100 {
			extraErr = fmt.Errorf("%w: state_estimation.%s=%v outside [0,100]", ErrInvalidResult, dim, f)
			return false
		}
		res.StateEstimation[dim] = f
		return true
	})
	if extraErr != nil {
		return nil, extraErr
	}

	if vc := gjson.GetBytes(body, "visual_context"); vc.Exists() {
		if !vc.IsArray() {
			return nil, fmt.Errorf("%w: visual_context is not an array", ErrInvalidResult)
		}
		for _, item := range vc.Array() {
			if item.Type != gjson.String {
				return nil, fmt.Errorf("%w: visual_context contains a non-string", ErrInvalidResult)
			}
			res.VisualContext = append(res.VisualContext, item.String())
		}
	}

	if sg := gjson.GetBytes(body, "suggestion"); sg.Exists() && sg.Type != gjson.Null {
		if !sg.IsObject() {
			return nil, fmt.Errorf("%w: suggestion is not an object", ErrInvalidResult)
		}
		s := &Suggestion{
			ID:      sg.Get("id").String(),
			Type:    sg.Get("type").String(),
			Message: sg.Get("message").String(),
		}
		if s.ID != "" || s.Type != "" || s.Message != "" {
			res.Suggestion = s
		}
	}

	return res, nil
}
