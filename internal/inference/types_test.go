// Copyright 2026 The ASDGPT Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package inference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var dims = []string{"arousal", "overload"}

func TestValidateResultAcceptsWellFormed(t *testing.T) {
	body := []byte(`{
		"state_estimation": {"arousal": 72.5, "overload": 40},
		"visual_context": ["phone_usage", "desk"],
		"suggestion": {"id": "calming_breath"}
	}`)

	res, err := ValidateResult(body, dims)
	require.NoError(t, err)
	assert.InDelta(t, 72.5, res.StateEstimation["arousal"], 0.001)
	assert.InDelta(t, 40.0, res.StateEstimation["overload"], 0.001)
	assert.Equal(t, []string{"phone_usage", "desk"}, res.VisualContext)
	require.NotNil(t, res.Suggestion)
	assert.Equal(t, "calming_breath", res.Suggestion.ID)
	assert.False(t, res.Fallback)
}

func TestValidateResultMissingDimension(t *testing.T) {
	body := []byte(`{"state_estimation": {"arousal": 50}}`)

	_, err := ValidateResult(body, dims)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidResult)
}

func TestValidateResultRejectsOutOfRange(t *testing.T) {
	for _, body := range []string{
		`{"state_estimation": {"arousal": 101, "overload": 40}}`,
		`{"state_estimation": {"arousal": -1, "overload": 40}}`,
	} {
		_, err := ValidateResult([]byte(body), dims)
		assert.ErrorIs(t, err, ErrInvalidResult, body)
	}
}

func TestValidateResultRejectsNonNumericDimension(t *testing.T) {
	body := []byte(`{"state_estimation": {"arousal": "high", "overload": 40}}`)

	_, err := ValidateResult(body, dims)
	assert.ErrorIs(t, err, ErrInvalidResult)
}

func TestValidateResultRejectsMalformedJSON(t *testing.T) {
	_, err := ValidateResult([]byte(`{"state_estimation":`), dims)
	assert.Error(t, err)
}

func TestValidateResultRejectsBadVisualContext(t *testing.T) {
	body := []byte(`{
		"state_estimation": {"arousal": 50, "overload": 40},
		"visual_context": "phone_usage"
	}`)

	_, err := ValidateResult(body, dims)
	assert.ErrorIs(t, err, ErrInvalidResult)
}

func TestValidateResultSuggestionOptional(t *testing.T) {
	body := []byte(`{"state_estimation": {"arousal": 50, "overload": 40}}`)

	res, err := ValidateResult(body, dims)
	require.NoError(t, err)
	assert.Nil(t, res.Suggestion)
	assert.Empty(t, res.VisualContext)
}

func TestValidateResultBoundaryValues(t *testing.T) {
	body := []byte(`{"state_estimation": {"arousal": 0, "overload": 100}}`)

	res, err := ValidateResult(body, dims)
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.StateEstimation["arousal"])
	assert.Equal(t, 100.0, res.StateEstimation["overload"])
}
