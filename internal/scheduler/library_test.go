// Copyright 2026 The ASDGPT Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package scheduler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLibraryLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "interventions.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
calming_breath:
  category: regulation
  message: Take a slow breath.
  tier-messages:
    3: Stop and breathe with me now.
take_a_break:
  category: break
  message: Time to step away for a moment.
`), 0o600))

	lib := NewLibrary()
	require.NoError(t, lib.LoadFile(path))

	entry, ok := lib.Resolve("calming_breath")
	require.True(t, ok)
	assert.Equal(t, "regulation", entry.Category)
	assert.Equal(t, "Take a slow breath.", entry.MessageForTier(1))
	assert.Equal(t, "Take a slow breath.", entry.MessageForTier(2))
	assert.Equal(t, "Stop and breathe with me now.", entry.MessageForTier(3))

	_, ok = lib.Resolve("unknown")
	assert.False(t, ok)
}

func TestLibraryMissingFileStartsEmpty(t *testing.T) {
	lib := NewLibrary()
	require.NoError(t, lib.LoadFile(filepath.Join(t.TempDir(), "nope.yaml")))

	_, ok := lib.Resolve("anything")
	assert.False(t, ok)
}

func TestLibraryMalformedFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{not yaml"), 0o600))

	assert.Error(t, NewLibrary().LoadFile(path))
}

func TestLibraryReloadReplacesEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "interventions.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
calming_breath:
  category: regulation
  message: Take a slow breath.
`), 0o600))

	lib := NewLibrary()
	require.NoError(t, lib.LoadFile(path))

	// An edited file loads in place: changed entries are replaced and
	// removed ids disappear.
	require.NoError(t, os.WriteFile(path, []byte(`
eye_strain_break:
  category: break
  message: Look away from the screen.
`), 0o600))
	require.NoError(t, lib.LoadFile(path))

	entry, ok := lib.Resolve("eye_strain_break")
	require.True(t, ok)
	assert.Equal(t, "Look away from the screen.", entry.Message)

	_, ok = lib.Resolve("calming_breath")
	assert.False(t, ok)
}
