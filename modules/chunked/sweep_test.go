// SPDX-License-Identifier: Apache-2.0

package chunked

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepUnusedRemovesNonLiveEntries(t *testing.T) {
	data := t.TempDir()
	stage := t.TempDir()

	liveUID, deadUID := "live0000", "dead0000"
	require.NoError(t, os.WriteFile(dataPath(data, liveUID), []byte("data"), 0o644))
	require.NoError(t, os.WriteFile(dataPath(data, deadUID), []byte("data"), 0o644))
	require.NoError(t, os.WriteFile(idxPath(data, deadUID), []byte("{}"), 0o644))
	require.NoError(t, os.Symlink(dataPath(data, liveUID), dataPath(stage, liveUID)))
	require.NoError(t, os.Symlink(dataPath(data, deadUID), dataPath(stage, deadUID)))

	removed, err := SweepUnused(data, stage, map[string]bool{liveUID: true})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Lstat(dataPath(stage, liveUID))
	assert.NoError(t, err)
	_, err = os.Lstat(dataPath(stage, deadUID))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Lstat(dataPath(data, deadUID))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Lstat(idxPath(data, deadUID))
	assert.True(t, os.IsNotExist(err))
}

func TestSweepUnusedMissingDir(t *testing.T) {
	removed, err := SweepUnused(t.TempDir(), filepath.Join(t.TempDir(), "does-not-exist"), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}
