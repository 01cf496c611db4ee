// SPDX-License-Identifier: Apache-2.0

package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyPartitionsEveryKey(t *testing.T) {
	base := map[string]string{"a": "1", "b": "2", "c": "3"}
	variant := map[string]string{"a": "1", "b": "20", "d": "4"}

	cs := Classify(base, variant)
	assert.Equal(t, map[string]string{"d": "4"}, cs.Added)
	assert.Equal(t, map[string]string{"c": "3"}, cs.Removed)
	assert.Equal(t, map[string]string{"b": "20"}, cs.Mutated)
	assert.Equal(t, map[string]string{"a": "1"}, cs.Unchanged)
}

func TestDetectConflictsAddAdd(t *testing.T) {
	ancestor := map[string]string{}
	master := map[string]string{"k": "master-value"}
	dev := map[string]string{"k": "dev-value"}
	tw := DiffThreeWay(ancestor, master, dev)

	conflicts := DetectConflicts("layer", tw)
	require := assert.New(t)
	require.Len(conflicts, 1)
	require.Equal(ConflictAddAdd, conflicts[0].Kind)
}

func TestDetectConflictsAddAddSameValueIsNotAConflict(t *testing.T) {
	ancestor := map[string]string{}
	master := map[string]string{"k": "same"}
	dev := map[string]string{"k": "same"}
	tw := DiffThreeWay(ancestor, master, dev)
	assert.Empty(t, DetectConflicts("layer", tw))
}

func TestDetectConflictsRemoveMutate(t *testing.T) {
	ancestor := map[string]string{"k": "v0"}
	master := map[string]string{}
	dev := map[string]string{"k": "v1"}
	tw := DiffThreeWay(ancestor, master, dev)

	conflicts := DetectConflicts("layer", tw)
	require := assert.New(t)
	require.Len(conflicts, 1)
	require.Equal(ConflictRemoveMutate, conflicts[0].Kind)
}

func TestDetectConflictsMutateMutate(t *testing.T) {
	ancestor := map[string]string{"k": "v0"}
	master := map[string]string{"k": "v1"}
	dev := map[string]string{"k": "v2"}
	tw := DiffThreeWay(ancestor, master, dev)

	conflicts := DetectConflicts("layer", tw)
	require := assert.New(t)
	require.Len(conflicts, 1)
	require.Equal(ConflictMutateMutate, conflicts[0].Kind)
}

func TestApplyPatchMergesNonConflictingChanges(t *testing.T) {
	ancestor := map[string]string{"a": "1", "b": "2", "c": "3"}
	master := map[string]string{"a": "1", "b": "2", "c": "3"}
	dev := map[string]string{"a": "1", "b": "20", "d": "4"} // c removed, b mutated, d added
	delete(dev, "c")
	tw := DiffThreeWay(ancestor, master, dev)

	merged := ApplyPatch(master, tw)
	assert.Equal(t, "20", merged["b"])
	assert.Equal(t, "4", merged["d"])
	_, hasC := merged["c"]
	assert.False(t, hasC)
}

func TestApplyPatchLeavesMasterOwnChangesAlone(t *testing.T) {
	ancestor := map[string]string{"a": "1"}
	master := map[string]string{"a": "master-kept"}
	dev := map[string]string{"a": "1"}
	tw := DiffThreeWay(ancestor, master, dev)

	merged := ApplyPatch(master, tw)
	assert.Equal(t, "master-kept", merged["a"])
}
