// SPDX-License-Identifier: Apache-2.0

package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrayvc/arrayvc/modules/digest"
	"github.com/arrayvc/arrayvc/modules/ndarray"
)

func snapshotWithSample(arrayset, sampleName string, d digest.Digest, shape ndarray.Shape) *RefSnapshot {
	snap := newRefSnapshot()
	schema := testSchema(arrayset, shape)
	rec := newArraysetRecord(arrayset, schema)
	key := SampleKey{Name: sampleName, Named: true}
	rec.Samples[string(key.Encode())] = d
	snap.Arraysets[arrayset] = rec
	return snap
}

func TestMergeSnapshotsNonConflictingAddsFromBothSides(t *testing.T) {
	ancestor := snapshotWithSample("readings", "a", digest.Compute([]byte("a")), ndarray.Shape{4})
	master := snapshotWithSample("readings", "a", digest.Compute([]byte("a")), ndarray.Shape{4})
	master.Arraysets["readings"].Samples[string(SampleKey{Name: "b", Named: true}.Encode())] = digest.Compute([]byte("b"))
	dev := snapshotWithSample("readings", "a", digest.Compute([]byte("a")), ndarray.Shape{4})
	dev.Arraysets["readings"].Samples[string(SampleKey{Name: "c", Named: true}.Encode())] = digest.Compute([]byte("c"))

	merged, conflicts := MergeSnapshots(ancestor, master, dev)
	assert.Empty(t, conflicts)
	samples := merged.Arraysets["readings"].Samples
	assert.Len(t, samples, 3)
}

func TestMergeSnapshotsConflictingMutationIsDetected(t *testing.T) {
	key := SampleKey{Name: "a", Named: true}
	ancestor := snapshotWithSample("readings", "a", digest.Compute([]byte("v0")), ndarray.Shape{4})
	master := snapshotWithSample("readings", "a", digest.Compute([]byte("v0")), ndarray.Shape{4})
	master.Arraysets["readings"].Samples[string(key.Encode())] = digest.Compute([]byte("v1"))
	dev := snapshotWithSample("readings", "a", digest.Compute([]byte("v0")), ndarray.Shape{4})
	dev.Arraysets["readings"].Samples[string(key.Encode())] = digest.Compute([]byte("v2"))

	_, conflicts := MergeSnapshots(ancestor, master, dev)
	require.NotEmpty(t, conflicts)
	assert.Equal(t, ConflictMutateMutate, conflicts[0].Kind)
}

func TestMergeSnapshotsArraysetOnlyInDevIsTakenWholesale(t *testing.T) {
	ancestor := newRefSnapshot()
	master := newRefSnapshot()
	dev := snapshotWithSample("new-arrayset", "a", digest.Compute([]byte("a")), ndarray.Shape{4})

	merged, conflicts := MergeSnapshots(ancestor, master, dev)
	assert.Empty(t, conflicts)
	require.Contains(t, merged.Arraysets, "new-arrayset")
	assert.Len(t, merged.Arraysets["new-arrayset"].Samples, 1)
}

func TestMergeSnapshotsMetadataConflict(t *testing.T) {
	ancestor := newRefSnapshot()
	ancestor.Metadata["k"] = "v0"
	master := newRefSnapshot()
	master.Metadata["k"] = "v1"
	dev := newRefSnapshot()
	dev.Metadata["k"] = "v2"

	_, conflicts := MergeSnapshots(ancestor, master, dev)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "metadata", conflicts[0].Layer)
}
