// SPDX-License-Identifier: Apache-2.0

package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrayvc/arrayvc/modules/digest"
	"github.com/arrayvc/arrayvc/modules/ndarray"
)

func newTestStaging(t *testing.T) *Staging {
	return NewStaging(openTestEnv(t, "stage"))
}

func TestStagingInitArraysetAndDuplicateFails(t *testing.T) {
	s := newTestStaging(t)
	schema := testSchema("readings", ndarray.Shape{4})
	require.NoError(t, s.InitArrayset("readings", schema))

	got, err := s.ArraysetSchema("readings")
	require.NoError(t, err)
	assert.Equal(t, schema, got)

	err = s.InitArrayset("readings", schema)
	assert.True(t, IsKind(err, KindInvalidArgument))
}

func TestStagingPutSampleRequiresArrayset(t *testing.T) {
	s := newTestStaging(t)
	err := s.PutSample("missing", SampleKey{Name: "a", Named: true}, digest.Compute([]byte("x")))
	assert.True(t, IsKind(err, KindNotFound))
	assert.ErrorIs(t, err, ErrArraysetMissing)
}

func TestStagingPutGetDeleteSample(t *testing.T) {
	s := newTestStaging(t)
	schema := testSchema("readings", ndarray.Shape{4})
	require.NoError(t, s.InitArrayset("readings", schema))

	key := SampleKey{Name: "a", Named: true}
	d := digest.Compute([]byte("bytes"))
	require.NoError(t, s.PutSample("readings", key, d))

	got, err := s.GetSample("readings", key)
	require.NoError(t, err)
	assert.Equal(t, d, got)

	require.NoError(t, s.DeleteSample("readings", key))
	_, err = s.GetSample("readings", key)
	assert.True(t, IsKind(err, KindNotFound))

	err = s.DeleteSample("readings", key)
	assert.True(t, IsKind(err, KindNotFound))
}

func TestStagingDeleteArraysetRemovesSamples(t *testing.T) {
	s := newTestStaging(t)
	schema := testSchema("readings", ndarray.Shape{4})
	require.NoError(t, s.InitArrayset("readings", schema))
	require.NoError(t, s.PutSample("readings", SampleKey{Name: "a", Named: true}, digest.Compute([]byte("x"))))

	require.NoError(t, s.DeleteArrayset("readings"))
	exists, err := s.HasArrayset("readings")
	require.NoError(t, err)
	assert.False(t, exists)

	err = s.DeleteArrayset("readings")
	assert.True(t, IsKind(err, KindNotFound))
}

func TestStagingMetadataSetDelete(t *testing.T) {
	s := newTestStaging(t)
	require.NoError(t, s.SetMetadata("license", "apache-2.0"))
	require.NoError(t, s.SetMetadata("license", "mit")) // overwrite, not a duplicate key

	require.NoError(t, s.DeleteMetadata("license"))
	err := s.DeleteMetadata("license")
	assert.True(t, IsKind(err, KindNotFound))
}

func TestStagingStatusDetectsDirtiness(t *testing.T) {
	s := newTestStaging(t)
	head, err := s.Snapshot()
	require.NoError(t, err)

	dirty, err := s.Status(head)
	require.NoError(t, err)
	assert.False(t, dirty)

	require.NoError(t, s.SetMetadata("k", "v"))
	dirty, err = s.Status(head)
	require.NoError(t, err)
	assert.True(t, dirty)
}

func TestStagingToRefSnapshotRoundTripsSamplesAndMetadata(t *testing.T) {
	s := newTestStaging(t)
	schema := testSchema("readings", ndarray.Shape{4})
	require.NoError(t, s.InitArrayset("readings", schema))
	d := digest.Compute([]byte("bytes"))
	key := SampleKey{Name: "a", Named: true}
	require.NoError(t, s.PutSample("readings", key, d))
	require.NoError(t, s.SetMetadata("author", "alice"))

	snap, err := s.ToRefSnapshot()
	require.NoError(t, err)
	require.Contains(t, snap.Arraysets, "readings")
	assert.Equal(t, schema, snap.Arraysets["readings"].Schema)
	assert.Equal(t, d, snap.Arraysets["readings"].Samples[string(key.Encode())])
	assert.Equal(t, "alice", snap.Metadata["author"])
}

func TestStagingLoadSnapshotThenToRefSnapshotIsIdentity(t *testing.T) {
	s := newTestStaging(t)
	schema := testSchema("readings", ndarray.Shape{4})
	snap := newRefSnapshot()
	rec := newArraysetRecord("readings", schema)
	key := SampleKey{Name: "a", Named: true}
	rec.Samples[string(key.Encode())] = digest.Compute([]byte("bytes"))
	snap.Arraysets["readings"] = rec
	snap.Metadata["author"] = "alice"

	require.NoError(t, s.LoadSnapshot(snap))
	got, err := s.ToRefSnapshot()
	require.NoError(t, err)
	assert.Equal(t, snap.Bytes(), got.Bytes())
}
