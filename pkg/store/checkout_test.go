// SPDX-License-Identifier: Apache-2.0

package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrayvc/arrayvc/modules/chunked"
	"github.com/arrayvc/arrayvc/modules/digest"
	"github.com/arrayvc/arrayvc/modules/kvstore"
	"github.com/arrayvc/arrayvc/modules/ndarray"
)

func TestWriteCheckoutWriteReadCommitLifecycle(t *testing.T) {
	repo := openTestRepo(t)
	wc, err := repo.OpenWriteCheckout("master", "holder-1")
	require.NoError(t, err)

	schema := testSchema("readings", ndarray.Shape{4})
	require.NoError(t, wc.InitArrayset("readings", schema))

	key := SampleKey{Name: "a", Named: true}
	sample := fillArray(ndarray.Shape{4}, ndarray.Float32, 1)
	require.NoError(t, wc.WriteSample("readings", key, sample))

	got, err := wc.ReadSample("readings", key)
	require.NoError(t, err)
	assert.Equal(t, sample.Data, got.Data)

	dirty, err := wc.Status()
	require.NoError(t, err)
	assert.True(t, dirty)

	spec := CommitSpec{User: "alice", Email: "alice@example.com", Message: "add reading a", Time: time.Unix(1000, 0)}
	d, err := wc.Commit(spec, digest.Zero)
	require.NoError(t, err)
	assert.False(t, d.IsZero())

	require.NoError(t, wc.Close())

	dirty, err = repo.Staging.Status(mustHeadPairs(t, repo, "master"))
	require.NoError(t, err)
	assert.False(t, dirty)
}

func TestWriteCheckoutDeleteSampleAndMetadata(t *testing.T) {
	repo := openTestRepo(t)
	wc, err := repo.OpenWriteCheckout("master", "holder-1")
	require.NoError(t, err)
	defer wc.Close()

	schema := testSchema("readings", ndarray.Shape{4})
	require.NoError(t, wc.InitArrayset("readings", schema))
	key := SampleKey{Name: "a", Named: true}
	sample := fillArray(ndarray.Shape{4}, ndarray.Float32, 1)
	require.NoError(t, wc.WriteSample("readings", key, sample))
	require.NoError(t, wc.DeleteSample("readings", key))

	_, err = wc.ReadSample("readings", key)
	assert.True(t, IsKind(err, KindNotFound))

	require.NoError(t, wc.SetMetadata("k", "v"))
	require.NoError(t, wc.DeleteMetadata("k"))
}

func TestWriteCheckoutCloseIsIdempotentAndBlocksFurtherUse(t *testing.T) {
	repo := openTestRepo(t)
	wc, err := repo.OpenWriteCheckout("master", "holder-1")
	require.NoError(t, err)

	require.NoError(t, wc.Close())
	require.NoError(t, wc.Close()) // second Close is a no-op

	err = wc.SetMetadata("k", "v")
	assert.True(t, IsKind(err, KindStateError))
}

func TestWriteCheckoutResetStagingAreaRestoresHead(t *testing.T) {
	repo := openTestRepo(t)
	wc, err := repo.OpenWriteCheckout("master", "holder-1")
	require.NoError(t, err)
	defer wc.Close()

	schema := testSchema("readings", ndarray.Shape{4})
	require.NoError(t, wc.InitArrayset("readings", schema))
	spec := CommitSpec{User: "a", Message: "base", Time: time.Unix(1, 0)}
	_, err = wc.Commit(spec, digest.Zero)
	require.NoError(t, err)

	require.NoError(t, wc.SetMetadata("scratch", "dirty"))
	key := SampleKey{Name: "abandoned", Named: true}
	sample := fillArray(ndarray.Shape{4}, ndarray.Float32, 7)
	require.NoError(t, wc.WriteSample("readings", key, sample))

	backend, err := repo.Backends.For(schema)
	require.NoError(t, err)

	dirty, err := wc.Status()
	require.NoError(t, err)
	require.True(t, dirty)

	pending, err := repo.HashIndex.ListPending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	formatCode, encLoc, err := repo.HashIndex.Get(pending[0])
	require.NoError(t, err)
	stagedLoc, err := chunked.DecodeLocation(locationRaw(formatCode, encLoc))
	require.NoError(t, err)

	require.NoError(t, wc.ResetStagingArea())
	dirty, err = wc.Status()
	require.NoError(t, err)
	assert.False(t, dirty)

	_, err = backend.Read(stagedLoc)
	assert.Error(t, err, "abandoned staged sample must be swept on reset")
}

func mustHeadPairs(t *testing.T, repo *Repository, branch string) []kvstore.KV {
	t.Helper()
	head, err := repo.Branches.Get(branch)
	require.NoError(t, err)
	env, err := repo.commitCacheEnv(head)
	require.NoError(t, err)
	pairs, err := env.Snapshot()
	require.NoError(t, err)
	return pairs
}
