// SPDX-License-Identifier: Apache-2.0

package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrayvc/arrayvc/modules/chunked"
	"github.com/arrayvc/arrayvc/modules/digest"
	"github.com/arrayvc/arrayvc/modules/ndarray"
)

func commitSample(t *testing.T, repo *Repository, branch, holder, sampleName string, fill byte, msg string) digest.Digest {
	t.Helper()
	wc, err := repo.OpenWriteCheckout(branch, holder)
	require.NoError(t, err)
	defer wc.Close()

	has, err := repo.Staging.HasArrayset("readings")
	require.NoError(t, err)
	if !has {
		require.NoError(t, wc.InitArrayset("readings", testSchema("readings", ndarray.Shape{4})))
	}
	key := SampleKey{Name: sampleName, Named: true}
	require.NoError(t, wc.WriteSample("readings", key, fillArray(ndarray.Shape{4}, ndarray.Float32, fill)))

	spec := CommitSpec{User: "a", Message: msg, Time: time.Now()}
	d, err := wc.Commit(spec, digest.Zero)
	require.NoError(t, err)
	return d
}

func TestRepositoryResolveCommitByBranchAndByDigest(t *testing.T) {
	repo := openTestRepo(t)
	d := commitSample(t, repo, "master", "h1", "a", 1, "first")

	byBranch, err := repo.ResolveCommit("master")
	require.NoError(t, err)
	assert.Equal(t, d, byBranch)

	byDigest, err := repo.ResolveCommit(d.String())
	require.NoError(t, err)
	assert.Equal(t, d, byDigest)

	_, err = repo.ResolveCommit("no-such-branch")
	assert.True(t, IsKind(err, KindNotFound))
}

func TestRepositoryOpenReadCheckoutSeesCommittedSamples(t *testing.T) {
	repo := openTestRepo(t)
	commitSample(t, repo, "master", "h1", "a", 7, "first")

	rc, err := repo.OpenReadCheckout("master")
	require.NoError(t, err)
	arr, err := rc.ReadSample("readings", SampleKey{Name: "a", Named: true})
	require.NoError(t, err)
	assert.Equal(t, byte(7), arr.Data[0])
}

func TestRepositoryMergeFastForward(t *testing.T) {
	repo := openTestRepo(t)
	base := commitSample(t, repo, "master", "h1", "a", 1, "base")
	require.NoError(t, repo.Branches.Set("dev", base))
	commitSample(t, repo, "dev", "h2", "b", 2, "dev-only")

	merged, conflicts, err := repo.Merge("master", "dev", "h3", CommitSpec{User: "a", Message: "merge"})
	require.NoError(t, err)
	assert.Empty(t, conflicts)

	head, err := repo.Branches.Get("master")
	require.NoError(t, err)
	assert.Equal(t, merged, head)
}

func TestRepositoryMergeConflictLeavesMasterUntouched(t *testing.T) {
	repo := openTestRepo(t)
	base := commitSample(t, repo, "master", "h1", "a", 1, "base")
	require.NoError(t, repo.Branches.Set("dev", base))

	masterHead := commitSample(t, repo, "master", "h1", "a", 2, "master-edit")
	commitSample(t, repo, "dev", "h2", "a", 3, "dev-edit")

	_, conflicts, err := repo.Merge("master", "dev", "h3", CommitSpec{User: "a", Message: "merge"})
	require.Error(t, err)
	assert.True(t, IsKind(err, KindConflict))
	assert.NotEmpty(t, conflicts)

	head, err := repo.Branches.Get("master")
	require.NoError(t, err)
	assert.Equal(t, masterHead, head)
}

func TestRepositorySummaryAndLog(t *testing.T) {
	repo := openTestRepo(t)
	d1 := commitSample(t, repo, "master", "h1", "a", 1, "first")
	d2 := commitSample(t, repo, "master", "h1", "b", 2, "second")

	summary, err := repo.Summary()
	require.NoError(t, err)
	assert.Contains(t, summary.Branches, "master")
	assert.Equal(t, 2, summary.TotalDigests)
	assert.False(t, summary.WriterLocked)

	entries, err := repo.Log("master")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, d2, entries[0].Digest)
	assert.Equal(t, d1, entries[1].Digest)
}

func TestRepositoryReadSampleByDigestReturnsNotMaterializedForReferenceOnly(t *testing.T) {
	repo := openTestRepo(t)
	schema := testSchema("readings", ndarray.Shape{4})
	d := digest.Compute([]byte("placeholder"))
	require.NoError(t, repo.HashIndex.Put(d, chunked.ReferenceOnlyFormatCode, nil))

	_, err := repo.ReadSampleByDigest(schema, d)
	assert.True(t, IsKind(err, KindNotFound))
}

func TestRepositoryMaterializeSamplePromotesReferenceOnlyDigest(t *testing.T) {
	repo := openTestRepo(t)
	schema := testSchema("readings", ndarray.Shape{4})
	sample := fillArray(ndarray.Shape{4}, ndarray.Float32, 9)
	d := digest.Compute(sample.Data)
	require.NoError(t, repo.HashIndex.Put(d, chunked.ReferenceOnlyFormatCode, nil))

	require.NoError(t, repo.MaterializeSample(schema, d, sample))

	got, err := repo.ReadSampleByDigest(schema, d)
	require.NoError(t, err)
	assert.Equal(t, sample.Data, got.Data)
}
