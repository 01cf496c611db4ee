// SPDX-License-Identifier: Apache-2.0

package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrayvc/arrayvc/modules/digest"
)

func newTestCommits(t *testing.T) *Commits {
	return NewCommits(openTestEnv(t, "ref"))
}

func TestCommitSpecBytesRoundTrip(t *testing.T) {
	spec := CommitSpec{
		User: "alice", Email: "alice@example.com", Message: "first commit",
		Time: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	decoded, err := DecodeCommitSpec(spec.Bytes())
	require.NoError(t, err)
	assert.Equal(t, spec.User, decoded.User)
	assert.Equal(t, spec.Email, decoded.Email)
	assert.Equal(t, spec.Message, decoded.Message)
	assert.True(t, spec.Time.Equal(decoded.Time))
	assert.False(t, decoded.IsMerge)
}

func TestComputeCommitDigestIsParentOrderIndependent(t *testing.T) {
	spec := CommitSpec{User: "a", Email: "a@b.c", Message: "m", Time: time.Unix(1, 0)}
	p1 := digest.Compute([]byte("p1"))
	p2 := digest.Compute([]byte("p2"))
	refs := []byte("refs-bytes")

	d1 := ComputeCommitDigest(refs, []digest.Digest{p1, p2}, spec)
	d2 := ComputeCommitDigest(refs, []digest.Digest{p2, p1}, spec)
	assert.Equal(t, d1, d2)
}

func TestComputeCommitDigestChangesWithSpec(t *testing.T) {
	refs := []byte("refs-bytes")
	s1 := CommitSpec{User: "a", Message: "m1", Time: time.Unix(1, 0)}
	s2 := CommitSpec{User: "a", Message: "m2", Time: time.Unix(1, 0)}
	assert.NotEqual(t, ComputeCommitDigest(refs, nil, s1), ComputeCommitDigest(refs, nil, s2))
}

func TestCommitsCreateAndRead(t *testing.T) {
	c := newTestCommits(t)
	spec := CommitSpec{User: "a", Email: "a@b.c", Message: "m", Time: time.Unix(1000, 0)}
	d, err := c.Create([]byte("refs"), nil, spec)
	require.NoError(t, err)

	exists, err := c.Exists(d)
	require.NoError(t, err)
	assert.True(t, exists)

	gotSpec, err := c.Spec(d)
	require.NoError(t, err)
	assert.Equal(t, spec.Message, gotSpec.Message)

	gotRefs, err := c.Refs(d)
	require.NoError(t, err)
	assert.Equal(t, []byte("refs"), gotRefs)

	parents, err := c.Parents(d)
	require.NoError(t, err)
	assert.Empty(t, parents)
}

func TestCommitsReadUnknownDigest(t *testing.T) {
	c := newTestCommits(t)
	_, err := c.Spec(digest.Compute([]byte("nope")))
	assert.True(t, IsKind(err, KindNotFound))
	assert.ErrorIs(t, err, ErrCommitNotFound)
}

// chain builds a linear history of n commits, returning their digests
// oldest first.
func chain(t *testing.T, c *Commits, n int) []digest.Digest {
	t.Helper()
	var out []digest.Digest
	var parent digest.Digest
	for i := 0; i < n; i++ {
		var parents []digest.Digest
		if !parent.IsZero() {
			parents = []digest.Digest{parent}
		}
		spec := CommitSpec{User: "a", Message: "m", Time: time.Unix(int64(1000+i), 0)}
		d, err := c.Create([]byte{byte(i)}, parents, spec)
		require.NoError(t, err)
		out = append(out, d)
		parent = d
	}
	return out
}

func TestCommitsAncestorsWalksFullChain(t *testing.T) {
	c := newTestCommits(t)
	commits := chain(t, c, 3)

	anc, err := c.Ancestors(commits[2])
	require.NoError(t, err)
	assert.Len(t, anc, 3)
	for _, d := range commits {
		assert.Contains(t, anc, d)
	}
}

func TestCommitsCanFF(t *testing.T) {
	c := newTestCommits(t)
	commits := chain(t, c, 3)

	ok, err := c.CanFF(commits[0], commits[2])
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.CanFF(commits[2], commits[0])
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.CanFF(commits[1], commits[1])
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCommitsClosestCommonAncestorDiverged(t *testing.T) {
	c := newTestCommits(t)
	base := chain(t, c, 2) // base[0] -> base[1]

	masterSpec := CommitSpec{User: "a", Message: "master", Time: time.Unix(2000, 0)}
	masterD, err := c.Create([]byte("master-refs"), []digest.Digest{base[1]}, masterSpec)
	require.NoError(t, err)

	devSpec := CommitSpec{User: "a", Message: "dev", Time: time.Unix(2001, 0)}
	devD, err := c.Create([]byte("dev-refs"), []digest.Digest{base[1]}, devSpec)
	require.NoError(t, err)

	ancestor, err := c.ClosestCommonAncestor(masterD, devD)
	require.NoError(t, err)
	assert.Equal(t, base[1], ancestor)
}

func TestCommitsClosestCommonAncestorNoneIsNotFound(t *testing.T) {
	c := newTestCommits(t)
	aSpec := CommitSpec{User: "a", Message: "a", Time: time.Unix(1, 0)}
	a, err := c.Create([]byte("a"), nil, aSpec)
	require.NoError(t, err)
	bSpec := CommitSpec{User: "b", Message: "b", Time: time.Unix(2, 0)}
	b, err := c.Create([]byte("b"), nil, bSpec)
	require.NoError(t, err)

	_, err = c.ClosestCommonAncestor(a, b)
	assert.True(t, IsKind(err, KindNotFound))
}
