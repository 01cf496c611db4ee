// SPDX-License-Identifier: Apache-2.0

package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrayvc/arrayvc/modules/digest"
	"github.com/arrayvc/arrayvc/pkg/store"
)

func TestMissingCommitsOrdersOldestFirst(t *testing.T) {
	repo := openTestRepo(t)
	c1 := commitOneSample(t, repo, "main", "readings", "a", 1, 0)
	c2 := commitOneSample(t, repo, "main", "readings", "b", 2, 10)
	c3 := commitOneSample(t, repo, "main", "readings", "c", 3, 20)

	missing, err := missingCommits(repo.Commits, c3, digest.Zero)
	require.NoError(t, err)
	assert.Equal(t, []digest.Digest{c1, c2, c3}, missing)
}

func TestMissingCommitsExcludesHaveAncestors(t *testing.T) {
	repo := openTestRepo(t)
	c1 := commitOneSample(t, repo, "main", "readings", "a", 1, 0)
	c2 := commitOneSample(t, repo, "main", "readings", "b", 2, 10)

	missing, err := missingCommits(repo.Commits, c2, c1)
	require.NoError(t, err)
	assert.Equal(t, []digest.Digest{c2}, missing)
}

func TestMissingCommitsZeroHeadIsEmpty(t *testing.T) {
	repo := openTestRepo(t)
	missing, err := missingCommits(repo.Commits, digest.Zero, digest.Zero)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestCommitSchemaAndHashRecordDigests(t *testing.T) {
	repo := openTestRepo(t)
	c1 := commitOneSample(t, repo, "main", "readings", "a", 1, 0)

	refs, err := repo.Commits.Refs(c1)
	require.NoError(t, err)
	snap, err := store.DecodeRefSnapshot(refs)
	require.NoError(t, err)

	schemas := commitSchemaDigests(snap)
	require.Len(t, schemas, 1)
	assert.Equal(t, testSchema().Hash(), schemas[0])

	records := commitHashRecords(snap)
	require.Len(t, records, 1)
	assert.Equal(t, schemas[0], records[0].Schema)
}

func TestPushMissingSchemasFiltersKnown(t *testing.T) {
	repo := openTestRepo(t)
	c1 := commitOneSample(t, repo, "main", "readings", "a", 1, 0)

	spec, err := repo.Commits.Spec(c1)
	require.NoError(t, err)
	parents, err := repo.Commits.Parents(c1)
	require.NoError(t, err)
	refs, err := repo.Commits.Refs(c1)
	require.NoError(t, err)
	tmp := []CommitRecord{{Digest: c1, Parents: parents, Spec: spec.Bytes(), Refs: refs}}

	// The repository already has its own schema (it produced the commit),
	// so a server checking against its own store sees nothing missing.
	missing, err := pushMissingSchemas(repo, c1, tmp)
	require.NoError(t, err)
	assert.Empty(t, missing)

	// A fresh repository that never saw this schema reports it missing.
	fresh := openTestRepo(t)
	missing, err = pushMissingSchemas(fresh, c1, tmp)
	require.NoError(t, err)
	require.Len(t, missing, 1)
}

func TestPushMissingHashRecordsUnknownCommitErrors(t *testing.T) {
	repo := openTestRepo(t)
	_, err := pushMissingHashRecords(repo, digest.Compute([]byte("nope")), nil)
	assert.Error(t, err)
	assert.True(t, store.IsKind(err, store.KindInvalidArgument))
}
