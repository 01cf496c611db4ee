// SPDX-License-Identifier: Apache-2.0

package sync

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/arrayvc/arrayvc/modules/chunked"
	"github.com/arrayvc/arrayvc/modules/digest"
	"github.com/arrayvc/arrayvc/modules/ndarray"
	"github.com/arrayvc/arrayvc/pkg/store"
)

// FetchResult summarizes one Fetch call, supplementing spec.md per
// original_source/ reporting the transfer counts a CLI fetch prints.
type FetchResult struct {
	Branch         string
	Head           digest.Digest
	CommitsFetched int
}

// Fetch implements fetch_branch/fetch_find_missing_commits/fetch_commit
// of spec.md §4.7: resolve branch on the remote, walk missing commits
// oldest-first, and for each one pull its schemas, labels, and hash
// records before recording the commit itself, then advance the local
// tracking branch to the remote's head. It does not touch tensor bytes;
// that is FetchDataForCommit's job, invoked separately so a partial
// clone can defer it (spec.md §8 scenario 6).
func Fetch(ctx context.Context, repo *store.Repository, t Transport, branch string) (FetchResult, error) {
	remoteHead, err := t.FetchBranch(ctx, branch)
	if err != nil {
		return FetchResult{}, err
	}
	if remoteHead.IsZero() {
		return FetchResult{Branch: branch}, nil
	}

	localHead, err := repo.Branches.Get(branch)
	if err != nil {
		localHead = digest.Zero // branch not yet tracked locally
	}

	if !localHead.IsZero() && localHead != remoteHead {
		// spec.md §4.7 "Fetch refuses if the local branch head is not an
		// ancestor of the server's": confirm the remote still knows about
		// localHead at all before trusting its missing-commit answer.
		if _, err := t.FetchCommit(ctx, localHead); err != nil {
			return FetchResult{}, wrapErr(store.KindStateError, ErrDivergedFetch, "fetch %q", branch)
		}
	}

	missing, err := t.FetchFindMissingCommits(ctx, branch, localHead)
	if err != nil {
		return FetchResult{}, err
	}

	for _, d := range missing {
		if err := pullCommit(ctx, repo, t, d); err != nil {
			return FetchResult{}, err
		}
	}

	if !localHead.IsZero() {
		ok, err := repo.Commits.CanFF(localHead, remoteHead)
		if err != nil {
			return FetchResult{}, err
		}
		if !ok {
			return FetchResult{}, wrapErr(store.KindStateError, ErrDivergedFetch, "fetch %q", branch)
		}
	}

	if err := repo.Branches.Set(branch, remoteHead); err != nil {
		return FetchResult{}, err
	}
	return FetchResult{Branch: branch, Head: remoteHead, CommitsFetched: len(missing)}, nil
}

// pullCommit transfers one commit's schemas, labels, and hash records
// (recorded reference-only, per spec.md §4.7 step 3's ordering: schemas
// and labels and hash index entries before the commit record itself,
// so a reader who sees the commit already has everything it references).
func pullCommit(ctx context.Context, repo *store.Repository, t Transport, d digest.Digest) error {
	rec, err := t.FetchCommit(ctx, d)
	if err != nil {
		return err
	}
	snap, err := store.DecodeRefSnapshot(rec.Refs)
	if err != nil {
		return wrapErr(store.KindCorruption, err, "decode refs for commit %s", d)
	}

	for _, sd := range commitSchemaDigests(snap) {
		if has, err := repo.Schemas.Has(sd); err != nil {
			return err
		} else if has {
			continue
		}
		raw, err := t.FetchSchema(ctx, sd)
		if err != nil {
			return err
		}
		schema, err := store.DecodeSchema(raw)
		if err != nil {
			return wrapErr(store.KindCorruption, err, "decode fetched schema %s", sd)
		}
		if _, err := repo.Schemas.Put(schema); err != nil {
			return err
		}
	}

	for _, ld := range commitLabelDigests(snap) {
		if has, err := repo.Labels.Has(ld); err != nil {
			return err
		} else if has {
			continue
		}
		value, err := t.FetchLabel(ctx, ld)
		if err != nil {
			return err
		}
		if _, err := repo.Labels.Put(value); err != nil {
			return err
		}
	}

	for _, hr := range commitHashRecords(snap) {
		if has, err := repo.HashIndex.Has(hr.Digest); err != nil {
			return err
		} else if has {
			continue
		}
		// Recorded reference-only: fetch transfers the index entry, not
		// the tensor bytes (spec.md §4.7). FetchDataForCommit promotes
		// these to materialized locations on demand.
		if err := repo.HashIndex.Put(hr.Digest, chunked.ReferenceOnlyFormatCode, nil); err != nil {
			return err
		}
	}

	if _, err := repo.Commits.Create(rec.Refs, rec.Parents, mustDecodeSpec(rec.Spec)); err != nil {
		return err
	}
	return nil
}

func mustDecodeSpec(raw []byte) store.CommitSpec {
	spec, err := store.DecodeCommitSpec(raw)
	if err != nil {
		return store.CommitSpec{}
	}
	return spec
}

// FetchDataForCommit materializes every sample a commit references that
// is currently only a reference-only hash-index entry, grouped by schema
// so each group can be transferred and written through one backend
// concurrently (spec.md §4.7 "fetch_data(schema, digests) ... grouped by
// schema since a backend is bound to one schema"). The server may answer
// a batch partially; each group is re-requested for the digests not yet
// returned until all have arrived, and an empty response while digests
// remain is an error.
func FetchDataForCommit(ctx context.Context, repo *store.Repository, t Transport, commit digest.Digest) error {
	refsBytes, err := repo.Commits.Refs(commit)
	if err != nil {
		return err
	}
	snap, err := store.DecodeRefSnapshot(refsBytes)
	if err != nil {
		return wrapErr(store.KindCorruption, err, "decode refs for commit %s", commit)
	}

	bySchema := make(map[digest.Digest][]digest.Digest)
	schemaByDigest := make(map[digest.Digest]store.Schema)
	for _, rec := range snap.Arraysets {
		schemaHash := rec.Schema.Hash()
		schemaByDigest[schemaHash] = rec.Schema
		for _, d := range rec.Samples {
			formatCode, _, err := repo.HashIndex.Get(d)
			if err != nil {
				return err
			}
			if formatCode != chunked.ReferenceOnlyFormatCode {
				continue
			}
			bySchema[schemaHash] = append(bySchema[schemaHash], d)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for schemaHash, digests := range bySchema {
		schemaHash, digests := schemaHash, digests
		g.Go(func() error {
			return fetchDataGroup(gctx, repo, t, schemaByDigest[schemaHash], schemaHash, digests)
		})
	}
	return g.Wait()
}

func fetchDataGroup(ctx context.Context, repo *store.Repository, t Transport, schema store.Schema, schemaHash digest.Digest, want []digest.Digest) error {
	remaining := want
	for len(remaining) > 0 {
		records, err := t.FetchData(ctx, schemaHash, remaining)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return newErr(store.KindTransport, "remote returned no data for %d remaining digests under schema %s", len(remaining), schemaHash)
		}
		got := make(map[digest.Digest]bool, len(records))
		for _, rec := range records {
			got[rec.Digest] = true
			shape := make(ndarray.Shape, len(rec.Shape))
			copy(shape, rec.Shape)
			arr, err := ndarray.NewFromBytes(shape, ndarray.DType(rec.DType), rec.Data)
			if err != nil {
				return wrapErr(store.KindCorruption, err, "decode fetched sample %s", rec.Digest)
			}
			if err := repo.MaterializeSample(schema, rec.Digest, arr); err != nil {
				return err
			}
		}
		var next []digest.Digest
		for _, d := range remaining {
			if !got[d] {
				next = append(next, d)
			}
		}
		remaining = next
	}
	return nil
}
