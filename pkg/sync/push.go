// SPDX-License-Identifier: Apache-2.0

package sync

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/arrayvc/arrayvc/modules/digest"
	"github.com/arrayvc/arrayvc/pkg/store"
)

// PushResult summarizes one Push call, supplementing spec.md per
// original_source/ reporting the transfer counts a CLI push prints.
type PushResult struct {
	Branch         string
	Head           digest.Digest
	CommitsPushed int
}

// Push implements push_find_missing_*/push_commit of spec.md §4.7: build
// a temporary ref db of every local commit the remote might be missing,
// let the server compute its own missing set against that db
// authoritatively, then transfer schemas/labels/data/commit records for
// only the commits it actually asked for, oldest-first so a commit is
// never pushed before what it depends on.
func Push(ctx context.Context, repo *store.Repository, t Transport, branch string) (PushResult, error) {
	localHead, err := repo.Branches.Get(branch)
	if err != nil {
		return PushResult{}, err
	}
	remoteHead, err := t.FetchBranch(ctx, branch)
	if err != nil {
		return PushResult{}, err
	}
	if remoteHead == localHead {
		return PushResult{Branch: branch, Head: localHead}, nil
	}

	localAnc, err := ancestorDigestSet(repo.Commits, localHead)
	if err != nil {
		return PushResult{}, err
	}
	if !remoteHead.IsZero() && !localAnc[remoteHead] {
		return PushResult{}, wrapErr(store.KindStateError, ErrDivergedPush, "push %q", branch)
	}

	tmp, err := buildTmpRefDB(repo, localHead)
	if err != nil {
		return PushResult{}, err
	}

	missing, err := t.PushFindMissingCommits(ctx, branch, tmp)
	if err != nil {
		return PushResult{}, err
	}
	order, err := missingCommits(repo.Commits, localHead, remoteHead)
	if err != nil {
		return PushResult{}, err
	}
	wanted := make(map[digest.Digest]bool, len(missing))
	for _, d := range missing {
		wanted[d] = true
	}

	pushed := 0
	for _, d := range order {
		if !wanted[d] {
			continue
		}
		if err := pushCommitObjects(ctx, repo, t, branch, d, tmp); err != nil {
			return PushResult{}, err
		}
		rec, _ := findTmp(tmp, d)
		if err := t.PushCommitRecord(ctx, rec); err != nil {
			return PushResult{}, err
		}
		pushed++
	}

	if err := t.PushCommit(ctx, branch, findCommitRecord(tmp, localHead), remoteHead); err != nil {
		return PushResult{}, err
	}
	return PushResult{Branch: branch, Head: localHead, CommitsPushed: pushed}, nil
}

func findCommitRecord(tmp []CommitRecord, d digest.Digest) CommitRecord {
	rec, _ := findTmp(tmp, d)
	return rec
}

// buildTmpRefDB materializes every ancestor of head (spec.md §4.7 "the
// client builds a temporary unpacked ref db covering every commit it
// believes the server might be missing") as a slice of CommitRecords the
// server can decode without first having any of them locally.
func buildTmpRefDB(repo *store.Repository, head digest.Digest) ([]CommitRecord, error) {
	anc, err := ancestorDigestSet(repo.Commits, head)
	if err != nil {
		return nil, err
	}
	tmp := make([]CommitRecord, 0, len(anc))
	for d := range anc {
		spec, err := repo.Commits.Spec(d)
		if err != nil {
			return nil, err
		}
		parents, err := repo.Commits.Parents(d)
		if err != nil {
			return nil, err
		}
		refs, err := repo.Commits.Refs(d)
		if err != nil {
			return nil, err
		}
		tmp = append(tmp, CommitRecord{Digest: d, Parents: parents, Spec: spec.Bytes(), Refs: refs})
	}
	return tmp, nil
}

// pushCommitObjects transfers one commit's missing schemas, labels, and
// tensor data, asking the server which of each kind it still lacks
// before sending bytes (spec.md §4.7's push_find_missing_* family, all
// server-authoritative against tmp).
func pushCommitObjects(ctx context.Context, repo *store.Repository, t Transport, branch string, commit digest.Digest, tmp []CommitRecord) error {
	missingSchemas, err := t.PushFindMissingSchemas(ctx, commit, tmp)
	if err != nil {
		return err
	}
	for _, sd := range missingSchemas {
		schema, err := repo.Schemas.Get(sd)
		if err != nil {
			return err
		}
		if err := t.PushSchema(ctx, sd, schema.Bytes()); err != nil {
			return err
		}
	}

	missingLabels, err := t.PushFindMissingLabels(ctx, commit, tmp)
	if err != nil {
		return err
	}
	for _, ld := range missingLabels {
		value, err := repo.Labels.Get(ld)
		if err != nil {
			return err
		}
		if err := t.PushLabel(ctx, ld, value); err != nil {
			return err
		}
	}

	missingRecords, err := t.PushFindMissingHashRecords(ctx, commit, tmp)
	if err != nil {
		return err
	}
	if err := pushDataGroup(ctx, repo, t, missingRecords); err != nil {
		return err
	}
	return nil
}

// pushDataGroup groups missing hash records by schema and uploads each
// group's tensor bytes concurrently, bounded the way FetchDataForCommit
// bounds its transfers.
func pushDataGroup(ctx context.Context, repo *store.Repository, t Transport, records []HashRecord) error {
	bySchema := make(map[digest.Digest][]HashRecord)
	for _, hr := range records {
		bySchema[hr.Schema] = append(bySchema[hr.Schema], hr)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for schemaHash, group := range bySchema {
		schemaHash, group := schemaHash, group
		g.Go(func() error {
			schema, err := repo.Schemas.Get(schemaHash)
			if err != nil {
				return err
			}
			remaining := group
			for len(remaining) > 0 {
				batch := make([]DataRecord, 0, len(remaining))
				for _, hr := range remaining {
					arr, err := repo.ReadSampleByDigest(schema, hr.Digest)
					if err != nil {
						return err
					}
					batch = append(batch, DataRecord{
						Digest: hr.Digest,
						Shape:  []int64(arr.Shape),
						DType:  uint8(arr.DType),
						Data:   arr.Data,
					})
				}
				persisted, err := t.PushData(gctx, schemaHash, batch)
				if err != nil {
					return err
				}
				if len(persisted) == 0 {
					return newErr(store.KindTransport, "remote persisted none of %d pushed samples under schema %s", len(remaining), schemaHash)
				}
				done := make(map[digest.Digest]bool, len(persisted))
				for _, d := range persisted {
					done[d] = true
				}
				var next []HashRecord
				for _, hr := range remaining {
					if !done[hr.Digest] {
						next = append(next, hr)
					}
				}
				remaining = next
			}
			return nil
		})
	}
	return g.Wait()
}
