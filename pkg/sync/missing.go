// SPDX-License-Identifier: Apache-2.0

package sync

import (
	"sort"
	"time"

	"github.com/emirpasic/gods/sets/treeset"

	"github.com/arrayvc/arrayvc/modules/digest"
	"github.com/arrayvc/arrayvc/pkg/store"
)

func digestComparator(a, b any) int { return a.(digest.Digest).Compare(b.(digest.Digest)) }

func sortedDigests(s *treeset.Set) []digest.Digest {
	out := make([]digest.Digest, 0, s.Size())
	for _, v := range s.Values() {
		out = append(out, v.(digest.Digest))
	}
	return out
}

// ancestorDigestSet returns the ancestor closure of d, including d itself,
// or the empty set if d is the zero digest (no commits yet).
func ancestorDigestSet(commits *store.Commits, d digest.Digest) (map[digest.Digest]bool, error) {
	if d.IsZero() {
		return map[digest.Digest]bool{}, nil
	}
	anc, err := commits.Ancestors(d)
	if err != nil {
		return nil, err
	}
	set := make(map[digest.Digest]bool, len(anc))
	for k := range anc {
		set[k] = true
	}
	return set, nil
}

// missingCommits answers the one truly negotiation-dependent question of
// spec.md §4.7: commits reachable from head that are not already
// reachable from have, oldest-first so a caller can apply
// schemas/labels/hash-records/commit-records parent before child (§4.7
// step 3). Used for both fetch_find_missing_commits (head=remote's head,
// have=caller's tracking branch) and push_find_missing_commits filtering
// (head=pushed branch tip, have=remote's current head).
func missingCommits(commits *store.Commits, head, have digest.Digest) ([]digest.Digest, error) {
	if head.IsZero() {
		return nil, nil
	}
	haveSet, err := ancestorDigestSet(commits, have)
	if err != nil {
		return nil, err
	}
	headAnc, err := commits.Ancestors(head)
	if err != nil {
		return nil, err
	}
	type item struct {
		d    digest.Digest
		when time.Time
	}
	var items []item
	for d := range headAnc {
		if haveSet[d] {
			continue
		}
		spec, err := commits.Spec(d)
		if err != nil {
			return nil, err
		}
		items = append(items, item{d: d, when: spec.Time})
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].when.Equal(items[j].when) {
			return items[i].when.Before(items[j].when)
		}
		return items[i].d.Compare(items[j].d) < 0
	})
	out := make([]digest.Digest, len(items))
	for i, it := range items {
		out[i] = it.d
	}
	return out, nil
}

// commitSchemaDigests, commitLabelDigests, and commitHashRecords enumerate
// every schema/label/sample reference a single commit's RefSnapshot
// carries. On the fetch side these are returned unfiltered: the server
// has no visibility into what the fetching client already holds beyond
// the commit negotiation itself, so the client is responsible for
// skipping any digest it already has locally before issuing the
// corresponding fetch_schema/fetch_label/fetch_data call (see fetch.go's
// pullCommit). On the push side (missing.go's pushMissing* below) the
// same enumeration is filtered server-side, since there the server's own
// store is the authority on what it already has.

func commitSchemaDigests(snap *store.RefSnapshot) []digest.Digest {
	set := treeset.NewWith(digestComparator)
	for _, rec := range snap.Arraysets {
		set.Add(rec.Schema.Hash())
	}
	return sortedDigests(set)
}

func commitLabelDigests(snap *store.RefSnapshot) []digest.Digest {
	set := treeset.NewWith(digestComparator)
	for _, v := range snap.Metadata {
		set.Add(digest.Compute([]byte(v)))
	}
	return sortedDigests(set)
}

func commitHashRecords(snap *store.RefSnapshot) []HashRecord {
	set := treeset.NewWith(digestComparator)
	bySchema := make(map[digest.Digest]digest.Digest)
	for _, rec := range snap.Arraysets {
		schemaHash := rec.Schema.Hash()
		for _, d := range rec.Samples {
			if !set.Contains(d) {
				set.Add(d)
				bySchema[d] = schemaHash
			}
		}
	}
	digests := sortedDigests(set)
	out := make([]HashRecord, 0, len(digests))
	for _, d := range digests {
		out = append(out, HashRecord{Digest: d, Schema: bySchema[d]})
	}
	return out
}

// findTmp locates one commit record within a client-supplied temporary
// ref db by digest.
func findTmp(tmp []CommitRecord, d digest.Digest) (CommitRecord, bool) {
	for _, c := range tmp {
		if c.Digest == d {
			return c, true
		}
	}
	return CommitRecord{}, false
}

func decodeTmpSnapshot(rec CommitRecord) (*store.RefSnapshot, error) {
	snap, err := store.DecodeRefSnapshot(rec.Refs)
	if err != nil {
		return nil, wrapErr(store.KindCorruption, err, "decode refs for commit %s", rec.Digest)
	}
	return snap, nil
}

// pushMissingCommits is the server side of push_find_missing_commits: of
// tmp's commits, the ones this repository does not already have.
func pushMissingCommits(repo *store.Repository, tmp []CommitRecord) ([]digest.Digest, error) {
	var missing []digest.Digest
	for _, c := range tmp {
		has, err := repo.Commits.Exists(c.Digest)
		if err != nil {
			return nil, err
		}
		if !has {
			missing = append(missing, c.Digest)
		}
	}
	return missing, nil
}

// pushMissingSchemas is the server side of push_find_missing_schemas,
// computed authoritatively from the server's own Schemas store (spec.md
// §4.7 "the server can compute its missing set authoritatively").
func pushMissingSchemas(repo *store.Repository, commit digest.Digest, tmp []CommitRecord) ([]digest.Digest, error) {
	rec, ok := findTmp(tmp, commit)
	if !ok {
		return nil, newErr(store.KindInvalidArgument, "commit %s not present in temporary ref db", commit)
	}
	snap, err := decodeTmpSnapshot(rec)
	if err != nil {
		return nil, err
	}
	var missing []digest.Digest
	for _, d := range commitSchemaDigests(snap) {
		has, err := repo.Schemas.Has(d)
		if err != nil {
			return nil, err
		}
		if !has {
			missing = append(missing, d)
		}
	}
	return missing, nil
}

func pushMissingLabels(repo *store.Repository, commit digest.Digest, tmp []CommitRecord) ([]digest.Digest, error) {
	rec, ok := findTmp(tmp, commit)
	if !ok {
		return nil, newErr(store.KindInvalidArgument, "commit %s not present in temporary ref db", commit)
	}
	snap, err := decodeTmpSnapshot(rec)
	if err != nil {
		return nil, err
	}
	var missing []digest.Digest
	for _, d := range commitLabelDigests(snap) {
		has, err := repo.Labels.Has(d)
		if err != nil {
			return nil, err
		}
		if !has {
			missing = append(missing, d)
		}
	}
	return missing, nil
}

func pushMissingHashRecords(repo *store.Repository, commit digest.Digest, tmp []CommitRecord) ([]HashRecord, error) {
	rec, ok := findTmp(tmp, commit)
	if !ok {
		return nil, newErr(store.KindInvalidArgument, "commit %s not present in temporary ref db", commit)
	}
	snap, err := decodeTmpSnapshot(rec)
	if err != nil {
		return nil, err
	}
	var missing []HashRecord
	for _, hr := range commitHashRecords(snap) {
		has, err := repo.HashIndex.Has(hr.Digest)
		if err != nil {
			return nil, err
		}
		if !has {
			missing = append(missing, hr)
		}
	}
	return missing, nil
}
