// SPDX-License-Identifier: Apache-2.0

package store

import (
	"time"

	"github.com/arrayvc/arrayvc/modules/chunked"
	"github.com/arrayvc/arrayvc/modules/digest"
	"github.com/arrayvc/arrayvc/modules/kvstore"
	"github.com/arrayvc/arrayvc/modules/ndarray"
)

// locationRaw reconstructs the full encoded location (format code,
// separator, backend-specific tail) HashIndex stores split across two
// fields, in the form chunked.DecodeLocation expects.
func locationRaw(formatCode string, encodedLocation []byte) []byte {
	raw := make([]byte, 0, len(formatCode)+1+len(encodedLocation))
	raw = append(raw, formatCode...)
	raw = append(raw, ':')
	raw = append(raw, encodedLocation...)
	return raw
}

// liveStageUIDs resolves every digest still pending in the stage-hash
// index to its chunked-backend file uid, the set Backend.Sweep keeps
// (spec.md §4.1 "Cleanup": "uids ... absent from the stage-hash index" are
// removed, so presence is what survives a sweep).
func liveStageUIDs(repo *Repository) (map[string]bool, error) {
	pending, err := repo.HashIndex.ListPending()
	if err != nil {
		return nil, err
	}
	live := make(map[string]bool, len(pending))
	for _, d := range pending {
		formatCode, encLoc, err := repo.HashIndex.Get(d)
		if err != nil {
			return nil, err
		}
		if formatCode != chunked.FormatCode {
			continue
		}
		loc, err := chunked.DecodeLocation(locationRaw(formatCode, encLoc))
		if err != nil {
			return nil, wrapErr(KindCorruption, err, "decode location for %s", d)
		}
		live[loc.FileUID] = true
	}
	return live, nil
}

// promoteStagedData moves every sample digest committed as part of snap
// from its schema's stage_data symlink tree to store_data (spec.md §3:
// "On commit they move (symlinks move) to the store-data dir"). Samples
// already materialized in a prior commit, or never staged locally (a
// reference-only digest fetched as metadata only), are left untouched.
func promoteStagedData(repo *Repository, snap *RefSnapshot) error {
	for _, rec := range snap.Arraysets {
		backend, err := repo.Backends.For(rec.Schema)
		if err != nil {
			return err
		}
		for _, d := range rec.Samples {
			formatCode, encLoc, err := repo.HashIndex.Get(d)
			if err != nil {
				return err
			}
			if formatCode != chunked.FormatCode {
				continue
			}
			loc, err := chunked.DecodeLocation(locationRaw(formatCode, encLoc))
			if err != nil {
				return wrapErr(KindCorruption, err, "decode location for %s", d)
			}
			if err := backend.Promote(loc.FileUID); err != nil {
				return wrapErr(KindTransport, err, "promote sample %s", d)
			}
		}
	}
	return nil
}

func readByDigest(repo *Repository, schema Schema, d digest.Digest) (*ndarray.Array, error) {
	formatCode, encLoc, err := repo.HashIndex.Get(d)
	if err != nil {
		return nil, err
	}
	if formatCode == chunked.ReferenceOnlyFormatCode {
		// spec.md §8 scenario 6: "sample reads raise NotFound for tensor
		// bytes until fetch_data(origin, head) completes."
		return nil, wrapErr(KindNotFound, chunked.ErrNotMaterialized, "sample %s", d)
	}
	loc, err := chunked.DecodeLocation(locationRaw(formatCode, encLoc))
	if err != nil {
		return nil, wrapErr(KindCorruption, err, "decode location for %s", d)
	}
	backend, err := repo.Backends.For(schema)
	if err != nil {
		return nil, err
	}
	a, err := backend.Read(loc)
	if err != nil {
		return nil, wrapErr(KindCorruption, err, "read sample %s", d)
	}
	return a, nil
}

func writeSample(repo *Repository, schema Schema, sample *ndarray.Array) (digest.Digest, error) {
	raw, err := validatedBytes(sample)
	if err != nil {
		return digest.Zero, wrapErr(KindInvalidArgument, err, "write sample")
	}
	if !sample.Shape.LessEqual(schema.MaxShape) {
		return digest.Zero, newErr(KindInvalidArgument, "sample shape %s exceeds arrayset max shape %s", sample.Shape, schema.MaxShape)
	}
	d := digest.Compute(raw)
	if has, err := repo.HashIndex.Has(d); err == nil && has {
		return d, nil // already known: identical bytes hash identically, spec.md §3 "Digest closure"
	}
	backend, err := repo.Backends.For(schema)
	if err != nil {
		return digest.Zero, err
	}
	loc, err := backend.Write(sample)
	if err != nil {
		return digest.Zero, wrapErr(KindTransport, err, "write sample bytes")
	}
	full := loc.Encode()
	if err := repo.HashIndex.Put(d, chunked.FormatCode, full[len(chunked.FormatCode)+1:]); err != nil {
		return digest.Zero, err
	}
	return d, nil
}

// ReadCheckout is a read-only view bound to one commit (spec.md §4.6
// "Reader"). Many can coexist; it never touches staging or the writer
// lock.
type ReadCheckout struct {
	repo   *Repository
	commit digest.Digest
	snap   *RefSnapshot
}

func (c *ReadCheckout) Commit() digest.Digest { return c.commit }

// Arraysets lists every arrayset name visible at this commit.
func (c *ReadCheckout) Arraysets() []string { return c.snap.sortedArraysetNames() }

func (c *ReadCheckout) ArraysetSchema(name string) (Schema, error) {
	rec, ok := c.snap.Arraysets[name]
	if !ok {
		return Schema{}, wrapErr(KindNotFound, ErrArraysetMissing, "arrayset %q", name)
	}
	return rec.Schema, nil
}

// Samples lists every sample key (encoded) stored in an arrayset.
func (c *ReadCheckout) Samples(arrayset string) ([]string, error) {
	rec, ok := c.snap.Arraysets[arrayset]
	if !ok {
		return nil, wrapErr(KindNotFound, ErrArraysetMissing, "arrayset %q", arrayset)
	}
	return rec.sortedSampleKeys(), nil
}

// ReadSample resolves a sample to its bytes through the hash index and
// the arrayset's backend.
func (c *ReadCheckout) ReadSample(arrayset string, key SampleKey) (*ndarray.Array, error) {
	rec, ok := c.snap.Arraysets[arrayset]
	if !ok {
		return nil, wrapErr(KindNotFound, ErrArraysetMissing, "arrayset %q", arrayset)
	}
	d, ok := rec.Samples[string(key.Encode())]
	if !ok {
		return nil, newErr(KindNotFound, "sample %s/%s not found", arrayset, key)
	}
	return readByDigest(c.repo, rec.Schema, d)
}

// Metadata returns one repository-wide metadata value as it stood at
// this commit.
func (c *ReadCheckout) Metadata(key string) (string, bool) {
	v, ok := c.snap.Metadata[key]
	return v, ok
}

// WriteCheckout is the single writer bound to a branch (spec.md §4.6
// "Writer"). Reads from the staging overlay; writes go through to
// staging and the backend immediately.
type WriteCheckout struct {
	repo       *Repository
	branch     string
	holderUUID string
	closed     bool
}

func (w *WriteCheckout) requireOpen() error {
	if w.closed {
		return newErr(KindStateError, "write checkout already closed")
	}
	return nil
}

func (w *WriteCheckout) InitArrayset(name string, schema Schema) error {
	if err := w.requireOpen(); err != nil {
		return err
	}
	return w.repo.Staging.InitArrayset(name, schema)
}

func (w *WriteCheckout) DeleteArrayset(name string) error {
	if err := w.requireOpen(); err != nil {
		return err
	}
	return w.repo.Staging.DeleteArrayset(name)
}

// WriteSample validates sample against arrayset's schema, writes its
// bytes through the backend if not already known, and records it in
// staging.
func (w *WriteCheckout) WriteSample(arrayset string, key SampleKey, sample *ndarray.Array) error {
	if err := w.requireOpen(); err != nil {
		return err
	}
	schema, err := w.repo.Staging.ArraysetSchema(arrayset)
	if err != nil {
		return err
	}
	if sample.DType != schema.DType {
		return newErr(KindInvalidArgument, "sample dtype %s does not match arrayset dtype %s", sample.DType, schema.DType)
	}
	d, err := writeSample(w.repo, schema, sample)
	if err != nil {
		return err
	}
	return w.repo.Staging.PutSample(arrayset, key, d)
}

func (w *WriteCheckout) DeleteSample(arrayset string, key SampleKey) error {
	if err := w.requireOpen(); err != nil {
		return err
	}
	return w.repo.Staging.DeleteSample(arrayset, key)
}

// ReadSample reads through the staging overlay, per spec.md §4.6
// "reads from staging overlay".
func (w *WriteCheckout) ReadSample(arrayset string, key SampleKey) (*ndarray.Array, error) {
	if err := w.requireOpen(); err != nil {
		return nil, err
	}
	schema, err := w.repo.Staging.ArraysetSchema(arrayset)
	if err != nil {
		return nil, err
	}
	d, err := w.repo.Staging.GetSample(arrayset, key)
	if err != nil {
		return nil, err
	}
	return readByDigest(w.repo, schema, d)
}

func (w *WriteCheckout) SetMetadata(key, value string) error {
	if err := w.requireOpen(); err != nil {
		return err
	}
	return w.repo.Staging.SetMetadata(key, value)
}

func (w *WriteCheckout) DeleteMetadata(key string) error {
	if err := w.requireOpen(); err != nil {
		return err
	}
	return w.repo.Staging.DeleteMetadata(key)
}

// Status reports CLEAN/DIRTY against the branch HEAD (spec.md §4.3).
func (w *WriteCheckout) Status() (dirty bool, err error) {
	head, err := w.repo.Branches.Get(w.branch)
	if err != nil {
		if IsKind(err, KindNotFound) {
			snap, serr := w.repo.Staging.Snapshot()
			if serr != nil {
				return false, serr
			}
			return len(snap) > 0, nil
		}
		return false, err
	}
	headEnv, err := w.repo.commitCacheEnv(head)
	if err != nil {
		return false, err
	}
	headPairs, err := headEnv.Snapshot()
	if err != nil {
		return false, wrapErr(KindTransport, err, "read head cache")
	}
	return w.repo.Staging.Status(headPairs)
}

// Commit freezes staging into a new commit and advances the branch
// HEAD (spec.md §4.6 "commit freezes staging and advances the branch
// HEAD"). For a merge commit, callers set spec.IsMerge and pass the
// dev-side parent explicitly; the branch's current HEAD is always the
// primary (master-side) parent.
func (w *WriteCheckout) Commit(spec CommitSpec, mergeDevParent digest.Digest) (digest.Digest, error) {
	if err := w.requireOpen(); err != nil {
		return digest.Zero, err
	}
	if spec.Time.IsZero() {
		spec.Time = time.Now()
	}

	var parents []digest.Digest
	head, err := w.repo.Branches.Get(w.branch)
	switch {
	case err == nil:
		parents = append(parents, head)
	case IsKind(err, KindNotFound):
		// first commit on this branch: no parents.
	default:
		return digest.Zero, err
	}
	if spec.IsMerge {
		if mergeDevParent.IsZero() {
			return digest.Zero, newErr(KindInvalidArgument, "merge commit requires a dev parent")
		}
		parents = append(parents, mergeDevParent)
	}

	snap, err := w.repo.Staging.ToRefSnapshot()
	if err != nil {
		return digest.Zero, err
	}
	if err := w.repo.Labels.PutSnapshot(snap); err != nil {
		return digest.Zero, err
	}
	if err := w.repo.Schemas.PutSnapshot(snap); err != nil {
		return digest.Zero, err
	}
	refsBytes := snap.Bytes()

	d, err := w.repo.Commits.Create(refsBytes, parents, spec)
	if err != nil {
		return digest.Zero, err
	}
	if err := w.repo.Branches.Set(w.branch, d); err != nil {
		return digest.Zero, err
	}
	pairs, err := w.repo.Staging.Snapshot()
	if err != nil {
		return digest.Zero, err
	}
	if err := w.repo.cacheCommit(d, pairs); err != nil {
		return digest.Zero, err
	}
	if err := promoteStagedData(w.repo, snap); err != nil {
		return digest.Zero, err
	}
	if err := w.repo.HashIndex.ClearStage(); err != nil {
		return digest.Zero, err
	}
	return d, nil
}

// ResetStagingArea rewrites staging to equal HEAD byte-for-byte and
// sweeps unreferenced stage containers (spec.md §4.6).
func (w *WriteCheckout) ResetStagingArea() error {
	if err := w.requireOpen(); err != nil {
		return err
	}
	head, err := w.repo.Branches.Get(w.branch)
	var pairs []kvstore.KV
	if err != nil {
		if !IsKind(err, KindNotFound) {
			return err
		}
	} else {
		headEnv, cerr := w.repo.commitCacheEnv(head)
		if cerr != nil {
			return cerr
		}
		pairs, err = headEnv.Snapshot()
		if err != nil {
			return wrapErr(KindTransport, err, "read head cache")
		}
	}
	if err := w.repo.Staging.Reset(pairs); err != nil {
		return err
	}
	if err := w.repo.HashIndex.ClearStage(); err != nil {
		return err
	}
	live, err := liveStageUIDs(w.repo)
	if err != nil {
		return err
	}
	_, err = w.repo.Backends.Sweep(live)
	return err
}

// Close releases the writer lock. Safe to call once.
func (w *WriteCheckout) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.repo.releaseWriter(w.holderUUID)
}
