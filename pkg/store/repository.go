// SPDX-License-Identifier: Apache-2.0

package store

import (
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/arrayvc/arrayvc/modules/chunked"
	"github.com/arrayvc/arrayvc/modules/digest"
	"github.com/arrayvc/arrayvc/modules/kvstore"
	"github.com/arrayvc/arrayvc/modules/ndarray"
	"github.com/arrayvc/arrayvc/pkg/store/config"
)

// Repository is the explicit registry handle spec.md §9 calls for in
// place of process-wide globals: every KV env, the chunked-backend set,
// and the writer-lock bookkeeping live as fields on one struct a caller
// opens and closes, the way `pkg/zeta.Repository` holds its odb/refs/
// worktree handles.
type Repository struct {
	root string
	log  logrus.FieldLogger
	cfg  *config.Config

	registry  *kvstore.Registry
	Branches  *Branches
	Commits   *Commits
	HashIndex *HashIndex
	Labels    *Labels
	Schemas   *Schemas
	Staging   *Staging
	Backends  *BackendSet
	refs      *chunked.Registry

	mu         sync.Mutex
	writerOpen bool
}

// Open opens (creating on first use) every KV env and backend set rooted
// at <dir>/.store, per spec.md §6's on-disk layout. cfg is read from
// <dir>/.store/config plus the user-global config when nil.
func Open(dir string, log logrus.FieldLogger, cfg *config.Config) (*Repository, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	storeDir := filepath.Join(dir, ".store")
	if cfg == nil {
		loaded, err := config.Load(storeDir)
		if err != nil {
			return nil, wrapErr(KindTransport, err, "load config")
		}
		cfg = loaded
	}
	reg := kvstore.NewRegistry(storeDir)

	branchEnv, err := reg.Open("branch")
	if err != nil {
		return nil, wrapErr(KindTransport, err, "open branch env")
	}
	refEnv, err := reg.Open("ref")
	if err != nil {
		return nil, wrapErr(KindTransport, err, "open ref env")
	}
	hashEnv, err := reg.Open("hash")
	if err != nil {
		return nil, wrapErr(KindTransport, err, "open hash env")
	}
	stagehashEnv, err := reg.Open("stagehash")
	if err != nil {
		return nil, wrapErr(KindTransport, err, "open stagehash env")
	}
	labelEnv, err := reg.Open("label")
	if err != nil {
		return nil, wrapErr(KindTransport, err, "open label env")
	}
	schemaEnv, err := reg.Open("schema")
	if err != nil {
		return nil, wrapErr(KindTransport, err, "open schema env")
	}
	stageEnv, err := reg.Open("stage")
	if err != nil {
		return nil, wrapErr(KindTransport, err, "open stage env")
	}

	refsRegistry := chunked.NewRegistry()

	backendOpts := []chunked.Option{chunked.WithCompression(chunked.CompressionCodec(cfg.Core.CompressionALGO))}
	if cfg.Core.MaxChunkBytes > 0 {
		backendOpts = append(backendOpts, chunked.WithMaxChunkBytes(cfg.Core.MaxChunkBytes))
	}
	if cfg.Core.MaxRDCCBytes > 0 {
		backendOpts = append(backendOpts, chunked.WithMaxRDCCBytes(cfg.Core.MaxRDCCBytes))
	}
	maxOpenHandles := cfg.Core.MaxOpenHandles
	if maxOpenHandles <= 0 {
		maxOpenHandles = 256
	}

	repo := &Repository{
		root:      storeDir,
		log:       log,
		cfg:       cfg,
		registry:  reg,
		Branches:  NewBranches(branchEnv),
		Commits:   NewCommits(refEnv),
		HashIndex: NewHashIndex(hashEnv, stagehashEnv),
		Labels:    NewLabels(labelEnv),
		Schemas:   NewSchemas(schemaEnv),
		Staging:   NewStaging(stageEnv),
		Backends: NewBackendSet(
			filepath.Join(storeDir, "data"),
			filepath.Join(storeDir, "stage_data"),
			filepath.Join(storeDir, "store_data"),
			maxOpenHandles, backendOpts...,
		),
		refs: refsRegistry,
	}
	return repo, nil
}

func (r *Repository) dataRoot() string      { return filepath.Join(r.root, "data") }
func (r *Repository) stageDataRoot() string { return filepath.Join(r.root, "stage_data") }
func (r *Repository) storeDataRoot() string { return filepath.Join(r.root, "store_data") }

// commitCacheEnv opens the per-commit unpacked-refs env (spec.md §6
// "commit_cache/ KV envs keyed by commit digest").
func (r *Repository) commitCacheEnv(d digest.Digest) (*kvstore.Env, error) {
	env, err := r.registry.OpenNamed("commit_cache", d.String())
	if err != nil {
		return nil, wrapErr(KindTransport, err, "open commit cache for %s", d)
	}
	return env, nil
}

// cacheCommit materializes a commit's refs into its commit_cache env,
// used right after Create so readers never have to decode refsBytes
// themselves and so Staging.Status has a tuple stream to compare
// against (spec.md §4.3 "Dirtiness ... against the branch HEAD").
func (r *Repository) cacheCommit(d digest.Digest, pairs []kvstore.KV) error {
	env, err := r.commitCacheEnv(d)
	if err != nil {
		return err
	}
	if err := env.Reset(pairs); err != nil {
		return wrapErr(KindTransport, err, "cache commit %s", d)
	}
	return nil
}

// ResolveCommit resolves a branch name to its HEAD digest, or parses ref
// as a hex commit digest directly (spec.md §6 CLI surface resolves
// either a branch or a commit).
func (r *Repository) ResolveCommit(ref string) (digest.Digest, error) {
	if d, err := digest.FromHex(ref); err == nil {
		if ok, exErr := r.Commits.Exists(d); exErr == nil && ok {
			return d, nil
		}
	}
	return r.Branches.Get(ref)
}

// OpenReadCheckout instantiates a read-only checkout over the commit
// named by ref (spec.md §4.6 "Reader").
func (r *Repository) OpenReadCheckout(ref string) (*ReadCheckout, error) {
	d, err := r.ResolveCommit(ref)
	if err != nil {
		return nil, err
	}
	refsBytes, err := r.Commits.Refs(d)
	if err != nil {
		return nil, err
	}
	snap, err := DecodeRefSnapshot(refsBytes)
	if err != nil {
		return nil, wrapErr(KindCorruption, err, "decode refs for commit %s", d)
	}
	return &ReadCheckout{repo: r, commit: d, snap: snap}, nil
}

// OpenWriteCheckout instantiates the single writer checkout bound to
// branch, requiring the writer lock (spec.md §4.6 "Writer. At most one;
// requires the writer lock").
func (r *Repository) OpenWriteCheckout(branch, holderUUID string) (*WriteCheckout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.Branches.AcquireWriterLock(holderUUID); err != nil {
		return nil, err
	}
	r.writerOpen = true
	return &WriteCheckout{repo: r, branch: branch, holderUUID: holderUUID}, nil
}

func (r *Repository) releaseWriter(holderUUID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writerOpen = false
	return r.Branches.ReleaseWriterLock(holderUUID)
}

// Merge implements spec.md §4.5/§4.4 end to end: fast-forward when
// possible, otherwise a three-way merge producing either a conflict
// report (master's HEAD left untouched) or a new two-parent merge
// commit. It acquires and releases the writer lock on master itself,
// under holderUUID, for the duration of the merge commit.
func (r *Repository) Merge(master, dev, holderUUID string, spec CommitSpec) (digest.Digest, []Conflict, error) {
	masterHead, err := r.Branches.Get(master)
	if err != nil {
		return digest.Zero, nil, err
	}
	devHead, err := r.Branches.Get(dev)
	if err != nil {
		return digest.Zero, nil, err
	}

	ff, err := r.Commits.CanFF(masterHead, devHead)
	if err != nil {
		return digest.Zero, nil, err
	}

	// Staging MUST be CLEAN and the writer lock MUST be acquirable for the
	// merge operation as a whole, whichever algorithm it resolves to
	// (spec.md §4.5), matching the single try/finally original_source's
	// merger.select_merge_algorithm wraps around both the fast-forward and
	// three-way branches.
	wc, err := r.OpenWriteCheckout(master, holderUUID)
	if err != nil {
		return digest.Zero, nil, err
	}
	defer wc.Close()

	if dirty, serr := wc.Status(); serr != nil {
		return digest.Zero, nil, serr
	} else if dirty {
		return digest.Zero, nil, wrapErr(KindStateError, ErrStagingDirty, "merge %q into %q", dev, master)
	}

	if ff {
		if err := r.Branches.Set(master, devHead); err != nil {
			return digest.Zero, nil, err
		}
		return devHead, nil, nil
	}

	ancestorD, err := r.Commits.ClosestCommonAncestor(masterHead, devHead)
	if err != nil {
		return digest.Zero, nil, err
	}
	ancestorSnap, err := r.snapshotAt(ancestorD)
	if err != nil {
		return digest.Zero, nil, err
	}
	masterSnap, err := r.snapshotAt(masterHead)
	if err != nil {
		return digest.Zero, nil, err
	}
	devSnap, err := r.snapshotAt(devHead)
	if err != nil {
		return digest.Zero, nil, err
	}

	merged, conflicts := MergeSnapshots(ancestorSnap, masterSnap, devSnap)
	if len(conflicts) > 0 {
		return digest.Zero, conflicts, wrapErr(KindConflict, ErrMergeConflict, "merge %q into %q", dev, master)
	}

	if err := r.Staging.LoadSnapshot(merged); err != nil {
		return digest.Zero, nil, err
	}
	spec.IsMerge = true
	spec.MergeMaster = master
	spec.MergeDev = dev
	d, err := wc.Commit(spec, devHead)
	if err != nil {
		return digest.Zero, nil, err
	}
	return d, nil, nil
}

func (r *Repository) snapshotAt(d digest.Digest) (*RefSnapshot, error) {
	refsBytes, err := r.Commits.Refs(d)
	if err != nil {
		return nil, err
	}
	snap, err := DecodeRefSnapshot(refsBytes)
	if err != nil {
		return nil, wrapErr(KindCorruption, err, "decode refs for commit %s", d)
	}
	return snap, nil
}

// Summary reports repository-wide counts, supplementing spec.md per
// original_source/repository.py's read-only `summary()` report: branch
// count, total known digests, and the writer lock state, without
// materializing any commit's full ref snapshot.
type Summary struct {
	Branches     []string
	TotalDigests int
	WriterLocked bool
	WriterHolder string
}

func (r *Repository) Summary() (Summary, error) {
	branches, err := r.Branches.List()
	if err != nil {
		return Summary{}, err
	}
	digests, err := r.HashIndex.ListAll()
	if err != nil {
		return Summary{}, err
	}
	holder, err := r.Branches.WriterLockHolder()
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		Branches:     branches,
		TotalDigests: len(digests),
		WriterLocked: holder != "",
		WriterHolder: holder,
	}, nil
}

// LogEntry is one line of Repository.Log's topologically-ordered commit
// history, supplementing spec.md per original_source/repository.py's
// CLI `log` walk.
type LogEntry struct {
	Digest  digest.Digest
	Spec    CommitSpec
	Parents []digest.Digest
}

// Log walks back from ref along first parents, depth-first, yielding
// commits most-recent-first (original_source/repository.py's `log`
// traversal, adapted: merge commits list both parents but the walk only
// follows the primary one, matching a typical branch-history view).
func (r *Repository) Log(ref string) ([]LogEntry, error) {
	d, err := r.ResolveCommit(ref)
	if err != nil {
		return nil, err
	}
	var out []LogEntry
	for !d.IsZero() {
		spec, err := r.Commits.Spec(d)
		if err != nil {
			return nil, err
		}
		parents, err := r.Commits.Parents(d)
		if err != nil {
			return nil, err
		}
		out = append(out, LogEntry{Digest: d, Spec: spec, Parents: parents})
		if len(parents) == 0 {
			break
		}
		d = parents[0]
	}
	return out, nil
}

// ReadSampleByDigest reads one sample's tensor bytes directly by its
// content digest, bypassing any commit's arrayset mapping. Used by the
// sync package to serve fetch_data requests, where a caller already
// knows the digest and schema from a prior hash-record transfer and has
// no commit-scoped arrayset/key to resolve through.
func (r *Repository) ReadSampleByDigest(schema Schema, d digest.Digest) (*ndarray.Array, error) {
	return readByDigest(r, schema, d)
}

// MaterializeSample writes sample's bytes through schema's backend and
// records the resulting location in the hash index, replacing whatever
// entry (if any) already existed for d — a reference-only placeholder
// left by a prior partial fetch, or nothing at all. Used by the sync
// package's fetch_data to promote a digest from "known but not
// materialized" to "bytes present locally" (spec.md §8 scenario 6).
func (r *Repository) MaterializeSample(schema Schema, d digest.Digest, sample *ndarray.Array) error {
	backend, err := r.Backends.For(schema)
	if err != nil {
		return err
	}
	loc, err := backend.Write(sample)
	if err != nil {
		return wrapErr(KindTransport, err, "materialize sample %s", d)
	}
	full := loc.Encode()
	return r.HashIndex.Put(d, chunked.FormatCode, full[len(chunked.FormatCode)+1:])
}

// Close releases every open KV env and chunked backend.
func (r *Repository) Close() error {
	var first error
	if err := r.Backends.Close(); err != nil {
		first = err
	}
	if err := r.registry.Close(); err != nil && first == nil {
		first = err
	}
	return first
}
