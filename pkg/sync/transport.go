// SPDX-License-Identifier: Apache-2.0

package sync

import (
	"context"
	"errors"

	"github.com/arrayvc/arrayvc/modules/digest"
)

// ErrDivergedPush is returned when the remote's branch head is not an
// ancestor of the local head being pushed, or when the remote head has
// moved since the client read it (PushCommit's expected-head check).
var ErrDivergedPush = errors.New("sync: remote branch has diverged, push refused")

// ErrDivergedFetch is returned when a fetch's local head is not an
// ancestor of the remote's head (spec.md §4.7 "Fetch refuses if the local
// branch head is not an ancestor of the server's").
var ErrDivergedFetch = errors.New("sync: local branch has diverged, fetch refused")

// Transport is the logical RPC surface a client speaks to a remote
// repository, grounded on the teacher's pkg/transport.Transport: one
// interface per concern (reference discovery, metadata, batch object
// transfer, push), reworked from git's blob/tree/commit objects onto this
// system's commits/schemas/hash-records/labels/tensor-bytes. Every method
// blocks (spec.md §9 "commit, fetch, push, and fetch_data" are suspension
// points) and takes a context so a caller can cancel a long transfer.
type Transport interface {
	// FetchBranch resolves a branch name to its HEAD commit digest on the
	// remote.
	FetchBranch(ctx context.Context, branch string) (digest.Digest, error)

	// FetchFindMissingCommits returns commits reachable from the remote's
	// branch head that the caller (whose newest known commit on this
	// branch is have, or the zero digest) does not yet have.
	FetchFindMissingCommits(ctx context.Context, branch string, have digest.Digest) ([]digest.Digest, error)
	// FetchCommit retrieves one commit's full record.
	FetchCommit(ctx context.Context, d digest.Digest) (CommitRecord, error)
	// FetchFindMissingSchemas returns every schema digest commit
	// references; the server does not filter by what the caller holds.
	FetchFindMissingSchemas(ctx context.Context, commit digest.Digest) ([]digest.Digest, error)
	// FetchSchema retrieves one schema's canonical bytes.
	FetchSchema(ctx context.Context, d digest.Digest) ([]byte, error)
	// FetchFindMissingLabels returns every metadata-value digest commit
	// references; the server does not filter by what the caller holds.
	FetchFindMissingLabels(ctx context.Context, commit digest.Digest) ([]digest.Digest, error)
	// FetchLabel retrieves one metadata value by its digest.
	FetchLabel(ctx context.Context, d digest.Digest) (string, error)
	// FetchFindMissingHashRecords returns every hash-index entry (not
	// bytes) commit references; the server does not filter by what the
	// caller holds.
	FetchFindMissingHashRecords(ctx context.Context, commit digest.Digest) ([]HashRecord, error)
	// FetchData retrieves a batch of tensor bytes for digests known to
	// share schema. The server may return a subset; the caller re-requests
	// the digests not yet returned until all have arrived (spec.md §4.7).
	FetchData(ctx context.Context, schema digest.Digest, digests []digest.Digest) ([]DataRecord, error)

	// PushFindMissingCommits is computed by the server from tmp, the
	// client's temporary unpacked ref db for every commit it believes the
	// server is missing (spec.md §4.7 "push_find_missing_* is computed by
	// the server from a temporary unpacked commit ref db supplied by the
	// client").
	PushFindMissingCommits(ctx context.Context, branch string, tmp []CommitRecord) ([]digest.Digest, error)
	PushFindMissingSchemas(ctx context.Context, commit digest.Digest, tmp []CommitRecord) ([]digest.Digest, error)
	PushFindMissingLabels(ctx context.Context, commit digest.Digest, tmp []CommitRecord) ([]digest.Digest, error)
	PushFindMissingHashRecords(ctx context.Context, commit digest.Digest, tmp []CommitRecord) ([]HashRecord, error)
	// PushSchema, PushLabel upload one object each.
	PushSchema(ctx context.Context, d digest.Digest, raw []byte) error
	PushLabel(ctx context.Context, d digest.Digest, value string) error
	// PushCommitRecord creates one commit's record on the remote without
	// touching any branch pointer, idempotently. Used for every missing
	// commit in push order so a multi-commit push populates the remote's
	// full commit DAG before PushCommit advances the branch to the last
	// one — a commit's parents must already exist remotely by the time it
	// does, since the remote's own Ancestors walk requires it.
	PushCommitRecord(ctx context.Context, rec CommitRecord) error
	// PushData uploads a batch of tensor bytes, returning the digests the
	// server actually persisted; the caller retries the remainder. The
	// server registers each persisted digest in its own hash index as
	// part of handling this call — there is no separate "push hash
	// records" RPC, since nothing is true of a digest at the server until
	// its bytes have landed.
	PushData(ctx context.Context, schema digest.Digest, records []DataRecord) ([]digest.Digest, error)
	// PushCommit uploads a commit record and advances the remote branch,
	// failing with ErrDivergedPush if expectedHead is stale.
	PushCommit(ctx context.Context, branch string, rec CommitRecord, expectedHead digest.Digest) error
}
