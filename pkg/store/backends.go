// SPDX-License-Identifier: Apache-2.0

package store

import (
	"path/filepath"
	"sync"

	"github.com/arrayvc/arrayvc/modules/chunked"
	"github.com/arrayvc/arrayvc/modules/ndarray"
)

// BackendSet owns one chunked.ChunkedBackend per distinct schema, rooted
// under data/<FormatCode>/<schema-hash>/ (spec.md §6's "data/<fmt>/
// backing container files", refined one level further per fetch-data's
// "group by schema hash" since one arrayset's schema fixes the dtype and
// max shape a chunked Writer is bound to, and two arraysets rarely share
// one). Lazily opened, closed together with the repository. A schema's
// stage_data/<fmt>/<hash> and store_data/<fmt>/<hash> directories hold the
// symlink trees spec.md §3's Lifecycles section describes; both point
// into the shared data/<fmt>/<hash> backing files.
type BackendSet struct {
	dataRoot       string
	stageRoot      string
	storeRoot      string
	maxOpenHandles int64
	opts           []chunked.Option

	mu sync.Mutex
	by map[string]*chunked.ChunkedBackend
}

func NewBackendSet(dataRoot, stageRoot, storeRoot string, maxOpenHandles int64, opts ...chunked.Option) *BackendSet {
	return &BackendSet{
		dataRoot:       dataRoot,
		stageRoot:      stageRoot,
		storeRoot:      storeRoot,
		maxOpenHandles: maxOpenHandles,
		opts:           opts,
		by:             make(map[string]*chunked.ChunkedBackend),
	}
}

// For returns the backend bound to schema's shape and dtype, creating it
// on first use.
func (bs *BackendSet) For(schema Schema) (*chunked.ChunkedBackend, error) {
	key := schema.Hash().String()
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if b, ok := bs.by[key]; ok {
		return b, nil
	}
	dataDir := filepath.Join(bs.dataRoot, chunked.FormatCode, key)
	stageDir := filepath.Join(bs.stageRoot, chunked.FormatCode, key)
	storeDir := filepath.Join(bs.storeRoot, chunked.FormatCode, key)
	b, err := chunked.NewChunkedBackend(dataDir, stageDir, storeDir, schema.MaxShape, schema.DType, bs.maxOpenHandles, bs.opts...)
	if err != nil {
		return nil, wrapErr(KindTransport, err, "open backend for schema %s", key)
	}
	bs.by[key] = b
	return b, nil
}

// Sweep runs stage-container cleanup (spec.md §4.1 "Cleanup") across every
// opened backend, keeping only the uids present in liveUIDs — the digests
// still pending in the stage-hash index.
func (bs *BackendSet) Sweep(liveUIDs map[string]bool) (int, error) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	total := 0
	for key, b := range bs.by {
		n, err := b.Sweep(liveUIDs)
		if err != nil {
			return total, wrapErr(KindTransport, err, "sweep backend for schema %s", key)
		}
		total += n
	}
	return total, nil
}

func (bs *BackendSet) Close() error {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	var first error
	for key, b := range bs.by {
		if err := b.Close(); err != nil && first == nil {
			first = err
		}
		delete(bs.by, key)
	}
	return first
}

// validatedBytes confirms a sample's buffer matches its declared shape
// and dtype before it is hashed or written, so a malformed Array never
// reaches the backend.
func validatedBytes(a *ndarray.Array) ([]byte, error) {
	if _, err := ndarray.NewFromBytes(a.Shape, a.DType, a.Data); err != nil {
		return nil, err
	}
	return a.Data, nil
}
