// SPDX-License-Identifier: Apache-2.0

package chunked

import (
	"errors"
	"fmt"
	"os"

	"github.com/arrayvc/arrayvc/modules/ndarray"
)

// ReferenceOnlyFormatCode marks a BackendLocation recorded for a sample
// whose digest is known (it was fetched as part of a commit's metadata)
// but whose backing bytes have not been materialized locally — the
// partial-clone case spec §6 describes. It lives here rather than in its
// own package because every backend needs to recognize and skip it during
// Sweep.
const ReferenceOnlyFormatCode = "50"

// ErrNotMaterialized is the explicit "not yet fetched" result a capable
// reader must return instead of raising, replacing exception-driven control
// flow around partially-cloned repositories (spec §9).
var ErrNotMaterialized = errors.New("chunked: sample data has not been fetched (partial clone)")

// Backend is the capability set every array storage backend must satisfy
// (spec §9 "Dynamic dispatch over backends → a small capability set"). The
// chunked backend below implements it; a reference-only backend (used to
// record digests during a partial clone, before their bytes are fetched)
// implements it too: its Read returns ErrNotMaterialized, its Write always
// fails, and Promote/Sweep/Close do nothing.
type Backend interface {
	Write(sample *ndarray.Array) (*Location, error)
	Read(loc Location) (*ndarray.Array, error)
	Promote(uid string) error
	Sweep(liveUIDs map[string]bool) (int, error)
	Close() error
}

// ChunkedBackend adapts a Writer/Pool pair, rooted at one arrayset schema's
// data directory, to the Backend capability set. Tensor bytes always live
// under dataDir; stageDir and storeDir hold only the symlink trees spec §3
// describes ("stage_data" for in-progress writes, "store_data" for
// committed ones), both pointing into the same backing files.
type ChunkedBackend struct {
	dataDir  string
	stageDir string
	storeDir string
	writer   *Writer
	pool     *Pool
}

// NewChunkedBackend opens a chunked-array backend for the given schema
// bound, with tensor bytes written to dataDir and staged/promoted via
// symlinks under stageDir/storeDir.
func NewChunkedBackend(dataDir, stageDir, storeDir string, maxShape ndarray.Shape, dtype ndarray.DType, maxOpenHandles int64, opts ...Option) (*ChunkedBackend, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("chunked: create data dir: %w", err)
	}
	pool, err := NewPool(dataDir, maxOpenHandles)
	if err != nil {
		return nil, err
	}
	return &ChunkedBackend{
		dataDir:  dataDir,
		stageDir: stageDir,
		storeDir: storeDir,
		writer:   NewWriter(dataDir, stageDir, maxShape, dtype, opts...),
		pool:     pool,
	}, nil
}

func (b *ChunkedBackend) Write(sample *ndarray.Array) (*Location, error) { return b.writer.Write(sample) }
func (b *ChunkedBackend) Read(loc Location) (*ndarray.Array, error)      { return b.pool.Read(loc) }

// Promote moves uid's symlink from stage_data to store_data, the way
// spec §3 describes a committed container's lifecycle advancing.
func (b *ChunkedBackend) Promote(uid string) error {
	return PromoteToStore(b.dataDir, b.stageDir, b.storeDir, uid)
}

func (b *ChunkedBackend) Sweep(liveUIDs map[string]bool) (int, error) {
	return SweepUnused(b.dataDir, b.stageDir, liveUIDs)
}

func (b *ChunkedBackend) Close() error {
	b.pool.Close()
	return b.writer.Close()
}

// ReferenceOnlyBackend implements Backend for digests recorded but not
// materialized locally.
type ReferenceOnlyBackend struct{}

func (ReferenceOnlyBackend) Write(*ndarray.Array) (*Location, error) {
	return nil, fmt.Errorf("chunked: reference-only backend cannot write")
}

func (ReferenceOnlyBackend) Read(Location) (*ndarray.Array, error) { return nil, ErrNotMaterialized }
func (ReferenceOnlyBackend) Promote(string) error                  { return nil }
func (ReferenceOnlyBackend) Sweep(map[string]bool) (int, error)    { return 0, nil }
func (ReferenceOnlyBackend) Close() error                          { return nil }

// Registry dispatches a raw, encoded BackendLocation to the backend
// registered for its leading format code, the same two-character prefix
// Location.Encode writes.
type Registry struct {
	backends map[string]Backend
}

func NewRegistry() *Registry {
	return &Registry{backends: map[string]Backend{ReferenceOnlyFormatCode: ReferenceOnlyBackend{}}}
}

// Register binds a format code to the backend that produces and consumes
// locations carrying it. Registering FormatCode ("00") binds the chunked
// array backend.
func (r *Registry) Register(formatCode string, b Backend) { r.backends[formatCode] = b }

func formatCodeOf(raw []byte) string {
	if len(raw) < 2 {
		return ""
	}
	return string(raw[:2])
}

// Read decodes raw and dispatches to the backend matching its format code.
func (r *Registry) Read(raw []byte) (*ndarray.Array, error) {
	code := formatCodeOf(raw)
	b, ok := r.backends[code]
	if !ok {
		return nil, fmt.Errorf("chunked: no backend registered for format code %q", code)
	}
	loc, err := DecodeLocation(raw)
	if err != nil {
		return nil, err
	}
	return b.Read(loc)
}

// Backend looks up the backend registered for a format code.
func (r *Registry) Backend(formatCode string) (Backend, bool) {
	b, ok := r.backends[formatCode]
	return b, ok
}
