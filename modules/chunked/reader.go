// SPDX-License-Identifier: Apache-2.0

package chunked

import (
	"fmt"
	"os"
	"sync"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/arrayvc/arrayvc/modules/ndarray"
)

// readHandle is a lazily-materialized container handle: a distinct
// "not yet materialized" state instead of raising on first touch (spec §9
// "Lazily-materialized read handle → an explicit, sum-typed result").
type readHandle struct {
	mu   sync.Mutex
	dir  string
	uid  string
	sc   *sidecar
	file *os.File
}

func (h *readHandle) materialize() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sc != nil {
		return nil
	}
	sc, err := readSidecar(h.dir, h.uid)
	if err != nil {
		return fmt.Errorf("chunked: open container %s: %w", h.uid, err)
	}
	f, err := os.Open(dataPath(h.dir, h.uid))
	if err != nil {
		return fmt.Errorf("chunked: open container %s: %w", h.uid, err)
	}
	h.sc, h.file = sc, f
	return nil
}

func (h *readHandle) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.file != nil {
		h.file.Close()
		h.file = nil
	}
}

// Pool is a bounded cache of open container read handles, grounded on the
// raw-chunk-cache a real chunked-array backend keeps to avoid re-opening
// the same container file on every sample read.
type Pool struct {
	dir   string
	cache *ristretto.Cache[string, *readHandle]
}

// NewPool opens a read pool rooted at dir, holding at most maxHandles
// containers open at once.
func NewPool(dir string, maxHandles int64) (*Pool, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, *readHandle]{
		NumCounters: maxHandles * 10,
		MaxCost:     maxHandles,
		BufferItems: 64,
		OnEvict: func(item *ristretto.Item[*readHandle]) {
			item.Value.close()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chunked: new read pool: %w", err)
	}
	return &Pool{dir: dir, cache: cache}, nil
}

func (p *Pool) handle(uid string) *readHandle {
	if h, ok := p.cache.Get(uid); ok {
		return h
	}
	h := &readHandle{dir: p.dir, uid: uid}
	p.cache.Set(uid, h, 1)
	p.cache.Wait()
	return h
}

// Read materializes loc's container if needed, decompresses and
// checksum-verifies its row, and returns the original sample bytes
// wrapped in a shape matching loc.Shape exactly — never the container's
// padded max shape (spec §4.1 "Read returns exactly a sample_shape-sized
// buffer").
func (p *Pool) Read(loc Location) (*ndarray.Array, error) {
	h := p.handle(loc.FileUID)
	if err := h.materialize(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	entry, ok := h.sc.Index[formatKey(loc.Collection, loc.Row)]
	dtype := h.sc.Attrs.DType
	codec := h.sc.Attrs.Compression
	policy := h.sc.Attrs.Checksum
	file := h.file
	h.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: container %s collection %d row %d", ErrRowNotFound, loc.FileUID, loc.Collection, loc.Row)
	}

	compressed := make([]byte, entry.Length)
	if _, err := file.ReadAt(compressed, entry.Offset); err != nil {
		return nil, fmt.Errorf("chunked: read row: %w", err)
	}
	raw, err := Decompress(codec, compressed)
	if err != nil {
		return nil, fmt.Errorf("chunked: decompress row: %w", err)
	}
	if policy == ChecksumCRC32 && checksum(raw) != entry.Checksum {
		return nil, fmt.Errorf("%w: container %s collection %d row %d", ErrCorruptRow, loc.FileUID, loc.Collection, loc.Row)
	}
	return ndarray.NewFromBytes(loc.Shape, dtype, raw)
}

// Close releases every open container handle.
func (p *Pool) Close() {
	p.cache.Close()
}
