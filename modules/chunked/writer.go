// SPDX-License-Identifier: Apache-2.0

package chunked

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/arrayvc/arrayvc/modules/ndarray"
)

// Option configures a Writer.
type Option func(*Writer)

func WithCollectionSize(c int64) Option        { return func(w *Writer) { w.collectionSize = c } }
func WithCollectionsPerFile(n int64) Option    { return func(w *Writer) { w.collectionsPerFile = n } }
func WithMaxChunkBytes(n int64) Option         { return func(w *Writer) { w.maxChunkBytes = n } }
func WithMaxRDCCBytes(n int64) Option          { return func(w *Writer) { w.maxRDCCBytes = n } }
func WithCompression(c CompressionCodec) Option { return func(w *Writer) { w.compression = c } }

// openContainer is the writer's currently-open container: an append-only
// data file plus the in-memory sidecar being accumulated for it.
type openContainer struct {
	uid    string
	file   *os.File
	offset int64
	sc     *sidecar
}

// Writer allocates and appends to chunked-array containers for one
// arrayset schema (spec §4.1's "Chunked Array Backend"). A Writer is not
// safe for concurrent use by multiple goroutines; callers serialize
// writes the way the staging area already serializes put_sample calls.
type Writer struct {
	dir      string
	stageDir string
	maxShape ndarray.Shape
	dtype    ndarray.DType

	collectionSize     int64
	collectionsPerFile int64
	maxChunkBytes      int64
	maxRDCCBytes       int64
	compression        CompressionCodec

	mu  sync.Mutex
	cur *openContainer
}

// NewWriter opens a writer for the given schema bound (max_shape, dtype).
// dir holds the physical backing files; each allocated container is also
// symlinked into stageDir (spec §3's "stage_data" tree) as soon as it is
// created.
func NewWriter(dir, stageDir string, maxShape ndarray.Shape, dtype ndarray.DType, opts ...Option) *Writer {
	w := &Writer{
		dir:                dir,
		stageDir:           stageDir,
		maxShape:           maxShape,
		dtype:              dtype,
		collectionSize:     DefaultCollectionSize,
		collectionsPerFile: DefaultCollectionsPerFile,
		maxChunkBytes:      DefaultMaxChunkBytes,
		maxRDCCBytes:       DefaultMaxRDCCBytes,
		compression:        CompressionZstd,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

func newFileUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (w *Writer) allocate() error {
	uid := newFileUID()
	f, err := os.OpenFile(dataPath(w.dir, uid), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("chunked: allocate container: %w", err)
	}
	if err := LinkStage(w.dir, w.stageDir, uid); err != nil {
		return fmt.Errorf("chunked: stage container: %w", err)
	}
	chunkShape := ChunkShapeFor(w.maxShape, w.dtype.Size(), w.maxChunkBytes)
	sampleBytes := w.maxShape.Elements() * w.dtype.Size()
	chunkBytes := chunkShape.Elements() * w.dtype.Size()
	rdccBytes, rdccSlots := CacheSizing(sampleBytes, chunkBytes, w.maxChunkBytes, w.maxRDCCBytes)

	a := attrs{
		FormatVersion:        1,
		MaxShape:             w.maxShape,
		DType:                w.dtype,
		CollectionSize:       w.collectionSize,
		Collections:          w.collectionsPerFile,
		NextCollection:       0,
		NextRow:              0,
		CollectionsRemaining: w.collectionsPerFile,
		ChunkShape:           chunkShape,
		Compression:          w.compression,
		Checksum:             ChecksumCRC32,
		RDCCBytes:            rdccBytes,
		RDCCSlots:            rdccSlots,
	}
	w.cur = &openContainer{
		uid:  uid,
		file: f,
		sc:   &sidecar{Attrs: a, Index: make(map[string]*indexEntry)},
	}
	return nil
}

func (w *Writer) seal() error {
	c := w.cur
	c.sc.Attrs.Sealed = true
	if err := writeSidecar(w.dir, c.uid, c.sc); err != nil {
		return err
	}
	if err := c.file.Close(); err != nil {
		return err
	}
	w.cur = nil
	return nil
}

// Write compresses and appends sample, returning the Location it was
// stored at. Per spec §4.1's write protocol: allocate-if-needed, write at
// the current cursor, then advance the cursor and seal the container if
// this write exhausted it — so a container's final write always succeeds
// and rollover is invisible to the caller (spec §8's "single-sample
// container exhaustion" boundary case).
func (w *Writer) Write(sample *ndarray.Array) (*Location, error) {
	if sample.DType != w.dtype {
		return nil, fmt.Errorf("chunked: dtype mismatch: schema %s sample %s", w.dtype, sample.DType)
	}
	if !sample.Shape.LessEqual(w.maxShape) {
		return nil, fmt.Errorf("chunked: sample shape %s exceeds max shape %s", sample.Shape, w.maxShape)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cur == nil {
		if err := w.allocate(); err != nil {
			return nil, err
		}
	}
	c := w.cur

	compressed, err := Compress(c.sc.Attrs.Compression, sample.Data)
	if err != nil {
		return nil, err
	}
	n, err := c.file.Write(compressed)
	if err != nil {
		return nil, fmt.Errorf("chunked: write row: %w", err)
	}

	collection, row := c.sc.Attrs.NextCollection, c.sc.Attrs.NextRow
	c.sc.Index[formatKey(collection, row)] = &indexEntry{
		Offset:    c.offset,
		Length:    int64(n),
		RawLength: int64(len(sample.Data)),
		Checksum:  checksum(sample.Data),
	}
	c.offset += int64(n)

	c.sc.Attrs.NextRow++
	if c.sc.Attrs.NextRow >= c.sc.Attrs.CollectionSize {
		c.sc.Attrs.NextRow = 0
		c.sc.Attrs.NextCollection++
		c.sc.Attrs.CollectionsRemaining--
	}

	if err := writeSidecar(w.dir, c.uid, c.sc); err != nil {
		return nil, err
	}

	loc := &Location{FileUID: c.uid, Collection: collection, Row: row, Shape: sample.Shape}

	if c.sc.Attrs.CollectionsRemaining <= 1 {
		if err := w.seal(); err != nil {
			return nil, err
		}
	}
	return loc, nil
}

// Close flushes and closes the currently open container, if any, without
// sealing it. A later Writer for the same directory does not resume it:
// its first write allocates a new container.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cur == nil {
		return nil
	}
	if err := writeSidecar(w.dir, w.cur.uid, w.cur.sc); err != nil {
		return err
	}
	err := w.cur.file.Close()
	w.cur = nil
	return err
}
