// SPDX-License-Identifier: Apache-2.0

package chunked

import (
	"encoding/json"
	"hash/crc32"
	"os"
	"path/filepath"

	"github.com/arrayvc/arrayvc/modules/ndarray"
)

// Default container sizing (spec §4.1 names these as per-container
// attributes without pinning numeric defaults; chosen to keep containers
// small enough for unit tests to exercise sealing without huge fixtures).
const (
	DefaultCollectionSize         = 64 // C: samples per collection
	DefaultCollectionsPerFile     = 8  // N: collections per container
	DefaultMaxChunkBytes    int64 = 1 << 20
	DefaultMaxRDCCBytes     int64 = 64 << 20
)

// ChecksumPolicy names the per-row integrity check recorded in a
// container's attributes.
type ChecksumPolicy string

const (
	ChecksumCRC32 ChecksumPolicy = "crc32"
	ChecksumNone  ChecksumPolicy = "none"
)

// attrs are the per-container attributes spec §4.1 lists: "format
// version, schema shape and dtype, current (next_collection, next_row),
// collections_remaining, chunk shape, compression codec, checksum
// policy, raw-data chunk-cache sizing".
type attrs struct {
	FormatVersion        int              `json:"format_version"`
	MaxShape             ndarray.Shape    `json:"max_shape"`
	DType                ndarray.DType    `json:"dtype"`
	CollectionSize       int64            `json:"collection_size"`
	Collections          int64            `json:"collections"`
	NextCollection       int64            `json:"next_collection"`
	NextRow              int64            `json:"next_row"`
	CollectionsRemaining int64            `json:"collections_remaining"`
	ChunkShape           ndarray.Shape    `json:"chunk_shape"`
	Compression          CompressionCodec `json:"compression"`
	Checksum             ChecksumPolicy   `json:"checksum"`
	RDCCBytes            int64            `json:"rdcc_bytes"`
	RDCCSlots            int64            `json:"rdcc_slots"`
	Sealed               bool             `json:"sealed"`
}

type indexKey struct {
	Collection int64
	Row        int64
}

type indexEntry struct {
	Offset    int64  `json:"offset"`
	Length    int64  `json:"length"`
	RawLength int64  `json:"raw_length"`
	Checksum  uint32 `json:"checksum"`
}

type sidecar struct {
	Attrs attrs                  `json:"attrs"`
	Index map[string]*indexEntry `json:"index"`
}

func keyString(k indexKey) string {
	return formatKey(k.Collection, k.Row)
}

func formatKey(collection, row int64) string {
	buf := make([]byte, 0, 24)
	buf = appendInt(buf, collection)
	buf = append(buf, '/')
	buf = appendInt(buf, row)
	return string(buf)
}

func appendInt(buf []byte, v int64) []byte {
	if v == 0 {
		return append(buf, '0')
	}
	neg := v < 0
	if neg {
		v = -v
	}
	start := len(buf)
	for v > 0 {
		buf = append(buf, byte('0'+v%10))
		v /= 10
	}
	if neg {
		buf = append(buf, '-')
	}
	// reverse in place
	for i, j := start, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return buf
}

func checksum(b []byte) uint32 {
	return crc32.ChecksumIEEE(b)
}

func dataPath(dir, uid string) string { return filepath.Join(dir, uid+".bin") }
func idxPath(dir, uid string) string  { return filepath.Join(dir, uid+".idx.json") }

func writeSidecar(dir, uid string, sc *sidecar) error {
	b, err := json.Marshal(sc)
	if err != nil {
		return err
	}
	tmp := idxPath(dir, uid) + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, idxPath(dir, uid))
}

func readSidecar(dir, uid string) (*sidecar, error) {
	b, err := os.ReadFile(idxPath(dir, uid))
	if err != nil {
		return nil, err
	}
	sc := &sidecar{}
	if err := json.Unmarshal(b, sc); err != nil {
		return nil, err
	}
	if sc.Index == nil {
		sc.Index = make(map[string]*indexEntry)
	}
	return sc, nil
}
