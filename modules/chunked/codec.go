// SPDX-License-Identifier: Apache-2.0

package chunked

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// CompressionCodec names one of the container attribute's compression
// codecs (spec §4.1 "Per-container attributes record: ... compression
// codec"). Mirrors the teacher's DefaultCompressionALGO constant.
type CompressionCodec string

const (
	CompressionZstd CompressionCodec = "zstd"
	CompressionNone CompressionCodec = "none"
)

var (
	encOnce sync.Once
	enc     *zstd.Encoder
	decOnce sync.Once
	dec     *zstd.Decoder
)

func encoder() *zstd.Encoder {
	encOnce.Do(func() {
		enc, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	return enc
}

func decoder() *zstd.Decoder {
	decOnce.Do(func() {
		dec, _ = zstd.NewReader(nil)
	})
	return dec
}

// Compress encodes raw sample bytes per codec before they are appended to
// a container's data file.
func Compress(codec CompressionCodec, raw []byte) ([]byte, error) {
	switch codec {
	case CompressionZstd:
		return encoder().EncodeAll(raw, nil), nil
	case CompressionNone, "":
		return raw, nil
	default:
		return nil, fmt.Errorf("chunked: unsupported compression codec %q", codec)
	}
}

// Decompress reverses Compress.
func Decompress(codec CompressionCodec, compressed []byte) ([]byte, error) {
	switch codec {
	case CompressionZstd:
		return decoder().DecodeAll(compressed, nil)
	case CompressionNone, "":
		return compressed, nil
	default:
		return nil, fmt.Errorf("chunked: unsupported compression codec %q", codec)
	}
}
