// SPDX-License-Identifier: Apache-2.0

// Package keycodec implements the canonical byte encoding of record keys
// and values used across the KV envs (branch, ref, hash, label, stage,
// stagehash, commit_cache). The encoding is designed so that lexicographic
// byte order on keys is a total, deterministic order over records — this
// is what lets the staging area's CLEAN/DIRTY check and the sorted
// bulk-load into bbolt both work by raw byte comparison.
package keycodec

import (
	"encoding/binary"
	"errors"
)

// Separator bytes used throughout the key space. Chosen from the control
// range so they never collide with printable arrayset/sample names.
const (
	sepField byte = 0x00 // separates key segments
	tagInt   byte = 0x00 // sample-key tag: sequential integer
	tagName  byte = 0x01 // sample-key tag: named sample string
)

// Top-level namespace prefixes for the staging / commit-ref keyspace
// (spec §4.3): each arrayset's schema, sample count and samples live
// under "aset" <sep> <name> <sep> ..., metadata under "meta" <sep> ...,
// where <sep> is the 0x00 sepField byte.
var (
	prefixArraysetCount = []byte("num_arraysets")
	prefixMetadataCount = []byte("num_metadata")
	prefixArrayset       = []byte("aset")
	prefixMetadata       = []byte("meta")
	segSchema            = []byte("schema")
	segCount             = []byte("count")
	segSample            = []byte("sample")
)

func join(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p) + 1
	}
	out := make([]byte, 0, n)
	for i, p := range parts {
		if i > 0 {
			out = append(out, sepField)
		}
		out = append(out, p...)
	}
	return out
}

// ArraysetCountKey is the single key holding the number of arraysets.
func ArraysetCountKey() []byte { return append([]byte(nil), prefixArraysetCount...) }

// MetadataCountKey is the single key holding the number of metadata entries.
func MetadataCountKey() []byte { return append([]byte(nil), prefixMetadataCount...) }

// ArraysetsRootPrefix covers every arrayset-scoped key, for enumerating
// arrayset names present in an env without knowing them ahead of time.
func ArraysetsRootPrefix() []byte {
	return append(append([]byte(nil), prefixArrayset...), sepField)
}

// SplitArraysetName strips ArraysetsRootPrefix from key and returns the
// arrayset name (up to the next separator) and the remaining suffix
// (the segment identifying schema/count/sample within that arrayset).
func SplitArraysetName(key []byte) (name string, rest []byte, ok bool) {
	root := ArraysetsRootPrefix()
	if len(key) <= len(root) {
		return "", nil, false
	}
	tail := key[len(root):]
	idx := -1
	for i, b := range tail {
		if b == sepField {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", nil, false
	}
	return string(tail[:idx]), tail[idx+1:], true
}

// ArraysetSchemaKey addresses the schema record for an arrayset.
func ArraysetSchemaKey(arrayset string) []byte {
	return join(prefixArrayset, []byte(arrayset), segSchema)
}

// ArraysetSampleCountKey addresses the sample count of an arrayset.
func ArraysetSampleCountKey(arrayset string) []byte {
	return join(prefixArrayset, []byte(arrayset), segCount)
}

// ArraysetPrefix returns the key prefix covering everything belonging to
// one arrayset, for prefix-iteration deletes (delete_arrayset). It
// includes the trailing separator so "foo" never matches "foobar"'s keys.
func ArraysetPrefix(arrayset string) []byte {
	return append(join(prefixArrayset, []byte(arrayset)), sepField)
}

// EncodeSampleName encodes one SampleKey's discriminant into a sortable
// byte string: sequential integers sort before named samples, and within
// each kind lexicographic byte order matches the intended order (numeric
// for integers via fixed-width big-endian, natural string order for
// names).
func EncodeSampleName(name string, seq int64, named bool) []byte {
	if named {
		b := make([]byte, 0, len(name)+1)
		b = append(b, tagName)
		b = append(b, name...)
		return b
	}
	b := make([]byte, 9)
	b[0] = tagInt
	binary.BigEndian.PutUint64(b[1:], uint64(seq))
	return b
}

// DecodeSampleName reverses EncodeSampleName.
func DecodeSampleName(b []byte) (name string, seq int64, named bool, err error) {
	if len(b) == 0 {
		return "", 0, false, errors.New("keycodec: empty sample key")
	}
	switch b[0] {
	case tagName:
		return string(b[1:]), 0, true, nil
	case tagInt:
		if len(b) != 9 {
			return "", 0, false, errors.New("keycodec: malformed integer sample key")
		}
		return "", int64(binary.BigEndian.Uint64(b[1:])), false, nil
	default:
		return "", 0, false, errors.New("keycodec: unknown sample key tag")
	}
}

// ArraysetSampleKey addresses one sample record within an arrayset.
func ArraysetSampleKey(arrayset string, encodedSampleName []byte) []byte {
	return join(prefixArrayset, []byte(arrayset), segSample, encodedSampleName)
}

// MetadataKey addresses one metadata entry.
func MetadataKey(key string) []byte {
	return join(prefixMetadata, []byte(key))
}

// MetadataRootPrefix covers every metadata key, for enumeration.
func MetadataRootPrefix() []byte {
	return append(append([]byte(nil), prefixMetadata...), sepField)
}

// EncodeUint64 renders n as a fixed-width big-endian value, so that
// numeric order matches byte order.
func EncodeUint64(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

// DecodeUint64 reverses EncodeUint64.
func DecodeUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
