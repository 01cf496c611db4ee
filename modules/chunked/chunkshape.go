// SPDX-License-Identifier: Apache-2.0

package chunked

import (
	"github.com/arrayvc/arrayvc/modules/ndarray"
)

// ChunkShapeFor implements the chunk-shape policy of spec §4.1: start with
// chunk = sampleShape; while its byte size exceeds maxChunkBytes, walk axes
// round-robin halving (floor) any axis whose current extent exceeds 2;
// axes of extent <= 2 are skipped. Rank-0 samples and samples already
// within budget are returned unchanged.
func ChunkShapeFor(sampleShape ndarray.Shape, dtypeSize, maxChunkBytes int64) ndarray.Shape {
	chunk := append(ndarray.Shape(nil), sampleShape...)
	if len(chunk) == 0 || maxChunkBytes <= 0 {
		return chunk
	}
	bytesOf := func(s ndarray.Shape) int64 { return s.Elements() * dtypeSize }
	axis := 0
	for bytesOf(chunk) > maxChunkBytes {
		progressed := false
		for i := 0; i < len(chunk); i++ {
			a := (axis + i) % len(chunk)
			if chunk[a] > 2 {
				chunk[a] /= 2 // floor
				progressed = true
				axis = (a + 1) % len(chunk)
				break
			}
		}
		if !progressed {
			// Every axis is at or below 2: budget cannot be met further,
			// matching spec's invariant which only binds "whenever any
			// axis of S exceeds 2".
			break
		}
	}
	return chunk
}

// PerSampleChunkToStored prepends the fixed leading-axis extent of 1 that
// spec §4.1 specifies: "Stored chunk shape = (1, *per_sample_chunk)".
func PerSampleChunkToStored(perSample ndarray.Shape) ndarray.Shape {
	out := make(ndarray.Shape, 0, len(perSample)+1)
	out = append(out, 1)
	return append(out, perSample...)
}

// IsPrime reports whether n is prime, used by NextPrime.
func IsPrime(n int64) bool {
	if n < 2 {
		return false
	}
	if n%2 == 0 {
		return n == 2
	}
	for d := int64(3); d*d <= n; d += 2 {
		if n%d == 0 {
			return false
		}
	}
	return true
}

// NextPrime returns the smallest prime >= n, matching hangar's
// find_next_prime helper used to size the HDF5 raw-chunk-cache slot count.
func NextPrime(n int64) int64 {
	if n <= 2 {
		return 2
	}
	if n%2 == 0 {
		n++
	}
	for !IsPrime(n) {
		n += 2
	}
	return n
}

func clampI64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func ceilDiv(a, b int64) int64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// CacheSizing implements spec §4.1's rdcc formulas:
//
//	rdcc_bytes = clamp(ceil(sample_bytes/chunk_bytes)*chunk_bytes*10, max_chunk_bytes, max_rdcc_bytes)
//	rdcc_slots = next_prime(ceil(rdcc_bytes/chunk_bytes)*100)
func CacheSizing(sampleBytes, chunkBytes, maxChunkBytes, maxRDCCBytes int64) (rdccBytes, rdccSlots int64) {
	if chunkBytes <= 0 {
		return maxChunkBytes, NextPrime(100)
	}
	rdccBytes = clampI64(ceilDiv(sampleBytes, chunkBytes)*chunkBytes*10, maxChunkBytes, maxRDCCBytes)
	rdccSlots = NextPrime(ceilDiv(rdccBytes, chunkBytes) * 100)
	return rdccBytes, rdccSlots
}
