// SPDX-License-Identifier: Apache-2.0

package chunked

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arrayvc/arrayvc/modules/ndarray"
)

func TestChunkShapeForUnderBudget(t *testing.T) {
	shape := ndarray.Shape{4, 4}
	got := ChunkShapeFor(shape, 4, 1<<20)
	assert.Equal(t, shape, got)
}

func TestChunkShapeForHalvesOverBudgetAxes(t *testing.T) {
	shape := ndarray.Shape{1024, 1024}
	got := ChunkShapeFor(shape, 4, 4096)
	for _, d := range got {
		assert.LessOrEqual(t, d, int64(1024))
	}
	assert.LessOrEqual(t, got.Elements()*4, int64(4096))
}

func TestChunkShapeForStopsAtFloor(t *testing.T) {
	// Every axis already at or below 2: the loop cannot make further
	// progress and must return without looping forever.
	shape := ndarray.Shape{2, 2, 2}
	got := ChunkShapeFor(shape, 8, 1)
	assert.Equal(t, shape, got)
}

func TestPerSampleChunkToStoredPrependsOne(t *testing.T) {
	got := PerSampleChunkToStored(ndarray.Shape{8, 8})
	assert.Equal(t, ndarray.Shape{1, 8, 8}, got)
}

func TestNextPrime(t *testing.T) {
	cases := map[int64]int64{1: 2, 2: 2, 3: 3, 4: 5, 8: 11, 100: 101}
	for in, want := range cases {
		assert.Equal(t, want, NextPrime(in), "NextPrime(%d)", in)
	}
}

func TestCacheSizing(t *testing.T) {
	rdccBytes, rdccSlots := CacheSizing(4096, 1024, 1<<20, 64<<20)
	assert.Greater(t, rdccBytes, int64(0))
	assert.True(t, IsPrime(rdccSlots))
}
