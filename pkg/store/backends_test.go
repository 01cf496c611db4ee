// SPDX-License-Identifier: Apache-2.0

package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrayvc/arrayvc/modules/ndarray"
)

func TestBackendSetForIsStableKeyedBySchemaHash(t *testing.T) {
	repo := openTestRepo(t)
	schema := testSchema("readings", ndarray.Shape{4})

	b1, err := repo.Backends.For(schema)
	require.NoError(t, err)
	b2, err := repo.Backends.For(schema)
	require.NoError(t, err)
	assert.Same(t, b1, b2)

	other := testSchema("other", ndarray.Shape{8})
	b3, err := repo.Backends.For(other)
	require.NoError(t, err)
	assert.NotSame(t, b1, b3)
}

func TestBackendSetSweepAndClose(t *testing.T) {
	repo := openTestRepo(t)
	schema := testSchema("readings", ndarray.Shape{4})
	backend, err := repo.Backends.For(schema)
	require.NoError(t, err)

	loc, err := backend.Write(fillArray(ndarray.Shape{4}, ndarray.Float32, 1))
	require.NoError(t, err)

	n, err := repo.Backends.Sweep(map[string]bool{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = backend.Read(*loc)
	assert.Error(t, err)

	require.NoError(t, repo.Backends.Close())
}

func TestValidatedBytesRejectsShapeMismatch(t *testing.T) {
	arr := &ndarray.Array{Shape: ndarray.Shape{4}, DType: ndarray.Float32, Data: make([]byte, 3)}
	_, err := validatedBytes(arr)
	assert.Error(t, err)
}

func TestValidatedBytesAcceptsWellFormedArray(t *testing.T) {
	arr := fillArray(ndarray.Shape{4}, ndarray.Float32, 1)
	raw, err := validatedBytes(arr)
	require.NoError(t, err)
	assert.Equal(t, arr.Data, raw)
}
