// SPDX-License-Identifier: Apache-2.0

package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arrayvc/arrayvc/modules/kvstore"
	"github.com/arrayvc/arrayvc/modules/ndarray"
)

func openTestEnv(t *testing.T, name string) *kvstore.Env {
	t.Helper()
	reg := kvstore.NewRegistry(t.TempDir())
	env, err := reg.Open(name)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })
	return env
}

func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := Open(t.TempDir(), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func testSchema(uuid string, shape ndarray.Shape) Schema {
	return Schema{UUID: uuid, MaxShape: shape, DType: ndarray.Float32, IsNamedSamples: true}
}

func fillArray(shape ndarray.Shape, dtype ndarray.DType, fill byte) *ndarray.Array {
	arr := ndarray.New(shape, dtype)
	for i := range arr.Data {
		arr.Data[i] = fill + byte(i)
	}
	return arr
}
