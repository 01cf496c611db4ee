// SPDX-License-Identifier: Apache-2.0

package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrayvc/arrayvc/modules/digest"
	"github.com/arrayvc/arrayvc/modules/kvstore"
)

func newTestHashIndex(t *testing.T) *HashIndex {
	reg := kvstore.NewRegistry(t.TempDir())
	hashEnv, err := reg.Open("hash")
	require.NoError(t, err)
	stageEnv, err := reg.Open("stagehash")
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })
	return NewHashIndex(hashEnv, stageEnv)
}

func TestHashIndexPutGetRoundTrip(t *testing.T) {
	h := newTestHashIndex(t)
	d := digest.Compute([]byte("sample-bytes"))
	require.NoError(t, h.Put(d, "10", []byte("container-a/0")))

	fc, loc, err := h.Get(d)
	require.NoError(t, err)
	assert.Equal(t, "10", fc)
	assert.Equal(t, []byte("container-a/0"), loc)

	has, err := h.Has(d)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestHashIndexGetUnknownDigest(t *testing.T) {
	h := newTestHashIndex(t)
	_, _, err := h.Get(digest.Compute([]byte("nope")))
	assert.True(t, IsKind(err, KindNotFound))
	assert.ErrorIs(t, err, ErrDigestNotFound)
}

func TestHashIndexListAllAndPending(t *testing.T) {
	h := newTestHashIndex(t)
	d1 := digest.Compute([]byte("a"))
	d2 := digest.Compute([]byte("b"))
	require.NoError(t, h.Put(d1, "10", []byte("x")))
	require.NoError(t, h.Put(d2, "10", []byte("y")))

	all, err := h.ListAll()
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pending, err := h.ListPending()
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	require.NoError(t, h.ClearStage())
	pending, err = h.ListPending()
	require.NoError(t, err)
	assert.Empty(t, pending)

	// clearing the stage never touches the main index.
	all, err = h.ListAll()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
