// SPDX-License-Identifier: Apache-2.0

package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrayvc/arrayvc/modules/digest"
)

func TestLabelsPutIsContentAddressedAndIdempotent(t *testing.T) {
	l := NewLabels(openTestEnv(t, "label"))
	d1, err := l.Put("v1.0")
	require.NoError(t, err)
	d2, err := l.Put("v1.0")
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
	assert.Equal(t, digest.Compute([]byte("v1.0")), d1)

	has, err := l.Has(d1)
	require.NoError(t, err)
	assert.True(t, has)

	value, err := l.Get(d1)
	require.NoError(t, err)
	assert.Equal(t, "v1.0", value)
}

func TestLabelsGetUnknownDigest(t *testing.T) {
	l := NewLabels(openTestEnv(t, "label"))
	_, err := l.Get(digest.Compute([]byte("missing")))
	assert.True(t, IsKind(err, KindNotFound))
}

func TestLabelsPutSnapshotRegistersEveryMetadataValue(t *testing.T) {
	l := NewLabels(openTestEnv(t, "label"))
	snap := newRefSnapshot()
	snap.Metadata["author"] = "alice"
	snap.Metadata["license"] = "apache-2.0"

	require.NoError(t, l.PutSnapshot(snap))

	for _, v := range snap.Metadata {
		has, err := l.Has(digest.Compute([]byte(v)))
		require.NoError(t, err)
		assert.True(t, has)
	}
}
