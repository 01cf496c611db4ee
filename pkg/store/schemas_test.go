// SPDX-License-Identifier: Apache-2.0

package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrayvc/arrayvc/modules/digest"
	"github.com/arrayvc/arrayvc/modules/ndarray"
)

func TestSchemasPutIsContentAddressedAndIdempotent(t *testing.T) {
	s := NewSchemas(openTestEnv(t, "schema"))
	schema := testSchema("readings", ndarray.Shape{4})

	d1, err := s.Put(schema)
	require.NoError(t, err)
	d2, err := s.Put(schema)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)

	got, err := s.Get(d1)
	require.NoError(t, err)
	assert.Equal(t, schema, got)
}

func TestSchemasGetUnknownDigestIsNotFound(t *testing.T) {
	s := NewSchemas(openTestEnv(t, "schema"))
	_, err := s.Get(digest.Compute([]byte("nope")))
	assert.True(t, IsKind(err, KindNotFound))
	assert.ErrorIs(t, err, ErrSchemaNotFound)
}

func TestSchemaBytesRoundTripsThroughDecode(t *testing.T) {
	schema := Schema{UUID: "images", IsVariableShape: true, MaxShape: ndarray.Shape{3, 224, 224}, DType: ndarray.Uint8, IsNamedSamples: false}
	decoded, err := DecodeSchema(schema.Bytes())
	require.NoError(t, err)
	assert.Equal(t, schema, decoded)
}

func TestSchemaHashDiffersOnShapeChange(t *testing.T) {
	a := testSchema("x", ndarray.Shape{4})
	b := testSchema("x", ndarray.Shape{8})
	assert.NotEqual(t, a.Hash(), b.Hash())
}

func TestSchemasPutSnapshotRegistersEveryArraysetSchema(t *testing.T) {
	s := NewSchemas(openTestEnv(t, "schema"))
	snap := newRefSnapshot()
	schema := testSchema("readings", ndarray.Shape{4})
	snap.Arraysets["readings"] = newArraysetRecord("readings", schema)

	require.NoError(t, s.PutSnapshot(snap))
	has, err := s.Has(schema.Hash())
	require.NoError(t, err)
	assert.True(t, has)
}
