// SPDX-License-Identifier: Apache-2.0

package chunked

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrayvc/arrayvc/modules/ndarray"
)

func TestLocationRoundTrip(t *testing.T) {
	loc := Location{FileUID: "abc123", Collection: 4, Row: 7, Shape: ndarray.Shape{3, 4}}
	decoded, err := DecodeLocation(loc.Encode())
	require.NoError(t, err)
	assert.Equal(t, loc, decoded)
}

func TestLocationRoundTripRankZero(t *testing.T) {
	loc := Location{FileUID: "scalar", Collection: 0, Row: 0, Shape: nil}
	encoded := loc.Encode()
	assert.Contains(t, string(encoded), "@")
	decoded, err := DecodeLocation(encoded)
	require.NoError(t, err)
	assert.Empty(t, decoded.Shape)
	assert.Equal(t, loc.FileUID, decoded.FileUID)
}

func TestDecodeLocationMalformed(t *testing.T) {
	_, err := DecodeLocation([]byte("not-a-location"))
	require.Error(t, err)
	var malformed *ErrMalformedLocation
	assert.ErrorAs(t, err, &malformed)
}
