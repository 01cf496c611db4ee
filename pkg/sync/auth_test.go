// SPDX-License-Identifier: Apache-2.0

package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("s3cr3t")
	tok, err := IssueToken(secret, Upload, time.Now().Add(time.Hour))
	require.NoError(t, err)

	claims, err := ParseToken(secret, tok)
	require.NoError(t, err)
	assert.True(t, claims.Allows(Download))
	assert.True(t, claims.Allows(Upload))
}

func TestDownloadTokenDoesNotAllowUpload(t *testing.T) {
	secret := []byte("s3cr3t")
	tok, err := IssueToken(secret, Download, time.Now().Add(time.Hour))
	require.NoError(t, err)

	claims, err := ParseToken(secret, tok)
	require.NoError(t, err)
	assert.True(t, claims.Allows(Download))
	assert.False(t, claims.Allows(Upload))
}

func TestParseTokenWrongSecretFails(t *testing.T) {
	tok, err := IssueToken([]byte("a"), Upload, time.Now().Add(time.Hour))
	require.NoError(t, err)

	_, err = ParseToken([]byte("b"), tok)
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestParseTokenExpiredFails(t *testing.T) {
	secret := []byte("s")
	tok, err := IssueToken(secret, Upload, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	_, err = ParseToken(secret, tok)
	assert.ErrorIs(t, err, ErrPermissionDenied)
}
