// SPDX-License-Identifier: Apache-2.0

package sync

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrayvc/arrayvc/modules/digest"
	"github.com/arrayvc/arrayvc/pkg/store"
)

func newTestServer(t *testing.T, secret []byte) (*httptest.Server, *Server) {
	t.Helper()
	repo := openTestRepo(t)
	s := NewServer(repo, secret, "", nil)
	hs := httptest.NewServer(s.router)
	t.Cleanup(hs.Close)
	return hs, s
}

func tokenFor(t *testing.T, secret []byte, op Operation) string {
	t.Helper()
	tok, err := IssueToken(secret, op, time.Now().Add(time.Hour))
	require.NoError(t, err)
	return tok
}

func TestPushThenFetchRoundTrip(t *testing.T) {
	secret := []byte("shared-secret")
	hs, srv := newTestServer(t, secret)

	clientRepo := openTestRepo(t)
	c1 := commitOneSample(t, clientRepo, "main", "readings", "a", 1, 0)
	c2 := commitOneSample(t, clientRepo, "main", "readings", "b", 2, 10)

	pushToken := tokenFor(t, secret, Upload)
	pushT := NewHTTPTransport(hs.URL, pushToken)

	result, err := Push(context.Background(), clientRepo, pushT, "main")
	require.NoError(t, err)
	assert.Equal(t, c2, result.Head)
	assert.Equal(t, 2, result.CommitsPushed)

	remoteHead, err := srv.repo.Branches.Get("main")
	require.NoError(t, err)
	assert.Equal(t, c2, remoteHead)

	schemaHash := testSchema().Hash()
	has, err := srv.repo.Schemas.Has(schemaHash)
	require.NoError(t, err)
	assert.True(t, has)

	// A second, empty-handed repository fetches the full history back.
	fetchToken := tokenFor(t, secret, Download)
	fetchT := NewHTTPTransport(hs.URL, fetchToken)
	otherRepo := openTestRepo(t)

	fres, err := Fetch(context.Background(), otherRepo, fetchT, "main")
	require.NoError(t, err)
	assert.Equal(t, c2, fres.Head)
	assert.Equal(t, 2, fres.CommitsFetched)

	localHead, err := otherRepo.Branches.Get("main")
	require.NoError(t, err)
	assert.Equal(t, c2, localHead)

	// Hash records land reference-only until FetchDataForCommit runs.
	rc, err := otherRepo.OpenReadCheckout("main")
	require.NoError(t, err)
	_, err = rc.ReadSample("readings", store.SampleKey{Name: "a", Named: true})
	assert.True(t, store.IsKind(err, store.KindNotFound))

	require.NoError(t, FetchDataForCommit(context.Background(), otherRepo, fetchT, c2))

	rc2, err := otherRepo.OpenReadCheckout("main")
	require.NoError(t, err)
	arr, err := rc2.ReadSample("readings", store.SampleKey{Name: "b", Named: true})
	require.NoError(t, err)
	assert.Equal(t, 16, len(arr.Data))
}

func TestFetchUnknownBranchReturnsZero(t *testing.T) {
	secret := []byte("s")
	hs, _ := newTestServer(t, secret)
	fetchT := NewHTTPTransport(hs.URL, tokenFor(t, secret, Download))

	head, err := fetchT.FetchBranch(context.Background(), "does-not-exist")
	require.NoError(t, err)
	assert.True(t, head.IsZero())
}

func TestGuardRejectsWrongOperation(t *testing.T) {
	secret := []byte("s")
	hs, _ := newTestServer(t, secret)
	repo := openTestRepo(t)
	_ = commitOneSample(t, repo, "main", "readings", "a", 1, 0)

	downloadOnly := NewHTTPTransport(hs.URL, tokenFor(t, secret, Download))
	err := downloadOnly.PushSchema(context.Background(), digest.Compute([]byte("x")), []byte("y"))
	assert.Error(t, err)
}
