// SPDX-License-Identifier: Apache-2.0

package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arrayvc/arrayvc/modules/digest"
	"github.com/arrayvc/arrayvc/modules/ndarray"
	"github.com/arrayvc/arrayvc/pkg/store"
)

func openTestRepo(t *testing.T) *store.Repository {
	t.Helper()
	repo, err := store.Open(t.TempDir(), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func testSchema() store.Schema {
	return store.Schema{
		UUID:     "readings",
		MaxShape: ndarray.Shape{4},
		DType:    ndarray.Float32,
	}
}

func fixedTime(offsetSeconds int64) time.Time {
	return time.Unix(1700000000+offsetSeconds, 0).UTC()
}

// commitOneSample writes one named sample into arrayset on branch (creating
// both if absent) and commits, returning the new commit digest.
func commitOneSample(t *testing.T, repo *store.Repository, branch, arrayset, sampleName string, fill byte, offsetSeconds int64) digest.Digest {
	t.Helper()
	wc, err := repo.OpenWriteCheckout(branch, "writer-"+branch)
	require.NoError(t, err)
	defer wc.Close()

	schema := testSchema()
	_ = wc.InitArrayset(arrayset, schema)
	arr := ndarray.New(ndarray.Shape{4}, ndarray.Float32)
	for i := range arr.Data {
		arr.Data[i] = fill + byte(i)
	}
	require.NoError(t, wc.WriteSample(arrayset, store.SampleKey{Name: sampleName, Named: true}, arr))

	d, err := wc.Commit(store.CommitSpec{
		User: "tester", Email: "tester@example.com", Message: "m", Time: fixedTime(offsetSeconds),
	}, digest.Zero)
	require.NoError(t, err)
	return d
}
