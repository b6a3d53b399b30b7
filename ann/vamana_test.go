package ann

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func unitVec(dims int, hot int) []float32 {
	v := make([]float32, dims)
	v[hot%dims] = 1
	return v
}

func TestInsertAndSearchFindsExactMatch(t *testing.T) {
	idx := New(4, DefaultParams())
	ids := make([]int64, 0, 4)
	for i := 0; i < 4; i++ {
		id, err := idx.Insert(unitVec(4, i), 0)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	results, err := idx.Search(unitVec(4, 2), 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, ids[2], results[0].ID)
	require.InDelta(t, 1.0, results[0].Score, 1e-6)
}

func TestDimensionMismatch(t *testing.T) {
	idx := New(4, DefaultParams())
	_, err := idx.Insert([]float32{1, 2, 3}, 0)
	require.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = idx.Search([]float32{1, 2, 3}, 1)
	require.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestEmptyIndexSearchReturnsNoResults(t *testing.T) {
	idx := New(3, DefaultParams())
	results, err := idx.Search(unitVec(3, 0), 5)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestDeleteTombstonesAndExcludesFromSearch(t *testing.T) {
	idx := New(4, DefaultParams())
	var ids []int64
	for i := 0; i < 5; i++ {
		id, _ := idx.Insert(unitVec(4, i), 0)
		ids = append(ids, id)
	}

	require.NoError(t, idx.Delete(ids[2]))
	require.ErrorIs(t, idx.Delete(ids[2]), ErrTombstoned)

	results, err := idx.Search(unitVec(4, 2), 5)
	require.NoError(t, err)
	for _, r := range results {
		require.NotEqual(t, ids[2], r.ID)
	}
	require.InDelta(t, 0.2, idx.TombstoneFraction(), 1e-9)
}

func TestCompactDropsTombstonesAndKeepsLiveReachable(t *testing.T) {
	idx := New(4, DefaultParams())
	var ids []int64
	for i := 0; i < 8; i++ {
		id, _ := idx.Insert(unitVec(4, i), 0)
		ids = append(ids, id)
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, idx.Delete(ids[i]))
	}

	idx.Compact()
	require.Equal(t, 0.0, idx.TombstoneFraction())
	require.Equal(t, 5, idx.Len())

	for _, id := range ids[3:] {
		results, err := idx.Search(idx.vectorOf(id), 1)
		require.NoError(t, err)
		require.Len(t, results, 1)
	}
}

func TestCosineDistanceMonotonic(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	c := []float32{1, 0}
	require.Greater(t, dist(a, b), dist(a, c))
	require.Equal(t, 0.0, math.Round(dist(a, c)*1e9)/1e9)
}
