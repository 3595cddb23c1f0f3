package chround_test

import (
	"testing"

	"github.com/chaoschain/chaoscore/chengine/internal/chround"
	"github.com/stretchr/testify/require"
)

func TestHeightQueue(t *testing.T) {
	t.Parallel()

	q := chround.NewHeightQueue[string](4)
	require.True(t, q.Push(5, "5a"))
	require.True(t, q.Push(3, "3a"))
	require.True(t, q.Push(5, "5b"))
	require.True(t, q.Push(4, "4a"))

	// Full: nearer heights displace the newest value at the farthest height.
	require.False(t, q.Push(5, "5c"))
	require.False(t, q.Push(9, "9a"))
	require.True(t, q.Push(1, "1a"))
	require.Equal(t, 4, q.Len())

	require.Empty(t, q.PopThrough(0))
	require.Equal(t, []string{"1a", "3a", "4a"}, q.PopThrough(4))
	require.Equal(t, []string{"5a"}, q.PopThrough(10))
	require.Zero(t, q.Len())
}

func TestHeightQueue_farFutureCannotStarveNearHeights(t *testing.T) {
	t.Parallel()

	q := chround.NewHeightQueue[uint64](8)
	for i := range uint64(8) {
		require.True(t, q.Push(1<<62, i))
	}

	require.True(t, q.Push(2, 100))
	require.Equal(t, 8, q.Len())
	require.Equal(t, []uint64{100}, q.PopThrough(2))

	// Evicted from the back: the oldest far values remain.
	require.Equal(t, []uint64{0, 1, 2, 3, 4, 5, 6}, q.PopThrough(1<<62))
}
