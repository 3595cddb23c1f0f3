package gmerkle_test

import (
	"fmt"
	"testing"

	"github.com/chaoschain/chaoscore/gmerkle"
	"github.com/stretchr/testify/require"
)

func leaves(n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = []byte(fmt.Sprintf("leaf-%d", i))
	}
	return out
}

func TestRoot_Deterministic(t *testing.T) {
	t.Parallel()

	require.Equal(t, gmerkle.Root(leaves(5)), gmerkle.Root(leaves(5)))
	require.Len(t, gmerkle.Root(leaves(5)), gmerkle.HashSize)
	require.Len(t, gmerkle.Root(nil), gmerkle.HashSize)

	require.NotEqual(t, gmerkle.Root(leaves(4)), gmerkle.Root(leaves(5)))
	require.NotEqual(t, gmerkle.Root(nil), gmerkle.Root([][]byte{{}}))
}

func TestRoot_OrderMatters(t *testing.T) {
	t.Parallel()

	l := leaves(3)
	swapped := [][]byte{l[1], l[0], l[2]}
	require.NotEqual(t, gmerkle.Root(l), gmerkle.Root(swapped))
}

func TestRoot_SingleLeafIsNotRawLeaf(t *testing.T) {
	t.Parallel()

	// Two leaves whose concatenation looks like one leaf must not collide.
	a := gmerkle.Root([][]byte{[]byte("ab")})
	b := gmerkle.Root([][]byte{[]byte("a"), []byte("b")})
	require.NotEqual(t, a, b)
}

func TestProof_RoundTrip(t *testing.T) {
	t.Parallel()

	for n := 1; n <= 9; n++ {
		ls := leaves(n)
		root := gmerkle.Root(ls)

		for i := range ls {
			proof, err := gmerkle.Proof(ls, i)
			require.NoError(t, err)
			require.NoError(t, gmerkle.Verify(root, ls[i], i, proof), "n=%d i=%d", n, i)

			if n > 1 {
				require.ErrorIs(t, gmerkle.Verify(root, []byte("bogus"), i, proof), gmerkle.ErrInvalidProof)
			}
		}
	}

	_, err := gmerkle.Proof(leaves(2), 2)
	require.Error(t, err)
}
