// Package gerasuretest holds a compliance suite for [gerasure] implementations.
package gerasuretest

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/chaoschain/chaoscore/gerasure"
	"github.com/stretchr/testify/require"
)

// FixedRateFactory returns a paired encoder and reconstructor for data.
// The reconstructor may depend on data's size, which fixes the shard size.
type FixedRateFactory func(
	data []byte, dataShards, parityShards int,
) (gerasure.Encoder, gerasure.Reconstructor)

// TestFixedRateCompliance checks that an implementation recovers data
// from any dataShards of its shards, delivered in random order.
func TestFixedRateCompliance(t *testing.T, f FixedRateFactory) {
	t.Helper()

	for _, counts := range [][2]int{{4, 4}, {8, 2}, {4, 8}, {16, 16}} {
		nData, nParity := counts[0], counts[1]
		for _, size := range []int{300, 1024, 25_000, 1 << 20} {
			t.Run(fmt.Sprintf("%d+%d shards of %d bytes", nData, nParity, size), func(t *testing.T) {
				t.Parallel()

				var seed [32]byte
				binary.LittleEndian.PutUint32(seed[0:], uint32(nData))
				binary.LittleEndian.PutUint32(seed[4:], uint32(nParity))
				binary.LittleEndian.PutUint64(seed[8:], uint64(size))
				src := rand.NewChaCha8(seed)

				data := make([]byte, size)
				_, _ = src.Read(data)
				orig := append([]byte(nil), data...)

				enc, r := f(data, nData, nParity)
				shards, err := enc.Encode(context.Background(), data)
				require.NoError(t, err)
				require.Len(t, shards, nData+nParity)

				// Drop as many shards as parity allows.
				perm := rand.New(src).Perm(len(shards))
				for i, idx := range perm[nParity:] {
					err = r.ReconstructData(context.Background(), idx, shards[idx])
					if i < nData-1 {
						require.ErrorIs(t, err, gerasure.ErrIncompleteSet)
					}
				}
				require.NoError(t, err)

				got, err := r.Data(nil, size)
				require.NoError(t, err)
				require.Equal(t, orig, got)

				prefixed, err := r.Data([]byte("x"), size)
				require.NoError(t, err)
				require.Equal(t, append([]byte("x"), orig...), prefixed)
			})
		}
	}
}
