package gereedsolomon_test

import (
	"context"
	"testing"

	"github.com/chaoschain/chaoscore/gerasure"
	"github.com/chaoschain/chaoscore/gerasure/gerasuretest"
	"github.com/chaoschain/chaoscore/gerasure/gereedsolomon"
	"github.com/stretchr/testify/require"
)

func TestReedSolomon_Compliance(t *testing.T) {
	gerasuretest.TestFixedRateCompliance(
		t,
		func(data []byte, nData, nParity int) (gerasure.Encoder, gerasure.Reconstructor) {
			enc, err := gereedsolomon.NewEncoder(nData, nParity)
			require.NoError(t, err)

			// The shard size is only known after splitting.
			shards, err := enc.Encode(context.Background(), append([]byte(nil), data...))
			require.NoError(t, err)

			r, err := gereedsolomon.NewReconstructor(nData, nParity, len(shards[0]))
			require.NoError(t, err)
			return enc, r
		},
	)
}

func TestReconstructor_rejectsBadShards(t *testing.T) {
	t.Parallel()

	r, err := gereedsolomon.NewReconstructor(2, 1, 8)
	require.NoError(t, err)

	ctx := context.Background()
	require.Error(t, r.ReconstructData(ctx, 3, make([]byte, 8)))
	require.Error(t, r.ReconstructData(ctx, 0, make([]byte, 7)))
	require.ErrorIs(t, r.ReconstructData(ctx, 0, make([]byte, 8)), gerasure.ErrIncompleteSet)

	_, err = gereedsolomon.NewEncoder(0, 1)
	require.Error(t, err)
}
