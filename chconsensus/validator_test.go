package chconsensus_test

import (
	"context"
	"math"
	"testing"

	"github.com/chaoschain/chaoscore/chconsensus"
	"github.com/chaoschain/chaoscore/chconsensus/chconsensustest"
	"github.com/stretchr/testify/require"
)

func TestThresholdFor(t *testing.T) {
	t.Parallel()

	for w, want := range map[uint64]uint64{
		1:   1,
		2:   2,
		3:   3,
		4:   3,
		5:   4,
		6:   5,
		7:   5,
		100: 67,
	} {
		require.Equal(t, want, chconsensus.ThresholdFor(w), "w=%d", w)
	}

	// Must not overflow.
	require.Equal(t, uint64(math.MaxUint64/3*2+1), chconsensus.ThresholdFor(math.MaxUint64))
}

func TestNewValidatorSet(t *testing.T) {
	t.Parallel()

	pvs := chconsensustest.DeterministicValidatorsEd25519(4)

	vs, err := chconsensus.NewValidatorSet(pvs.Vals())
	require.NoError(t, err)
	require.Equal(t, uint64(4), vs.TotalPower())
	require.Equal(t, uint64(3), vs.Threshold())
	require.Equal(t, 2, vs.Index(pvs[2].Signer.PubKey()))
	require.Equal(t, uint64(1), vs.PowerOf(pvs[3].Signer.PubKey()))

	other := chconsensustest.DeterministicValidatorsEd25519(5)[4]
	require.Equal(t, -1, vs.Index(other.Signer.PubKey()))
	require.Zero(t, vs.PowerOf(other.Signer.PubKey()))

	t.Run("rejects duplicates", func(t *testing.T) {
		t.Parallel()

		_, err := chconsensus.NewValidatorSet(append(pvs.Vals(), pvs[0].Val))
		require.ErrorContains(t, err, "duplicate")
	})

	t.Run("rejects zero power", func(t *testing.T) {
		t.Parallel()

		vals := pvs.Vals()
		vals[1].Power = 0
		_, err := chconsensus.NewValidatorSet(vals)
		require.Error(t, err)
	})

	t.Run("rejects overflow", func(t *testing.T) {
		t.Parallel()

		vals := pvs.Vals()
		vals[0].Power = math.MaxUint64
		_, err := chconsensus.NewValidatorSet(vals)
		require.ErrorContains(t, err, "overflow")
	})

	t.Run("hash depends on order and power", func(t *testing.T) {
		t.Parallel()

		vals := pvs.Vals()
		vals[0], vals[1] = vals[1], vals[0]
		swapped, err := chconsensus.NewValidatorSet(vals)
		require.NoError(t, err)
		require.NotEqual(t, vs.PubKeyHash(), swapped.PubKeyHash())

		vals = pvs.Vals()
		vals[0].Power = 2
		heavier, err := chconsensus.NewValidatorSet(vals)
		require.NoError(t, err)
		require.False(t, vs.Equal(heavier))
	})
}

func TestRoundRobinSelector(t *testing.T) {
	t.Parallel()

	fx := chconsensustest.NewEd25519Fixture(4)
	vs := fx.ValidatorSet()
	s := chconsensus.RoundRobinSelector{}

	a, b := fx.PrivVals[0].Signer.PubKey(), fx.PrivVals[1].Signer.PubKey()

	require.True(t, s.Producer(vs, 1, 0).PubKey.Equal(a))
	require.True(t, s.Producer(vs, 1, 1).PubKey.Equal(b))
	require.True(t, s.Producer(vs, 2, 0).PubKey.Equal(b))
	require.True(t, s.Producer(vs, 4, 1).PubKey.Equal(a))
	require.True(t, s.Producer(vs, math.MaxUint64, math.MaxUint32).PubKey != nil)
}

func TestWeightedSelector(t *testing.T) {
	t.Parallel()

	pvs := chconsensustest.DeterministicValidatorsEd25519(3)
	vals := pvs.Vals()
	vals[2].Power = 1000
	vs, err := chconsensus.NewValidatorSet(vals)
	require.NoError(t, err)

	s := chconsensus.WeightedSelector{}
	counts := make(map[int]int)
	for h := uint64(1); h <= 200; h++ {
		p := s.Producer(vs, h, 0)
		counts[vs.Index(p.PubKey)]++

		// Deterministic.
		require.True(t, p.PubKey.Equal(s.Producer(vs, h, 0).PubKey))
	}
	require.Greater(t, counts[2], 180)
}

func TestVote_Verify(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := chconsensustest.NewEd25519Fixture(4)
	vs := fx.ValidatorSet()

	v := fx.Vote(ctx, 1, 3, 0, []byte("hash"))
	require.NoError(t, v.Verify(vs))

	t.Run("height is signed", func(t *testing.T) {
		t.Parallel()

		c := v
		c.Height++
		require.ErrorIs(t, c.Verify(vs), chconsensus.ErrBadSignature)
	})

	t.Run("round is not signed", func(t *testing.T) {
		t.Parallel()

		c := v
		c.Round++
		require.NoError(t, c.Verify(vs))
	})

	t.Run("outsider", func(t *testing.T) {
		t.Parallel()

		small, err := chconsensus.NewValidatorSet(fx.PrivVals[:1].Vals())
		require.NoError(t, err)
		err = v.Verify(small)
		require.ErrorIs(t, err, chconsensus.ErrUnknownVoter)
		require.True(t, chconsensus.IsCryptoError(err))
	})
}
