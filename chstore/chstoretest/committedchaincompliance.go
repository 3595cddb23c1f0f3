// Package chstoretest has compliance tests for chstore implementations.
package chstoretest

import (
	"context"
	"testing"

	"github.com/chaoschain/chaoscore/chconsensus"
	"github.com/chaoschain/chaoscore/chconsensus/chconsensustest"
	"github.com/chaoschain/chaoscore/chstore"
	"github.com/stretchr/testify/require"
)

// CommittedChainFactory returns a new, empty CommittedChain.
// Stores that need the key registry to decode values receive the fixture's.
type CommittedChainFactory func(t *testing.T, fx *chconsensustest.Fixture) chstore.CommittedChain

// TestCommittedChainCompliance runs the behavior every CommittedChain must satisfy.
func TestCommittedChainCompliance(t *testing.T, f CommittedChainFactory) {
	t.Run("empty chain", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		fx := chconsensustest.NewEd25519Fixture(4)
		c := f(t, fx)

		_, err := c.Tip(ctx)
		require.ErrorIs(t, err, chstore.ErrEmpty)

		_, err = c.BlockAt(ctx, 0)
		require.ErrorIs(t, err, chstore.ErrHeightUnknown)
	})

	t.Run("first block must be genesis", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		fx := chconsensustest.NewEd25519Fixture(4)
		c := f(t, fx)

		b := fx.Block(1, chconsensus.ZeroHash, 0, nil, []byte("root"))
		err := c.Append(ctx, chconsensus.CommittedBlock{Block: b})
		require.ErrorIs(t, err, chstore.ErrNonContiguous)
	})

	t.Run("append and read back", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		fx := chconsensustest.NewEd25519Fixture(4)
		c := f(t, fx)

		g := fx.Genesis.Block([]byte("genesis root"))
		require.NoError(t, c.Append(ctx, chconsensus.CommittedBlock{Block: g}))

		i1, i2 := fx.Intent(0, []byte("one")), fx.Intent(1, []byte("two"))
		intents := []chconsensus.Intent{i1, i2}
		b1 := fx.Block(1, g.Hash, 0, chconsensus.IntentIDs(intents), []byte("root 1"))
		require.NoError(t, c.Append(ctx, chconsensus.CommittedBlock{Block: b1, Intents: intents, Round: 2}))

		tip, err := c.Tip(ctx)
		require.NoError(t, err)
		require.Equal(t, b1.Hash, tip.Block.Hash)
		require.Equal(t, uint32(2), tip.Round)
		require.True(t, tip.Block.HashValid())

		got, err := c.BlockAt(ctx, 0)
		require.NoError(t, err)
		require.Equal(t, g.Hash, got.Block.Hash)

		_, err = c.BlockAt(ctx, 2)
		require.ErrorIs(t, err, chstore.ErrHeightUnknown)

		has, err := c.HasIntent(ctx, i2.ID())
		require.NoError(t, err)
		require.True(t, has)

		in, h, err := c.Intent(ctx, i2.ID())
		require.NoError(t, err)
		require.Equal(t, uint64(1), h)
		require.Equal(t, i2.ID(), in.ID())
		require.NoError(t, in.VerifyCommitment())

		other := fx.Intent(2, []byte("three"))
		has, err = c.HasIntent(ctx, other.ID())
		require.NoError(t, err)
		require.False(t, has)

		_, _, err = c.Intent(ctx, other.ID())
		require.ErrorIs(t, err, chstore.ErrIntentUnknown)
	})

	t.Run("rejects non-contiguous appends", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		fx := chconsensustest.NewEd25519Fixture(4)
		c := f(t, fx)

		g := fx.Genesis.Block([]byte("genesis root"))
		require.NoError(t, c.Append(ctx, chconsensus.CommittedBlock{Block: g}))

		gap := fx.Block(2, g.Hash, 0, nil, []byte("r"))
		require.ErrorIs(t, c.Append(ctx, chconsensus.CommittedBlock{Block: gap}), chstore.ErrNonContiguous)

		wrongParent := fx.Block(1, []byte("not the genesis hash"), 0, nil, []byte("r"))
		require.ErrorIs(t, c.Append(ctx, chconsensus.CommittedBlock{Block: wrongParent}), chstore.ErrNonContiguous)

		badHash := fx.Block(1, g.Hash, 0, nil, []byte("r"))
		badHash.StateRoot = []byte("tampered")
		require.ErrorIs(t, c.Append(ctx, chconsensus.CommittedBlock{Block: badHash}), chstore.ErrNonContiguous)

		in := fx.Intent(0, []byte("x"))
		missing := fx.Block(1, g.Hash, 0, []chconsensus.IntentID{in.ID()}, []byte("r"))
		require.ErrorIs(t, c.Append(ctx, chconsensus.CommittedBlock{Block: missing}), chstore.ErrNonContiguous)

		// A second block at the same height is never accepted.
		b1 := fx.Block(1, g.Hash, 0, nil, []byte("r"))
		require.NoError(t, c.Append(ctx, chconsensus.CommittedBlock{Block: b1}))
		conflict := fx.Block(1, g.Hash, 1, nil, []byte("r"))
		require.ErrorIs(t, c.Append(ctx, chconsensus.CommittedBlock{Block: conflict}), chstore.ErrNonContiguous)

		tip, err := c.Tip(ctx)
		require.NoError(t, err)
		require.Equal(t, b1.Hash, tip.Block.Hash)
	})
}
