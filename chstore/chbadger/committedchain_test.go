package chbadger_test

import (
	"context"
	"testing"

	"github.com/chaoschain/chaoscore/chconsensus"
	"github.com/chaoschain/chaoscore/chconsensus/chconsensustest"
	"github.com/chaoschain/chaoscore/chstore"
	"github.com/chaoschain/chaoscore/chstore/chbadger"
	"github.com/chaoschain/chaoscore/chstore/chstoretest"
	"github.com/chaoschain/chaoscore/internal/gtest"
	"github.com/stretchr/testify/require"
)

func TestCommittedChainCompliance(t *testing.T) {
	t.Parallel()

	chstoretest.TestCommittedChainCompliance(t, func(t *testing.T, fx *chconsensustest.Fixture) chstore.CommittedChain {
		c, err := chbadger.Open(gtest.NewLogger(t), "", &fx.Registry)
		require.NoError(t, err)
		t.Cleanup(func() { require.NoError(t, c.Close()) })
		return c
	})
}

func TestCommittedChain_Reopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	fx := chconsensustest.NewEd25519Fixture(4)

	c, err := chbadger.Open(gtest.NewLogger(t), dir, &fx.Registry)
	require.NoError(t, err)

	g := fx.Genesis.Block([]byte("genesis root"))
	require.NoError(t, c.Append(ctx, chconsensus.CommittedBlock{Block: g}))

	in := fx.Intent(0, []byte("persisted"))
	b1 := fx.Block(1, g.Hash, 1, []chconsensus.IntentID{in.ID()}, []byte("root 1"))
	require.NoError(t, c.Append(ctx, chconsensus.CommittedBlock{
		Block: b1, Intents: []chconsensus.Intent{in},
	}))
	require.NoError(t, c.Close())

	c, err = chbadger.Open(gtest.NewLogger(t), dir, &fx.Registry)
	require.NoError(t, err)
	defer c.Close()

	tip, err := c.Tip(ctx)
	require.NoError(t, err)
	require.Equal(t, b1.Hash, tip.Block.Hash)
	require.True(t, tip.Block.HashValid())
	require.True(t, tip.Block.Producer.Equal(fx.PrivVals[1].Signer.PubKey()))

	got, h, err := c.Intent(ctx, in.ID())
	require.NoError(t, err)
	require.Equal(t, uint64(1), h)
	require.NoError(t, got.VerifyCommitment())
}
