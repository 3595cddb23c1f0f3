package chconsensus_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/chaoschain/chaoscore/chconsensus"
	"github.com/chaoschain/chaoscore/chconsensus/chconsensustest"
	"github.com/stretchr/testify/require"
)

func TestBlock_Hash(t *testing.T) {
	t.Parallel()

	fx := chconsensustest.NewEd25519Fixture(4)
	i1 := fx.Intent(0, []byte("a"))
	i2 := fx.Intent(1, []byte("b"))

	b := fx.Block(1, chconsensus.ZeroHash, 0, []chconsensus.IntentID{i1.ID(), i2.ID()}, []byte("root"))
	require.True(t, b.HashValid())

	same := fx.Block(1, chconsensus.ZeroHash, 0, []chconsensus.IntentID{i1.ID(), i2.ID()}, []byte("root"))
	require.Equal(t, b.Hash, same.Hash)

	t.Run("reordering intents changes the hash", func(t *testing.T) {
		t.Parallel()

		r := fx.Block(1, chconsensus.ZeroHash, 0, []chconsensus.IntentID{i2.ID(), i1.ID()}, []byte("root"))
		require.NotEqual(t, b.Hash, r.Hash)
	})

	mutations := map[string]func(*chconsensus.Block){
		"height":    func(b *chconsensus.Block) { b.Height++ },
		"prev hash": func(b *chconsensus.Block) { b.PrevHash = bytes.Repeat([]byte{1}, 32) },
		"timestamp": func(b *chconsensus.Block) { b.Timestamp = b.Timestamp.Add(time.Nanosecond) },
		"producer":  func(b *chconsensus.Block) { b.Producer = fx.PrivVals[1].Signer.PubKey() },
		"root":      func(b *chconsensus.Block) { b.StateRoot = []byte("other") },
		"intents":   func(b *chconsensus.Block) { b.IntentIDs = b.IntentIDs[:1] },
	}
	for name, mutate := range mutations {
		t.Run("changing "+name+" changes the hash", func(t *testing.T) {
			t.Parallel()

			c := b
			c.IntentIDs = append([]chconsensus.IntentID(nil), b.IntentIDs...)
			mutate(&c)
			require.False(t, c.HashValid())
			require.NotEqual(t, b.Hash, c.ComputeHash())
		})
	}
}

func TestGenesis_Block(t *testing.T) {
	t.Parallel()

	fx := chconsensustest.NewEd25519Fixture(2)
	g := fx.Genesis.Block([]byte("root"))

	require.Zero(t, g.Height)
	require.Equal(t, chconsensus.ZeroHash, g.PrevHash)
	require.Nil(t, g.Producer)
	require.True(t, g.HashValid())
}

func TestGenesis_Validate(t *testing.T) {
	t.Parallel()

	fx := chconsensustest.NewEd25519Fixture(2)
	require.NoError(t, fx.Genesis.Validate())

	bad := chconsensus.Genesis{}
	err := bad.Validate()
	require.Error(t, err)

	// Every problem is reported, not only the first.
	require.ErrorContains(t, err, "chain ID")
	require.ErrorContains(t, err, "initial time")
	require.ErrorContains(t, err, "validators")
}
