package chstate_test

import (
	"context"
	"testing"

	"github.com/chaoschain/chaoscore/chconsensus"
	"github.com/chaoschain/chaoscore/chconsensus/chconsensustest"
	"github.com/chaoschain/chaoscore/chstate"
	"github.com/chaoschain/chaoscore/internal/gtest"
	"github.com/stretchr/testify/require"
)

type pendingMap map[chconsensus.IntentID]chconsensus.Intent

func (p pendingMap) Get(id chconsensus.IntentID) (chconsensus.Intent, bool) {
	in, ok := p[id]
	return in, ok
}

func (p pendingMap) add(ins ...chconsensus.Intent) {
	for _, in := range ins {
		p[in.ID()] = in
	}
}

type historySet map[chconsensus.IntentID]bool

func (h historySet) HasIntent(_ context.Context, id chconsensus.IntentID) (bool, error) {
	return h[id], nil
}

func newMachine(t *testing.T, fx *chconsensustest.Fixture, pending pendingMap) (*chstate.Machine, chstate.State) {
	t.Helper()

	gs, err := chstate.GenesisState(fx.Genesis)
	require.NoError(t, err)

	return chstate.NewMachine(gtest.NewLogger(t), chstate.MachineConfig{
		Registry: &fx.Registry,
		Pending:  pending,
		Initial:  gs,
	}), gs
}

func TestMachine_ApplyIsDeterministic(t *testing.T) {
	t.Parallel()

	fx := chconsensustest.NewEd25519Fixture(4)
	m, gs := newMachine(t, fx, pendingMap{})

	intents := []chconsensus.Intent{
		fx.Intent(0, chstate.SetOp("x", []byte("1"))),
		fx.Intent(1, chstate.SetOp("y", []byte("2"))),
	}

	a, err := m.Apply(gs, intents)
	require.NoError(t, err)
	b, err := m.Apply(gs, intents)
	require.NoError(t, err)

	require.Equal(t, a.Root(), b.Root())
	require.Equal(t, uint64(1), a.Height())
	require.NotEqual(t, gs.Root(), a.Root())

	// Prior state is untouched.
	_, ok := gs.Get("x")
	require.False(t, ok)
	v, ok := a.Get("x")
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)
}

func TestMachine_OrderMatters(t *testing.T) {
	t.Parallel()

	fx := chconsensustest.NewEd25519Fixture(1)
	m, gs := newMachine(t, fx, pendingMap{})

	set := fx.Intent(0, chstate.SetOp("k", []byte("v")))
	del := fx.Intent(0, chstate.DeleteOp("k"))

	setThenDel, err := m.Apply(gs, []chconsensus.Intent{set, del})
	require.NoError(t, err)
	delThenSet, err := m.Apply(gs, []chconsensus.Intent{del, set})
	require.NoError(t, err)

	require.NotEqual(t, setThenDel.Root(), delThenSet.Root())
	require.Equal(t, gs.Root(), setThenDel.Root())
}

func TestMachine_ApplicationErrors(t *testing.T) {
	t.Parallel()

	fx := chconsensustest.NewEd25519Fixture(2)
	m, gs := newMachine(t, fx, pendingMap{})

	for name, payload := range map[string][]byte{
		"garbage":       []byte("not cbor"),
		"missing key":   chstate.EncodeOp(chstate.Op{Kind: chstate.OpSet}),
		"unknown kind":  chstate.EncodeOp(chstate.Op{Kind: 99, Key: "k"}),
		"zero power":    chstate.EncodeOp(chstate.Op{Kind: chstate.OpAddValidator, PubKey: []byte("x")}),
		"bad validator": chstate.EncodeOp(chstate.Op{Kind: chstate.OpAddValidator, PubKey: []byte("nonsense"), Power: 1}),
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			// Submitted by a validator so governance ops reach the decode step.
			in, err := chconsensus.NewIntent(context.Background(), fx.PrivVals[0].Signer, 1, payload)
			require.NoError(t, err)

			_, err = m.Apply(gs, []chconsensus.Intent{in})
			require.ErrorIs(t, err, chconsensus.ErrApplication)
			require.True(t, chconsensus.IsValidationError(err))
		})
	}
}

func TestMachine_Governance(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := chconsensustest.NewEd25519Fixture(3)
	m, gs := newMachine(t, fx, pendingMap{})

	newcomer := chconsensustest.DeterministicValidatorsEd25519(4)[3].Signer.PubKey()

	t.Run("non-validators cannot change the set", func(t *testing.T) {
		t.Parallel()

		in := fx.Intent(0, chstate.AddValidatorOp(&fx.Registry, newcomer, 5))
		_, err := m.Apply(gs, []chconsensus.Intent{in})
		require.ErrorIs(t, err, chconsensus.ErrApplication)
	})

	t.Run("validators can", func(t *testing.T) {
		t.Parallel()

		add, err := chconsensus.NewIntent(ctx, fx.PrivVals[0].Signer, 1, chstate.AddValidatorOp(&fx.Registry, newcomer, 5))
		require.NoError(t, err)
		remove, err := chconsensus.NewIntent(ctx, fx.PrivVals[1].Signer, 1, chstate.RemoveValidatorOp(&fx.Registry, fx.PrivVals[2].Signer.PubKey()))
		require.NoError(t, err)
		power, err := chconsensus.NewIntent(ctx, fx.PrivVals[1].Signer, 2, chstate.SetPowerOp(&fx.Registry, fx.PrivVals[0].Signer.PubKey(), 7))
		require.NoError(t, err)

		next, err := m.Apply(gs, []chconsensus.Intent{add, remove, power})
		require.NoError(t, err)

		vs := next.ValidatorSet()
		require.Equal(t, 3, vs.Len())
		require.Equal(t, uint64(7+1+5), vs.TotalPower())
		require.Equal(t, -1, vs.Index(fx.PrivVals[2].Signer.PubKey()))
		require.Equal(t, uint64(5), vs.PowerOf(newcomer))

		// The genesis set is unchanged.
		require.Equal(t, 3, gs.ValidatorSet().Len())
		require.Equal(t, uint64(3), gs.ValidatorSet().TotalPower())
	})

	t.Run("removing every validator fails", func(t *testing.T) {
		t.Parallel()

		var ins []chconsensus.Intent
		for i, pv := range fx.PrivVals {
			in, err := chconsensus.NewIntent(ctx, fx.PrivVals[0].Signer, uint64(100+i), chstate.RemoveValidatorOp(&fx.Registry, pv.Signer.PubKey()))
			require.NoError(t, err)
			ins = append(ins, in)
		}

		_, err := m.Apply(gs, ins)
		require.ErrorIs(t, err, chconsensus.ErrApplication)
	})
}

func TestMachine_ValidateAndCommit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := chconsensustest.NewEd25519Fixture(4)
	pending := pendingMap{}
	m, gs := newMachine(t, fx, pending)

	i1 := fx.Intent(0, chstate.SetOp("a", []byte("1")))
	i2 := fx.Intent(1, chstate.SetOp("b", []byte("2")))
	pending.add(i1, i2)

	want, err := m.Apply(gs, []chconsensus.Intent{i1, i2})
	require.NoError(t, err)

	genesis := fx.Genesis.Block(gs.Root())
	good := fx.Block(1, genesis.Hash, 0, []chconsensus.IntentID{i1.ID(), i2.ID()}, want.Root())
	lying := fx.Block(1, genesis.Hash, 0, []chconsensus.IntentID{i1.ID(), i2.ID()}, []byte("made up"))

	t.Run("root mismatch", func(t *testing.T) {
		_, err := m.ValidateTransition(ctx, gs, lying)
		require.ErrorIs(t, err, chconsensus.ErrRootMismatch)
		require.Error(t, m.Commit(ctx, want, lying))
	})

	t.Run("unknown intent", func(t *testing.T) {
		stranger := fx.Intent(2, chstate.SetOp("c", nil))
		b := fx.Block(1, genesis.Hash, 0, []chconsensus.IntentID{stranger.ID()}, want.Root())
		_, err := m.ValidateTransition(ctx, gs, b)
		require.ErrorIs(t, err, chconsensus.ErrUnknownIntent)
	})

	t.Run("commit requires validation", func(t *testing.T) {
		require.Error(t, m.Commit(ctx, want, good))
	})

	t.Run("validate then commit", func(t *testing.T) {
		got, err := m.ValidateTransition(ctx, gs, good)
		require.NoError(t, err)
		require.Equal(t, want.Root(), got.Root())

		// Validation alone does not advance canonical state.
		require.Equal(t, uint64(0), m.Current().Height())

		require.NoError(t, m.Commit(ctx, got, good))
		require.Equal(t, uint64(1), m.Current().Height())
		require.Equal(t, want.Root(), m.Current().Root())

		// Exactly once per height.
		require.Error(t, m.Commit(ctx, got, good))
	})
}

func TestMachine_ValidateTransitionWith(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := chconsensustest.NewEd25519Fixture(4)
	m, gs := newMachine(t, fx, pendingMap{})

	i1 := fx.Intent(0, chstate.SetOp("a", []byte("1")))
	next, err := m.Apply(gs, []chconsensus.Intent{i1})
	require.NoError(t, err)

	genesis := fx.Genesis.Block(gs.Root())
	b := fx.Block(1, genesis.Hash, 0, []chconsensus.IntentID{i1.ID()}, next.Root())

	_, err = m.ValidateTransitionWith(ctx, gs, b, nil)
	require.ErrorIs(t, err, chconsensus.ErrUnknownIntent)

	other := fx.Intent(0, chstate.SetOp("a", []byte("1")))
	_, err = m.ValidateTransitionWith(ctx, gs, b, []chconsensus.Intent{other})
	require.ErrorIs(t, err, chconsensus.ErrUnknownIntent)

	got, err := m.ValidateTransitionWith(ctx, gs, b, []chconsensus.Intent{i1})
	require.NoError(t, err)
	require.NoError(t, m.Commit(ctx, got, b))
}

func TestMachine_RejectsRecommittedIntents(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := chconsensustest.NewEd25519Fixture(1)

	i1 := fx.Intent(0, chstate.SetOp("a", []byte("1")))
	pending := pendingMap{}
	pending.add(i1)

	gs, err := chstate.GenesisState(fx.Genesis)
	require.NoError(t, err)
	m := chstate.NewMachine(gtest.NewLogger(t), chstate.MachineConfig{
		Registry: &fx.Registry,
		Pending:  pending,
		History:  historySet{i1.ID(): true},
		Initial:  gs,
	})

	next, err := m.Apply(gs, []chconsensus.Intent{i1})
	require.NoError(t, err)

	b := fx.Block(1, chconsensus.ZeroHash, 0, []chconsensus.IntentID{i1.ID()}, next.Root())
	_, err = m.ValidateTransition(ctx, gs, b)
	require.ErrorIs(t, err, chconsensus.ErrApplication)

	dup := fx.Block(1, chconsensus.ZeroHash, 0, []chconsensus.IntentID{i1.ID(), i1.ID()}, next.Root())
	_, err = m.ValidateTransition(ctx, gs, dup)
	require.ErrorIs(t, err, chconsensus.ErrApplication)
}

func TestMachine_BuildSkipsBadIntents(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := chconsensustest.NewEd25519Fixture(3)
	m, gs := newMachine(t, fx, pendingMap{})

	good1 := fx.Intent(0, chstate.SetOp("a", []byte("1")))
	garbage := fx.Intent(1, []byte("not an op"))
	good2 := fx.Intent(2, chstate.SetOp("b", []byte("2")))

	st, accepted, rejected := m.Build(ctx, gs, []chconsensus.Intent{good1, garbage, good2})
	require.Equal(t, []chconsensus.Intent{good1, good2}, accepted)
	require.Len(t, rejected, 1)
	require.Equal(t, garbage.ID(), rejected[0].Intent.ID())
	require.ErrorIs(t, rejected[0].Err, chconsensus.ErrApplication)

	// The built state is the one validation computes for the accepted intents.
	want, err := m.Apply(gs, accepted)
	require.NoError(t, err)
	require.Equal(t, want.Root(), st.Root())
	require.Equal(t, gs.Height()+1, st.Height())
}

func TestMachine_ReplayIgnoresHistory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := chconsensustest.NewEd25519Fixture(1)

	i1 := fx.Intent(0, chstate.SetOp("a", []byte("1")))

	gs, err := chstate.GenesisState(fx.Genesis)
	require.NoError(t, err)
	m := chstate.NewMachine(gtest.NewLogger(t), chstate.MachineConfig{
		Registry: &fx.Registry,
		Pending:  pendingMap{},
		History:  historySet{i1.ID(): true},
		Initial:  gs,
	})

	next, err := m.Apply(gs, []chconsensus.Intent{i1})
	require.NoError(t, err)
	b := fx.Block(1, chconsensus.ZeroHash, 0, []chconsensus.IntentID{i1.ID()}, next.Root())

	require.NoError(t, m.Replay(ctx, b, []chconsensus.Intent{i1}))
	require.Equal(t, uint64(1), m.Current().Height())
	require.Equal(t, next.Root(), m.Current().Root())

	// The same block cannot be replayed twice.
	require.Error(t, m.Replay(ctx, b, []chconsensus.Intent{i1}))
}
