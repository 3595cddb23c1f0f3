package chintegration

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/chaoschain/chaoscore/chconsensus"
	"github.com/chaoschain/chaoscore/chconsensus/chconsensustest"
	"github.com/chaoschain/chaoscore/chengine"
	"github.com/chaoschain/chaoscore/chengine/chenginetest"
	"github.com/chaoschain/chaoscore/chstate"
	"github.com/chaoschain/chaoscore/gcrypto"
	"github.com/chaoschain/chaoscore/internal/gtest"
	"github.com/stretchr/testify/require"
)

const nVals = 4

// The network always has one node beyond the validators,
// reserved for a puppet that impersonates offline validators.
const puppetIdx = nVals

// harness holds the state of one integration sub-test.
type harness struct {
	t   *testing.T
	ctx context.Context

	f   Factory
	net Network
	fx  *chconsensustest.Fixture

	// Indexed by validator; nil until started.
	nodes []*chenginetest.Node

	i1, i2 chconsensus.Intent
}

func newHarness(t *testing.T, ctx context.Context, nf NewFactoryFunc) *harness {
	t.Helper()

	log := gtest.NewLogger(t)
	f := nf(&Env{RootLogger: log, tb: t})

	net, err := f.NewNetwork(t, ctx, nVals+1)
	require.NoError(t, err)

	fx := chconsensustest.NewEd25519Fixture(nVals)
	return &harness{
		t:   t,
		ctx: ctx,

		f:   f,
		net: net,
		fx:  fx,

		nodes: make([]*chenginetest.Node, nVals),

		i1: fx.Intent(0, chstate.SetOp("a", []byte("1"))),
		i2: fx.Intent(1, chstate.SetOp("b", []byte("2"))),
	}
}

// start runs an engine for each validator index in idxs,
// with the intents i1 and i2 already pending in its mempool.
func (h *harness) start(timeouts chengine.TimeoutStrategy, idxs ...int) {
	h.t.Helper()

	for _, idx := range idxs {
		chain, err := h.f.NewCommittedChain(h.ctx, idx, &h.fx.Registry)
		require.NoError(h.t, err)

		n := chenginetest.NewNode(h.t, h.ctx, h.fx, idx, h.net.Node(idx), chenginetest.NodeConfig{
			Chain: chain,
			Opts: []chengine.Opt{
				chengine.WithTimeoutStrategy(timeouts),
				chengine.WithProposalDelay(gtest.ScaleMs(200)),
			},
		})
		chenginetest.Submit(h.t, h.i1, n)
		chenginetest.Submit(h.t, h.i2, n)
		h.nodes[idx] = n
	}
}

func (h *harness) stabilize(idxs ...int) {
	h.t.Helper()

	ctx, cancel := context.WithTimeout(h.ctx, gtest.ScaleMs(5000))
	defer cancel()
	require.NoError(h.t, h.net.Stabilize(ctx, idxs...))
}

func (h *harness) started(idxs ...int) []*chenginetest.Node {
	out := make([]*chenginetest.Node, len(idxs))
	for i, idx := range idxs {
		out[i] = h.nodes[idx]
	}
	return out
}

// puppet returns a puppet on the extra node, joined to the consensus topics.
// Stabilize with puppetIdx included before the puppet sends anything.
func (h *harness) puppet() *chenginetest.Puppet {
	p := chenginetest.NewPuppet(h.t, gtest.NewLogger(h.t).With("sys", "puppet"), h.fx, h.net.Node(puppetIdx))
	p.Join(h.ctx)
	return p
}

// requireSameBlocks asserts that every node committed the same block at each height in 1 through max.
func (h *harness) requireSameBlocks(max uint64, nodes ...*chenginetest.Node) {
	h.t.Helper()

	for height := uint64(1); height <= max; height++ {
		cbs := chenginetest.WaitForHeight(h.t, height, nodes...)
		for i, cb := range cbs {
			require.Equalf(h.t, cbs[0].Block.Hash, cb.Block.Hash, "node %d diverged at height %d", i, height)
		}
	}
}

func (h *harness) waitForStatus(n *chenginetest.Node, cond func(chengine.Status) bool) {
	h.t.Helper()

	require.Eventually(h.t, func() bool {
		s, err := n.Engine.Status(h.ctx)
		return err == nil && cond(s)
	}, gtest.ScaleMs(5000), 5*time.Millisecond)
}

// quickTimeouts fail an abandoned round quickly enough to keep tests short.
func quickTimeouts() chengine.TimeoutStrategy {
	return chengine.LinearTimeoutStrategy{
		Base:     gtest.ScaleMs(400),
		Increase: gtest.ScaleMs(100),
	}
}

// patientTimeouts never fail a round during a test,
// so the puppet alone decides what the engines see.
func patientTimeouts() chengine.TimeoutStrategy {
	return chengine.LinearTimeoutStrategy{Base: time.Minute}
}

// RunIntegrationTest runs every scenario against the networks and chains that nf's factories provide.
func RunIntegrationTest(t *testing.T, nf NewFactoryFunc) {
	t.Run("four validators commit", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		h := newHarness(t, ctx, nf)
		defer h.net.Wait()
		defer cancel()

		all := []int{0, 1, 2, 3}
		h.start(quickTimeouts(), all...)
		h.stabilize(all...)

		nodes := h.started(all...)
		cbs := chenginetest.WaitForHeight(t, 1, nodes...)
		for _, cb := range cbs {
			require.Equal(t, cbs[0].Block.Hash, cb.Block.Hash)
		}

		cb := cbs[0]
		if cb.Round == 0 {
			require.True(t, h.fx.PrivVals[0].Val.PubKey.Equal(cb.Block.Producer))
		}
		require.Equal(t, []chconsensus.IntentID{h.i1.ID(), h.i2.ID()}, cb.Block.IntentIDs)

		signers, ok := gcrypto.SimpleCommonMessageSignatureProofScheme{}.ValidateFinalizedProof(
			cb.Proof, h.fx.ValidatorSet().PubKeys(),
		)
		require.True(t, ok)
		require.GreaterOrEqual(t, signers.Count(), uint(3))

		// Empty blocks keep the chain moving.
		h.requireSameBlocks(3, nodes...)

		// Equal hashes imply equal state roots; check the state content too.
		for _, n := range nodes {
			v, ok := n.Machine.Current().Get("a")
			require.True(t, ok)
			require.Equal(t, []byte("1"), v)
		}
	})

	t.Run("round timeout advances to the next producer", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		h := newHarness(t, ctx, nf)
		defer h.net.Wait()
		defer cancel()

		// Validator A, the round 0 producer at height 1, is offline.
		live := []int{1, 2, 3}
		h.start(quickTimeouts(), live...)
		h.stabilize(live...)

		cbs := chenginetest.WaitForHeight(t, 1, h.started(live...)...)
		for _, cb := range cbs {
			require.Equal(t, cbs[0].Block.Hash, cb.Block.Hash)
		}

		cb := cbs[0]
		require.Equal(t, uint32(1), cb.Round)
		require.True(t, h.fx.PrivVals[1].Val.PubKey.Equal(cb.Block.Producer))

		// The pending intents survived the failed round.
		require.Equal(t, []chconsensus.IntentID{h.i1.ID(), h.i2.ID()}, cb.Block.IntentIDs)
	})

	t.Run("conflicting proposal never commits", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		h := newHarness(t, ctx, nf)
		defer h.net.Wait()
		defer cancel()

		live := []int{1, 2, 3}
		h.start(patientTimeouts(), live...)

		// The puppet speaks for A, the round 0 producer.
		p := h.puppet()
		h.stabilize(append(live, puppetIdx)...)
		x := p.Block(0, h.i1, h.i2)
		y := p.Block(0, h.i2)

		p.Propose(ctx, 0, x, 0)
		for _, n := range h.started(live...) {
			h.waitForStatus(n, func(s chengine.Status) bool {
				return s.Height > 1 || (s.Voted && bytes.Equal(s.VotedBlockHash, x.Hash))
			})
		}

		// A conflicting block in the same round, backed only by A's vote.
		p.Propose(ctx, 0, y, 0)
		p.Vote(ctx, 0, 1, 0, y.Hash)

		cbs := chenginetest.WaitForHeight(t, 1, h.started(live...)...)
		for _, cb := range cbs {
			require.Equal(t, x.Hash, cb.Block.Hash)
		}
	})

	t.Run("equivocating validator is excluded", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		h := newHarness(t, ctx, nf)
		defer h.net.Wait()
		defer cancel()

		live := []int{1, 2, 3}
		h.start(patientTimeouts(), live...)

		p := h.puppet()
		h.stabilize(append(live, puppetIdx)...)
		x := p.Block(0, h.i1, h.i2)
		y := p.Block(0, h.i1)
		z := p.Block(0)

		// A votes for two blocks before anything was proposed.
		p.Vote(ctx, 0, 1, 0, y.Hash)
		p.Vote(ctx, 0, 1, 0, z.Hash)
		for _, n := range h.started(live...) {
			h.waitForStatus(n, func(s chengine.Status) bool {
				return s.Height == 1 && len(s.Equivocators) == 1 && s.Equivocators[0] == 0
			})
		}

		// A's vote for x no longer counts, but B, C, and D still reach the threshold.
		p.Propose(ctx, 0, x, 0)
		p.Vote(ctx, 0, 1, 0, x.Hash)

		cbs := chenginetest.WaitForHeight(t, 1, h.started(live...)...)
		for _, cb := range cbs {
			require.Equal(t, x.Hash, cb.Block.Hash)

			signers, ok := gcrypto.SimpleCommonMessageSignatureProofScheme{}.ValidateFinalizedProof(
				cb.Proof, h.fx.ValidatorSet().PubKeys(),
			)
			require.True(t, ok)
			require.False(t, signers.Test(0))
			require.Equal(t, uint(3), signers.Count())
		}
	})

	t.Run("lagging validator fast-forwards", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		h := newHarness(t, ctx, nf)
		defer h.net.Wait()
		defer cancel()

		live := []int{1, 2, 3}
		h.start(quickTimeouts(), live...)
		h.stabilize(live...)
		chenginetest.WaitForHeight(t, 2, h.started(live...)...)

		// A starts from genesis while the others are ahead.
		// Its stale messages prompt them to rebroadcast what it missed.
		h.start(quickTimeouts(), 0)

		all := []int{0, 1, 2, 3}
		h.stabilize(all...)
		h.requireSameBlocks(4, h.started(all...)...)

		s, err := h.nodes[0].Engine.Status(ctx)
		require.NoError(t, err)
		require.Greater(t, s.TipHeight, uint64(2))
		require.False(t, s.Desynchronized)

		// A's state matches the others, though it never voted on the early blocks.
		a := h.nodes[0].Machine.Current()
		v, ok := a.Get("b")
		require.True(t, ok)
		require.Equal(t, []byte("2"), v)
	})
}
