// Package chenginetest wires [chengine.Engine] instances to in-memory collaborators,
// and provides a [Puppet] that speaks the gossip protocol on behalf of any validator.
package chenginetest

import (
	"context"
	"testing"
	"time"

	"github.com/chaoschain/chaoscore/chcodec/chcbor"
	"github.com/chaoschain/chaoscore/chconsensus"
	"github.com/chaoschain/chaoscore/chconsensus/chconsensustest"
	"github.com/chaoschain/chaoscore/chengine"
	"github.com/chaoschain/chaoscore/chgossip"
	"github.com/chaoschain/chaoscore/chmempool"
	"github.com/chaoschain/chaoscore/chstate"
	"github.com/chaoschain/chaoscore/chstore"
	"github.com/chaoschain/chaoscore/chstore/chmemstore"
	"github.com/chaoschain/chaoscore/internal/gtest"
	"github.com/stretchr/testify/require"
)

// Node is one engine and the collaborators it was built with.
type Node struct {
	Engine  *chengine.Engine
	Mempool *chmempool.Mempool
	Machine *chstate.Machine
	Chain   chstore.CommittedChain
}

// NodeConfig adjusts [NewNode].
type NodeConfig struct {
	// Defaults to a new in-memory chain.
	Chain chstore.CommittedChain

	// Applied after the options NewNode sets itself.
	Opts []chengine.Opt
}

// NewNode starts an engine for validator idx of fx on network n.
// The engine stops when ctx is canceled; t's cleanup waits for it.
func NewNode(
	t *testing.T, ctx context.Context,
	fx *chconsensustest.Fixture, idx int, n chgossip.Network,
	cfg NodeConfig,
) *Node {
	t.Helper()

	log := gtest.NewLogger(t).With("val", idx)

	chain := cfg.Chain
	if chain == nil {
		chain = chmemstore.NewCommittedChain()
	}

	mp, err := chmempool.New(log.With("sys", "mempool"), chmempool.Config{History: chain})
	require.NoError(t, err)

	gs, err := chstate.GenesisState(fx.Genesis)
	require.NoError(t, err)
	m := chstate.NewMachine(log.With("sys", "state"), chstate.MachineConfig{
		Registry: &fx.Registry,
		Pending:  mp,
		History:  chain,
		Initial:  gs,
	})

	opts := append([]chengine.Opt{
		chengine.WithSigner(fx.PrivVals[idx].Signer),
		chengine.WithGenesis(fx.Genesis),
		chengine.WithMempool(mp),
		chengine.WithStateMachine(m),
		chengine.WithCommittedChain(chain),
		chengine.WithNetwork(n),
		chengine.WithCodec(chcbor.NewCodec(&fx.Registry)),
	}, cfg.Opts...)

	e, err := chengine.New(ctx, log.With("sys", "engine"), opts...)
	require.NoError(t, err)
	t.Cleanup(e.Wait)

	return &Node{
		Engine:  e,
		Mempool: mp,
		Machine: m,
		Chain:   chain,
	}
}

// Submit submits in to the mempool of every node.
func Submit(t *testing.T, in chconsensus.Intent, nodes ...*Node) {
	t.Helper()

	for _, n := range nodes {
		_, err := n.Mempool.Submit(context.Background(), in)
		require.NoError(t, err)
	}
}

// WaitForHeight blocks until every node has committed height h,
// and returns each node's block at h.
func WaitForHeight(t *testing.T, h uint64, nodes ...*Node) []chconsensus.CommittedBlock {
	t.Helper()

	out := make([]chconsensus.CommittedBlock, len(nodes))
	for i, n := range nodes {
		require.Eventuallyf(t, func() bool {
			cb, err := n.Chain.BlockAt(context.Background(), h)
			if err != nil {
				return false
			}
			out[i] = cb
			return true
		}, gtest.ScaleMs(10_000), 5*time.Millisecond, "node %d did not commit height %d", i, h)
	}
	return out
}
