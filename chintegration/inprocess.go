package chintegration

import (
	"context"
	"testing"

	"github.com/chaoschain/chaoscore/chgossip"
	"github.com/chaoschain/chaoscore/chgossip/chgossiptest"
)

// DaisyChainFactory provides an in-process daisy chain network.
type DaisyChainFactory struct {
	e *Env
}

func NewDaisyChainFactory(e *Env) DaisyChainFactory {
	return DaisyChainFactory{e: e}
}

func (f DaisyChainFactory) NewNetwork(_ *testing.T, ctx context.Context, n int) (Network, error) {
	return inprocessNetwork{
		net: chgossiptest.NewDaisyChainNetwork(ctx, f.e.RootLogger.With("sys", "daisychain"), n),
	}, nil
}

// TreeFactory provides an in-process network shaped as a tree
// with the given branch factor.
type TreeFactory struct {
	e *Env

	branchFactor int
}

func NewTreeFactory(e *Env, branchFactor int) TreeFactory {
	return TreeFactory{e: e, branchFactor: branchFactor}
}

func (f TreeFactory) NewNetwork(_ *testing.T, ctx context.Context, n int) (Network, error) {
	return inprocessNetwork{
		net: chgossiptest.NewTreeNetwork(ctx, f.e.RootLogger.With("sys", "tree"), n, f.branchFactor),
	}, nil
}

// inprocessNetwork adapts [*chgossiptest.Network] to [Network].
type inprocessNetwork struct {
	net *chgossiptest.Network
}

func (n inprocessNetwork) Node(idx int) chgossip.Network {
	return n.net.Node(idx)
}

// Stabilize is a no-op: in-process nodes relay from the moment they exist.
func (inprocessNetwork) Stabilize(context.Context, ...int) error {
	return nil
}

func (n inprocessNetwork) Wait() {
	n.net.Wait()
}
