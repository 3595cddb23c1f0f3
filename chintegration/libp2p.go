package chintegration

import (
	"context"
	"fmt"
	"testing"

	"github.com/chaoschain/chaoscore/chgossip"
	"github.com/chaoschain/chaoscore/chp2p/chlibp2p"
	"github.com/chaoschain/chaoscore/chp2p/chlibp2p/chlibp2ptest"
)

// Libp2pFactory provides a fully connected network of loopback libp2p hosts.
type Libp2pFactory struct {
	e *Env
}

func NewLibp2pFactory(e *Env) Libp2pFactory {
	return Libp2pFactory{e: e}
}

func (f Libp2pFactory) NewNetwork(_ *testing.T, ctx context.Context, n int) (Network, error) {
	nets, err := chlibp2ptest.NewConnectedNetworks(ctx, f.e.RootLogger.With("sys", "libp2p"), n)
	if err != nil {
		return nil, fmt.Errorf("failed to build network: %w", err)
	}
	return libp2pNetwork{nets: nets}, nil
}

type libp2pNetwork struct {
	nets []*chlibp2p.Network
}

func (n libp2pNetwork) Node(idx int) chgossip.Network {
	return n.nets[idx]
}

// Stabilize waits until each listed node sees every other listed node on the consensus topics,
// so that messages published right after startup are not lost.
func (n libp2pNetwork) Stabilize(ctx context.Context, idxs ...int) error {
	topics := []chgossip.Topic{
		chgossip.TopicProposals,
		chgossip.TopicVotes,
		chgossip.TopicCommittedBlocks,
	}
	for _, idx := range idxs {
		for _, t := range topics {
			if err := n.nets[idx].WaitForTopicPeers(ctx, t, len(idxs)-1); err != nil {
				return fmt.Errorf("node %d: %w", idx, err)
			}
		}
	}
	return nil
}

func (n libp2pNetwork) Wait() {
	for _, net := range n.nets {
		_ = net.Close()
	}
}
