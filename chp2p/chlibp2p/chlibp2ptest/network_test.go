package chlibp2ptest_test

import (
	"context"
	"testing"

	"github.com/chaoschain/chaoscore/chgossip"
	"github.com/chaoschain/chaoscore/chgossip/chgossiptest"
	"github.com/chaoschain/chaoscore/chp2p/chlibp2p/chlibp2ptest"
	"github.com/chaoschain/chaoscore/internal/gtest"
	"github.com/stretchr/testify/require"
)

func TestLibp2pNetwork_Compliance(t *testing.T) {
	chgossiptest.TestNetworkCompliance(
		t,
		func(t *testing.T, ctx context.Context, n int) ([]chgossip.Network, error) {
			nets, err := chlibp2ptest.NewConnectedNetworks(ctx, gtest.NewLogger(t), n)
			if err != nil {
				return nil, err
			}

			out := make([]chgossip.Network, len(nets))
			for i, net := range nets {
				t.Cleanup(func() { _ = net.Close() })
				out[i] = net
			}
			return out, nil
		},
	)
}

func TestLibp2pNetwork_PeerEvents(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nets, err := chlibp2ptest.NewConnectedNetworks(ctx, gtest.NewLogger(t), 2)
	require.NoError(t, err)
	defer nets[0].Close()

	ev := gtest.ReceiveOrTimeout(t, nets[0].PeerEvents(), gtest.ScaleMs(2000))
	require.Equal(t, chgossip.PeerJoined, ev.Kind)
	require.Equal(t, nets[1].Host().ID().String(), ev.Peer)

	require.NoError(t, nets[1].Close())
	ev = gtest.ReceiveOrTimeout(t, nets[0].PeerEvents(), gtest.ScaleMs(2000))
	require.Equal(t, chgossip.PeerLeft, ev.Kind)
}
