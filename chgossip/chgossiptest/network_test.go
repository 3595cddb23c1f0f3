package chgossiptest_test

import (
	"context"
	"testing"

	"github.com/chaoschain/chaoscore/chgossip"
	"github.com/chaoschain/chaoscore/chgossip/chgossiptest"
	"github.com/chaoschain/chaoscore/internal/gtest"
	"github.com/stretchr/testify/require"
)

func TestDaisyChainNetwork_Compliance(t *testing.T) {
	t.Parallel()

	chgossiptest.TestNetworkCompliance(t, func(t *testing.T, ctx context.Context, n int) ([]chgossip.Network, error) {
		net := chgossiptest.NewDaisyChainNetwork(ctx, gtest.NewLogger(t), n)
		t.Cleanup(net.Wait)
		return net.Networks(), nil
	})
}

func TestTreeNetwork_Compliance(t *testing.T) {
	t.Parallel()

	chgossiptest.TestNetworkCompliance(t, func(t *testing.T, ctx context.Context, n int) ([]chgossip.Network, error) {
		net := chgossiptest.NewTreeNetwork(ctx, gtest.NewLogger(t), n, 2)
		t.Cleanup(net.Wait)
		return net.Networks(), nil
	})
}

func TestNetwork_DropHook(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	net := chgossiptest.NewDaisyChainNetwork(ctx, gtest.NewLogger(t), 4)
	defer net.Wait()
	defer cancel()

	subs := make([]chgossip.Subscription, 4)
	for i := range subs {
		s, err := net.Node(i).Subscribe(chgossip.TopicProposals)
		require.NoError(t, err)
		subs[i] = s
	}

	// Cutting the 1-2 link partitions the chain.
	net.SetDropFunc(func(m chgossiptest.Message) bool {
		return (m.From == 1 && m.To == 2) || (m.From == 2 && m.To == 1)
	})

	require.NoError(t, net.Node(0).Broadcast(ctx, chgossip.TopicProposals, []byte("left")))
	require.Equal(t, []byte("left"), gtest.ReceiveSoon(t, subs[1].C()))
	gtest.NotSendingSoon(t, subs[2].C())
	gtest.NotSendingSoon(t, subs[3].C())

	net.SetDropFunc(nil)
	require.NoError(t, net.Node(0).Broadcast(ctx, chgossip.TopicProposals, []byte("healed")))
	require.Equal(t, []byte("healed"), gtest.ReceiveSoon(t, subs[3].C()))
}

func TestNetwork_DuplicateHook(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	net := chgossiptest.NewTreeNetwork(ctx, gtest.NewLogger(t), 7, 2)
	defer net.Wait()
	defer cancel()

	net.SetDuplicateFunc(func(chgossiptest.Message) bool { return true })

	s, err := net.Node(6).Subscribe(chgossip.TopicVotes)
	require.NoError(t, err)

	require.NoError(t, net.Node(3).Broadcast(ctx, chgossip.TopicVotes, []byte("v")))
	require.Equal(t, []byte("v"), gtest.ReceiveSoon(t, s.C()))
	gtest.NotSendingSoon(t, s.C())
}

func TestNetwork_PeerEvents(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	net := chgossiptest.NewDaisyChainNetwork(ctx, gtest.NewLogger(t), 3)
	defer net.Wait()
	defer cancel()

	// The middle node starts connected to both ends.
	seen := map[string]bool{}
	for range 2 {
		ev := gtest.ReceiveSoon(t, net.Node(1).PeerEvents())
		require.Equal(t, chgossip.PeerJoined, ev.Kind)
		seen[ev.Peer] = true
	}
	require.Len(t, seen, 2)

	join := gtest.ReceiveSoon(t, net.Node(2).PeerEvents())
	require.Equal(t, chgossip.PeerJoined, join.Kind)

	require.NoError(t, net.Node(1).Close())
	ev := gtest.ReceiveSoon(t, net.Node(2).PeerEvents())
	require.Equal(t, chgossip.PeerLeft, ev.Kind)
	require.Equal(t, join.Peer, ev.Peer)
}
