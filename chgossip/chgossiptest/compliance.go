package chgossiptest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/chaoschain/chaoscore/chgossip"
	"github.com/chaoschain/chaoscore/internal/gtest"
	"github.com/stretchr/testify/require"
)

// NetworkFactory returns n connected nodes.
// The networks must be torn down when ctx is canceled or t is cleaned up.
type NetworkFactory func(t *testing.T, ctx context.Context, n int) ([]chgossip.Network, error)

// TopicPeerWaiter is implemented by networks whose subscriptions
// take time to become known to peers.
type TopicPeerWaiter interface {
	WaitForTopicPeers(ctx context.Context, topic chgossip.Topic, n int) error
}

// TestNetworkCompliance runs the behavior every [chgossip.Network] must satisfy.
func TestNetworkCompliance(t *testing.T, f NetworkFactory) {
	t.Run("broadcast reaches every other subscriber once", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		nets, err := f(t, ctx, 4)
		require.NoError(t, err)

		subs := subscribeAll(t, ctx, nets, chgossip.TopicVotes)

		msg := []byte("vote from zero")
		require.NoError(t, nets[0].Broadcast(ctx, chgossip.TopicVotes, msg))

		for i := 1; i < len(subs); i++ {
			got := gtest.ReceiveOrTimeout(t, subs[i].C(), gtest.ScaleMs(2000))
			require.Equal(t, msg, got)
		}

		for _, s := range subs {
			gtest.NotSendingSoon(t, s.C())
		}
	})

	t.Run("topics are independent", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		nets, err := f(t, ctx, 3)
		require.NoError(t, err)

		props := subscribeAll(t, ctx, nets, chgossip.TopicProposals)
		votes := subscribeAll(t, ctx, nets, chgossip.TopicVotes)

		require.NoError(t, nets[2].Broadcast(ctx, chgossip.TopicProposals, []byte("p")))

		got := gtest.ReceiveOrTimeout(t, props[0].C(), gtest.ScaleMs(2000))
		require.Equal(t, []byte("p"), got)
		gtest.NotSendingSoon(t, votes[0].C())
	})

	t.Run("many distinct messages", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		nets, err := f(t, ctx, 3)
		require.NoError(t, err)

		subs := subscribeAll(t, ctx, nets, chgossip.TopicIntents)

		const nMsgs = 20
		want := make(map[string]bool, nMsgs)
		for i := range nMsgs {
			m := fmt.Sprintf("intent %d", i)
			want[m] = true
			require.NoError(t, nets[i%2].Broadcast(ctx, chgossip.TopicIntents, []byte(m)))
		}

		// Node 2 never broadcast, so it must see everything.
		got := make(map[string]bool, nMsgs)
		deadline := time.After(gtest.ScaleMs(5000))
		for len(got) < nMsgs {
			select {
			case m := <-subs[2].C():
				require.False(t, got[string(m)], "duplicate delivery of %q", m)
				got[string(m)] = true
			case <-deadline:
				t.Fatalf("received %d of %d messages", len(got), nMsgs)
			}
		}
		require.Equal(t, want, got)
	})

	t.Run("double subscribe", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		nets, err := f(t, ctx, 2)
		require.NoError(t, err)

		s, err := nets[0].Subscribe(chgossip.TopicVotes)
		require.NoError(t, err)
		defer s.Cancel()

		_, err = nets[0].Subscribe(chgossip.TopicVotes)
		require.ErrorIs(t, err, chgossip.ErrAlreadySubscribed)
	})

	t.Run("closed network", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		nets, err := f(t, ctx, 2)
		require.NoError(t, err)

		require.NoError(t, nets[0].Close())
		err = nets[0].Broadcast(ctx, chgossip.TopicVotes, []byte("late"))
		require.ErrorIs(t, err, chgossip.ErrClosed)
	})
}

func subscribeAll(
	t *testing.T, ctx context.Context, nets []chgossip.Network, topic chgossip.Topic,
) []chgossip.Subscription {
	t.Helper()

	subs := make([]chgossip.Subscription, len(nets))
	for i, n := range nets {
		s, err := n.Subscribe(topic)
		require.NoError(t, err)
		t.Cleanup(s.Cancel)
		subs[i] = s
	}

	for _, n := range nets {
		if w, ok := n.(TopicPeerWaiter); ok {
			wctx, cancel := context.WithTimeout(ctx, gtest.ScaleMs(5000))
			err := w.WaitForTopicPeers(wctx, topic, len(nets)-1)
			cancel()
			require.NoError(t, err)
		}
	}

	return subs
}
