package network

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chaoschain/chaoscore/chcodec/chcbor"
	"github.com/chaoschain/chaoscore/chconsensus"
	"github.com/chaoschain/chaoscore/chconsensus/chconsensustest"
	"github.com/chaoschain/chaoscore/chgossip"
	"github.com/chaoschain/chaoscore/internal/gtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// mockNetwork implements chgossip.Network for testing.
type mockNetwork struct {
	mock.Mock
}

func (m *mockNetwork) Broadcast(ctx context.Context, topic chgossip.Topic, data []byte) error {
	args := m.Called(ctx, topic, data)
	return args.Error(0)
}

func (m *mockNetwork) Subscribe(topic chgossip.Topic) (chgossip.Subscription, error) {
	args := m.Called(topic)
	return args.Get(0).(chgossip.Subscription), args.Error(1)
}

func (m *mockNetwork) PeerEvents() <-chan chgossip.PeerEvent {
	return nil
}

func (m *mockNetwork) Close() error {
	return nil
}

func newClient(t *testing.T, net chgossip.Network, fx *chconsensustest.Fixture) *Client {
	t.Helper()

	c, err := New(
		context.Background(), gtest.NewLogger(t), net, chcbor.NewCodec(&fx.Registry),
		&Config{MaxRetries: 2, RetryDelay: time.Millisecond},
	)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, c.Close()) })
	return c
}

func TestNetworkClient(t *testing.T) {
	t.Parallel()

	fx := chconsensustest.NewEd25519Fixture(1)

	t.Run("requires a network", func(t *testing.T) {
		_, err := New(context.Background(), gtest.NewLogger(t), nil, chcbor.NewCodec(&fx.Registry), nil)
		assert.Error(t, err)
	})

	t.Run("round trips a batch", func(t *testing.T) {
		net := new(mockNetwork)
		c := newClient(t, net, fx)

		var sent []byte
		net.On("Broadcast", mock.Anything, chgossip.TopicIntents, mock.Anything).
			Run(func(args mock.Arguments) { sent = args.Get(2).([]byte) }).
			Return(nil).
			Once()

		ins := []chconsensus.Intent{fx.Intent(0, []byte("a")), fx.Intent(1, []byte("b"))}
		target := Target{Producer: []byte("prod"), Height: 3, Round: 1}
		require.NoError(t, c.SendIntents(target, ins))
		net.AssertExpectations(t)

		batch, got, err := c.DecodeBatch(sent)
		require.NoError(t, err)
		assert.Equal(t, uint64(3), batch.Height)
		assert.Equal(t, uint32(1), batch.Round)
		assert.Equal(t, []byte("prod"), batch.Producer)
		require.Len(t, got, 2)
		assert.Equal(t, ins[0].ID(), got[0].ID())
		assert.Equal(t, ins[1].ID(), got[1].ID())

		stats := c.GetStats()
		assert.Equal(t, uint64(1), stats.BatchesSent)
		assert.Equal(t, uint64(2), stats.IntentsSent)
		assert.Zero(t, stats.ActiveSends)
	})

	t.Run("retries failed broadcasts", func(t *testing.T) {
		net := new(mockNetwork)
		c := newClient(t, net, fx)

		net.On("Broadcast", mock.Anything, chgossip.TopicIntents, mock.Anything).
			Return(errors.New("no peers")).
			Once()
		net.On("Broadcast", mock.Anything, chgossip.TopicIntents, mock.Anything).
			Return(nil).
			Once()

		require.NoError(t, c.SendIntents(Target{Height: 1}, []chconsensus.Intent{fx.Intent(0, []byte("a"))}))
		net.AssertNumberOfCalls(t, "Broadcast", 2)
		assert.Zero(t, c.GetStats().SendErrors)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		net := new(mockNetwork)
		c := newClient(t, net, fx)

		net.On("Broadcast", mock.Anything, chgossip.TopicIntents, mock.Anything).
			Return(errors.New("no peers"))

		require.Error(t, c.SendIntents(Target{Height: 1}, []chconsensus.Intent{fx.Intent(0, []byte("a"))}))
		net.AssertNumberOfCalls(t, "Broadcast", 3)
		assert.Equal(t, uint64(1), c.GetStats().SendErrors)
	})

	t.Run("does not retry a closed network", func(t *testing.T) {
		net := new(mockNetwork)
		c := newClient(t, net, fx)

		net.On("Broadcast", mock.Anything, chgossip.TopicIntents, mock.Anything).
			Return(chgossip.ErrClosed)

		err := c.SendIntents(Target{Height: 1}, []chconsensus.Intent{fx.Intent(0, []byte("a"))})
		require.ErrorIs(t, err, chgossip.ErrClosed)
		net.AssertNumberOfCalls(t, "Broadcast", 1)
	})

	t.Run("rejects sends after close", func(t *testing.T) {
		net := new(mockNetwork)
		c := newClient(t, net, fx)
		require.NoError(t, c.Close())

		require.Error(t, c.SendIntents(Target{Height: 1}, []chconsensus.Intent{fx.Intent(0, []byte("a"))}))
		net.AssertNotCalled(t, "Broadcast", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("skips undecodable intents", func(t *testing.T) {
		net := new(mockNetwork)
		c := newClient(t, net, fx)

		good, err := chcbor.NewCodec(&fx.Registry).MarshalIntent(fx.Intent(0, []byte("a")))
		require.NoError(t, err)
		data, err := chcbor.Marshal(IntentBatch{Intents: [][]byte{[]byte("junk"), good}})
		require.NoError(t, err)

		_, got, err := c.DecodeBatch(data)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, uint64(1), c.GetStats().DecodeErrors)

		_, _, err = c.DecodeBatch([]byte("not cbor"))
		require.Error(t, err)
	})
}
