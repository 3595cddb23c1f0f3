package forwarder_test

import (
	"context"
	"errors"
	"testing"

	"github.com/chaoschain/chaoscore/chconsensus"
	"github.com/chaoschain/chaoscore/chconsensus/chconsensustest"
	"github.com/chaoschain/chaoscore/chengine/chelink"
	"github.com/chaoschain/chaoscore/chgulfstream/forwarder"
	"github.com/chaoschain/chaoscore/chgulfstream/network"
	"github.com/chaoschain/chaoscore/chmempool"
	"github.com/chaoschain/chaoscore/internal/gtest"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) SendIntents(target network.Target, ins []chconsensus.Intent) error {
	return m.Called(target, ins).Error(0)
}

type forwarderFixture struct {
	fx     *chconsensustest.Fixture
	pool   *chmempool.Mempool
	sender *mockSender
	f      *forwarder.Forwarder
}

func newForwarderFixture(t *testing.T) *forwarderFixture {
	t.Helper()

	log := gtest.NewLogger(t)
	pool, err := chmempool.New(log.With("sys", "mempool"), chmempool.Config{})
	require.NoError(t, err)

	sender := new(mockSender)
	f, err := forwarder.New(log, pool, sender, nil)
	require.NoError(t, err)

	return &forwarderFixture{
		fx:     chconsensustest.NewEd25519Fixture(4),
		pool:   pool,
		sender: sender,
		f:      f,
	}
}

func (ff *forwarderFixture) update(height uint64, round uint32, producerIdx int) chelink.RoundUpdate {
	vals := ff.fx.PrivVals
	u := chelink.RoundUpdate{
		Height:   height,
		Round:    round,
		Producer: vals[producerIdx].Val.PubKey,
	}
	for i := 1; i <= 3; i++ {
		u.UpcomingProducers = append(u.UpcomingProducers, vals[(producerIdx+i)%len(vals)].Val.PubKey)
	}
	return u
}

func TestForwarder_roundZeroDoesNotForward(t *testing.T) {
	t.Parallel()

	ff := newForwarderFixture(t)
	_, err := ff.pool.Submit(context.Background(), ff.fx.Intent(0, []byte("a")))
	require.NoError(t, err)

	require.NoError(t, ff.f.HandleRoundUpdate(ff.update(1, 0, 0)))
	ff.sender.AssertNotCalled(t, "SendIntents", mock.Anything, mock.Anything)
}

func TestForwarder_failedRoundForwardsToNextProducer(t *testing.T) {
	t.Parallel()

	ff := newForwarderFixture(t)
	in := ff.fx.Intent(0, []byte("a"))
	_, err := ff.pool.Submit(context.Background(), in)
	require.NoError(t, err)

	u := ff.update(1, 1, 1)
	ff.sender.On("SendIntents", mock.MatchedBy(func(tgt network.Target) bool {
		return tgt.Height == 1 && tgt.Round == 1 && string(tgt.Producer) == string(u.Producer.Address())
	}), []chconsensus.Intent{in}).Return(nil).Once()

	require.NoError(t, ff.f.HandleRoundUpdate(u))
	ff.sender.AssertExpectations(t)

	// The same producer is not sent the same intent twice.
	require.NoError(t, ff.f.HandleRoundUpdate(u))
	ff.sender.AssertNumberOfCalls(t, "SendIntents", 1)

	stats := ff.f.GetStats()
	require.Equal(t, uint64(1), stats.IntentsForwarded)
	require.Equal(t, uint64(2), stats.RoundsRecovered)
	require.Equal(t, 1, stats.Tracked)

	// Once committed, the intent is no longer tracked.
	ff.pool.MarkCommitted([]chconsensus.IntentID{in.ID()})
	next := ff.update(2, 0, 2)
	next.Committed = []chconsensus.IntentID{in.ID()}
	require.NoError(t, ff.f.HandleRoundUpdate(next))
	require.Zero(t, ff.f.GetStats().Tracked)
}

func TestForwarder_localProducerDoesNotForward(t *testing.T) {
	t.Parallel()

	ff := newForwarderFixture(t)
	_, err := ff.pool.Submit(context.Background(), ff.fx.Intent(0, []byte("a")))
	require.NoError(t, err)

	u := ff.update(1, 2, 2)
	u.IsProducer = true
	require.NoError(t, ff.f.HandleRoundUpdate(u))
	ff.sender.AssertNotCalled(t, "SendIntents", mock.Anything, mock.Anything)
}

func TestForwarder_sendFailureCountsDropped(t *testing.T) {
	t.Parallel()

	ff := newForwarderFixture(t)
	_, err := ff.pool.Submit(context.Background(), ff.fx.Intent(0, []byte("a")))
	require.NoError(t, err)
	_, err = ff.pool.Submit(context.Background(), ff.fx.Intent(1, []byte("b")))
	require.NoError(t, err)

	ff.sender.On("SendIntents", mock.Anything, mock.Anything).Return(errors.New("offline")).Once()
	require.Error(t, ff.f.HandleRoundUpdate(ff.update(1, 1, 1)))
	require.Equal(t, uint64(2), ff.f.GetStats().IntentsDropped)

	// Nothing was recorded as sent, so the next failure retries both.
	ff.sender.On("SendIntents", mock.Anything, mock.Anything).Return(nil).Once()
	require.NoError(t, ff.f.HandleRoundUpdate(ff.update(1, 1, 1)))
	require.Equal(t, uint64(2), ff.f.GetStats().IntentsForwarded)
}

func TestNew_validation(t *testing.T) {
	t.Parallel()

	log := gtest.NewLogger(t)
	pool, err := chmempool.New(log, chmempool.Config{})
	require.NoError(t, err)

	_, err = forwarder.New(log, nil, new(mockSender), nil)
	require.Error(t, err)
	_, err = forwarder.New(log, pool, nil, nil)
	require.Error(t, err)
	_, err = forwarder.New(log, pool, new(mockSender), &forwarder.Config{})
	require.Error(t, err)
}
