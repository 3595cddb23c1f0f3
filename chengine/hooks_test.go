package chengine_test

import (
	"context"
	"testing"
	"time"

	"github.com/chaoschain/chaoscore/chconsensus"
	"github.com/chaoschain/chaoscore/chconsensus/chconsensustest"
	"github.com/chaoschain/chaoscore/chengine"
	"github.com/chaoschain/chaoscore/chengine/chelink"
	"github.com/chaoschain/chaoscore/chengine/chenginetest"
	"github.com/chaoschain/chaoscore/chgossip/chgossiptest"
	"github.com/chaoschain/chaoscore/chstate"
	"github.com/chaoschain/chaoscore/internal/gtest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

// newSoloNode returns the only validator of a single-validator chain,
// which commits every height on its own.
func newSoloNode(t *testing.T, ctx context.Context, opts ...chengine.Opt) (*chconsensustest.Fixture, *chenginetest.Node) {
	t.Helper()

	log := gtest.NewLogger(t)
	fx := chconsensustest.NewEd25519Fixture(1)

	net := chgossiptest.NewDaisyChainNetwork(ctx, log.With("sys", "net"), 1)
	t.Cleanup(net.Wait)

	n := chenginetest.NewNode(t, ctx, fx, 0, net.Node(0), chenginetest.NodeConfig{
		Opts: append([]chengine.Opt{chengine.WithProposalDelay(gtest.ScaleMs(100))}, opts...),
	})
	return fx, n
}

func TestEngine_proposalInterceptor(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var far time.Time
	_, n := newSoloNode(t, ctx, chengine.WithProposalInterceptor(
		chelink.ProposalInterceptorFunc(func(_ context.Context, p *chconsensus.Proposal) error {
			if p.Block.Height != 1 {
				return nil
			}
			far = p.Block.Timestamp.Add(time.Hour)
			p.Block.Timestamp = far
			return nil
		}),
	))

	cbs := chenginetest.WaitForHeight(t, 1, n)
	require.True(t, far.Equal(cbs[0].Block.Timestamp))

	// The engine re-hashed the modified block.
	require.True(t, cbs[0].Block.HashValid())
}

func TestEngine_roundUpdates(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := make(chan chelink.RoundUpdate, 16)
	fx, n := newSoloNode(t, ctx, chengine.WithRoundUpdates(updates))

	ru := gtest.ReceiveSoon(t, updates)
	require.Equal(t, uint64(1), ru.Height)
	require.Zero(t, ru.Round)
	require.True(t, ru.IsProducer)
	require.True(t, fx.PrivVals[0].Val.PubKey.Equal(ru.Producer))
	require.Len(t, ru.UpcomingProducers, 3)
	require.Empty(t, ru.Committed)

	in := fx.Intent(0, chstate.SetOp("k", []byte("v")))
	chenginetest.Submit(t, in, n)

	// The height that commits the intent reports it when the next height starts.
	for {
		ru = gtest.ReceiveSoon(t, updates)
		if len(ru.Committed) > 0 {
			break
		}
	}
	require.Equal(t, []chconsensus.IntentID{in.ID()}, ru.Committed)
}

func TestEngine_metrics(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	m, err := chengine.NewMetrics(reg)
	require.NoError(t, err)

	_, n := newSoloNode(t, ctx, chengine.WithMetrics(m))
	chenginetest.WaitForHeight(t, 2, n)

	require.GreaterOrEqual(t, testutil.ToFloat64(m.Commits), float64(2))
	require.GreaterOrEqual(t, testutil.ToFloat64(m.Proposals), float64(2))
	require.GreaterOrEqual(t, testutil.ToFloat64(m.VotesCast), float64(2))
	require.Zero(t, testutil.ToFloat64(m.FastForwards))
	require.Zero(t, testutil.ToFloat64(m.Desynchronized))
}

func TestNewMetrics_duplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := chengine.NewMetrics(reg)
	require.NoError(t, err)

	_, err = chengine.NewMetrics(reg)
	require.Error(t, err)

	// Unregistered metrics are always available.
	m, err := chengine.NewMetrics(nil)
	require.NoError(t, err)
	require.NotNil(t, m.Commits)
}

func TestLinearTimeoutStrategy(t *testing.T) {
	t.Parallel()

	s := chengine.LinearTimeoutStrategy{Base: time.Second, Increase: 500 * time.Millisecond}
	require.Equal(t, time.Second, s.RoundTimeout(0))
	require.Equal(t, 2*time.Second, s.RoundTimeout(2))

	var zero chengine.LinearTimeoutStrategy
	require.Equal(t, chengine.DefaultBaseTimeout, zero.RoundTimeout(0))
	require.Equal(t, chengine.DefaultBaseTimeout, zero.RoundTimeout(7))
}
