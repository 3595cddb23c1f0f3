package chserver_test

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/chaoschain/chaoscore/chcodec/chcbor"
	"github.com/chaoschain/chaoscore/chconsensus"
	"github.com/chaoschain/chaoscore/chconsensus/chconsensustest"
	"github.com/chaoschain/chaoscore/chengine"
	"github.com/chaoschain/chaoscore/chmempool"
	"github.com/chaoschain/chaoscore/chserver"
	"github.com/chaoschain/chaoscore/chstore/chmemstore"
	"github.com/chaoschain/chaoscore/internal/gtest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type fixedStatus struct {
	s   chengine.Status
	err error
}

func (f fixedStatus) Status(context.Context) (chengine.Status, error) {
	return f.s, f.err
}

type serverFixture struct {
	fx      *chconsensustest.Fixture
	Mempool *chmempool.Mempool
	Chain   *chmemstore.CommittedChain

	Committed chconsensus.Intent
	Block     chconsensus.Block

	Client *chserver.Client
}

func newServerFixture(t *testing.T, ctx context.Context, ln net.Listener, addr string, engine chserver.StatusSource) *serverFixture {
	t.Helper()

	log := gtest.NewLogger(t)
	fx := chconsensustest.NewEd25519Fixture(1)

	mp, err := chmempool.New(log.With("sys", "mempool"), chmempool.Config{})
	require.NoError(t, err)

	chain := chmemstore.NewCommittedChain()
	g := fx.Genesis.Block([]byte("root0"))
	require.NoError(t, chain.Append(ctx, chconsensus.CommittedBlock{Block: g}))

	in := fx.Intent(0, []byte("committed"))
	b := fx.Block(1, g.Hash, 0, []chconsensus.IntentID{in.ID()}, []byte("root1"))
	require.NoError(t, chain.Append(ctx, chconsensus.CommittedBlock{Block: b, Intents: []chconsensus.Intent{in}}))

	reg := prometheus.NewRegistry()
	_, err = chengine.NewMetrics(reg)
	require.NoError(t, err)

	h := chserver.NewHTTPServer(ctx, log.With("sys", "http"), chserver.HTTPServerConfig{
		Listener:  ln,
		Engine:    engine,
		Submitter: mp,
		Pending:   mp,
		Chain:     chain,
		Codec:     chcbor.NewCodec(&fx.Registry),
		Gatherer:  reg,
		Debug:     true,
	})
	t.Cleanup(h.Wait)

	return &serverFixture{
		fx:        fx,
		Mempool:   mp,
		Chain:     chain,
		Committed: in,
		Block:     b,
		Client:    chserver.NewClient(addr),
	}
}

func newTCPFixture(t *testing.T, ctx context.Context, engine chserver.StatusSource) *serverFixture {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return newServerFixture(t, ctx, ln, ln.Addr().String(), engine)
}

func TestHTTPServer_status(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sf := newTCPFixture(t, ctx, fixedStatus{s: chengine.Status{
		Height:       2,
		Round:        1,
		Phase:        chengine.PhaseVoting,
		TipHeight:    1,
		TipHash:      []byte{0xab, 0xcd},
		Equivocators: []uint{3},
	}})

	res, err := sf.Client.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), res.Height)
	require.Equal(t, uint32(1), res.Round)
	require.Equal(t, "voting", res.Phase)
	require.Equal(t, "abcd", res.TipHash)
	require.Equal(t, []uint{3}, res.Equivocators)
}

func TestHTTPServer_statusStopped(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sf := newTCPFixture(t, ctx, fixedStatus{err: chengine.ErrStopped})

	_, err := sf.Client.Status(ctx)
	var httpErr chserver.HTTPError
	require.True(t, errors.As(err, &httpErr))
	require.Equal(t, http.StatusServiceUnavailable, httpErr.StatusCode)
}

func TestHTTPServer_blocks(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sf := newTCPFixture(t, ctx, fixedStatus{})

	tip, err := sf.Client.Tip(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), tip.Height)
	require.Equal(t, []string{sf.Committed.ID().String()}, tip.IntentIDs)
	require.NotEmpty(t, tip.Producer)

	g, err := sf.Client.BlockAt(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, g.Producer)
	require.Equal(t, g.Hash, tip.PrevHash)

	_, err = sf.Client.BlockAt(ctx, 5)
	var httpErr chserver.HTTPError
	require.True(t, errors.As(err, &httpErr))
	require.Equal(t, http.StatusNotFound, httpErr.StatusCode)
}

func TestHTTPServer_submitAndLookupIntent(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sf := newTCPFixture(t, ctx, fixedStatus{})
	codec := chcbor.NewCodec(&sf.fx.Registry)

	in := sf.fx.Intent(0, []byte("new"))
	b, err := codec.MarshalIntent(in)
	require.NoError(t, err)

	res, err := sf.Client.SubmitIntent(ctx, b)
	require.NoError(t, err)
	require.Equal(t, in.ID().String(), res.ID)
	require.True(t, sf.Mempool.Contains(in.ID()))

	pending, err := sf.Client.Intent(ctx, res.ID)
	require.NoError(t, err)
	require.Equal(t, "pending", pending.Status)
	require.Equal(t, []byte("new"), pending.Payload)

	committed, err := sf.Client.Intent(ctx, sf.Committed.ID().String())
	require.NoError(t, err)
	require.Equal(t, "committed", committed.Status)
	require.Equal(t, uint64(1), committed.Height)

	// Same intent again.
	_, err = sf.Client.SubmitIntent(ctx, b)
	var httpErr chserver.HTTPError
	require.True(t, errors.As(err, &httpErr))
	require.Equal(t, http.StatusConflict, httpErr.StatusCode)

	// Tampered payload fails the commitment check.
	bad := sf.fx.Intent(0, []byte("original"))
	bad.Payload = []byte("tampered")
	b, err = codec.MarshalIntent(bad)
	require.NoError(t, err)
	_, err = sf.Client.SubmitIntent(ctx, b)
	require.True(t, errors.As(err, &httpErr))
	require.Equal(t, http.StatusBadRequest, httpErr.StatusCode)

	_, err = sf.Client.SubmitIntent(ctx, []byte("not an intent"))
	require.True(t, errors.As(err, &httpErr))
	require.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
}

func TestHTTPServer_metrics(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_ = newServerFixture(t, ctx, ln, ln.Addr().String(), fixedStatus{})

	resp, err := http.Get("http://" + ln.Addr().String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHTTPServer_unixSocket(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Socket paths have a short length limit, so avoid the long t.TempDir path.
	dir, err := os.MkdirTemp("", "chs")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	sock := filepath.Join(dir, "http.sock")
	ln, err := net.Listen("unix", sock)
	require.NoError(t, err)

	sf := newServerFixture(t, ctx, ln, "unix://"+sock, fixedStatus{s: chengine.Status{Height: 7, Phase: chengine.PhasePropose}})

	res, err := sf.Client.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(7), res.Height)
	require.Equal(t, "propose", res.Phase)
}
