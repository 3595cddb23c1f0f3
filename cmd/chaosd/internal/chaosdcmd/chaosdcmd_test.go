package chaosdcmd

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chaoschain/chaoscore/chcodec/chcbor"
	"github.com/chaoschain/chaoscore/chengine"
	"github.com/chaoschain/chaoscore/chmempool"
	"github.com/chaoschain/chaoscore/chserver"
	"github.com/chaoschain/chaoscore/chstore/chmemstore"
	"github.com/chaoschain/chaoscore/gcrypto"
	"github.com/chaoschain/chaoscore/internal/gtest"
	"github.com/stretchr/testify/require"
)

// execute runs the command tree with args and returns its stdout.
func execute(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := NewRootCmd(gtest.NewLogger(t), new(slog.LevelVar))
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func keygen(t *testing.T, dir, name string) (path, pubHex string) {
	t.Helper()

	path = filepath.Join(dir, name)
	out, err := execute(t, context.Background(), "keygen", path)
	require.NoError(t, err)
	return path, strings.TrimSpace(out)
}

func TestKeygen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path, pub := keygen(t, dir, "val.key")

	priv, err := loadKeyFile(path)
	require.NoError(t, err)
	require.Equal(t, pub, hex.EncodeToString(priv.Public().(ed25519.PublicKey)))

	fi, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), fi.Mode().Perm())

	_, err = execute(t, context.Background(), "keygen", path)
	require.ErrorContains(t, err, "refusing to overwrite")
}

func TestGenesisInit(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, pub1 := keygen(t, dir, "a.key")
	_, pub2 := keygen(t, dir, "b.key")

	gPath := filepath.Join(dir, "genesis.json")
	_, err := execute(t, context.Background(),
		"genesis", "init", gPath,
		"--chain-id", "testnet",
		"--initial-time", "2024-06-01T00:00:00Z",
		"--validator", pub1,
		"--validator", pub2+":5",
	)
	require.NoError(t, err)

	g, err := loadGenesis(gPath)
	require.NoError(t, err)
	require.Equal(t, "testnet", g.ChainID)
	require.Equal(t, 2024, g.InitialTime.Year())
	require.Len(t, g.Validators, 2)
	require.Equal(t, uint64(1), g.Validators[0].Power)
	require.Equal(t, uint64(5), g.Validators[1].Power)
	require.Equal(t, pub2, hex.EncodeToString(g.Validators[1].PubKey.PubKeyBytes()))

	out, err := execute(t, context.Background(), "genesis", "validate", gPath)
	require.NoError(t, err)
	require.Equal(t, "chain testnet: 2 validators, total power 6, threshold 5\n", out)
}

func TestGenesisInit_invalid(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, pub := keygen(t, dir, "a.key")

	// No chain ID.
	_, err := execute(t, context.Background(), "genesis", "init", filepath.Join(dir, "g1.json"), "--validator", pub)
	require.ErrorContains(t, err, "chain ID")

	_, err = execute(t, context.Background(),
		"genesis", "init", filepath.Join(dir, "g2.json"), "--chain-id", "x", "--validator", pub+":0",
	)
	require.ErrorContains(t, err, "power")

	_, err = execute(t, context.Background(),
		"genesis", "init", filepath.Join(dir, "g3.json"), "--chain-id", "x", "--validator", "zz",
	)
	require.Error(t, err)
}

func TestGenesisInit_environmentAndConfigFile(t *testing.T) {
	// Not parallel: sets the process environment.

	dir := t.TempDir()
	_, pub := keygen(t, dir, "a.key")

	t.Setenv("CHAOSD_CHAIN_ID", "from-env")
	gPath := filepath.Join(dir, "env.json")
	_, err := execute(t, context.Background(), "genesis", "init", gPath, "--validator", pub)
	require.NoError(t, err)
	g, err := loadGenesis(gPath)
	require.NoError(t, err)
	require.Equal(t, "from-env", g.ChainID)

	// An explicit flag beats the environment.
	gPath = filepath.Join(dir, "flag.json")
	_, err = execute(t, context.Background(), "genesis", "init", gPath, "--validator", pub, "--chain-id", "from-flag")
	require.NoError(t, err)
	g, err = loadGenesis(gPath)
	require.NoError(t, err)
	require.Equal(t, "from-flag", g.ChainID)

	cfgPath := filepath.Join(dir, "chaosd.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("initial-time: \"2030-01-02T03:04:05Z\"\n"), 0o644))
	gPath = filepath.Join(dir, "cfg.json")
	_, err = execute(t, context.Background(), "genesis", "init", gPath, "--validator", pub, "--config", cfgPath)
	require.NoError(t, err)
	g, err = loadGenesis(gPath)
	require.NoError(t, err)
	require.Equal(t, 2030, g.InitialTime.Year())
}

func TestSubmit(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := gtest.NewLogger(t)
	var reg gcrypto.Registry
	gcrypto.RegisterEd25519(&reg)

	mp, err := chmempool.New(log, chmempool.Config{})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	h := chserver.NewHTTPServer(ctx, log, chserver.HTTPServerConfig{
		Listener:  ln,
		Engine:    stoppedEngine{},
		Submitter: mp,
		Pending:   mp,
		Chain:     chmemstore.NewCommittedChain(),
		Codec:     chcbor.NewCodec(&reg),
	})
	t.Cleanup(h.Wait)

	keyPath, _ := keygen(t, t.TempDir(), "sub.key")
	out, err := execute(t, ctx, "submit", "--addr", ln.Addr().String(), "--key", keyPath, "set", "color", "blue")
	require.NoError(t, err)

	var res chserver.SubmitResponse
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.ID, 64)
	require.Equal(t, 1, mp.Len())

	_, err = execute(t, ctx, "submit", "--addr", ln.Addr().String(), "--key", keyPath, "explode")
	require.ErrorContains(t, err, "unknown operation")

	_, err = execute(t, ctx, "status", "--addr", ln.Addr().String())
	require.ErrorContains(t, err, "503")
}

type stoppedEngine struct{}

func (stoppedEngine) Status(context.Context) (chengine.Status, error) {
	return chengine.Status{}, chengine.ErrStopped
}
