package chaosdcmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chaoschain/chaoscore/chcodec/chcbor"
	"github.com/chaoschain/chaoscore/chconsensus"
	"github.com/chaoschain/chaoscore/chengine"
	"github.com/chaoschain/chaoscore/chengine/chelink"
	"github.com/chaoschain/chaoscore/chgossip/chshard"
	"github.com/chaoschain/chaoscore/chgulfstream"
	"github.com/chaoschain/chaoscore/chmempool"
	"github.com/chaoschain/chaoscore/chp2p/chlibp2p"
	"github.com/chaoschain/chaoscore/chserver"
	"github.com/chaoschain/chaoscore/chstate"
	"github.com/chaoschain/chaoscore/chstore"
	"github.com/chaoschain/chaoscore/chstore/chbadger"
	"github.com/chaoschain/chaoscore/chstore/chmemstore"
	"github.com/chaoschain/chaoscore/gcrypto"
	petname "github.com/dustinkirkland/golang-petname"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newRunCmd(log *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a consensus node until interrupted",

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := bindConfig(cmd)
			if err != nil {
				return err
			}
			return runNode(cmd.Context(), log, v)
		},
	}

	f := cmd.Flags()
	f.String("home", ".chaosd", "directory holding the committed chain")
	f.String("genesis", "genesis.json", "genesis file, as written by genesis init")
	f.String("key", "", "validator key file, as written by keygen (required)")
	f.String("moniker", "", "human-readable node name for logs (default a random pet name)")
	f.String("store", "badger", `committed chain storage: "badger" or "memory"`)

	f.StringSlice("listen", []string{"/ip4/0.0.0.0/tcp/26656"}, "libp2p listen multiaddrs")
	f.StringSlice("bootstrap", nil, "full multiaddrs of peers to connect to at startup")
	f.Bool("dht", false, "discover peers through a kad-dht")
	f.Int("gossip-shard-threshold", chshard.DefaultMaxWholeSize, "gossip payloads larger than this many bytes are erasure-coded into shards")

	f.String("http-addr", defaultHTTPAddr, "HTTP API address, as host:port or unix:///path/to/socket; empty disables")
	f.Bool("http-debug", false, "serve /debug routes")

	f.Duration("timeout-base", chengine.DefaultBaseTimeout, "round 0 timeout")
	f.Duration("timeout-increase", time.Second, "added to the timeout each round")
	f.Duration("proposal-delay", 0, "wait before proposing in round 0, to collect intents")
	f.Int("max-proposal-intents", 1000, "most intents per block")
	f.Int("verify-workers", 4, "concurrent inbound message verifiers")

	f.String("finality-webhook", "", "URL receiving a JSON POST for every committed block")

	return cmd
}

func runNode(ctx context.Context, log *slog.Logger, v *viper.Viper) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	moniker := v.GetString("moniker")
	if moniker == "" {
		moniker = petname.Generate(2, "-")
	}
	log = log.With("moniker", moniker)

	keyPath := v.GetString("key")
	if keyPath == "" {
		return errors.New("--key is required")
	}
	priv, err := loadKeyFile(keyPath)
	if err != nil {
		return err
	}
	signer := gcrypto.NewEd25519Signer(priv)

	genesis, err := loadGenesis(v.GetString("genesis"))
	if err != nil {
		return err
	}

	var reg gcrypto.Registry
	gcrypto.RegisterEd25519(&reg)
	codec := chcbor.NewCodec(&reg)

	var chain chstore.CommittedChain
	switch s := v.GetString("store"); s {
	case "memory":
		chain = chmemstore.NewCommittedChain()
	case "badger":
		home := v.GetString("home")
		if err := os.MkdirAll(home, 0o700); err != nil {
			return fmt.Errorf("failed to create home directory: %w", err)
		}
		bc, err := chbadger.Open(log.With("sys", "chain"), filepath.Join(home, "chain"), &reg)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := bc.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("close chain: %w", cerr)
			}
		}()
		chain = bc
	default:
		return fmt.Errorf("unknown --store %q", s)
	}

	mp, err := chmempool.New(log.With("sys", "mempool"), chmempool.Config{History: chain})
	if err != nil {
		return err
	}

	gs, err := chstate.GenesisState(genesis)
	if err != nil {
		return fmt.Errorf("failed to build genesis state: %w", err)
	}
	machine := chstate.NewMachine(log.With("sys", "state"), chstate.MachineConfig{
		Registry: &reg,
		Pending:  mp,
		History:  chain,
		Initial:  gs,
	})

	identity, err := crypto.UnmarshalEd25519PrivateKey(priv)
	if err != nil {
		return fmt.Errorf("failed to derive network identity: %w", err)
	}
	p2p, err := chlibp2p.New(ctx, log.With("sys", "p2p"), chlibp2p.Config{
		ListenAddrs:    v.GetStringSlice("listen"),
		Identity:       identity,
		BootstrapPeers: v.GetStringSlice("bootstrap"),
		EnableDHT:      v.GetBool("dht"),
	})
	if err != nil {
		return err
	}
	// Committed blocks with many intents can exceed the gossipsub message limit.
	network, err := chshard.New(ctx, log.With("sys", "shard"), p2p, chshard.Config{
		MaxWholeSize: v.GetInt("gossip-shard-threshold"),
	})
	if err != nil {
		_ = p2p.Close()
		return err
	}
	defer func() {
		if cerr := network.Close(); cerr != nil {
			log.Warn("Failed to close network", "err", cerr)
		}
	}()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := chengine.NewMetrics(promReg)
	if err != nil {
		return err
	}

	roundUpdates := make(chan chelink.RoundUpdate, 16)

	opts := []chengine.Opt{
		chengine.WithSigner(signer),
		chengine.WithGenesis(genesis),
		chengine.WithMempool(mp),
		chengine.WithStateMachine(machine),
		chengine.WithCommittedChain(chain),
		chengine.WithNetwork(network),
		chengine.WithCodec(codec),
		chengine.WithMetrics(metrics),
		chengine.WithRoundUpdates(roundUpdates),
		chengine.WithTimeoutStrategy(chengine.LinearTimeoutStrategy{
			Base:     v.GetDuration("timeout-base"),
			Increase: v.GetDuration("timeout-increase"),
		}),
		chengine.WithProposalDelay(v.GetDuration("proposal-delay")),
		chengine.WithMaxProposalIntents(v.GetInt("max-proposal-intents")),
		chengine.WithVerifyWorkers(v.GetInt("verify-workers")),
	}
	if url := v.GetString("finality-webhook"); url != "" {
		opts = append(opts, chengine.WithFinalitySink(webhookSink(url)))
	}

	engine, err := chengine.New(ctx, log.With("sys", "engine"), opts...)
	if err != nil {
		return err
	}
	// A fatal engine error stops the whole node.
	go func() {
		engine.Wait()
		cancel()
	}()

	gulf, err := chgulfstream.New(ctx, &chgulfstream.Options{
		Log:          log.With("sys", "gulfstream"),
		Mempool:      mp,
		Network:      network,
		Codec:        codec,
		RoundUpdates: roundUpdates,
	})
	if err != nil {
		cancel()
		engine.Wait()
		return err
	}
	defer gulf.Close()

	if addr := v.GetString("http-addr"); addr != "" {
		ln, err := listen(addr)
		if err != nil {
			cancel()
			engine.Wait()
			return err
		}
		h := chserver.NewHTTPServer(ctx, log.With("sys", "http"), chserver.HTTPServerConfig{
			Listener:  ln,
			Engine:    engine,
			Submitter: gulf,
			Pending:   mp,
			Chain:     chain,
			Codec:     codec,
			Gatherer:  promReg,
			Debug:     v.GetBool("http-debug"),
		})
		defer h.Wait()
		log.Info("Serving HTTP API", "addr", addr)
	}

	log.Info(
		"Node started",
		"chain_id", genesis.ChainID,
		"validator", fmt.Sprintf("%x", signer.PubKey().PubKeyBytes()),
		"peer_id", p2p.Host().ID(),
	)

	<-ctx.Done()
	engine.Wait()
	log.Info("Node stopped")

	if err := engine.Err(); err != nil {
		return fmt.Errorf("engine failed: %w", err)
	}
	return nil
}

// listen opens a TCP listener, or a unix socket listener for unix:// addresses.
func listen(addr string) (net.Listener, error) {
	if path, ok := strings.CutPrefix(addr, "unix://"); ok {
		// A socket left behind by an unclean shutdown would fail the bind.
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to remove stale socket: %w", err)
		}
		ln, err := net.Listen("unix", path)
		if err != nil {
			return nil, fmt.Errorf("failed to listen on %s: %w", path, err)
		}
		return ln, nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return ln, nil
}

// webhookSink posts each committed block to url as a [chserver.BlockResponse].
// Any non-2xx response is a delivery failure, so the engine retries it.
func webhookSink(url string) chengine.FinalitySink {
	client := &http.Client{Timeout: 10 * time.Second}
	return chengine.FinalitySinkFunc(func(ctx context.Context, cb chconsensus.CommittedBlock) error {
		b, err := json.Marshal(chserver.NewBlockResponse(cb))
		if err != nil {
			return fmt.Errorf("failed to encode block: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
		if err != nil {
			return fmt.Errorf("failed to build webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("webhook request failed: %w", err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode/100 != 2 {
			return fmt.Errorf("webhook returned status %d", resp.StatusCode)
		}
		return nil
	})
}
