package chaosdcmd

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/chaoschain/chaoscore/chconsensus"
	"github.com/chaoschain/chaoscore/gcrypto"
	"github.com/spf13/cobra"
)

// genesisFile is the JSON form of [chconsensus.Genesis].
type genesisFile struct {
	ChainID     string    `json:"chain_id"`
	InitialTime time.Time `json:"initial_time"`

	Validators []genesisValidator `json:"validators"`

	// Values are raw bytes, base64-encoded by encoding/json.
	AppState map[string][]byte `json:"app_state,omitempty"`
}

type genesisValidator struct {
	// Hex-encoded ed25519 public key.
	PubKey string `json:"pub_key"`
	Power  uint64 `json:"power"`
}

func loadGenesis(path string) (chconsensus.Genesis, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return chconsensus.Genesis{}, fmt.Errorf("failed to read genesis: %w", err)
	}

	var gf genesisFile
	if err := json.Unmarshal(b, &gf); err != nil {
		return chconsensus.Genesis{}, fmt.Errorf("failed to decode genesis %s: %w", path, err)
	}

	g := chconsensus.Genesis{
		ChainID:     gf.ChainID,
		InitialTime: gf.InitialTime.UTC(),
		Validators:  make([]chconsensus.Validator, len(gf.Validators)),
		AppState:    gf.AppState,
	}
	if g.AppState == nil {
		g.AppState = map[string][]byte{}
	}
	for i, v := range gf.Validators {
		pk, err := decodePubKey(v.PubKey)
		if err != nil {
			return chconsensus.Genesis{}, fmt.Errorf("genesis validator %d: %w", i, err)
		}
		g.Validators[i] = chconsensus.Validator{PubKey: pk, Power: v.Power}
	}

	if err := g.Validate(); err != nil {
		return chconsensus.Genesis{}, fmt.Errorf("invalid genesis %s: %w", path, err)
	}
	return g, nil
}

func decodePubKey(s string) (gcrypto.PubKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid public key hex: %w", err)
	}
	return gcrypto.NewEd25519PubKey(b)
}

// parseValidatorArg parses PUBKEY or PUBKEY:POWER.
func parseValidatorArg(arg string) (genesisValidator, error) {
	pub, powerStr, hasPower := strings.Cut(arg, ":")
	if _, err := decodePubKey(pub); err != nil {
		return genesisValidator{}, fmt.Errorf("validator %q: %w", arg, err)
	}

	power := uint64(1)
	if hasPower {
		p, err := strconv.ParseUint(powerStr, 10, 64)
		if err != nil || p == 0 {
			return genesisValidator{}, fmt.Errorf("validator %q: power must be a positive integer", arg)
		}
		power = p
	}
	return genesisValidator{PubKey: strings.ToLower(pub), Power: power}, nil
}

func newGenesisCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "genesis",
		Short: "Manage genesis files",
	}

	cmd.AddCommand(
		newGenesisInitCmd(),
		newGenesisValidateCmd(),
	)
	return cmd
}

func newGenesisValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate GENESIS_FILE",
		Short: "Check a genesis file and print its total voting power",

		Args: cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := loadGenesis(args[0])
			if err != nil {
				return err
			}

			vs, err := chconsensus.NewValidatorSet(g.Validators)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(
				cmd.OutOrStdout(),
				"chain %s: %d validators, total power %d, threshold %d\n",
				g.ChainID, len(g.Validators), vs.TotalPower(), vs.Threshold(),
			)
			return err
		},
	}
}

func newGenesisInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init GENESIS_FILE --chain-id ID --validator PUBKEY[:POWER]...",
		Short: "Write a new genesis file",

		Args: cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := bindConfig(cmd)
			if err != nil {
				return err
			}

			gf := genesisFile{
				ChainID:     v.GetString("chain-id"),
				InitialTime: time.Now().UTC().Truncate(time.Second),
			}
			if t := v.GetString("initial-time"); t != "" {
				it, err := time.Parse(time.RFC3339, t)
				if err != nil {
					return fmt.Errorf("invalid --initial-time: %w", err)
				}
				gf.InitialTime = it.UTC()
			}
			for _, arg := range v.GetStringSlice("validator") {
				gv, err := parseValidatorArg(arg)
				if err != nil {
					return err
				}
				gf.Validators = append(gf.Validators, gv)
			}

			b, err := json.MarshalIndent(gf, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode genesis: %w", err)
			}
			if err := os.WriteFile(args[0], append(b, '\n'), 0o644); err != nil {
				return fmt.Errorf("failed to write genesis: %w", err)
			}

			// Round-trip to report validation problems now rather than at startup.
			_, err = loadGenesis(args[0])
			return err
		},
	}

	f := cmd.Flags()
	f.String("chain-id", "", "chain ID")
	f.String("initial-time", "", "genesis time in RFC 3339 format (default now)")
	f.StringSlice("validator", nil, "validator public key in hex, optionally suffixed with :POWER (repeatable)")

	return cmd
}
