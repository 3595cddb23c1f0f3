package chaosdcmd

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Key files hold the hex-encoded 32-byte ed25519 seed and a trailing newline.

func writeKeyFile(path string, priv ed25519.PrivateKey) error {
	seed := hex.EncodeToString(priv.Seed())
	// O_EXCL so an existing key is never overwritten.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create key file: %w", err)
	}
	if _, err := f.WriteString(seed + "\n"); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return f.Close()
}

func loadKeyFile(path string) (ed25519.PrivateKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	seed, err := hex.DecodeString(string(bytes.TrimSpace(b)))
	if err != nil {
		return nil, fmt.Errorf("failed to decode key file %s: %w", path, err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("key file %s: want %d-byte seed, got %d bytes", path, ed25519.SeedSize, len(seed))
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

func newKeygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen KEY_FILE",
		Short: "Generate an ed25519 key and print its public key",
		Long: `Generate an ed25519 key and write its seed to KEY_FILE.

The same key signs as a validator or intent submitter
and identifies the node on the peer-to-peer network.`,

		Args: cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			_, priv, err := ed25519.GenerateKey(rand.Reader)
			if err != nil {
				return fmt.Errorf("failed to generate key: %w", err)
			}
			if err := writeKeyFile(args[0], priv); err != nil {
				if errors.Is(err, os.ErrExist) {
					return fmt.Errorf("refusing to overwrite %s", args[0])
				}
				return err
			}

			pub := priv.Public().(ed25519.PublicKey)
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(pub))
			return err
		},
	}

	return cmd
}
