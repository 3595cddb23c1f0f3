package chaosdcmd

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/chaoschain/chaoscore/chcodec/chcbor"
	"github.com/chaoschain/chaoscore/chconsensus"
	"github.com/chaoschain/chaoscore/chserver"
	"github.com/chaoschain/chaoscore/chstate"
	"github.com/chaoschain/chaoscore/gcrypto"
	"github.com/spf13/cobra"
)

const defaultHTTPAddr = "127.0.0.1:26660"

func addAddrFlag(cmd *cobra.Command) {
	cmd.Flags().String("addr", defaultHTTPAddr, "node HTTP address, as host:port or unix:///path/to/socket")
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the consensus status of a running node",

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := bindConfig(cmd)
			if err != nil {
				return err
			}

			c := chserver.NewClient(v.GetString("addr"))
			s, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), s)
		},
	}

	addAddrFlag(cmd)
	return cmd
}

func newSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit (set KEY VALUE | delete KEY | raw HEX_PAYLOAD)",
		Short: "Sign an intent and submit it to a running node",

		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("missing operation")
			}
			want := map[string]int{"set": 3, "delete": 2, "raw": 2}[args[0]]
			if want == 0 {
				return fmt.Errorf("unknown operation %q", args[0])
			}
			if len(args) != want {
				return fmt.Errorf("%s takes %d argument(s)", args[0], want-1)
			}
			return nil
		},

		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := bindConfig(cmd)
			if err != nil {
				return err
			}

			payload, err := intentPayload(args)
			if err != nil {
				return err
			}

			keyPath := v.GetString("key")
			if keyPath == "" {
				return fmt.Errorf("--key is required")
			}
			priv, err := loadKeyFile(keyPath)
			if err != nil {
				return err
			}

			nonce := v.GetUint64("nonce")
			if nonce == 0 {
				nonce = uint64(time.Now().UnixNano())
			}

			in, err := chconsensus.NewIntent(cmd.Context(), gcrypto.NewEd25519Signer(priv), nonce, payload)
			if err != nil {
				return err
			}

			var reg gcrypto.Registry
			gcrypto.RegisterEd25519(&reg)
			b, err := chcbor.NewCodec(&reg).MarshalIntent(in)
			if err != nil {
				return fmt.Errorf("failed to encode intent: %w", err)
			}

			res, err := chserver.NewClient(v.GetString("addr")).SubmitIntent(cmd.Context(), b)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}

	addAddrFlag(cmd)
	f := cmd.Flags()
	f.String("key", "", "submitter key file, as written by keygen")
	f.Uint64("nonce", 0, "intent nonce (default derived from the current time)")

	return cmd
}

func intentPayload(args []string) ([]byte, error) {
	switch args[0] {
	case "set":
		return chstate.SetOp(args[1], []byte(args[2])), nil
	case "delete":
		return chstate.DeleteOp(args[1]), nil
	case "raw":
		b, err := hex.DecodeString(args[1])
		if err != nil {
			return nil, fmt.Errorf("invalid payload hex: %w", err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown operation %q", args[0])
	}
}
