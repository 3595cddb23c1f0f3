// Package chaosdcmd contains the chaosd command tree.
package chaosdcmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment variables that override flags.
// The flag --http-addr is overridden by CHAOSD_HTTP_ADDR, for instance.
const EnvPrefix = "CHAOSD"

// NewRootCmd returns the chaosd command tree.
// The --log-level flag adjusts level, which should control log's handler.
func NewRootCmd(log *slog.Logger, level *slog.LevelVar) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "chaosd",
		Short: "Run and interact with a chaoscore consensus node",

		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			v, err := bindConfig(cmd)
			if err != nil {
				return err
			}
			if err := level.UnmarshalText([]byte(v.GetString("log-level"))); err != nil {
				return fmt.Errorf("invalid --log-level: %w", err)
			}
			return nil
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "path to a config file (yaml, toml, or json) with values for any flag")
	pf.String("log-level", "info", "minimum log level: debug, info, warn, or error")

	rootCmd.AddCommand(
		newRunCmd(log),
		newKeygenCmd(),
		newGenesisCmd(),
		newStatusCmd(),
		newSubmitCmd(),
	)

	return rootCmd
}

// bindConfig returns a viper instance resolving cmd's flags,
// in increasing precedence: defaults, config file, environment, explicit flags.
func bindConfig(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var result *multierror.Error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if err := v.BindPFlag(f.Name, f); err != nil {
			result = multierror.Append(result, err)
		}
	})
	if err := result.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	return v, nil
}
