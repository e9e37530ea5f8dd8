package root

import (
	"github.com/spf13/cobra"

	"github.com/zenGate-Global/dappbot-ops/apps/cli/cmd/cmdutil"
)

// rootCmd is the base command for the dappbot operator CLI. Subcommands (ops, bucket, bootstrap, etc.) are attached here.
var rootCmd = &cobra.Command{
	Use:           "dappctl",
	Short:         "dappbot operator CLI",
	Long:          "Operator utilities for the dappbot hosting worker (reconciliation, CDN cleanup, pipeline jobs, buckets, bootstrap).",
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().String(cmdutil.FlagEnvFile, "", "Dotenv file read before the process environment")
	rootCmd.PersistentFlags().String(cmdutil.FlagLogLevel, "", "Override LOG_LEVEL")
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// Root returns the mutable root command for wiring from subpackages.
func Root() *cobra.Command {
	return rootCmd
}
