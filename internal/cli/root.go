// Package cli provides the command-line interface for pelusa-live.
package cli

import (
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	configPath string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "pelusa-live",
	Short: "Real-time presence, direct messaging and notifications",
	Long: `pelusa-live keeps track of who is online on the learning platform, delivers
direct messages between students and teachers, and fans notifications out to
their recipients over websockets.

Configuration is read from a TOML file and PELUSA_ environment variables.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the TOML config file (default ./pelusa-live.toml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}
