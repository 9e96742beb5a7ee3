// Package cmd wires the aether CLI.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aether",
		Short: "Content acquisition service for social and web platforms.",
		Long: `aether routes content extraction, change monitoring, publishing and
long-running acquisition workflows across platform connectors (Xiaohongshu,
WeChat official accounts, generic web pages) backed by a remote browser
automation provider.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML; AETHER_* env vars override)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newExtractCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
