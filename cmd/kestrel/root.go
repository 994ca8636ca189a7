package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "kestrel",
	Short: "Kestrel - streaming speech-to-text protocol proxy",
	Long: `Kestrel is a streaming speech-to-text protocol proxy.

It accepts framed audio sessions from streaming clients, routes each session
to a speech-to-text engine by its declared attributes (language, encoding,
client identity), fails over between candidate backends before any audio has
flowed, and relays events in both directions until the final transcript.`,
	Version: version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
