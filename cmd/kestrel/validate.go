package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"kestrel-hq/kestrel/pkg/cli"
	"kestrel-hq/kestrel/pkg/config"
	"kestrel-hq/kestrel/pkg/rewrite"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and rule files",
	Long: `Validate the configuration file, the routing rules it references, and the
transcript rewrite rules, without starting the proxy.

Examples:
  # Validate the default config
  kestrel validate

  # Validate a specific config
  kestrel validate --config /etc/kestrel/config.yaml`,
	RunE: validateConfig,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func validateConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return cli.NewConfigError("", err.Error())
	}
	fmt.Printf("✓ Configuration valid: %s\n", cfgFile)

	table, err := buildTable(cfg)
	if err != nil {
		return cli.NewConfigError("routing", err.Error())
	}
	fmt.Printf("✓ Routing rules valid (%d rules)\n", table.Len())

	if cfg.Rewrite.RulesFile != "" {
		if _, err := rewrite.NewFromFile(cfg.Rewrite.RulesFile, false, nil); err != nil {
			return cli.NewConfigError("rewrite", err.Error())
		}
		fmt.Printf("✓ Rewrite rules valid: %s\n", cfg.Rewrite.RulesFile)
	}
	return nil
}
