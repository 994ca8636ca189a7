package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"kestrel-hq/kestrel/pkg/backend"
	"kestrel-hq/kestrel/pkg/cli"
	"kestrel-hq/kestrel/pkg/config"
	"kestrel-hq/kestrel/pkg/proxy"
	"kestrel-hq/kestrel/pkg/rewrite"
	"kestrel-hq/kestrel/pkg/routing"
	"kestrel-hq/kestrel/pkg/server"
	"kestrel-hq/kestrel/pkg/telemetry/logging"
	"kestrel-hq/kestrel/pkg/telemetry/metrics"
	"kestrel-hq/kestrel/pkg/wire"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Kestrel proxy",
	Long: `Start the Kestrel proxy with the specified configuration.

The proxy listens on the configured address, routes each incoming audio
session to a speech-to-text backend, and relays events in both directions
until the final transcript.

Examples:
  # Start with default config
  kestrel run

  # Start with custom config
  kestrel run --config /etc/kestrel/config.yaml

  # Override listen address
  kestrel run --listen 0.0.0.0:10300

  # Validate config without starting
  kestrel run --dry-run`,
	RunE: runProxy,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting the proxy")
}

func runProxy(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}

	// Apply flag overrides
	if runFlags.listenAddress != "" {
		cfg.Proxy.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	logger, err := logging.Setup(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.AddSource,
	})
	if err != nil {
		return cli.NewConfigError("logging", err.Error())
	}

	if runFlags.dryRun {
		if _, err := buildTable(cfg); err != nil {
			return cli.NewConfigError("routing", err.Error())
		}
		fmt.Println("✓ Configuration valid")
		return nil
	}

	fmt.Printf("kestrel %s\n", version)
	fmt.Printf("Loading configuration from: %s\n", cfgFile)
	fmt.Println("✓ Configuration loaded")

	limits := wire.Limits{
		MaxHeaderBytes:  cfg.Proxy.MaxHeaderBytes,
		MaxPayloadBytes: cfg.Proxy.MaxPayloadBytes,
	}

	// Backend connection pool
	targets := make([]backend.Target, 0, len(cfg.Backends))
	for _, b := range cfg.Backends {
		targets = append(targets, backend.Target{
			Name:        b.Name,
			Address:     b.Address,
			MaxSessions: b.MaxSessions,
		})
	}
	pool, err := backend.NewPool(targets, backend.Config{
		AcquireTimeout: cfg.Pool.AcquireTimeout,
		DialTimeout:    cfg.Pool.DialTimeout,
		IdleConnTTL:    cfg.Pool.IdleConnTTL,
		BackoffBase:    cfg.Pool.BackoffBase,
		BackoffMax:     cfg.Pool.BackoffMax,
		Limits:         limits,
	}, logger)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer pool.Close()
	fmt.Printf("✓ Backend pool initialized (%d backends)\n", len(targets))

	// Routing table
	table, err := buildTable(cfg)
	if err != nil {
		return cli.NewConfigError("routing", err.Error())
	}
	engine := routing.NewEngine(table)

	ctx := cli.SetupSignalHandler()

	if cfg.WatchRouting() {
		watcher, err := routing.NewWatcher(cfg.Routing.RulesFile, engine, pool.Targets(), logger)
		if err != nil {
			return cli.NewCommandError("run", err)
		}
		if err := watcher.Start(); err != nil {
			return cli.NewCommandError("run", err)
		}
		defer watcher.Stop()
		fmt.Printf("✓ Watching routing rules: %s\n", cfg.Routing.RulesFile)
	}

	// Transcript rewrite rules
	var rewriter *rewrite.Rewriter
	if cfg.Rewrite.RulesFile != "" {
		rewriter, err = rewrite.NewFromFile(cfg.Rewrite.RulesFile, cfg.WatchRewrite(), logger)
		if err != nil {
			return cli.NewConfigError("rewrite", err.Error())
		}
		fmt.Printf("✓ Transcript rewrite rules loaded: %s\n", cfg.Rewrite.RulesFile)
	}

	// Idle connection pruner
	pruner := backend.NewPruner(pool, cfg.Pool.PruneSchedule, logger)
	if err := pruner.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}
	defer pruner.Stop()

	collector := metrics.NewCollector(prometheus.NewRegistry())

	handler := proxy.NewHandler(proxy.Config{
		OpenTimeout: cfg.Proxy.OpenTimeout,
		IdleTimeout: cfg.Proxy.IdleTimeout,
		Limits:      limits,
	}, engine, pool, rewriter, collector, logger)

	srv := server.NewServer(&cfg.Proxy, handler, collector, logger)

	fmt.Printf("✓ Listening on %s\n", cfg.Proxy.ListenAddress)
	if cfg.Proxy.WebSocketAddress != "" {
		fmt.Printf("✓ WebSocket bridge: ws://%s/stream\n", cfg.Proxy.WebSocketAddress)
	}
	if cfg.Proxy.MetricsAddress != "" {
		fmt.Printf("✓ Metrics endpoint: http://%s/metrics\n", cfg.Proxy.MetricsAddress)
	}
	fmt.Println("\nPress Ctrl+C to stop")

	if err := srv.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}
	fmt.Println("✓ Proxy stopped")
	return nil
}

// buildTable validates and loads the routing rules from whichever source the
// configuration names.
func buildTable(cfg *config.Config) (*routing.Table, error) {
	backends := make(map[string]bool, len(cfg.Backends))
	for _, b := range cfg.Backends {
		backends[b.Name] = true
	}
	if cfg.Routing.RulesFile != "" {
		return routing.LoadFile(cfg.Routing.RulesFile, backends)
	}
	return routing.NewTable(cfg.Routing.Rules, backends)
}
