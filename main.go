// bwrecord — best-ever bandwidth records for a glftpd site log.
// Author: vesaa | License: MIT
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vesaa/bwrecord/internal/agent"
	"github.com/vesaa/bwrecord/internal/config"
	"github.com/vesaa/bwrecord/internal/logging"
)

const version = "v0.1.0"

func printBanner(mode string) {
	fmt.Printf("  ► bwrecord %s  |  Mode: %s\n\n", version, mode)
}

// loadConfig applies the persistent flags on top of config.Load.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("loading config: %w", err)
	}

	// CLI flags override config values.
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		cfg.Debug = true
	}
	if ifaces, _ := cmd.Flags().GetStringSlice("iface"); len(ifaces) > 0 {
		cfg.Interfaces = ifaces
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func main() {
	root := &cobra.Command{
		Use:   "bwrecord",
		Short: "bwrecord — track best-ever upload/download bandwidth",
		Long: `bwrecord samples network interface throughput every couple of seconds,
keeps the best-ever upload, download and total rates, and announces every
new record in the glftpd site log.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().Bool("debug", false, "Log every sampling step to stderr")
	root.PersistentFlags().String("config", "", "Config file (default: ./config.yaml, /etc/bwrecord or ~/.bwrecord)")
	root.PersistentFlags().StringSlice("iface", nil, "Interfaces to sum, e.g. --iface eth0,eth1 (overrides config)")

	// ── run subcommand ────────────────────────────────────────────────────────
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start the record daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			printBanner("DAEMON")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log, err := logging.New(cfg.Debug)
			if err != nil {
				return fmt.Errorf("building logger: %w", err)
			}
			defer log.Sync() //nolint:errcheck

			// Stop between cycles on SIGINT/SIGTERM.
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return agent.Run(ctx, cfg, log)
		},
	}

	// ── sample subcommand ─────────────────────────────────────────────────────
	sampleCmd := &cobra.Command{
		Use:   "sample",
		Short: "Take one measurement and print it without touching the records",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log, err := logging.New(cfg.Debug)
			if err != nil {
				return fmt.Errorf("building logger: %w", err)
			}
			defer log.Sync() //nolint:errcheck

			src, err := agent.NewSource(cfg)
			if err != nil {
				return err
			}
			est := agent.NewEstimator(agent.NewCollector(cfg.Interfaces, src, log), nil, cfg, log)
			rate, ok := est.Estimate(cmd.Context())
			if !ok {
				log.Warn("no trustworthy measurement this time", zap.Strings("interfaces", cfg.Interfaces))
				return fmt.Errorf("measurement discarded")
			}
			fmt.Printf("in:    %d KiB/s\nout:   %d KiB/s\ntotal: %d KiB/s\n", rate.InKiB, rate.OutKiB, rate.InKiB+rate.OutKiB)
			return nil
		},
	}

	// ── version subcommand ────────────────────────────────────────────────────
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print bwrecord version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("bwrecord %s\n", version)
		},
	}

	root.AddCommand(runCmd, sampleCmd, versionCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
