package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"geoprobe/internal/app"
	"geoprobe/internal/shared/config"
	"geoprobe/internal/shared/logger"
	"geoprobe/internal/shared/types"
)

const defaultConfigFile = "geoprobe.ini"

var (
	cfgFile  string
	logLevel string
	outFile  string

	cfg *types.Config
)

var rootCmd = &cobra.Command{
	Use:           "geoprobe",
	Short:         "Probe proxy nodes through HTTP META and rename them by egress geo/ISP",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			if _, err := os.Stat(defaultConfigFile); err == nil {
				path = defaultConfigFile
			}
		}
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if logLevel != "" {
			cfg.LogConf.Level = logLevel
		}
		return logger.Init(cfg.LogConf)
	},
}

var runCmd = &cobra.Command{
	Use:   "run <nodes-file>",
	Short: "Probe the nodes in a YAML/JSON file and write the renamed list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s, err := app.New(cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		stats, err := s.RunFile(ctx, args[0], outFile)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "total=%d compatible=%d cached=%d probed=%d succeeded=%d failed=%d removed=%d duration=%s\n",
			stats.Total, stats.Compatible, stats.CacheHits, stats.Probed, stats.Succeeded, stats.Failed, stats.Removed, stats.Duration)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Expose probe runs over the web API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s, err := app.New(cfg)
		if err != nil {
			return err
		}
		defer s.Close()
		return s.Serve(ctx)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to ini config (default ./geoprobe.ini if present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override [log] level")
	runCmd.Flags().StringVarP(&outFile, "out", "o", "", "output file (default: <input>.geo<ext>)")

	rootCmd.AddCommand(runCmd, serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
