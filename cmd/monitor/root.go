package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nmoreno/subastas-monitor/internal/config"
	"github.com/nmoreno/subastas-monitor/internal/version"
)

var (
	configPath string

	cfg    *config.MonitorConfig
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "monitor",
	Short:         "Real-time monitor for government reverse-auction cotizaciones",
	Version:       version.String(),
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if configPath != "" {
			cfg, err = config.LoadAndValidate(configPath)
			if err != nil {
				return err
			}
		} else {
			cfg = config.Default()
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("validate default config: %w", err)
			}
		}

		logger, err = buildLogger(cfg.Log)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)

		logger.Info("monitor starting",
			"version", version.Version,
			"commit", version.Commit,
			"config", configPath,
		)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	rootCmd.AddCommand(replayCmd, liveCmd, pollCmd, exportCmd, importCmd)
}

func buildLogger(lc config.LogConfig) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
		return nil, fmt.Errorf("log.level %q: %w", lc.Level, err)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch lc.Format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	case "text", "":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("log.format must be text or json, got %q", lc.Format)
	}
	return slog.New(handler), nil
}
