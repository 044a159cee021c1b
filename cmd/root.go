// Package cmd is the yarn-agent command line: the HTTP server plus local
// tools for talking to the router and checking how it classifies text.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"yarn-agent/internal/config"
	"yarn-agent/internal/logging"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:           "yarn-agent",
		Short:         "Supportive conversation router",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config/router.yaml", "path to the router config")
	rootCmd.AddCommand(serveCmd, chatCmd, classifyCmd)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// setup loads the config, builds the logger and wires the app.
func setup(ctx context.Context, adjust func(*config.Config)) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if adjust != nil {
		adjust(cfg)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error {
		_ = logger.Sync()
		return nil
	})
	return a, nil
}

// quiet drops log output below warn for interactive commands.
func quiet(cfg *config.Config) {
	if lvl, err := zapcore.ParseLevel(cfg.Log.Level); err != nil || lvl < zapcore.WarnLevel {
		cfg.Log.Level = zapcore.WarnLevel.String()
	}
	cfg.Log.Format = "console"
}
