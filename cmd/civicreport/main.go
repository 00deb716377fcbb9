package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"civicreport/internal/config"
	"civicreport/internal/kv"
	"civicreport/internal/store"
)

// app carries what every subcommand needs once config is loaded.
type app struct {
	configFile string
	cfg        config.Config
	logger     *zap.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "civicreport",
		Short:         "Civic issue reporting service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.configFile, "config", "", "YAML config file (overrides CONFIG_FILE)")

	root.AddCommand(
		newServeCmd(a),
		newUsersCmd(a),
		newReportsCmd(a),
		newImportCmd(a),
		newVersionCmd(),
	)
	return root
}

// setup loads config and builds the logger. Commands that touch the store
// call it first.
func (a *app) setup() error {
	if a.configFile != "" {
		if err := os.Setenv("CONFIG_FILE", a.configFile); err != nil {
			return err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

// openStore opens the configured engine. The caller closes the engine.
func (a *app) openStore(ctx context.Context) (*store.Store, kv.Engine, error) {
	engine, err := kv.Open(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return store.New(engine), engine, nil
}

func newLogger(level, format string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if strings.EqualFold(format, "console") {
		zcfg = zap.NewDevelopmentConfig()
	}
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, err
		}
		zcfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	return zcfg.Build()
}
