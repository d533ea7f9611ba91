// amc is the memory compiler cell toolkit: it resolves the active technology,
// reads its cell library, runs cell generators and drives the golden
// regression suite.
//
// THE PIPELINE:
//  1. AMC_HOME/AMC_TECH select <home>/technology/<tech> and its setup script
//  2. LEF and YAML cell files are read into one library (cached by content hash)
//  3. CUE contracts and OPA rules check the library before anything uses it
//  4. Generators look cells up by name and wrap them as designs
//  5. The regression runner compares netlists and abstracts with goldens
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/robert-at-pretension-io/amc/internal/config"
	"github.com/robert-at-pretension-io/amc/internal/library"
	"github.com/robert-at-pretension-io/amc/internal/tech"
)

var (
	// Global flags
	verbose    bool
	configPath string
	rootDir    string
	libRoot    string

	logger *zap.Logger
)

// errReported means the command already printed why it failed.
var errReported = errors.New("failed")

var rootCmd = &cobra.Command{
	Use:   "amc",
	Short: "Memory compiler cell toolkit and regression harness",
	Long: `amc reads the cell library of the active technology and builds SRAM
peripheral cells from it: power gates, data-ready cells, inverters, decoders
and drivers. Its regression suite compares generated netlists and layout
abstracts with golden references per technology.

The technology comes from AMC_HOME and AMC_TECH (or amc.json).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: search amc.json)")
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", ".", "project root for goldens, outputs and caches")
	rootCmd.PersistentFlags().StringVar(&libRoot, "lib-root", "", "directory library globs are relative to (default: technology dir)")

	rootCmd.AddCommand(initCmd, setupCmd, cellsCmd, lookupCmd, genCmd, checkCmd, regressCmd, historyCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func log() *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

// loadConfig reads --config or searches from --root, then applies AMC_HOME
// and AMC_TECH.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config %s: %w", configPath, err)
		}
	} else {
		cfg, err = config.Load(rootDir)
		if err != nil {
			log().Warn("could not load config, using defaults", zap.Error(err))
			cfg = config.DefaultConfig()
		}
	}
	cfg.ApplyEnv(os.Getenv)
	return cfg, nil
}

func cacheDir(cfg *config.Config) string {
	if filepath.IsAbs(cfg.Regression.Cache.Dir) {
		return cfg.Regression.Cache.Dir
	}
	return filepath.Join(rootDir, cfg.Regression.Cache.Dir)
}

// loadLibrary reads the configured cell files. Without --lib-root the globs
// are relative to the technology dir, so AMC_HOME must be known.
func loadLibrary(ctx context.Context, cfg *config.Config) (*library.Library, error) {
	if libRoot == "" && cfg.Home == "" {
		return nil, fmt.Errorf("%w: %s", tech.ErrMissingEnv, tech.EnvHome)
	}
	opts := library.LoadOptions{
		MaxParallel: cfg.Regression.MaxParallel,
		Logger:      log(),
	}
	if cfg.CacheEnabled() {
		opts.CacheDir = filepath.Join(cacheDir(cfg), "cells")
	}
	lib, stats, err := library.Load(ctx, cfg, libRoot, opts)
	for _, w := range stats.Warnings {
		log().Warn(w)
	}
	if err != nil {
		return nil, err
	}
	return lib, nil
}
