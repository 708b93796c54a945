// Package main provides the unimem CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/born-ml/unimem/backend/cuda"
	"github.com/born-ml/unimem/backend/sim"
	"github.com/born-ml/unimem/unified"
)

var (
	// Global flags
	driverName string
	simDevices int
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "unimem",
	Short: "Inspect and exercise unified memory",
	Long: `unimem allocates unified (managed or host-mapped) memory on a device
runtime, lists the devices it sees, and runs a self-test of the allocation,
migration, advice and release paths.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&driverName, "driver", "sim", "Device runtime: sim or cuda")
	rootCmd.PersistentFlags().IntVar(&simDevices, "devices", 2, "Number of virtual devices for the sim driver")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newLogger builds the CLI logger; debug output goes to stderr.
func newLogger() (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// openRuntime returns the runtime selected by --driver.
func openRuntime() (unified.Runtime, error) {
	switch driverName {
	case "sim":
		if simDevices <= 0 {
			return nil, fmt.Errorf("--devices must be positive, got %d", simDevices)
		}
		return sim.New(sim.Options{Devices: simDevices}), nil
	case "cuda":
		rt, err := cuda.New()
		if err != nil {
			return nil, fmt.Errorf("open cuda runtime: %w", err)
		}
		return rt, nil
	default:
		return nil, fmt.Errorf("unknown driver %q (want sim or cuda)", driverName)
	}
}

// newAllocator opens the runtime and an allocator with the CLI logger.
func newAllocator() (*unified.Allocator, *zap.Logger, error) {
	log, err := newLogger()
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	rt, err := openRuntime()
	if err != nil {
		return nil, nil, err
	}
	cfg := unified.DefaultConfig(rt)
	cfg.Logger = log
	alloc, err := unified.New(cfg)
	if err != nil {
		return nil, nil, err
	}
	return alloc, log, nil
}
