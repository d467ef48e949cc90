package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"neurolab/internal/config"
	"neurolab/internal/metrics"
	"neurolab/internal/metrics/datadog"

	// register all storage backends; config picks one at runtime.
	_ "neurolab/internal/storage/all"
)

var (
	flagConfig   string
	flagLogLevel string
	flagMetrics  string
	flagStore    string
	flagDSN      string

	cfg    *config.Config
	logger *log.Logger
)

var rootCmd = &cobra.Command{
	Use:           "neurolab",
	Short:         "neurolab runs reproducible statistical analyses over tabular datasets",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "run configuration file (YAML)")
	pf.StringVar(&flagLogLevel, "log-level", "info", "log verbosity: quiet|info")
	pf.StringVar(&flagMetrics, "metrics", "", "metrics backend: none|datadog (overrides config)")
	pf.StringVar(&flagStore, "store", "", "storage backend kind (overrides config)")
	pf.StringVar(&flagDSN, "dsn", "", "storage DSN (overrides config)")

	rootCmd.AddCommand(runCmd, validateCmd, collectCmd, runsCmd)
}

// run executes the command tree and returns the process exit code.
func run() int {
	cobra.OnInitialize(setup)
	defer func() {
		if err := metrics.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: metrics close: %v\n", err)
		}
	}()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// setup loads configuration, applies flag overrides, and wires logging
// and metrics. It runs once, before the selected command.
func setup() {
	var w io.Writer = os.Stderr
	if flagLogLevel == "quiet" {
		w = io.Discard
	}
	logger = log.New(w, "", log.LstdFlags)

	c, err := config.Load(flagConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if flagStore != "" {
		c.Store.Kind = flagStore
	}
	if flagDSN != "" {
		c.Store.DSN = flagDSN
	}
	if flagMetrics != "" {
		c.Metrics.Backend = flagMetrics
	}
	cfg = c

	switch cfg.Metrics.Backend {
	case "", "none":
	case "datadog":
		b, err := datadog.NewBackend(context.Background(), datadog.Options{JobName: "neurolab"})
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: metrics backend: %v\n", err)
			os.Exit(1)
		}
		metrics.SetBackend(b)
	default:
		fmt.Fprintf(os.Stderr, "error: unknown metrics backend %q\n", cfg.Metrics.Backend)
		os.Exit(1)
	}
}

// signalContext returns a context cancelled by SIGINT/SIGTERM, so an
// interrupted run is recorded as cancelled instead of vanishing.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
