// Package main provides the uberts CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/cognicore/uberts/pkg/uberts/config"
	"github.com/cognicore/uberts/pkg/uberts/runstore"
	"github.com/cognicore/uberts/pkg/uberts/runstore/badgerstore"
	"github.com/cognicore/uberts/pkg/uberts/runstore/memstore"
	"github.com/cognicore/uberts/pkg/uberts/runstore/sqlite"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "uberts",
		Short: "uberts - incremental rule-driven inference",
		Long: `uberts compiles a grammar of typed relations and join rules, then
decodes documents of facts by committing the best-scoring feasible
hypothesis one step at a time.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "", "YAML configuration file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "Log format: text or json")
	rootCmd.PersistentFlags().String("metrics-addr", "", "Serve Prometheus metrics on this address while running")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "uberts v%s (%s)\n", version, commit)
		},
	})

	checkCmd := &cobra.Command{
		Use:   "check [grammar]",
		Short: "Type-check a grammar and describe its network",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runCheck,
	}
	checkCmd.Flags().Bool("dump", false, "Print the matching network")
	rootCmd.AddCommand(checkCmd)

	decodeCmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode every document of a data file",
		RunE:  runDecode,
	}
	addRunFlags(decodeCmd)
	decodeCmd.Flags().String("mode", "", "Decode mode: greedy, oracle or exhaustive")
	rootCmd.AddCommand(decodeCmd)

	trainCmd := &cobra.Command{
		Use:   "train",
		Short: "Train a perceptron over a data file with gold labels",
		RunE:  runTrain,
	}
	addRunFlags(trainCmd)
	trainCmd.Flags().Int("epochs", 0, "Passes over the data")
	trainCmd.Flags().Float64("rate", 0, "Perceptron learning rate")
	trainCmd.Flags().Int("top", 10, "Print this many heaviest features after training")
	rootCmd.AddCommand(trainCmd)

	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded decode runs",
		RunE:  runRuns,
	}
	runsCmd.Flags().String("doc", "", "Only runs of this document")
	runsCmd.Flags().String("run-mode", "", "Only runs in this mode")
	runsCmd.Flags().Int("limit", 50, "Maximum runs to list")
	runsCmd.Flags().Bool("json", false, "Print runs as JSON lines")
	runsCmd.Flags().String("store-driver", "", "Run store: memory, sqlite or badger")
	runsCmd.Flags().String("store-path", "", "Run store location")
	rootCmd.AddCommand(runsCmd)

	return rootCmd
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("grammar", "", "Grammar file")
	cmd.Flags().String("data", "", "Relation data file")
	cmd.Flags().String("output", "", "Append decoded facts to this file")
	cmd.Flags().Int("budget", 0, "Commit budget per document")
	cmd.Flags().Float64("threshold", 0, "Prune candidates scoring at or below this")
	cmd.Flags().Int("workers", 0, "Documents decoded concurrently")
	cmd.Flags().Bool("dedup", false, "Drop repeated lines within a document")
	cmd.Flags().String("store-driver", "", "Run store: memory, sqlite or badger")
	cmd.Flags().String("store-path", "", "Run store location")
}

// loadConfig reads --config (or the defaults) and applies any flags the
// user set explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}

	fs := cmd.Flags()
	str := func(name string, dst *string) {
		if fs.Lookup(name) != nil && fs.Changed(name) {
			*dst, _ = fs.GetString(name)
		}
	}
	num := func(name string, dst *int) {
		if fs.Lookup(name) != nil && fs.Changed(name) {
			*dst, _ = fs.GetInt(name)
		}
	}
	str("grammar", &cfg.Grammar)
	str("data", &cfg.Data)
	str("output", &cfg.Output)
	str("mode", &cfg.Mode)
	str("log-level", &cfg.Log.Level)
	str("log-format", &cfg.Log.Format)
	str("store-driver", &cfg.Store.Driver)
	str("store-path", &cfg.Store.Path)
	num("budget", &cfg.Budget)
	num("workers", &cfg.Workers)
	num("epochs", &cfg.Epochs)
	if fs.Lookup("threshold") != nil && fs.Changed("threshold") {
		v, _ := fs.GetFloat64("threshold")
		cfg.Threshold = &v
	}
	if fs.Lookup("rate") != nil && fs.Changed("rate") {
		cfg.LearningRate, _ = fs.GetFloat64("rate")
	}
	if fs.Lookup("dedup") != nil && fs.Changed("dedup") {
		cfg.Dedup, _ = fs.GetBool("dedup")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openStore(ctx context.Context, cfg config.Store, log *slog.Logger) (runstore.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return sqlite.OpenSQLite(ctx, cfg.Path)
	case "badger":
		return badgerstore.Open(badgerstore.Config{Path: cfg.Path, SyncWrites: true, Logger: log})
	default:
		return memstore.New(), nil
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

// serveMetrics exposes /metrics until ctx ends. It does nothing when addr
// is empty.
func serveMetrics(ctx context.Context, addr string, log *slog.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
}
