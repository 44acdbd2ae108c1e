package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/airbridge/internal/pipeline"
	"github.com/ajitpratap0/airbridge/pkg/config"
	"github.com/ajitpratap0/airbridge/pkg/errors"
	"github.com/ajitpratap0/airbridge/pkg/loader"
	"github.com/ajitpratap0/airbridge/pkg/logger"
	"github.com/ajitpratap0/airbridge/pkg/metrics"
	"github.com/ajitpratap0/airbridge/pkg/observability"
)

var version = "0.1.0"

// globalFlags are shared by every command
type globalFlags struct {
	LogLevel    string
	LogFormat   string
	MetricsAddr string
	Trace       bool
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	var flags globalFlags
	root := &cobra.Command{
		Use:   "airbridge",
		Short: "airbridge - sync Airtable bases with a SQL warehouse",
		Long: `airbridge copies Airtable tables into warehouse tables with an atomic cutover,
and sends the rows of warehouse tables back to an Airtable table.

Credentials are read from the environment (or a .env file): AIRTABLE_API_KEY,
WAREHOUSE_DRIVER, WAREHOUSE_DSN and the SNOWFLAKE_* variables.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flags.LogFormat, "log-format", "json", "Log encoding (json, console)")
	root.PersistentFlags().StringVar(&flags.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	root.PersistentFlags().BoolVar(&flags.Trace, "trace", false, "Export trace spans to stderr")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("airbridge v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	var baseID, tableName, destination string
	var chunkSize int
	loadCmd := &cobra.Command{
		Use:   "load",
		Short: "Load an Airtable table into the warehouse",
		Long: `Load reads every record of an Airtable table into a staging table and then swaps
it with the destination, so readers never see a partial table.

Example:
  airbridge load --base-id appXXXX --table-name Projects --destination analytics.raw.projects`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), flags, func(ctx context.Context, log *zap.Logger) error {
				cfg := loader.DefaultConfig()
				if chunkSize > 0 {
					cfg.ChunkSize = chunkSize
				}
				return runLoad(ctx, log, baseID, pipeline.LoadOptions{
					TableName:   tableName,
					Destination: destination,
					Loader:      cfg,
				})
			})
		},
	}
	loadCmd.Flags().StringVar(&baseID, "base-id", "", "Airtable base id (required)")
	loadCmd.Flags().StringVar(&tableName, "table-name", "", "Airtable table name (required)")
	loadCmd.Flags().StringVar(&destination, "destination", "", "Destination table as [database.]schema.table (required)")
	loadCmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "Records buffered per insert pass (default 5000)")
	_ = loadCmd.MarkFlagRequired("base-id")
	_ = loadCmd.MarkFlagRequired("table-name")
	_ = loadCmd.MarkFlagRequired("destination")
	root.AddCommand(loadCmd)

	var configFile string
	var maxWorkers int
	sendCmd := &cobra.Command{
		Use:   "send",
		Short: "Send warehouse tables to an Airtable table",
		Long: `Send queries the configured warehouse tables concurrently and writes their rows to
one Airtable table, one table at a time.

Example:
  airbridge send --config-file send.yaml --max-workers 4`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), flags, func(ctx context.Context, log *zap.Logger) error {
				return runSend(ctx, log, configFile, maxWorkers)
			})
		},
	}
	sendCmd.Flags().StringVar(&configFile, "config-file", "", "Path to the send YAML config (required)")
	sendCmd.Flags().IntVar(&maxWorkers, "max-workers", 0, "Maximum concurrent warehouse queries (default one per table)")
	_ = sendCmd.MarkFlagRequired("config-file")
	root.AddCommand(sendCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// withRuntime sets up logging, tracing and the metrics endpoint around fn.
func withRuntime(ctx context.Context, flags globalFlags, fn func(ctx context.Context, log *zap.Logger) error) error {
	if err := logger.Init(logger.Config{Level: flags.LogLevel, Encoding: flags.LogFormat}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Get().With(zap.String("component", "airbridge-cli"))

	if flags.Trace {
		if err := observability.InitTracing(observability.DefaultTracingConfig(version)); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := observability.Shutdown(shutdownCtx); err != nil {
				log.Warn("failed to flush traces", zap.Error(err))
			}
		}()
	}

	if flags.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              flags.MetricsAddr,
			Handler:           metricsMux(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		log.Info("serving metrics", zap.String("addr", flags.MetricsAddr))
	}

	if err := fn(ctx, log); err != nil {
		log.Error("run failed", errors.Fields(err)...)
		return err
	}
	return nil
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func runLoad(ctx context.Context, log *zap.Logger, baseID string, opts pipeline.LoadOptions) error {
	creds, err := config.LoadCredentials(nil)
	if err != nil {
		return err
	}
	env, err := pipeline.Connect(ctx, creds, baseID, log)
	if err != nil {
		return err
	}
	defer env.Close()

	_, err = pipeline.RunLoad(ctx, env, opts, log)
	return err
}

func runSend(ctx context.Context, log *zap.Logger, configFile string, maxWorkers int) error {
	cfg, err := config.LoadSendConfig(configFile)
	if err != nil {
		return err
	}
	creds, err := config.LoadCredentials(nil)
	if err != nil {
		return err
	}
	env, err := pipeline.Connect(ctx, creds, cfg.AirtableBaseID, log)
	if err != nil {
		return err
	}
	defer env.Close()

	return pipeline.RunSend(ctx, env, cfg, maxWorkers, log)
}
