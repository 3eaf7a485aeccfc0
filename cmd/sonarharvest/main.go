package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sonarharvest/config"
	"sonarharvest/db"
	"sonarharvest/logger"
	"sonarharvest/service"
)

var (
	configFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "sonarharvest",
	Short:         "Harvest code smells from a static-analysis service and summarize them.",
	SilenceErrors: true,
	SilenceUsage:  true,
	Run: func(cmd *cobra.Command, _ []string) {
		_ = cmd.Help()
	},
}

// loadConfig reads the configuration and initializes logging.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.NewConfig()
	if err := cfg.Load(configFile); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if err := logger.Initialize(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

// withService opens the service for the duration of run.
func withService(cfg *config.Config, run func(*service.Service) error) error {
	svc, err := service.NewService(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Error("Error during service shutdown", zap.Error(err))
		}
	}()
	return run(svc)
}

// serveMetrics exposes the Prometheus handler on addr until ctx is done.
func serveMetrics(ctx context.Context, addr string, handler http.Handler) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("Serving metrics", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server stopped", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}

func newHarvestCmd() *cobra.Command {
	var (
		reset       bool
		concurrency int
		format      string
		output      string
		parquetFile string
	)

	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Harvest issues and metrics for every selected repository, then summarize.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("concurrency") {
				cfg.Concurrency = concurrency
			}
			if flags.Changed("format") {
				cfg.SummaryFormat = format
			}
			if flags.Changed("output") {
				cfg.SummaryFile = output
			}
			if flags.Changed("parquet") {
				cfg.ParquetFile = parquetFile
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return withService(cfg, func(svc *service.Service) error {
				if cfg.MetricsAddr != "" {
					serveMetrics(ctx, cfg.MetricsAddr, svc.MetricsHandler())
				}
				summary, err := svc.Harvest(ctx, reset)
				if err != nil {
					return err
				}
				logger.Info("Harvest complete",
					zap.Int("repositories", summary.Repositories),
					zap.Int("issues", summary.TotalIssues),
					zap.Int("failures", len(summary.Failures)))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&reset, "reset", false, "clear the crawl ledger and harvest every repository again")
	cmd.Flags().IntVar(&concurrency, "concurrency", 1, "repositories harvested at once")
	cmd.Flags().StringVar(&format, "format", "json", "summary format: json, yaml or text")
	cmd.Flags().StringVarP(&output, "output", "o", "", "summary file (stdout when empty)")
	cmd.Flags().StringVar(&parquetFile, "parquet", "", "write the issue table as Parquet to this file")
	return cmd
}

func newAnalyzeCmd() *cobra.Command {
	var (
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Summarize previously harvested data without contacting the service.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("format") {
				cfg.SummaryFormat = format
			}
			if cmd.Flags().Changed("output") {
				cfg.SummaryFile = output
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return withService(cfg, func(svc *service.Service) error {
				_, err := svc.Analyze(cmd.Context())
				return err
			})
		},
	}

	cmd.Flags().StringVar(&format, "format", "json", "summary format: json, yaml or text")
	cmd.Flags().StringVarP(&output, "output", "o", "", "summary file (stdout when empty)")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	var version int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Migrate the database schema (latest by default, 0 to roll back everything).",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			result, err := db.Migrate(cfg.DatabaseOptions(), version)
			if err != nil {
				return err
			}
			if !result.Changed {
				fmt.Fprintf(cmd.OutOrStdout(), "schema already at version %d\n", result.To)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrated schema from version %d to %d\n", result.From, result.To)
			return nil
		},
	}

	cmd.Flags().IntVar(&version, "version", db.LatestVersion, "target schema version")
	return cmd
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "configuration file (.env, yaml or json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
	rootCmd.AddCommand(newHarvestCmd(), newAnalyzeCmd(), newMigrateCmd())

	defer logger.Sync()
	if err := rootCmd.Execute(); err != nil {
		logger.Sync()
		log.Fatalf("sonarharvest: %v", err)
	}
}
