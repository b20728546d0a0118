package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/miyamo2/mcp-weather/internal/config"
	"github.com/miyamo2/mcp-weather/internal/logging"
	"github.com/miyamo2/mcp-weather/internal/metrics"
	"github.com/miyamo2/mcp-weather/internal/server"
	"github.com/miyamo2/mcp-weather/internal/tracing"
)

// Version information, set at build time.
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const (
	metricsReadHeaderTimeout = 10 * time.Second
	shutdownTimeout          = 10 * time.Second
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.New()
	cmd := &cobra.Command{
		Use:   "mcp-weather",
		Short: "Weather MCP server over HTTP+SSE",
		Long: `mcp-weather serves the get-alerts and get-forecast tools of the
National Weather Service API to MCP clients, behind Entra ID authentication.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, v)
		},
	}

	cmd.Flags().BoolP("version", "v", false, "Show version information")
	cmd.Flags().String("env-file", config.DefaultEnvFile, "Path to a dotenv file read before the environment")
	cmd.Flags().Int("port", 0, "Port to listen on (env PORT)")
	cmd.Flags().String("log-level", "", "Log level: debug, info, warn, error (env LOG_LEVEL)")
	cmd.Flags().String("metrics-addr", "", "Address of the Prometheus listener, disabled when empty (env METRICS_ADDR)")
	for key, flag := range map[string]string{
		config.KeyPort:        "port",
		config.KeyLogLevel:    "log-level",
		config.KeyMetricsAddr: "metrics-addr",
	} {
		// only a changed flag overrides the environment
		v.BindPFlag(key, cmd.Flags().Lookup(flag))
	}
	return cmd
}

func run(cmd *cobra.Command, v *viper.Viper) error {
	if showVersion, _ := cmd.Flags().GetBool("version"); showVersion {
		fmt.Fprintf(cmd.OutOrStdout(), "mcp-weather\nVersion: %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		return nil
	}

	envFile, err := cmd.Flags().GetString("env-file")
	if err != nil {
		return fmt.Errorf("failed to get env-file flag: %w", err)
	}
	cfg, err := config.Load(v, envFile)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logging.Sync(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracer, err := tracing.Setup(ctx, cfg.TracingExporter, cfg.TracingOTLPEndpoint, Version, logger.Named("tracing"))
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	registry := metrics.NewRegistry()
	srv, err := server.New(ctx, cfg,
		server.WithVersion(Version),
		server.WithLogger(logger),
		server.WithMetrics(registry),
		server.WithTracer(tracer))
	if err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		metricsServer := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           registry.Handler(),
			ReadHeaderTimeout: metricsReadHeaderTimeout,
		}
		go func() {
			logger.Info("starting metrics server", zap.String("addr", cfg.MetricsAddr))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", zap.Error(err))
			}
		}()
		defer metricsServer.Close()
	}

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Addr(), err)
	}
	logger.Info("starting mcp-weather",
		zap.String("version", Version),
		zap.Int("port", cfg.Port),
		zap.Bool("role_check_lenient", cfg.RoleCheckLenient))
	if err := srv.Serve(ctx, ln); err != nil {
		return err
	}
	logger.Info("mcp-weather shutdown complete")
	return nil
}
