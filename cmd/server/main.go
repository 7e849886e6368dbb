package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nickyhof/CommitQuery"
	"github.com/nickyhof/CommitQuery/db"
	"github.com/nickyhof/CommitQuery/logger"
	"github.com/nickyhof/CommitQuery/ps"
)

// Version is set at build time via -ldflags
var Version = "dev"

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// NewRootCommand builds the server command.
func NewRootCommand() *cobra.Command {
	command := &cobra.Command{
		Use:           "commitquery-server",
		Short:         "Serve SQL over projects with on-demand materialized views",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig()
			if err != nil {
				return err
			}
			return run(cmd.Context(), config)
		},
	}

	setupViper()
	bindFlags(command)
	return command
}

func openPersistence(config Config) (*ps.Persistence, error) {
	if config.BaseDir == "" {
		return ps.NewMemoryPersistence()
	}
	var remote *ps.RemoteConfig
	if config.GitURL != "" {
		remote = &ps.RemoteConfig{URL: config.GitURL}
		if config.GitToken != "" {
			remote.Auth = &ps.RemoteAuth{Type: ps.AuthTypeToken, Token: config.GitToken}
		}
	}
	return ps.NewFilePersistence(config.BaseDir, remote)
}

// openInstance wires the metadata store, the engine and the optional S3 table
// store into an instance whose project schemas exist.
func openInstance(ctx context.Context, config Config, log logger.Logger) (*CommitQuery.Instance, error) {
	persistence, err := openPersistence(config)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}

	engine, err := db.NewEngine(config.DuckDBPath, db.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("failed to open engine: %w", err)
	}

	if config.S3.Bucket != "" {
		store, err := db.NewS3TableStore(ctx, config.S3)
		if err != nil {
			engine.Close()
			return nil, err
		}
		if err := engine.AttachTableStore(ctx, store); err != nil {
			engine.Close()
			return nil, err
		}
		log.Info("table store attached", zap.String("bucket", config.S3.Bucket), zap.String("prefix", config.S3.Prefix))
	}

	instance := CommitQuery.Open(persistence, engine,
		CommitQuery.WithLogger(log),
		CommitQuery.WithDefaultLimit(config.DefaultLimit))
	if err := instance.Provision(ctx); err != nil {
		instance.Close()
		return nil, fmt.Errorf("failed to provision projects: %w", err)
	}
	return instance, nil
}

func run(ctx context.Context, config Config) error {
	log, err := logger.NewLogger(config.LogFormat, config.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	instance, err := openInstance(ctx, config, log)
	if err != nil {
		return err
	}
	defer instance.Close()

	server := NewServer(instance, config, log)
	if err := server.Start(config.Addr); err != nil {
		return err
	}

	var metrics *http.Server
	if config.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metrics = &http.Server{Addr: config.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
		log.Info("metrics listening", zap.String("addr", config.MetricsAddr))
	}

	log.Info("CommitQuery server started",
		zap.String("version", Version),
		zap.Bool("auth", config.Auth.Enabled),
		zap.Int64("default_limit", config.DefaultLimit))

	<-ctx.Done()

	log.Info("shutting down")
	if metrics != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		metrics.Shutdown(shutdownCtx)
	}
	server.Stop()
	log.Info("server stopped")
	return nil
}
