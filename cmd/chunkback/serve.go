package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/yungtweek/chunkback/internal/cache"
	"github.com/yungtweek/chunkback/internal/config"
	"github.com/yungtweek/chunkback/internal/grpc"
	"github.com/yungtweek/chunkback/internal/httpapi"
	"github.com/yungtweek/chunkback/internal/logger"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP (and optional gRPC) server",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if err := logger.Init(cfg.Profile, cfg.LogLevel); err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync()

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	correlations := cache.NewCorrelations(store, cfg.CacheTTL)
	defer func() {
		if err := correlations.Close(); err != nil {
			logger.Log.Warnw("[chunkback] cache close", "err", err)
		}
	}()

	logger.Log.Infow(
		"starting chunkback",
		"port", cfg.Port,
		"grpcPort", cfg.GRPCPort,
		"profile", cfg.Profile,
		"preset", cfg.Preset,
		"bypassAuth", cfg.BypassAuth,
		"defaultChunkSize", cfg.DefaultChunkSize,
		"defaultChunkLatencyMs", cfg.DefaultChunkLatencyMs,
		"followUpChunkSize", cfg.FollowUpChunkSize,
		"followUpLatencyMs", cfg.FollowUpLatencyMs,
		"cacheBackend", cfg.CacheBackend,
		"cacheTTL", cfg.CacheTTL,
		"strictParse", cfg.StrictParse,
		"errorRate", cfg.ErrorRate,
		"errorMode", cfg.ErrorMode,
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpSrv := httpapi.New(cfg, correlations)
	var grpcSrv *grpc.Server
	if cfg.GRPCPort > 0 {
		grpcSrv = grpc.NewGRPCServer(fmt.Sprintf(":%d", cfg.GRPCPort), grpc.NewScriptService(cfg, correlations))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(httpSrv.Run)
	if grpcSrv != nil {
		g.Go(grpcSrv.Run)
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Log.Info("[chunkback] shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if grpcSrv != nil {
			grpcSrv.GracefulStop()
		}
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Log.Errorw("[chunkback] server error", "err", err)
		return err
	}
	return nil
}

// openStore builds the correlation backend selected by the config.
func openStore(cfg config.Config) (cache.Store, error) {
	switch cfg.CacheBackend {
	case "sqlite":
		s, err := cache.NewSQLiteStore(cfg.CacheDSN, cfg.CachePurgeSchedule)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "memory", "":
		return cache.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}
}
