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

	"persona/backend/internal/repository"
	"persona/backend/pkg/config"
	"persona/backend/pkg/di"
	"persona/backend/pkg/logger"
	"persona/backend/pkg/router"
	"persona/backend/pkg/scheduler"
	"persona/backend/shared/observability"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type serveFlags struct {
	migrate bool
}

func init() {
	f := &serveFlags{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the gRPC health service and the background jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), f)
		},
	}
	cmd.Flags().BoolVar(&f.migrate, "migrate", true, "migrate the schema before serving")
	rootCmd.AddCommand(cmd)
}

func runServe(parent context.Context, f *serveFlags) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, log, vault, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	log.Info("Starting application", "version", os.Getenv("APP_VERSION"), "env", cfg.Server.Env)
	go vault.Run(ctx)

	shutdownTracing, err := observability.SetupTracing(cfg.Observability.ServiceName, cfg.Observability.TracingEnabled, os.Stdout)
	if err != nil {
		return err
	}
	shutdownMetrics, err := observability.SetupMetrics(cfg.Observability.ServiceName)
	if err != nil {
		return err
	}

	db, err := config.NewDB(cfg, log)
	if err != nil {
		return err
	}
	if f.migrate {
		if err := repository.Migrate(db); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	container, err := di.New(ctx, cfg, db, log)
	if err != nil {
		return fmt.Errorf("failed to initialize dependency container: %w", err)
	}
	defer func() {
		if err := container.Close(); err != nil {
			log.LogError(err, "Failed to close connections")
		}
	}()
	container.Run(ctx)

	jobs, err := scheduler.New(ctx, log)
	if err != nil {
		return err
	}
	if err := jobs.Every("image-reaper", cfg.Services.ImageReapInterval, func(ctx context.Context) error {
		_, err := container.ImageService.ReapStale(ctx)
		return err
	}); err != nil {
		return err
	}
	jobs.Start()

	r := router.New(container)
	r.SetupRoutes()

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r.Engine,
		ReadHeaderTimeout: cfg.Server.Timeout,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("Server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	grpcServer := startGRPCHealth(cfg, container, log, errCh)

	serveErr := waitForShutdown(ctx, errCh, log)
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.LogError(err, "Server forced to shutdown")
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	if err := jobs.Stop(); err != nil {
		log.LogError(err, "Scheduler did not stop cleanly")
	}
	if err := observability.Shutdown(shutdownCtx, shutdownTracing, shutdownMetrics); err != nil {
		log.LogError(err, "Telemetry did not flush")
	}

	if serveErr != nil {
		return serveErr
	}
	log.Info("Server exited gracefully")
	return nil
}

// waitForShutdown blocks until ctx is cancelled or a server fails, and
// returns the failure so the process exits non-zero
func waitForShutdown(ctx context.Context, errCh <-chan error, log *logger.Logger) error {
	select {
	case <-ctx.Done():
		log.Info("Shutting down server...")
		return nil
	case err := <-errCh:
		log.LogError(err, "Server failed")
		return err
	}
}

// startGRPCHealth serves grpc.health.v1 on GRPC_PORT, mirroring the HTTP
// health checks. It returns nil when no port is configured.
func startGRPCHealth(cfg *config.Config, container *di.Container, log *logger.Logger, errCh chan<- error) *grpc.Server {
	if cfg.Server.GRPCPort == "" {
		return nil
	}

	hs := grpchealth.NewServer()
	container.Health.ReportTo(hs)

	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)

	go func() {
		lis, err := net.Listen("tcp", ":"+cfg.Server.GRPCPort)
		if err != nil {
			errCh <- fmt.Errorf("grpc listen: %w", err)
			return
		}
		log.Info("gRPC health service starting", "port", cfg.Server.GRPCPort)
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	return grpcServer
}
