package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/achouhan93/ClusterTalk/app"
	"github.com/achouhan93/ClusterTalk/config"
	"github.com/achouhan93/ClusterTalk/internal/observability"
	"github.com/achouhan93/ClusterTalk/routes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.New(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("clustertalk exited with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func initLogger(cfg *config.Config) (*zap.Logger, error) {
	return observability.NewLogger(observability.LoggerConfig{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
		Dir:    cfg.Observability.LogPath,
	})
}

// run wires the application and blocks until ctx is cancelled or a server fails.
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting clustertalk",
		zap.String("environment", cfg.Environment),
		zap.String("profile", cfg.Models.Active),
		zap.String("search_backend", cfg.Retrieval.Backend))
	if cfg.IsProduction() && !cfg.Auth.Enabled {
		logger.Warn("authentication is disabled in production")
	}

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName: cfg.Observability.ServiceName,
		Endpoint:    cfg.Observability.TracingEndpoint,
		SampleRate:  cfg.Observability.TracingSampleRate,
		Enabled:     cfg.Observability.TracingEnabled,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	metrics := observability.NewMetrics()

	deps, err := app.NewDependencies(ctx, cfg, metrics, logger)
	if err != nil {
		_ = shutdownTracing(context.Background())
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}

	servers := []*http.Server{
		newHTTPServer(cfg.Server.Host, cfg.Server.Port, routes.SetupRoutes(deps), cfg.Server),
	}
	if cfg.Observability.MetricsEnabled {
		servers = append(servers, newHTTPServer(cfg.Server.Host, cfg.Observability.MetricsPort, metrics.Handler(), cfg.Server))
	}

	serveErr := serve(ctx, servers, cfg.Server.ShutdownTimeout, logger)

	// Servers have stopped accepting work; drain the pipeline before
	// releasing backends.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if serveErr != nil {
		errs = append(errs, serveErr)
	}
	if err := deps.Close(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("failed to close dependencies: %w", err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("failed to shut down tracing: %w", err))
	}

	logger.Info("clustertalk stopped")
	return errors.Join(errs...)
}

func newHTTPServer(host string, port int, handler http.Handler, cfg config.ServerConfig) *http.Server {
	return &http.Server{
		Addr:              net.JoinHostPort(host, strconv.Itoa(port)),
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}
}

// serve runs every server until ctx is done, then shuts them all down.
// The first server that fails stops the others.
func serve(ctx context.Context, servers []*http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, srv := range servers {
		g.Go(func() error {
			logger.Info("server listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server %s: %w", srv.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("server %s shutdown: %w", srv.Addr, err))
			}
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}
