// Package server provides the service lifecycle runner: signal handling,
// config loading, observability init, the chi router with health checks, and
// graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/hur-delivery/otpauth/internal/config"
	"github.com/hur-delivery/otpauth/internal/domain"
	"github.com/hur-delivery/otpauth/internal/observability"
)

// Version is reported on telemetry resources; overridden at build time.
var Version = "0.1.0"

// Deps is what the runner hands to a service's Setup hook.
type Deps struct {
	Config *config.Config
	Logger *slog.Logger
	Router chi.Router
}

// Cleanup releases resources acquired in Setup. It runs after the HTTP
// server has drained.
type Cleanup func(ctx context.Context) error

// Params configures a service's lifecycle runner.
type Params struct {
	// Name identifies the service in logs and telemetry.
	Name string

	// Setup builds the service's dependencies and mounts its routes on
	// d.Router. Nil mounts nothing besides /healthz.
	Setup func(ctx context.Context, d Deps) (Cleanup, error)
}

// Run executes the full service lifecycle. If ln is non-nil, it is used
// instead of creating a new listener from config (enables port-0 testing).
func Run(ctx context.Context, p Params, ln net.Listener) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.InitLogger(observability.LogConfig{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		ServiceName: p.Name,
		Environment: cfg.Environment,
	})

	// --- Startup order: telemetry -> service setup -> HTTP server ---

	otelProviders, err := observability.InitOTEL(ctx, observability.OTELConfig{
		ServiceName:    p.Name,
		ServiceVersion: Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTEL.Endpoint,
	})
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}

	var shuttingDown atomic.Bool

	router := chi.NewRouter()
	router.Use(middleware.RequestID, middleware.RealIP, observability.HTTPMiddleware(logger))
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if shuttingDown.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, `{"status":"shutting_down","service":%q}`, p.Name)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy","service":%q}`, p.Name)
	})

	var cleanup Cleanup
	if p.Setup != nil {
		cleanup, err = p.Setup(ctx, Deps{Config: cfg, Logger: logger, Router: router})
		if err != nil {
			return errors.Join(fmt.Errorf("setup %s: %w", p.Name, err), shutdownOTEL(otelProviders))
		}
	}

	if ln == nil {
		ln, err = (&net.ListenConfig{}).Listen(ctx, "tcp", fmt.Sprintf(":%d", cfg.HTTP.Port))
		if err != nil {
			return errors.Join(fmt.Errorf("listen: %w", err), runCleanup(cleanup), shutdownOTEL(otelProviders))
		}
	}

	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: domain.HTTPReadHeaderTimeout,
		WriteTimeout:      domain.HTTPWriteTimeout,
		IdleTimeout:       domain.HTTPIdleTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting HTTP server",
			slog.String("addr", ln.Addr().String()),
			slog.String("environment", cfg.Environment),
		)
		if serveErr := srv.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			return serveErr
		}
		return nil
	})

	// Shutdown order is the reverse of startup: HTTP server -> service -> telemetry.
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("received shutdown signal, starting graceful shutdown")

		shuttingDown.Store(true)
		time.Sleep(domain.ShutdownDrainDelay)

		httpCtx, httpCancel := context.WithTimeout(context.Background(), domain.ShutdownHTTPTimeout)
		defer httpCancel()
		if shutdownErr := srv.Shutdown(httpCtx); shutdownErr != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", shutdownErr.Error()))
		}

		if cleanupErr := runCleanup(cleanup); cleanupErr != nil {
			logger.Error("service cleanup error", slog.String("error", cleanupErr.Error()))
		}

		if shutdownErr := shutdownOTEL(otelProviders); shutdownErr != nil {
			logger.Error("failed to shutdown telemetry", slog.String("error", shutdownErr.Error()))
		}

		logger.Info("shutdown complete")
		return nil
	})

	return g.Wait()
}

func runCleanup(c Cleanup) error {
	if c == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), domain.ShutdownCleanupTimeout)
	defer cancel()
	return c(ctx)
}

func shutdownOTEL(p *observability.Providers) error {
	ctx, cancel := context.WithTimeout(context.Background(), domain.ShutdownOTELTimeout)
	defer cancel()
	return p.Shutdown(ctx)
}
