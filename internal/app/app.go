package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/florianilch/ticketbridge/internal/httpapi"
)

// App orchestrates the lifecycle of the HTTP API and related services.
type App struct {
	cfg    *Config
	comps  *components
	server *httpapi.Server
}

// New creates a new App instance.
func New(cfg *Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	comps, err := newComponents(cfg)
	if err != nil {
		return nil, err
	}

	server, err := httpapi.New(comps.service)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to create http api: %w", err), comps.dbs.Close())
	}

	return &App{
		cfg:    cfg,
		comps:  comps,
		server: server,
	}, nil
}

// OpenService builds the server-side service for one-shot use outside of the
// HTTP server. The returned func releases the databases it opened.
func OpenService(cfg *Config) (*Service, func() error, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	comps, err := newComponents(cfg)
	if err != nil {
		return nil, nil, err
	}
	return comps.service, comps.dbs.Close, nil
}

// Start starts all services and blocks until shutdown is triggered.
// Uses errgroup for runtime error monitoring and shutdown function collection for coordinated cleanup.
func (a *App) Start(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	address := a.cfg.Server.Host + ":" + strconv.FormatUint(uint64(a.cfg.Server.Port), 10)
	shutdownFuncs := []func(context.Context) error{
		func(context.Context) error { return a.comps.dbs.Close() },
	}

	// Startup phase: Start services
	slog.InfoContext(gCtx, "starting http api", "address", address)
	serverErrCh, err := a.server.Start(gCtx, address)
	if err != nil {
		return errors.Join(fmt.Errorf("http api startup failed: %w", err), a.comps.dbs.Close())
	}
	shutdownFuncs = append(shutdownFuncs, a.server.Shutdown)

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-serverErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "http api runtime error", "error", err)
				return fmt.Errorf("http api: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	if a.cfg.Cache.Watch {
		g.Go(func() error {
			if err := a.comps.cache.Watch(gCtx); err != nil {
				return fmt.Errorf("cache watch: %w", err)
			}
			return nil
		})
	}

	slog.InfoContext(gCtx, "application ready", "address", address)

	runtimeErr := g.Wait()

	slog.InfoContext(gCtx, "shutting down services")

	// Shutdown phase: Stop all services
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Timeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}
