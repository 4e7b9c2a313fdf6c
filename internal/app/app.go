// Package app wires up all subsystems and owns the application lifecycle.
//
// Startup order:
//  1. initInfra     — external connections (Redis when cache.type=redis)
//  2. initServices  — route cache backend, metrics registry, access logger
//  3. initGateway   — resolver, forwarder, telemetry sink, and the fasthttp
//     request pipeline that ties them together
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/nulpointcorp/inference-gateway/internal/config"
	"github.com/nulpointcorp/inference-gateway/internal/gateway"
	"github.com/nulpointcorp/inference-gateway/internal/logger"
	"github.com/nulpointcorp/inference-gateway/internal/metrics"
	"github.com/nulpointcorp/inference-gateway/internal/resolver"
	"github.com/nulpointcorp/inference-gateway/internal/routecache"
	"github.com/nulpointcorp/inference-gateway/internal/telemetry"
)

// App owns all long-lived resources and exposes Run / Close.
type App struct {
	version string
	cfg     *config.Config
	baseCtx context.Context
	log     *slog.Logger

	// Optional external connections — nil when not configured.
	rdb *redis.Client

	cache     routecache.Cache
	resolver  *resolver.Resolver
	telemetry *telemetry.Sink
	chMirror  *telemetry.ClickHouseWriter
	accessLog *logger.Logger
	prom      *metrics.Registry

	gw *gateway.Gateway
}

// New initialises all subsystems and returns a ready-to-run App.
// All resources allocated here are released by Close.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, version string) (*App, error) {
	if ctx == nil {
		return nil, fmt.Errorf("app: context must not be nil")
	}

	a := &App{cfg: cfg, version: version, baseCtx: ctx, log: log}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"infra", a.initInfra},
		{"services", a.initServices},
		{"gateway", a.initGateway},
	}

	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("app: init %s: %w", s.name, err)
		}
	}

	return a, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled or an error
// occurs. It closes the app gracefully when returning.
func (a *App) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port)

	a.log.Info("starting gateway",
		slog.String("version", a.version),
		slog.String("addr", addr),
		slog.String("cache_type", a.cfg.Cache.Type),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.gw.Start(addr)
	})

	g.Go(func() error {
		<-gctx.Done()
		a.Close()
		return nil
	})

	return g.Wait()
}

// Close releases all resources in reverse-init order. Safe to call multiple
// times; calls must not run concurrently.
func (a *App) Close() {
	if a.accessLog != nil {
		if err := a.accessLog.Close(); err != nil {
			a.log.Error("access logger close error", slog.String("error", err.Error()))
		}
		a.accessLog = nil
	}
	if a.telemetry != nil {
		if err := a.telemetry.Close(); err != nil {
			a.log.Error("telemetry sink close error", slog.String("error", err.Error()))
		}
		a.telemetry = nil
	}
	if a.chMirror != nil {
		if err := a.chMirror.Close(); err != nil {
			a.log.Error("clickhouse mirror close error", slog.String("error", err.Error()))
		}
		a.chMirror = nil
	}
	if mc, ok := a.cache.(*routecache.ShardedMemoryCache); ok && mc != nil {
		mc.Close()
		a.cache = nil
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Error("redis close error", slog.String("error", err.Error()))
		}
		a.rdb = nil
	}
}
