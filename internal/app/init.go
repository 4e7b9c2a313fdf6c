package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/nulpointcorp/inference-gateway/internal/forwarder"
	"github.com/nulpointcorp/inference-gateway/internal/gateway"
	"github.com/nulpointcorp/inference-gateway/internal/logger"
	"github.com/nulpointcorp/inference-gateway/internal/metrics"
	"github.com/nulpointcorp/inference-gateway/internal/resolver"
	"github.com/nulpointcorp/inference-gateway/internal/routecache"
	"github.com/nulpointcorp/inference-gateway/internal/telemetry"
)

// initInfra establishes optional external connections. Redis is only
// required when cache.type=redis.
func (a *App) initInfra(ctx context.Context) error {
	if a.cfg.Cache.Type != "redis" {
		return nil
	}

	a.log.Info("connecting to redis", slog.String("url", redactURL(a.cfg.Cache.RedisURL)))

	rdb, err := connectRedis(ctx, a.cfg.Cache.RedisURL)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	a.rdb = rdb
	a.log.Info("redis connected")

	return nil
}

// initServices builds the route cache backend, the Prometheus metrics
// registry, and the async access logger.
func (a *App) initServices(ctx context.Context) error {
	switch a.cfg.Cache.Type {
	case "redis":
		a.cache = routecache.NewRedisCache(a.rdb, a.cfg.Cache.TTL, a.cfg.Cache.MaxLifetime)
		a.log.Info("route cache backend: redis")
	case "memory":
		a.cache = routecache.NewShardedMemoryCache(a.cfg.Cache.TTL, a.cfg.Cache.MaxLifetime)
		a.log.Info("route cache backend: memory (in-process)")
	default:
		return fmt.Errorf("unknown cache type: %s", a.cfg.Cache.Type)
	}

	a.prom = metrics.New()
	a.prom.SetBuildInfo(a.version)

	accessLog, err := logger.New(ctx, a.log)
	if err != nil {
		return fmt.Errorf("access logger: %w", err)
	}
	a.accessLog = accessLog

	return nil
}

// initGateway wires the resolver, forwarder, telemetry sink, and HTTP
// surface together on top of the services initServices built.
func (a *App) initGateway(ctx context.Context) error {
	businessClient := &http.Client{Timeout: a.cfg.BusinessAPI.Timeout}
	a.resolver = resolver.New(a.cache, businessClient, a.cfg.BusinessAPI.BaseURL, a.cfg.BusinessAPI.RetryAttempts, a.log, a.prom)

	fwd := forwarder.New(forwarder.Config{
		Timeout:        a.cfg.Proxy.Timeout,
		MaxConnections: a.cfg.Proxy.MaxConnections,
		KeepAlive:      a.cfg.Proxy.KeepAlive,
	})

	var mirror telemetry.ClickHouseMirror
	if dsn := a.cfg.Telemetry.ClickHouseDSN; dsn != "" {
		writer, err := telemetry.NewClickHouseWriter(dsn, telemetry.DefaultClickHouseTable)
		if err != nil {
			return fmt.Errorf("clickhouse mirror: %w", err)
		}
		a.chMirror = writer
		mirror = writer
		a.log.Info("telemetry mirrored to clickhouse")
	}

	a.telemetry = telemetry.New(a.baseCtx, a.log, a.cfg.BusinessAPI.BaseURL, mirror)

	a.gw = gateway.New(gateway.Options{
		Resolver:  a.resolver,
		Forwarder: fwd,
		Telemetry: a.telemetry,
		Metrics:   a.prom,
		Logger:    a.log,
		AccessLog: a.accessLog,
	})

	return nil
}

// connectRedis parses rawURL, opens a client, and verifies connectivity with
// a Ping before returning.
func connectRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return client, nil
}

// redactURL replaces the userinfo portion of a URL with "***" for safe
// logging, e.g. "redis://:secret@localhost:6379" -> "redis://***@localhost:6379".
func redactURL(raw string) string {
	for i, c := range raw {
		if c == '@' {
			for j := i - 1; j >= 0; j-- {
				if j+2 < len(raw) && raw[j:j+3] == "://" {
					return raw[:j+3] + "***" + raw[i:]
				}
			}
			return "***" + raw[i:]
		}
	}
	return raw
}
