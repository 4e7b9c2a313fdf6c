// Package gateway wires the detector, resolver, translator, forwarder, usage
// collector, and telemetry sink into the inbound HTTP surface, following the
// teacher's Gateway/router/middleware shape.
package gateway

import (
	"log/slog"
	"os"

	"github.com/nulpointcorp/inference-gateway/internal/forwarder"
	"github.com/nulpointcorp/inference-gateway/internal/logger"
	"github.com/nulpointcorp/inference-gateway/internal/metrics"
	"github.com/nulpointcorp/inference-gateway/internal/resolver"
	"github.com/nulpointcorp/inference-gateway/internal/telemetry"
)

// Options configures a Gateway. Resolver, Forwarder, and Telemetry are
// required; Metrics, Logger, AccessLog, and CORSOrigins fall back to sane
// defaults (AccessLog nil disables the async per-request access log).
type Options struct {
	Resolver  *resolver.Resolver
	Forwarder *forwarder.Forwarder
	Telemetry *telemetry.Sink
	Metrics   *metrics.Registry
	Logger    *slog.Logger
	AccessLog *logger.Logger

	CORSOrigins []string
}

// Gateway holds every collaborator the request pipeline needs and exposes
// the fasthttp handlers that use them.
type Gateway struct {
	resolver  *resolver.Resolver
	forwarder *forwarder.Forwarder
	telemetry *telemetry.Sink
	metrics   *metrics.Registry
	log       *slog.Logger
	accessLog *logger.Logger

	corsOrigins []string
}

// New builds a Gateway from Options.
func New(opts Options) *Gateway {
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	l := opts.Logger
	if l == nil {
		l = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}

	return &Gateway{
		resolver:    opts.Resolver,
		forwarder:   opts.Forwarder,
		telemetry:   opts.Telemetry,
		metrics:     m,
		log:         l,
		accessLog:   opts.AccessLog,
		corsOrigins: opts.CORSOrigins,
	}
}
