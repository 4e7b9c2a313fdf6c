package gateway

import (
	"bufio"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/inference-gateway/internal/detector"
	"github.com/nulpointcorp/inference-gateway/internal/forwarder"
	"github.com/nulpointcorp/inference-gateway/internal/logger"
	"github.com/nulpointcorp/inference-gateway/internal/models"
	"github.com/nulpointcorp/inference-gateway/internal/translator"
	"github.com/nulpointcorp/inference-gateway/internal/usage"
	"github.com/nulpointcorp/inference-gateway/pkg/apierr"
)

func (g *Gateway) handleChatCompletions(ctx *fasthttp.RequestCtx) { g.handleProxy(ctx, "") }
func (g *Gateway) handleMessages(ctx *fasthttp.RequestCtx)        { g.handleProxy(ctx, "") }
func (g *Gateway) handleResponses(ctx *fasthttp.RequestCtx)       { g.handleProxy(ctx, "/v1/responses") }

// handleProxy is the request pipeline shared by every proxied route:
// authenticate, resolve candidate upstreams, translate, forward with
// failover, and report usage/errors. customPath forces the upstream path
// segment for endpoints (like /v1/responses) whose wire shape still maps
// onto forward_unary/stream's chat-completions semantics.
func (g *Gateway) handleProxy(ctx *fasthttp.RequestCtx, customPath string) {
	route := string(ctx.Path())
	clientProtocol := detector.DetectFromRequest(ctx)
	body := ctx.PostBody()

	token, ok := extractBearerToken(ctx)
	if !ok {
		apierr.Write(ctx, fasthttp.StatusUnauthorized, "missing or malformed Authorization header", apierr.KindProtocol)
		return
	}

	model, ok := extractModel(body)
	if !ok {
		apierr.Write(ctx, fasthttp.StatusBadRequest, "request body must include a model field", apierr.KindProtocol)
		return
	}

	requestID := uuid.New().String()

	configs, err := g.resolver.Resolve(ctx, requestID, token, model)
	if err != nil || len(configs) == 0 {
		g.log.ErrorContext(ctx, "route_resolve_failed", "request_id", requestID, "route", route, "model", model, "error", errString(err))
		apierr.Write(ctx, fasthttp.StatusServiceUnavailable, "no route available for the requested model", apierr.KindRouting)
		return
	}

	headers := headersFromRequest(ctx)

	if detector.IsStreamRequest(body) {
		g.handleStream(ctx, route, requestID, token, model, clientProtocol, configs, body, customPath, headers)
		return
	}
	g.handleUnary(ctx, route, requestID, token, model, clientProtocol, configs, body, customPath, headers)
}

// handleUnary implements the non-streaming half of spec §4.8: iterate
// candidates in order, translating the request into each candidate's
// protocol and the response back into the client's, failing over on
// transport errors and upstream 5xx, stopping and surfacing upstream 4xx
// verbatim, and reporting usage or errors as each attempt resolves.
func (g *Gateway) handleUnary(ctx *fasthttp.RequestCtx, route, requestID, token, model string, clientProtocol models.Protocol, configs []models.RouteConfig, body []byte, customPath string, headers http.Header) {
	start := time.Now()
	for _, cfg := range configs {
		reqBody, err := translator.TranslateRequest(body, clientProtocol, cfg.Protocol, cfg.Model)
		if err != nil {
			g.log.WarnContext(ctx, "request_translation_failed", "route", route, "endpoint", cfg.Endpoint, "error", err.Error())
			g.metrics.RecordFailover(route, "translation_error")
			continue
		}

		respBody, err := g.forwarder.ForwardUnary(ctx, cfg, cfg.Protocol, reqBody, customPath, headers)
		if err != nil {
			if g.failUpstream(ctx, route, token, model, cfg, err) {
				return
			}
			continue
		}

		if len(respBody) == 0 {
			g.metrics.RecordFailover(route, "empty_response")
			continue
		}

		var report usage.Report
		if r, ok := usage.ExtractUnary(respBody, cfg.Protocol); ok {
			report = r
			g.telemetry.ReportUsage(models.UsageEvent{
				RequestID: requestID, Token: token, Model: model, Endpoint: cfg.Endpoint,
				InputTokens: report.InputTokens, OutputTokens: report.OutputTokens,
				ModelID: cfg.ModelID, ProviderID: cfg.ProviderID, ProviderTokenID: cfg.ProviderTokenID,
			})
			g.metrics.AddTokens(route, report.InputTokens, report.OutputTokens)
		}

		translateStart := time.Now()
		translated, err := translator.TranslateResponse(respBody, clientProtocol, cfg.Protocol)
		g.metrics.ObserveTranslation("response", time.Since(translateStart))
		if err != nil {
			g.log.WarnContext(ctx, "response_translation_failed", "route", route, "endpoint", cfg.Endpoint, "error", err.Error())
			g.metrics.RecordFailover(route, "translation_error")
			continue
		}

		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetContentType("application/json")
		ctx.SetBody(translated)
		g.logAccess(requestID, route, cfg.Endpoint, model, report.InputTokens, report.OutputTokens, fasthttp.StatusOK, false, start)
		return
	}

	g.metrics.RecordCandidatesExhausted(route)
	apierr.Write(ctx, fasthttp.StatusServiceUnavailable, "all routes failed", apierr.KindProxy)
}

// handleStream implements the streaming half of spec §4.8. The upstream
// body is wrapped by a usage.Collector (to recover token counts without
// disturbing the byte stream) and, for mixed-protocol pairs, by a stream
// translator; both are driven from inside SetBodyStreamWriter so a client
// disconnect cancels ctx and unwinds the whole chain.
func (g *Gateway) handleStream(ctx *fasthttp.RequestCtx, route, requestID, token, model string, clientProtocol models.Protocol, configs []models.RouteConfig, body []byte, customPath string, headers http.Header) {
	start := time.Now()
	for _, cfg := range configs {
		reqBody, err := translator.TranslateRequest(body, clientProtocol, cfg.Protocol, cfg.Model)
		if err != nil {
			g.log.WarnContext(ctx, "request_translation_failed", "route", route, "endpoint", cfg.Endpoint, "error", err.Error())
			g.metrics.RecordFailover(route, "translation_error")
			continue
		}

		upstream, err := g.forwarder.Stream(ctx, cfg, cfg.Protocol, reqBody, customPath, headers)
		if err != nil {
			if g.failUpstream(ctx, route, token, model, cfg, err) {
				return
			}
			continue
		}

		reportFunc := func(r usage.Report) {
			g.telemetry.ReportUsage(models.UsageEvent{
				RequestID: requestID, Token: token, Model: model, Endpoint: cfg.Endpoint,
				InputTokens: r.InputTokens, OutputTokens: r.OutputTokens,
				ModelID: cfg.ModelID, ProviderID: cfg.ProviderID, ProviderTokenID: cfg.ProviderTokenID,
			})
			g.metrics.AddTokens(route, r.InputTokens, r.OutputTokens)
			g.logAccess(requestID, route, cfg.Endpoint, model, r.InputTokens, r.OutputTokens, fasthttp.StatusOK, true, start)
		}
		collector := usage.Wrap(upstream, cfg.Protocol, reportFunc)
		adapter := translator.NewStreamAdapter(cfg.Protocol.IsAnthropic(), clientProtocol.IsAnthropic())

		ctx.Response.Header.Set("Content-Type", "text/event-stream")
		ctx.Response.Header.Set("Cache-Control", "no-cache")
		ctx.Response.Header.Set("Connection", "keep-alive")
		ctx.Response.Header.Set("X-Accel-Buffering", "no")
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
			defer collector.Close()
			buf := make([]byte, 32*1024)
			for {
				n, rerr := collector.Read(buf)
				if n > 0 {
					transStart := time.Now()
					out, terr := adapter.Transform(buf[:n])
					g.metrics.ObserveTranslation("stream_chunk", time.Since(transStart))
					if terr != nil {
						g.log.WarnContext(ctx, "stream_chunk_translation_failed", "route", route, "endpoint", cfg.Endpoint, "error", terr.Error())
						return
					}
					if len(out) > 0 {
						if _, werr := w.Write(out); werr != nil {
							return
						}
						if ferr := w.Flush(); ferr != nil {
							return
						}
					}
				}
				if rerr != nil {
					return
				}
			}
		})
		return
	}

	g.metrics.RecordCandidatesExhausted(route)
	apierr.Write(ctx, fasthttp.StatusServiceUnavailable, "all routes failed", apierr.KindProxy)
}

// failUpstream reports a failed upstream attempt and decides whether the
// pipeline should stop (client-facing 4xx, already written) or failover to
// the next candidate (evicting cfg from the cache first). Returns true if
// the caller should return immediately.
func (g *Gateway) failUpstream(ctx *fasthttp.RequestCtx, route, token, model string, cfg models.RouteConfig, err error) bool {
	g.telemetry.ReportError(models.ErrorEvent{
		Token: token, Model: model, Endpoint: cfg.Endpoint,
		Message: err.Error(), ProviderTokenID: cfg.ProviderTokenID,
	})

	var pe *forwarder.ProxyError
	if errors.As(err, &pe) && forwarder.IsClientError(err) {
		contentType := "application/json"
		apierr.WritePassthrough(ctx, pe.Status, contentType, []byte(pe.Body))
		return true
	}

	if evictErr := g.resolver.RemoveFailedRoute(ctx, token, model, cfg); evictErr != nil {
		g.log.WarnContext(ctx, "route_eviction_failed", "endpoint", cfg.Endpoint, "error", evictErr.Error())
	}
	g.metrics.RecordFailover(route, "upstream_error")
	return false
}

// logAccess writes one RequestLog entry through the optional async access
// logger. A nil AccessLog (the default) makes this a no-op.
func (g *Gateway) logAccess(requestID, route, endpoint, model string, inputTokens, outputTokens, status int, streamed bool, start time.Time) {
	if g.accessLog == nil {
		return
	}
	id, err := uuid.Parse(requestID)
	if err != nil {
		id = uuid.Nil
	}
	latency := time.Since(start).Milliseconds()
	if latency < 0 {
		latency = 0
	} else if latency > math.MaxUint16 {
		latency = math.MaxUint16
	}
	g.accessLog.Log(logger.RequestLog{
		ID:           id,
		Route:        route,
		Endpoint:     endpoint,
		Model:        model,
		InputTokens:  uint32(inputTokens),
		OutputTokens: uint32(outputTokens),
		LatencyMs:    uint16(latency),
		Status:       uint16(status),
		Streamed:     streamed,
		CreatedAt:    start,
	})
}

func extractBearerToken(ctx *fasthttp.RequestCtx) (string, bool) {
	const prefix = "Bearer "
	auth := string(ctx.Request.Header.Peek("Authorization"))
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}
	token := strings.TrimPrefix(auth, prefix)
	if token == "" {
		return "", false
	}
	return token, true
}

func extractModel(body []byte) (string, bool) {
	var probe struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(body, &probe); err != nil || probe.Model == "" {
		return "", false
	}
	return probe.Model, true
}

func headersFromRequest(ctx *fasthttp.RequestCtx) http.Header {
	h := make(http.Header)
	ctx.Request.Header.VisitAll(func(k, v []byte) {
		h.Add(string(k), string(v))
	})
	return h
}

func errString(err error) string {
	if err == nil {
		return "empty candidate list"
	}
	return err.Error()
}
