package gateway

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/nulpointcorp/inference-gateway/internal/forwarder"
	"github.com/nulpointcorp/inference-gateway/internal/metrics"
	"github.com/nulpointcorp/inference-gateway/internal/models"
	"github.com/nulpointcorp/inference-gateway/internal/resolver"
	"github.com/nulpointcorp/inference-gateway/internal/routecache"
	"github.com/nulpointcorp/inference-gateway/internal/telemetry"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestGateway wires a Gateway around a real resolver/forwarder/telemetry
// stack, the same way forwarder_test.go exercises the forwarder against a
// real httptest.Server rather than a mock.
func newTestGateway(t *testing.T, token, model string, configs []models.RouteConfig) *Gateway {
	t.Helper()

	cache := routecache.NewShardedMemoryCache(time.Minute, time.Hour)
	t.Cleanup(cache.Close)
	if err := cache.Set(context.Background(), token, model, configs); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	res := resolver.New(cache, &http.Client{Timeout: time.Second}, "http://unused.invalid", 1, discardLogger(), metrics.New())
	fwd := forwarder.New(forwarder.Config{Timeout: 5 * time.Second, MaxConnections: 4})
	sink := telemetry.New(context.Background(), discardLogger(), "http://127.0.0.1:1", nil)
	t.Cleanup(func() { _ = sink.Close() })

	return New(Options{
		Resolver:  res,
		Forwarder: fwd,
		Telemetry: sink,
		Metrics:   metrics.New(),
		Logger:    discardLogger(),
	})
}

func requestCtx(method, path, authHeader string, body []byte) *fasthttp.RequestCtx {
	var ctx fasthttp.RequestCtx
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI(path)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	req.SetBody(body)
	ctx.Init(&req, nil, nil)
	return &ctx
}

func TestHandleProxy_OpenAIToOpenAIUnary_ExtractsUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer upstream-token" {
			t.Errorf("unexpected upstream Authorization: %q", r.Header.Get("Authorization"))
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"chatcmpl-1","object":"chat.completion","model":"gpt-4","choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`))
	}))
	defer srv.Close()

	configs := []models.RouteConfig{{Token: "upstream-token", Model: "gpt-4-upstream", Endpoint: srv.URL, Protocol: models.OpenAI}}
	g := newTestGateway(t, "client-token", "gpt-4", configs)

	ctx := requestCtx(fasthttp.MethodPost, "/v1/chat/completions", "Bearer client-token", []byte(`{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`))
	g.handleProxy(ctx, "")

	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("status = %d, body = %s", ctx.Response.StatusCode(), ctx.Response.Body())
	}
	if got := string(ctx.Response.Body()); got == "" {
		t.Fatal("expected a non-empty response body")
	}

	families, err := g.metrics.PromRegistry().Gather()
	if err != nil {
		t.Fatal(err)
	}
	var tokens float64
	for _, f := range families {
		if f.GetName() != "gateway_tokens_total" {
			continue
		}
		for _, m := range f.Metric {
			tokens += m.GetCounter().GetValue()
		}
	}
	if tokens != 15 {
		t.Errorf("gateway_tokens_total = %v, want 15 (10 prompt + 5 completion)", tokens)
	}
}

func TestHandleProxy_MissingBearerToken(t *testing.T) {
	g := newTestGateway(t, "client-token", "gpt-4", nil)
	ctx := requestCtx(fasthttp.MethodPost, "/v1/chat/completions", "", []byte(`{"model":"gpt-4"}`))
	g.handleProxy(ctx, "")

	if ctx.Response.StatusCode() != fasthttp.StatusUnauthorized {
		t.Fatalf("status = %d", ctx.Response.StatusCode())
	}
}

func TestHandleProxy_MissingModel(t *testing.T) {
	g := newTestGateway(t, "client-token", "gpt-4", nil)
	ctx := requestCtx(fasthttp.MethodPost, "/v1/chat/completions", "Bearer client-token", []byte(`{}`))
	g.handleProxy(ctx, "")

	if ctx.Response.StatusCode() != fasthttp.StatusBadRequest {
		t.Fatalf("status = %d", ctx.Response.StatusCode())
	}
}

func TestHandleProxy_TwoCandidateFailoverOn500(t *testing.T) {
	var secondCalled bool

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer failing.Close()

	working := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secondCalled = true
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"chatcmpl-2","object":"chat.completion","model":"gpt-4","choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`))
	}))
	defer working.Close()

	configs := []models.RouteConfig{
		{Token: "tok-a", Model: "gpt-4-a", Endpoint: failing.URL, Protocol: models.OpenAI},
		{Token: "tok-b", Model: "gpt-4-b", Endpoint: working.URL, Protocol: models.OpenAI},
	}
	g := newTestGateway(t, "client-token", "gpt-4", configs)

	ctx := requestCtx(fasthttp.MethodPost, "/v1/chat/completions", "Bearer client-token", []byte(`{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`))
	g.handleProxy(ctx, "")

	if !secondCalled {
		t.Fatal("expected failover to reach the second candidate")
	}
	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("status = %d, body = %s", ctx.Response.StatusCode(), ctx.Response.Body())
	}
}

func TestHandleProxy_SingleCandidate401NotEvictedSurfacedToClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid upstream api key"}`))
	}))
	defer srv.Close()

	configs := []models.RouteConfig{{Token: "tok", Model: "gpt-4", Endpoint: srv.URL, Protocol: models.OpenAI}}
	g := newTestGateway(t, "client-token", "gpt-4", configs)

	ctx := requestCtx(fasthttp.MethodPost, "/v1/chat/completions", "Bearer client-token", []byte(`{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`))
	g.handleProxy(ctx, "")

	if ctx.Response.StatusCode() != fasthttp.StatusUnauthorized {
		t.Fatalf("status = %d", ctx.Response.StatusCode())
	}
	if got := string(ctx.Response.Body()); got != `{"error":"invalid upstream api key"}` {
		t.Errorf("expected verbatim upstream body, got %q", got)
	}

	remaining, err := g.resolver.Resolve(context.Background(), "check", "client-token", "gpt-4")
	if err != nil || len(remaining) != 1 {
		t.Fatalf("expected the 401 candidate to stay cached, got %+v err=%v", remaining, err)
	}
}

func TestHandleProxy_AllCandidatesExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("down"))
	}))
	defer srv.Close()

	configs := []models.RouteConfig{{Token: "tok", Model: "gpt-4", Endpoint: srv.URL, Protocol: models.OpenAI}}
	g := newTestGateway(t, "client-token", "gpt-4", configs)

	ctx := requestCtx(fasthttp.MethodPost, "/v1/chat/completions", "Bearer client-token", []byte(`{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`))
	g.handleProxy(ctx, "")

	if ctx.Response.StatusCode() != fasthttp.StatusServiceUnavailable {
		t.Fatalf("status = %d", ctx.Response.StatusCode())
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
		wantOK bool
	}{
		{"valid", "Bearer abc123", "abc123", true},
		{"missing", "", "", false},
		{"wrong scheme", "Basic abc123", "", false},
		{"empty token", "Bearer ", "", false},
	}
	for _, tt := range tests {
		ctx := requestCtx(fasthttp.MethodPost, "/v1/chat/completions", tt.header, nil)
		got, ok := extractBearerToken(ctx)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("%s: extractBearerToken() = (%q, %v), want (%q, %v)", tt.name, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestExtractModel(t *testing.T) {
	tests := []struct {
		name   string
		body   []byte
		want   string
		wantOK bool
	}{
		{"present", []byte(`{"model":"gpt-4"}`), "gpt-4", true},
		{"absent", []byte(`{}`), "", false},
		{"malformed", []byte(`not json`), "", false},
	}
	for _, tt := range tests {
		got, ok := extractModel(tt.body)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("%s: extractModel() = (%q, %v), want (%q, %v)", tt.name, got, ok, tt.want, tt.wantOK)
		}
	}
}
