// Package forwarder sends translated request bodies upstream and hands back
// either a complete response body (unary) or a lazily-read byte stream
// (SSE), grounded in the URL-composition and header-filtering rules a
// dynamic, account-agnostic route table needs.
package forwarder

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/nulpointcorp/inference-gateway/internal/models"
)

// ProxyError is raised when an upstream responds with a non-2xx status. Its
// Error() text embeds the status code so is_client_error's substring check
// — and any log line that prints the error — carries it without a second
// accessor.
type ProxyError struct {
	Status int
	Body   string
}

func (e *ProxyError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.Status, e.Body)
}

var clientErrorCodes = []string{"400", "401", "403", "404", "422", "429"}

// IsClientError implements spec §4.5's is_client_error: true iff the
// error's message contains one of the known 4xx status codes. It is a
// substring oracle rather than a type assertion so it keeps working even
// if the error has been wrapped with fmt.Errorf("%w").
func IsClientError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, code := range clientErrorCodes {
		if strings.Contains(msg, code) {
			return true
		}
	}
	return false
}

// Forwarder holds the two HTTP clients spec §4.5 requires — a timed client
// for unary calls and an untimed one for long-lived SSE connections — built
// the way the teacher builds one *http.Client per upstream rather than
// reusing http.DefaultClient.
type Forwarder struct {
	unary  *http.Client
	stream *http.Client
}

// Config configures the two transports Forwarder builds.
type Config struct {
	Timeout        time.Duration
	MaxConnections int
	KeepAlive      bool
}

// New builds a Forwarder. The streaming client shares the unary client's
// pool sizing and keepalive but carries no overall request timeout.
func New(cfg Config) *Forwarder {
	keepAlive := 30 * time.Second
	if !cfg.KeepAlive {
		keepAlive = -1
	}

	newTransport := func() *http.Transport {
		return &http.Transport{
			DialContext: (&net.Dialer{
				KeepAlive: keepAlive,
			}).DialContext,
			MaxIdleConnsPerHost: cfg.MaxConnections,
			IdleConnTimeout:     60 * time.Second,
		}
	}

	return &Forwarder{
		unary:  &http.Client{Timeout: cfg.Timeout, Transport: newTransport()},
		stream: &http.Client{Transport: newTransport()},
	}
}

// composeURL implements spec §4.5's URL composition rules.
func composeURL(cfg models.RouteConfig, targetProtocol models.Protocol, customPath string) string {
	base := strings.TrimSuffix(cfg.Endpoint, "/")
	hasV1Suffix := strings.HasSuffix(base, "/v1")

	var short string
	switch {
	case customPath != "":
		short = strings.TrimPrefix(customPath, "/v1")
	case targetProtocol.IsAnthropic():
		short = "/messages"
	default:
		short = "/chat/completions"
	}

	if hasV1Suffix {
		return base + short
	}
	return base + "/v1" + short
}

// filterHeaders drops hop-by-hop and auth headers a client may have sent,
// then injects the content type and the upstream-appropriate auth header.
func filterHeaders(in http.Header, cfg models.RouteConfig, targetProtocol models.Protocol) http.Header {
	drop := map[string]bool{
		"authorization":     true,
		"host":              true,
		"content-length":    true,
		"transfer-encoding": true,
		"connection":        true,
	}

	out := make(http.Header, len(in)+2)
	for k, v := range in {
		if drop[strings.ToLower(k)] {
			continue
		}
		out[k] = v
	}

	out.Set("Content-Type", "application/json")
	if targetProtocol.IsAnthropic() {
		out.Set("x-api-key", cfg.Token)
	} else {
		out.Set("Authorization", "Bearer "+cfg.Token)
	}

	return out
}

// ForwardUnary implements spec §4.5's forward_unary. ctx governs the
// lifetime of the upstream call — an inbound client disconnect cancels ctx
// and aborts the pending HTTP request.
func (f *Forwarder) ForwardUnary(ctx context.Context, cfg models.RouteConfig, targetProtocol models.Protocol, body []byte, customPath string, headers http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, composeURL(cfg, targetProtocol, customPath), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header = filterHeaders(headers, cfg, targetProtocol)

	resp, err := f.unary.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ProxyError{Status: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}

// Stream implements spec §4.5's stream. The caller owns closing the
// returned ReadCloser. ctx cancellation closes the upstream connection —
// the usage collector wrapping the returned body still gets to run its
// final report with whatever tokens were observed before that point.
func (f *Forwarder) Stream(ctx context.Context, cfg models.RouteConfig, targetProtocol models.Protocol, body []byte, customPath string, headers http.Header) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, composeURL(cfg, targetProtocol, customPath), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header = filterHeaders(headers, cfg, targetProtocol)

	resp, err := f.stream.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &ProxyError{Status: resp.StatusCode, Body: string(respBody)}
	}

	return resp.Body, nil
}
