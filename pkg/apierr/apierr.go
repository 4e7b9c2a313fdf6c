// Package apierr provides the gateway's structured error taxonomy and the
// JSON envelope written back to clients on gateway-originated failures.
package apierr

import (
	"encoding/json"
	"strings"

	"github.com/valyala/fasthttp"
)

// Kind classifies where in the pipeline an error originated.
type Kind string

const (
	KindConfig    Kind = "config"
	KindProtocol  Kind = "protocol"
	KindRouting   Kind = "routing"
	KindProxy     Kind = "proxy"
	KindCache     Kind = "cache"
	KindTelemetry Kind = "telemetry"
)

// gatewayErrorType is the literal every client-visible envelope carries,
// regardless of Kind — Kind is for internal logging and metrics only.
const gatewayErrorType = "gateway_error"

var clientErrorCodes = [...]string{"400", "401", "403", "404", "422", "429"}

var statusByCode = map[string]int{
	"400": fasthttp.StatusBadRequest,
	"401": fasthttp.StatusUnauthorized,
	"403": fasthttp.StatusForbidden,
	"404": fasthttp.StatusNotFound,
	"422": fasthttp.StatusUnprocessableEntity,
	"429": fasthttp.StatusTooManyRequests,
}

// GatewayError carries an explicit HTTP status, replacing substring status
// classification for anything the gateway itself raises (config, routing,
// cache, telemetry failures). Upstream errors from the forwarder are
// classified by the substring check of IsClientError instead.
type GatewayError struct {
	Kind    Kind
	Status  int
	Message string
}

func (e *GatewayError) Error() string { return e.Message }

// New builds a GatewayError of the given kind and status.
func New(kind Kind, status int, message string) *GatewayError {
	return &GatewayError{Kind: kind, Status: status, Message: message}
}

// IsClientError reports whether err's message contains one of the known 4xx
// status codes as a substring, the same check as forwarder.IsClientError.
// forwarder.ProxyError carries its status both in a Status field and in
// its message text.
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

// StatusFromUpstreamError maps a forwarder error to the HTTP status the
// client should see. Anything not matching a known 4xx code maps to 500.
func StatusFromUpstreamError(err error) int {
	if err == nil {
		return fasthttp.StatusInternalServerError
	}
	msg := err.Error()
	for _, code := range clientErrorCodes {
		if strings.Contains(msg, code) {
			return statusByCode[code]
		}
	}
	return fasthttp.StatusInternalServerError
}

type (
	body struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code,omitempty"`
	}
	envelope struct {
		Error body `json:"error"`
	}
)

// Write serializes the gateway_error envelope and sets the response status.
func Write(ctx *fasthttp.RequestCtx, status int, message string, kind Kind) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	data, _ := json.Marshal(envelope{Error: body{Message: message, Type: gatewayErrorType, Code: string(kind)}})
	ctx.SetBody(data)
}

// WriteError writes a GatewayError using its carried status and kind.
func WriteError(ctx *fasthttp.RequestCtx, err *GatewayError) {
	Write(ctx, err.Status, err.Message, err.Kind)
}

// WritePassthrough forwards an upstream 4xx body byte-for-byte rather than
// rewrapping it in the gateway_error envelope: a non-JSON upstream body
// wrapped in a JSON envelope would be corrupted, and the gateway_error shape
// is only owed for errors the gateway itself originates.
func WritePassthrough(ctx *fasthttp.RequestCtx, status int, contentType string, responseBody []byte) {
	ctx.SetStatusCode(status)
	if contentType == "" {
		contentType = "application/json"
	}
	ctx.SetContentType(contentType)
	ctx.SetBody(responseBody)
}
