package gateway

import (
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"
)

// Start starts the HTTP server on addr (e.g. ":8080").
func (g *Gateway) Start(addr string) error {
	r := router.New()

	r.POST("/v1/chat/completions", g.handleChatCompletions)
	r.POST("/v1/messages", g.handleMessages)
	r.POST("/v1/responses", g.handleResponses)
	r.GET("/health", g.handleHealth)
	r.GET("/metrics", g.metrics.Handler())

	handler := applyMiddleware(r.Handler,
		recovery,
		requestID,
		g.timing,
		corsHandler(g.corsOrigins),
		securityHeaders,
	)

	srv := &fasthttp.Server{
		Handler:      handler,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	return srv.ListenAndServe(addr)
}

func (g *Gateway) handleHealth(ctx *fasthttp.RequestCtx) {
	ctx.SetContentType("application/json")
	ctx.SetBodyString(`{"status":"healthy"}`)
}
