package main

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"

	"github.com/fluxorio/isolate/pkg/core"
	"github.com/fluxorio/isolate/pkg/isolate"
	"github.com/fluxorio/isolate/pkg/observability/prometheus"
	"github.com/fluxorio/isolate/pkg/offload"
)

const offloadPrefix = "/offload/"

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// server exposes registered entries over HTTP.
type server struct {
	offloader      *offload.Offloader
	registry       *isolate.Registry
	metrics        *prometheus.Metrics
	metricsPath    string
	gatherer       prom.Gatherer
	requestTimeout time.Duration
	logger         core.Logger
}

func (s *server) handler() fasthttp.RequestHandler {
	var metricsHandler fasthttp.RequestHandler
	if s.metricsPath != "" && s.gatherer != nil {
		metricsHandler = prometheus.Handler(s.gatherer)
	}

	h := func(ctx *fasthttp.RequestCtx) {
		path := string(ctx.Path())
		switch {
		case path == "/healthz":
			ctx.SetStatusCode(fasthttp.StatusOK)
			ctx.SetBodyString("ok")
		case metricsHandler != nil && path == s.metricsPath:
			metricsHandler(ctx)
		case path == "/entries" && ctx.IsGet():
			s.writeJSON(ctx, fasthttp.StatusOK, map[string]any{"entries": s.registry.Names()})
		case strings.HasPrefix(path, offloadPrefix) && ctx.IsPost():
			s.handleOffload(ctx, strings.TrimPrefix(path, offloadPrefix))
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
		}
	}
	if s.metrics != nil {
		return s.metrics.Middleware(h)
	}
	return h
}

func (s *server) handleOffload(ctx *fasthttp.RequestCtx, name string) {
	var arg any
	if body := ctx.PostBody(); len(body) > 0 {
		if err := json.Unmarshal(body, &arg); err != nil {
			s.writeError(ctx, core.WrapError(core.CodeTransferRejected, err, "decode argument"))
			return
		}
	}

	reqCtx, cancel := context.WithTimeout(context.Background(), s.requestTimeout)
	defer cancel()
	res, err := offload.Invoke(reqCtx, s.offloader, s.registry, name, arg)
	if err != nil {
		s.writeError(ctx, err)
		return
	}
	s.writeJSON(ctx, fasthttp.StatusOK, map[string]any{"result": res})
}

func (s *server) writeError(ctx *fasthttp.RequestCtx, err error) {
	status, code := classify(err)
	s.writeJSON(ctx, status, map[string]any{"error": errorBody{Code: code, Message: err.Error()}})
}

func (s *server) writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Errorf("encode response: %v", err)
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(data)
}

// classify maps err to a status and the error code that decided it. A
// worker failure caused by a rejected argument is the caller's fault.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fasthttp.StatusGatewayTimeout, "TIMEOUT"
	case errors.Is(err, core.ErrNotFound):
		return fasthttp.StatusNotFound, core.CodeNotFound
	case errors.Is(err, core.ErrTransferRejected):
		return fasthttp.StatusBadRequest, core.CodeTransferRejected
	case errors.Is(err, core.ErrWorkerRuntimeError):
		return fasthttp.StatusUnprocessableEntity, core.CodeWorkerRuntimeError
	case errors.Is(err, core.ErrUnexpectedExit):
		return fasthttp.StatusBadGateway, core.CodeUnexpectedExit
	default:
		code := core.CodeOf(err)
		if code == "" {
			code = "INTERNAL"
		}
		return fasthttp.StatusInternalServerError, code
	}
}
