// Package metrics exposes gateway counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns the gateway collectors and the registry they live in.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry           *prometheus.Registry
	activationFailures *prometheus.CounterVec
	toolsRegistered    *prometheus.CounterVec
	instances          prometheus.Gauge
	instanceInit       *prometheus.HistogramVec
	imageGenerations   *prometheus.CounterVec
	requests           *prometheus.CounterVec
	toolCalls          *prometheus.CounterVec
	toolLatency        *prometheus.HistogramVec
}

// New creates a Recorder with its own registry, so tests and multiple
// gateways in one process never collide on registration.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		activationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_schema_activation_failures_total",
			Help: "Schemas that failed to turn into tools",
		}, []string{"namespace"}),
		toolsRegistered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_tools_registered_total",
			Help: "Tools registered on server instances",
		}, []string{"kind"}),
		instances: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_instances",
			Help: "Initialized server instances",
		}),
		instanceInit: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_instance_init_seconds",
			Help:    "Server instance initialization latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"result"}),
		imageGenerations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_image_generations_total",
			Help: "generateImage calls that reached the inference backend",
		}, []string{"status"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Requests by routing destination",
		}, []string{"destination"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_tool_calls_total",
			Help: "Tool calls by tool and outcome",
		}, []string{"tool", "result"}),
		toolLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_tool_call_seconds",
			Help:    "Tool call latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
	}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.activationFailures,
		r.toolsRegistered,
		r.instances,
		r.instanceInit,
		r.imageGenerations,
		r.requests,
		r.toolCalls,
		r.toolLatency,
	)
	return r
}

// ActivationFailed counts a schema that could not be activated.
func (r *Recorder) ActivationFailed(namespace string) {
	if r == nil {
		return
	}
	r.activationFailures.WithLabelValues(namespace).Inc()
}

// ToolsRegistered counts n tools of the given kind (schema, builtin, gated).
func (r *Recorder) ToolsRegistered(kind string, n int) {
	if r == nil || n == 0 {
		return
	}
	r.toolsRegistered.WithLabelValues(kind).Add(float64(n))
}

// InstanceInitialized records one instance initialization attempt.
func (r *Recorder) InstanceInitialized(d time.Duration, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	} else {
		r.instances.Inc()
	}
	r.instanceInit.WithLabelValues(result).Observe(d.Seconds())
}

// ImageGenerated counts one inference backend call.
func (r *Recorder) ImageGenerated(err error) {
	if r == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.imageGenerations.WithLabelValues(status).Inc()
}

// Routed counts one request dispatched to destination.
func (r *Recorder) Routed(destination string) {
	if r == nil {
		return
	}
	r.requests.WithLabelValues(destination).Inc()
}

// Instrument returns a tool handler middleware that counts calls and
// observes their latency. Results flagged IsError count as "tool_error".
func (r *Recorder) Instrument() server.ToolHandlerMiddleware {
	return func(next server.ToolHandlerFunc) server.ToolHandlerFunc {
		return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if r == nil {
				return next(ctx, req)
			}
			start := time.Now()
			res, err := next(ctx, req)
			result := "ok"
			switch {
			case err != nil:
				result = "error"
			case res != nil && res.IsError:
				result = "tool_error"
			}
			r.toolCalls.WithLabelValues(req.Params.Name, result).Inc()
			r.toolLatency.WithLabelValues(req.Params.Name).Observe(time.Since(start).Seconds())
			return res, err
		}
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// ListenAndServe serves /metrics on addr until ctx is cancelled. An empty
// addr disables the listener.
func (r *Recorder) ListenAndServe(ctx context.Context, addr string, logger *slog.Logger) error {
	if addr == "" {
		logger.Info("metrics server disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", "err", err)
		}
	}()

	logger.Info("metrics server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
