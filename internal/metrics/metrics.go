// Package metrics wires Prometheus counters/histograms and an OpenTelemetry
// tracer for the ambassador's external interfaces.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Metrics bundles every Prometheus collector the ambassador exports.
type Metrics struct {
	ToolInvocations    *prometheus.CounterVec
	InvokeLatency      *prometheus.HistogramVec
	SessionsRegistered *prometheus.CounterVec
	AuthzDecisions     *prometheus.CounterVec
	PerUserInstances   prometheus.Gauge
	ReloadApplies      *prometheus.CounterVec

	tracer trace.Tracer
}

// New registers every collector against reg and returns the bundle. reg is
// typically prometheus.NewRegistry() wired into the admin HTTP surface.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ToolInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcp_ambassador",
			Name:      "tool_invocations_total",
			Help:      "Tool invocations by backend and outcome.",
		}, []string{"downstream_mcp", "outcome"}),

		InvokeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mcp_ambassador",
			Name:      "tool_invoke_duration_seconds",
			Help:      "Tool invocation latency by backend.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"downstream_mcp"}),

		SessionsRegistered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcp_ambassador",
			Name:      "sessions_registered_total",
			Help:      "Session registration outcomes.",
		}, []string{"outcome"}),

		AuthzDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcp_ambassador",
			Name:      "authz_decisions_total",
			Help:      "Authorization decisions by outcome.",
		}, []string{"decision"}),

		PerUserInstances: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mcp_ambassador",
			Name:      "per_user_instances",
			Help:      "Live per-user backend instances across all users.",
		}),

		ReloadApplies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcp_ambassador",
			Name:      "catalog_reload_applies_total",
			Help:      "Catalog reload applies by outcome.",
		}, []string{"outcome"}),

		tracer: otel.Tracer("mcp-ambassador"),
	}

	reg.MustRegister(m.ToolInvocations, m.InvokeLatency, m.SessionsRegistered, m.AuthzDecisions, m.PerUserInstances, m.ReloadApplies)
	return m
}

// StartInvokeSpan opens a tracing span around one Tool Router invocation.
func (m *Metrics) StartInvokeSpan(ctx context.Context, tool, downstreamMCP string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "tool.invoke", trace.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("downstream_mcp", downstreamMCP),
	))
}
