// Package metrics exposes prometheus instrumentation for the streaming
// pipeline. A nil Provider is valid and records nothing, so callers
// never guard their instrumentation sites.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Provider struct {
	streamsStarted  prometheus.Counter
	streamsFailed   *prometheus.CounterVec
	chunksForwarded prometheus.Counter
	toolExecutions  *prometheus.CounterVec
	upstreamErrors  *prometheus.CounterVec
	streamDuration  prometheus.Histogram
}

// NewProvider registers the pipeline metrics on the given registerer.
func NewProvider(reg prometheus.Registerer) *Provider {
	p := &Provider{
		streamsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_streams_started_total",
			Help: "Streaming chat turns started.",
		}),
		streamsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_streams_failed_total",
			Help: "Streaming chat turns that ended with an error frame.",
		}, []string{"reason"}),
		chunksForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_chunks_forwarded_total",
			Help: "Upstream content chunks forwarded to clients.",
		}),
		toolExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_tool_executions_total",
			Help: "Tool executions by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		upstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_upstream_errors_total",
			Help: "Typed errors returned by the upstream completion API.",
		}, []string{"kind"}),
		streamDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chat_stream_duration_seconds",
			Help:    "Wall-clock duration of one full streaming turn.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}

	reg.MustRegister(
		p.streamsStarted,
		p.streamsFailed,
		p.chunksForwarded,
		p.toolExecutions,
		p.upstreamErrors,
		p.streamDuration,
	)
	return p
}

func (p *Provider) StreamStarted() {
	if p == nil {
		return
	}
	p.streamsStarted.Inc()
}

func (p *Provider) StreamFailed(reason string) {
	if p == nil {
		return
	}
	p.streamsFailed.WithLabelValues(reason).Inc()
}

func (p *Provider) ChunkForwarded() {
	if p == nil {
		return
	}
	p.chunksForwarded.Inc()
}

func (p *Provider) ToolExecuted(tool string, success bool) {
	if p == nil {
		return
	}
	outcome := "ok"
	if !success {
		outcome = "error"
	}
	p.toolExecutions.WithLabelValues(tool, outcome).Inc()
}

func (p *Provider) UpstreamError(kind string) {
	if p == nil {
		return
	}
	p.upstreamErrors.WithLabelValues(kind).Inc()
}

func (p *Provider) StreamCompleted(elapsed time.Duration) {
	if p == nil {
		return
	}
	p.streamDuration.Observe(elapsed.Seconds())
}
