//pkg/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 全局指标
var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "termgate_sessions_active",
		Help: "Sessions with an attached client transport",
	})
	SessionsPersisted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "termgate_sessions_persisted",
		Help: "Sessions kept alive without an attached client",
	})
	SessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "termgate_sessions_total",
		Help: "Sessions created since start",
	})
	ReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "termgate_reconnects_total",
		Help: "Successful client reattachments",
	})
	BytesUpstreamTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "termgate_bytes_upstream_total",
		Help: "Bytes forwarded client to upstream",
	})
	BytesDownstreamTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "termgate_bytes_downstream_total",
		Help: "Bytes forwarded upstream to client",
	})
	BufferedLinesEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "termgate_buffer_evicted_lines_total",
		Help: "Replay buffer entries dropped by FIFO eviction",
	})
	BufferedChunksDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "termgate_buffer_dropped_chunks_total",
		Help: "Oversized chunks dropped before buffering",
	})
	UpstreamErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "termgate_upstream_errors_total",
		Help: "Upstream socket errors by type",
	}, []string{"type"})
	NegotiationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "termgate_environ_replies_total",
		Help: "NEW-ENVIRON replies sent on behalf of clients",
	})
)
