// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Emberwell Labs

package transfer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exports transfer activity to Prometheus.
type Metrics struct {
	transfersStarted   prometheus.Counter
	transfersCompleted prometheus.Counter
	bytesWritten       prometheus.Counter
	flushes            prometheus.Counter
	flushBytes         prometheus.Histogram
	activeSession      prometheus.Gauge
}

// NewMetrics registers the transfer metrics with reg. A nil Registerer uses
// the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		transfersStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "lanterna",
			Subsystem: "transfer",
			Name:      "sessions_started_total",
			Help:      "Write sessions opened by file_create.",
		}),
		transfersCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "lanterna",
			Subsystem: "transfer",
			Name:      "sessions_completed_total",
			Help:      "Write sessions closed by file_close.",
		}),
		bytesWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "lanterna",
			Subsystem: "transfer",
			Name:      "bytes_written_total",
			Help:      "Bytes committed to storage by flushes.",
		}),
		flushes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "lanterna",
			Subsystem: "transfer",
			Name:      "flushes_total",
			Help:      "Buffer flushes performed.",
		}),
		flushBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lanterna",
			Subsystem: "transfer",
			Name:      "flush_bytes",
			Help:      "Bytes written per flush.",
			Buckets:   prometheus.ExponentialBuckets(256, 2, 10),
		}),
		activeSession: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "lanterna",
			Subsystem: "transfer",
			Name:      "session_active",
			Help:      "1 while a write session is open.",
		}),
	}
}

func (m *Metrics) transferStarted() {
	m.transfersStarted.Inc()
	m.activeSession.Set(1)
}

func (m *Metrics) flushObserved(bytes int) {
	m.flushes.Inc()
	m.bytesWritten.Add(float64(bytes))
	m.flushBytes.Observe(float64(bytes))
}

func (m *Metrics) transferCompleted(CloseSummary) {
	m.transfersCompleted.Inc()
	m.activeSession.Set(0)
}
