// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package advisorsim

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "lumi"
	metricsSubsystem = "advisorsim"
)

// Stream outcome labels.
const (
	streamCompleted    = "completed"
	streamErrored      = "error"
	streamDisconnected = "disconnected"
)

// Metrics holds the simulator's Prometheus instruments.
//
// Each Server owns its own registry rather than registering into the
// process default: the e2e suite boots several simulators per test binary,
// and duplicate registration in a shared registry panics.
type Metrics struct {
	registry *prometheus.Registry

	// StreamsTotal counts finished query streams.
	// Labels: status (completed, error, disconnected)
	StreamsTotal *prometheus.CounterVec

	// FramesTotal counts SSE frames written, by event name.
	// Labels: event (chunk, citations, completed, error)
	FramesTotal *prometheus.CounterVec

	// ActiveStreams tracks streams currently being written.
	ActiveStreams prometheus.Gauge

	// StreamDurationSeconds measures wall time per stream.
	// Labels: status
	StreamDurationSeconds *prometheus.HistogramVec

	// UploadsTotal counts upload attempts.
	// Labels: status (stored, rejected)
	UploadsTotal *prometheus.CounterVec

	// UploadBytesTotal sums the bytes of stored uploads.
	UploadBytesTotal prometheus.Counter

	// IngestJobsTotal counts finished ingest jobs.
	// Labels: status (succeeded, failed)
	IngestJobsTotal *prometheus.CounterVec
}

func newMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		StreamsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "streams_total",
				Help:      "Total finished query streams by terminal status",
			},
			[]string{"status"},
		),

		FramesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "frames_total",
				Help:      "Total SSE frames written by event name",
			},
			[]string{"event"},
		),

		ActiveStreams: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "active_streams",
				Help:      "Streams currently being written",
			},
		),

		StreamDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Wall time per query stream",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
			},
			[]string{"status"},
		),

		UploadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "uploads_total",
				Help:      "Upload attempts by outcome",
			},
			[]string{"status"},
		),

		UploadBytesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "upload_bytes_total",
				Help:      "Bytes accepted across stored uploads",
			},
		),

		IngestJobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "ingest_jobs_total",
				Help:      "Finished ingest jobs by terminal status",
			},
			[]string{"status"},
		),
	}
}

// recordFrame counts one written SSE frame.
func (m *Metrics) recordFrame(event string) {
	m.FramesTotal.WithLabelValues(event).Inc()
}

// streamStarted marks a stream in flight.
func (m *Metrics) streamStarted() {
	m.ActiveStreams.Inc()
}

// streamFinished settles a stream's gauge, counter, and duration.
func (m *Metrics) streamFinished(status string, seconds float64) {
	m.ActiveStreams.Dec()
	m.StreamsTotal.WithLabelValues(status).Inc()
	m.StreamDurationSeconds.WithLabelValues(status).Observe(seconds)
}

// recordUpload counts one upload attempt and its stored bytes.
func (m *Metrics) recordUpload(stored bool, bytes int64) {
	if stored {
		m.UploadsTotal.WithLabelValues("stored").Inc()
		m.UploadBytesTotal.Add(float64(bytes))
		return
	}
	m.UploadsTotal.WithLabelValues("rejected").Inc()
}

// recordIngest counts one finished ingest job.
func (m *Metrics) recordIngest(status string) {
	m.IngestJobsTotal.WithLabelValues(status).Inc()
}
