// Copyright 2024-2026 Aiku AI

package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Dispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_dispatches_total",
			Help: "Total number of webhook dispatches by outcome",
		},
		[]string{"outcome"},
	)

	Sends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_sends_total",
			Help: "Total number of delivered messages by kind",
		},
		[]string{"kind"},
	)

	Probes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_image_probes_total",
			Help: "Total number of image probes by result",
		},
		[]string{"result"},
	)

	UploadFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_upload_failures_total",
			Help: "Total number of failed media fetch-and-upload attempts",
		},
	)

	DispatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "relay_dispatch_duration_seconds",
			Help: "Duration of webhook dispatches in seconds",
		},
	)
)
