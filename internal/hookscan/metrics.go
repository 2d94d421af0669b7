package hookscan

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scansStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coremonitor",
			Subsystem: "hookscan",
			Name:      "scans_started_total",
			Help:      "Scans planned, by extension kind.",
		},
		[]string{"kind"},
	)
	scansCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coremonitor",
			Subsystem: "hookscan",
			Name:      "scans_completed_total",
			Help:      "Scans whose last batch was served, by extension kind.",
		},
		[]string{"kind"},
	)
	scanErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coremonitor",
			Subsystem: "hookscan",
			Name:      "errors_total",
			Help:      "Failed batch requests, by reason.",
		},
		[]string{"reason"},
	)
	filesScanned = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "coremonitor",
			Subsystem: "hookscan",
			Name:      "files_scanned_total",
			Help:      "Source files read by the extractor.",
		},
	)
	hooksFound = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coremonitor",
			Subsystem: "hookscan",
			Name:      "hooks_found_total",
			Help:      "Hook invocations found, by kind.",
		},
		[]string{"kind"},
	)
	batchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "coremonitor",
			Subsystem: "hookscan",
			Name:      "batch_duration_seconds",
			Help:      "Time spent serving one batch request.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
	)
)
