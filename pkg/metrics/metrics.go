package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dropzone_build_info",
			Help: "Build information of the dropzone bot",
		},
		[]string{"version", "commit", "date"},
	)

	FrameTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dropzone_frame_total",
			Help: "Total number of airdrop frame ticks",
		},
		[]string{"status"},
	)

	FrameDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dropzone_frame_duration_seconds",
			Help:    "Duration of airdrop frame ticks",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 0.01s to ~41s
		},
	)

	PayoutTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dropzone_payout_total",
			Help: "Total number of entrant payout attempts",
		},
		[]string{"status"},
	)

	AirdropsResolvedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dropzone_airdrops_resolved_total",
			Help: "Total number of airdrops resolved",
		},
	)

	ActiveAirdrops = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dropzone_active_airdrops",
			Help: "Number of airdrops currently open",
		},
	)

	NotificationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dropzone_notification_total",
			Help: "Total number of chat notifications sent",
		},
		[]string{"kind", "status"},
	)
)
