// Package metrics exposes Prometheus instrumentation for the camera
// pipelines and notification delivery.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// FramesProcessed counts frames run through the full pipeline, per camera.
	FramesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carewatch_frames_processed_total",
		Help: "Frames processed through detect/track/analyze, per camera.",
	}, []string{"camera"})

	// ActiveTracks reports the current number of tracked persons, per camera.
	ActiveTracks = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "carewatch_active_tracks",
		Help: "Number of persons currently tracked, per camera.",
	}, []string{"camera"})

	// ActiveFallEvents reports the current number of open fall events, per camera.
	ActiveFallEvents = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "carewatch_active_fall_events",
		Help: "Number of open fall events, per camera.",
	}, []string{"camera"})

	// AlertsFired counts fall alerts that crossed the duration threshold.
	AlertsFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carewatch_fall_alerts_total",
		Help: "Fall alerts escalated past the duration threshold, per camera.",
	}, []string{"camera"})

	// NotificationsSent counts delivered notification messages by status.
	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carewatch_notifications_total",
		Help: "Notification messages by final delivery status.",
	}, []string{"status"})
)

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
