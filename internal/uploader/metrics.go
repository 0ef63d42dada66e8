package uploader

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/shipper/internal/model"
)

var (
	uploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shipper_uploads_total",
			Help: "Total number of uploads by backend and final status.",
		},
		[]string{"backend", "status"},
	)

	uploadBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shipper_upload_bytes_total",
			Help: "Total bytes written by completed uploads.",
		},
		[]string{"backend"},
	)

	uploadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shipper_upload_duration_seconds",
			Help:    "Time from a worker picking up an upload to its completion.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"backend"},
	)
)

func init() {
	prometheus.MustRegister(uploadsTotal)
	prometheus.MustRegister(uploadBytesTotal)
	prometheus.MustRegister(uploadDuration)
}

// initMetrics pre-initializes the label combinations of a backend so every
// status shows up at zero before the first upload.
func initMetrics(backend string) {
	for _, status := range []string{model.StatusCompleted, model.StatusFailed, model.StatusCancelled} {
		uploadsTotal.WithLabelValues(backend, status)
	}
	uploadBytesTotal.WithLabelValues(backend)
	uploadDuration.WithLabelValues(backend)
}
