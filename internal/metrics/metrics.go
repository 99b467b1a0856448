// Package metrics provides Prometheus collectors for the recognition pipeline.
//
// All methods are safe to call on a nil *Metrics so components can run
// without a registry in tests and one-shot commands.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "faceinbox"

// Metrics contains the pipeline's Prometheus collectors.
type Metrics struct {
	inboxFiles       *prometheus.CounterVec
	recognitions     *prometheus.CounterVec
	enrollments      *prometheus.CounterVec
	evictions        *prometheus.CounterVec
	mqttPublishes    *prometheus.CounterVec
	retrainImages    *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	inboxQueueLength prometheus.Gauge
	galleryImages    prometheus.Gauge
}

// New creates and registers the collectors.
func New(registry prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		inboxFiles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "inbox_files_total",
				Help:      "Inbox files by final outcome",
			},
			[]string{"outcome"}, // published, rejected
		),
		recognitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recognitions_total",
				Help:      "Recognitions by verdict and source",
			},
			[]string{"verdict", "source"},
		),
		enrollments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "enrollments_total",
				Help:      "Face images added to the gallery",
			},
			[]string{"kind"}, // auto, manual
		),
		evictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evictions_total",
				Help:      "Face images evicted from the gallery",
			},
			[]string{"kind"}, // reversible, hard
		),
		mqttPublishes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mqtt_publishes_total",
				Help:      "MQTT detection messages by status",
			},
			[]string{"status"}, // success, error, dropped
		),
		retrainImages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retrain_images_total",
				Help:      "Images processed by retrain runs",
			},
			[]string{"status"}, // success, failed
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Time spent in each recognition stage",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
			},
			[]string{"stage"}, // detect, match, total
		),
		inboxQueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inbox_queue_length",
			Help:      "Claimed inbox files waiting for a worker",
		}),
		galleryImages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gallery_images",
			Help:      "Active face images in the last matched gallery snapshot",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.inboxFiles, m.recognitions, m.enrollments, m.evictions, m.mqttPublishes,
		m.retrainImages, m.stageDuration, m.inboxQueueLength, m.galleryImages,
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordInboxFile counts a finished inbox file.
func (m *Metrics) RecordInboxFile(outcome string) {
	if m == nil {
		return
	}
	m.inboxFiles.WithLabelValues(outcome).Inc()
}

// RecordRecognition counts a verdict.
func (m *Metrics) RecordRecognition(matched bool, source string) {
	if m == nil {
		return
	}
	verdict := "unknown"
	if matched {
		verdict = "matched"
	}
	m.recognitions.WithLabelValues(verdict, source).Inc()
}

// RecordEnrollment counts an added face image.
func (m *Metrics) RecordEnrollment(kind string) {
	if m == nil {
		return
	}
	m.enrollments.WithLabelValues(kind).Inc()
}

// RecordEvictions counts evicted face images.
func (m *Metrics) RecordEvictions(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.evictions.WithLabelValues(kind).Add(float64(n))
}

// RecordPublish counts an MQTT publish attempt.
func (m *Metrics) RecordPublish(status string) {
	if m == nil {
		return
	}
	m.mqttPublishes.WithLabelValues(status).Inc()
}

// RecordRetrainImage counts one retrained image.
func (m *Metrics) RecordRetrainImage(ok bool) {
	if m == nil {
		return
	}
	status := "failed"
	if ok {
		status = "success"
	}
	m.retrainImages.WithLabelValues(status).Inc()
}

// ObserveStage records a stage duration.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// SetInboxQueueLength updates the queue gauge.
func (m *Metrics) SetInboxQueueLength(n int) {
	if m == nil {
		return
	}
	m.inboxQueueLength.Set(float64(n))
}

// SetGalleryImages updates the gallery size gauge.
func (m *Metrics) SetGalleryImages(n int) {
	if m == nil {
		return
	}
	m.galleryImages.Set(float64(n))
}
