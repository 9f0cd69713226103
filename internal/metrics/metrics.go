package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gopher_vod"

// Metrics groups the server collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	uploads        *prometheus.CounterVec
	uploadBytes    prometheus.Counter
	transcodes     *prometheus.CounterVec
	transcodeTime  prometheus.Histogram
	queueDepth     prometheus.Gauge
	feedClients    prometheus.Gauge
	publishedFiles prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Upload requests by result.",
		}, []string{"result"}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_bytes_total",
			Help:      "Bytes of accepted uploads.",
		}),
		transcodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcodes_total",
			Help:      "Finished transcode jobs by result.",
		}, []string{"result"}),
		transcodeTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcode_duration_seconds",
			Help:      "Wall time of transcode jobs.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transcode_queue_depth",
			Help:      "Jobs waiting for a transcode worker.",
		}),
		feedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "status_feed_clients",
			Help:      "Open status feed websockets.",
		}),
		publishedFiles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "published_files_total",
			Help:      "Files mirrored to object storage.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.uploads,
		m.uploadBytes,
		m.transcodes,
		m.transcodeTime,
		m.queueDepth,
		m.feedClients,
		m.publishedFiles,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) UploadAccepted(size int64) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues("accepted").Inc()
	m.uploadBytes.Add(float64(size))
}

func (m *Metrics) UploadRejected(reason string) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(reason).Inc()
}

func (m *Metrics) TranscodeFinished(took time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.transcodes.WithLabelValues(result).Inc()
	m.transcodeTime.Observe(took.Seconds())
}

func (m *Metrics) QueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) FeedClients(delta int) {
	if m == nil {
		return
	}
	m.feedClients.Add(float64(delta))
}

func (m *Metrics) Published(n int) {
	if m == nil {
		return
	}
	m.publishedFiles.Add(float64(n))
}
