package monitoring

import (
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/guided-traffic/bodyparser/pkg/bodyparser"
)

// KubernetesLabels holds Kubernetes metadata labels
var (
	kubernetesNamespace = os.Getenv("KUBERNETES_NAMESPACE")
	kubernetesPodName   = os.Getenv("KUBERNETES_POD_NAME")
	helmReleaseName     = os.Getenv("HELM_RELEASE_NAME")
	helmChartVersion    = os.Getenv("HELM_CHART_VERSION")
)

// getKubernetesLabels returns the Kubernetes labels for metrics
func getKubernetesLabels() prometheus.Labels {
	labels := prometheus.Labels{}

	if kubernetesNamespace != "" {
		labels["kubernetes_namespace"] = kubernetesNamespace
	}
	if kubernetesPodName != "" {
		labels["kubernetes_pod_name"] = kubernetesPodName
	}
	if helmReleaseName != "" {
		labels["helm_release"] = helmReleaseName
	}
	if helmChartVersion != "" {
		labels["helm_chart_version"] = helmChartVersion
	}

	return labels
}

// Metrics holds the Prometheus collectors of the service. It implements
// bodyparser.Observer.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	ActiveConnections prometheus.Gauge

	BodiesTotal    *prometheus.CounterVec
	BodiesSkipped  *prometheus.CounterVec
	BodyErrors     *prometheus.CounterVec
	BodySize       *prometheus.HistogramVec
	ParseDuration  *prometheus.HistogramVec
	BodiesInFlight prometheus.Gauge

	ServerInfo *prometheus.GaugeVec
}

var _ bodyparser.Observer = (*Metrics)(nil)

// NewMetrics registers all collectors on a fresh registry carrying the
// Kubernetes labels found in the environment.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(prometheus.WrapRegistererWith(getKubernetesLabels(), registry))

	return &Metrics{
		registry: registry,

		// HTTP Request metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bodyparser_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bodyparser_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		ActiveConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "bodyparser_active_connections",
				Help: "Number of active connections",
			},
		),

		// Body ingestion metrics
		BodiesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bodyparser_bodies_total",
				Help: "Total number of request bodies handled, by outcome",
			},
			[]string{"parser", "outcome"},
		),
		BodiesSkipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bodyparser_body_skipped_total",
				Help: "Total number of request bodies left to later parsers",
			},
			[]string{"parser", "reason"},
		),
		BodyErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bodyparser_body_errors_total",
				Help: "Total number of failed body ingestions",
			},
			[]string{"parser", "kind", "status_code"},
		),
		BodySize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bodyparser_body_size_bytes",
				Help:    "Size of successfully read request bodies",
				Buckets: prometheus.ExponentialBuckets(64, 4, 10),
			},
			[]string{"parser"},
		),
		ParseDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bodyparser_ingest_duration_seconds",
				Help:    "Time spent reading, verifying and parsing a body",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"parser", "outcome", "size_category"},
		),
		BodiesInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "bodyparser_bodies_in_flight",
				Help: "Number of requests whose body is being ingested",
			},
		),

		// Server metrics
		ServerInfo: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bodyparser_server_info",
				Help: "Server build information",
			},
			[]string{"version", "commit", "build_time"},
		),
	}
}

// Registry returns the registry the collectors are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetServerInfo sets server build information
func (m *Metrics) SetServerInfo(version, commit, buildTime string) {
	m.ServerInfo.WithLabelValues(version, commit, buildTime).Set(1)
}

// BodySkipped implements bodyparser.Observer
func (m *Metrics) BodySkipped(parser, reason string) {
	m.BodiesTotal.WithLabelValues(parser, "skipped").Inc()
	m.BodiesSkipped.WithLabelValues(parser, reason).Inc()
}

// BodyParsed implements bodyparser.Observer
func (m *Metrics) BodyParsed(parser string, size int, duration time.Duration) {
	m.BodiesTotal.WithLabelValues(parser, "parsed").Inc()
	m.BodySize.WithLabelValues(parser).Observe(float64(size))
	m.ParseDuration.WithLabelValues(parser, "parsed", getBodySizeCategory(int64(size))).Observe(duration.Seconds())
}

// BodyFailed implements bodyparser.Observer
func (m *Metrics) BodyFailed(parser string, err *bodyparser.Error, duration time.Duration) {
	m.BodiesTotal.WithLabelValues(parser, "failed").Inc()
	m.BodyErrors.WithLabelValues(parser, err.Kind.String(), statusLabel(err.StatusCode())).Inc()
	m.ParseDuration.WithLabelValues(parser, "failed", getBodySizeCategory(err.Received)).Observe(duration.Seconds())
}

// getBodySizeCategory categorizes bodies by size for better metrics analysis
func getBodySizeCategory(size int64) string {
	if size < 1024 {
		return "tiny" // < 1KB
	} else if size < 100*1024 {
		return "small" // < 100KB
	} else if size < 1024*1024 {
		return "medium" // < 1MB
	} else if size < 10*1024*1024 {
		return "large" // < 10MB
	}
	return "huge" // >= 10MB
}
