package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Subsystem prefixes every collector exported by this service.
const Subsystem = "premiumgate"

var HistogramBuckets = []float64{
	// --- Fast responses (0 - 500ms) ---
	5, 10, 25, 50, 75, 100, 150, 200, 300, 500,

	// --- Slow responses (500ms - 15s) ---
	1000, 2000, 5000, 10000, 15000,

	// --- Long-lived requests such as SSE streams ---
	60000, 300000, 900000,
}

// Metric is a definition for the name, description, type, ID, and
// prometheus.Collector type (i.e. CounterVec, Summary, etc) of each metric
type Metric struct {
	MetricCollector prometheus.Collector
	ID              string
	Name            string
	Description     string
	Type            string
	Args            []string
}

// NewMetric associates prometheus.Collector based on Metric.Type
func NewMetric(m *Metric, subsystem string) prometheus.Collector {
	var metric prometheus.Collector
	switch m.Type {
	case "counter_vec":
		metric = prometheus.NewCounterVec(
			prometheus.CounterOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description},
			m.Args,
		)
	case "counter":
		metric = prometheus.NewCounter(
			prometheus.CounterOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description},
		)
	case "gauge":
		metric = prometheus.NewGauge(
			prometheus.GaugeOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description},
		)
	case "histogram_vec":
		metric = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Subsystem: subsystem, Name: m.Name, Help: m.Description, Buckets: HistogramBuckets},
			m.Args,
		)
	}
	m.MetricCollector = metric
	return metric
}

var MetricsBusinessProcess = &Metric{
	ID:          "bpDur",
	Name:        "bp_dur",
	Description: "process latency in milliseconds",
	Type:        "histogram_vec",
	Args:        []string{"type", "subtype"},
}

var MetricsCacheLookup = &Metric{
	ID:          "cacheLookup",
	Name:        "subscription_cache_lookup_total",
	Description: "Subscription cache lookups partitioned by hit/miss/bypass.",
	Type:        "counter_vec",
	Args:        []string{"result"},
}

var MetricsReconcile = &Metric{
	ID:          "reconcile",
	Name:        "subscription_reconcile_total",
	Description: "Expired-status reconciliation writes partitioned by outcome.",
	Type:        "counter_vec",
	Args:        []string{"outcome"},
}

var MetricsChangeEvents = &Metric{
	ID:          "changeEvents",
	Name:        "subscription_change_events_total",
	Description: "Realtime row change events received by change feeds.",
	Type:        "counter_vec",
	Args:        []string{"type"},
}

var MetricsActiveFeeds = &Metric{
	ID:          "activeFeeds",
	Name:        "subscription_active_feeds",
	Description: "Currently attached realtime change feeds.",
	Type:        "gauge",
}

// Premium collectors are usable before registration so that tests and the CLI
// can run without a registry.
var (
	BusinessProcess = NewMetric(MetricsBusinessProcess, Subsystem).(*prometheus.HistogramVec)
	CacheLookups    = NewMetric(MetricsCacheLookup, Subsystem).(*prometheus.CounterVec)
	Reconciles      = NewMetric(MetricsReconcile, Subsystem).(*prometheus.CounterVec)
	ChangeEvents    = NewMetric(MetricsChangeEvents, Subsystem).(*prometheus.CounterVec)
	ActiveFeeds     = NewMetric(MetricsActiveFeeds, Subsystem).(prometheus.Gauge)
)

var premiumMetrics = []*Metric{
	MetricsBusinessProcess,
	MetricsCacheLookup,
	MetricsReconcile,
	MetricsChangeEvents,
	MetricsActiveFeeds,
}

// RegisterPremium registers the premium collectors with reg.
func RegisterPremium(reg prometheus.Registerer, logger Logger) {
	for _, m := range premiumMetrics {
		if err := reg.Register(m.MetricCollector); err != nil {
			logger.Errorf("%s could not be registered in Prometheus, err=%v", m.Name, err)
		}
	}
}

const (
	RefererKey = "X-Referer"
)
