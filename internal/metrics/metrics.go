// Package metrics provides Prometheus metrics for a page generation run.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the metrics of one process. It uses its own registry so
// repeated builds (and tests) never collide on the default one.
// All methods are safe on a nil *Collector.
type Collector struct {
	Registry *prometheus.Registry

	QueriesTotal  *prometheus.CounterVec
	PagesCreated  *prometheus.CounterVec
	PagesRejected prometheus.Counter
	NodeLookups   *prometheus.CounterVec
	BuildDuration prometheus.Histogram
}

// New creates a collector with all metrics registered.
func New() *Collector {
	c := &Collector{
		Registry: prometheus.NewRegistry(),
		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "contentpages",
				Name:      "queries_total",
				Help:      "Queries executed against the content schema",
			},
			[]string{"status"},
		),
		PagesCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "contentpages",
				Name:      "pages_created_total",
				Help:      "Route descriptors submitted to the page registry",
			},
			[]string{"collection"},
		),
		PagesRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "contentpages",
				Name:      "pages_rejected_total",
				Help:      "Route descriptors rejected because their path already exists",
			},
		),
		NodeLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "contentpages",
				Name:      "node_lookups_total",
				Help:      "Node store lookups issued by field resolvers",
			},
			[]string{"type"},
		),
		BuildDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "contentpages",
				Name:      "build_duration_seconds",
				Help:      "Duration of complete generation runs",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
	}

	c.Registry.MustRegister(c.QueriesTotal, c.PagesCreated, c.PagesRejected, c.NodeLookups, c.BuildDuration)
	return c
}

func (c *Collector) ObserveQuery(failed bool) {
	if c == nil {
		return
	}
	status := "ok"
	if failed {
		status = "error"
	}
	c.QueriesTotal.WithLabelValues(status).Inc()
}

func (c *Collector) ObservePage(collection string) {
	if c == nil {
		return
	}
	c.PagesCreated.WithLabelValues(collection).Inc()
}

func (c *Collector) ObserveRejectedPage() {
	if c == nil {
		return
	}
	c.PagesRejected.Inc()
}

func (c *Collector) ObserveLookup(nodeType string) {
	if c == nil {
		return
	}
	c.NodeLookups.WithLabelValues(nodeType).Inc()
}

func (c *Collector) ObserveBuild(seconds float64) {
	if c == nil {
		return
	}
	c.BuildDuration.Observe(seconds)
}

// WriteTextfile dumps the registry in the node_exporter textfile format.
func (c *Collector) WriteTextfile(path string) error {
	if c == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, c.Registry)
}
