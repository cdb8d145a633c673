package export

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the exporter's self-observability instruments. These
// describe the exporter itself; the Airbyte-derived samples live in
// the snapshot registry and are rendered per scrape.
type Metrics struct {
	PollsTotal     prometheus.Counter
	PollErrors     *prometheus.CounterVec
	PollDuration   prometheus.Histogram
	SkippedRecords prometheus.Counter
	TokenRefreshes prometheus.Counter
	SamplesCurrent prometheus.Gauge

	UpstreamRequests *prometheus.CounterVec
}

// NewMetrics creates and registers the self-observability metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PollsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "airmon",
			Name:      "polls_total",
			Help:      "Total poll cycles attempted.",
		}),
		PollErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "airmon",
				Name:      "poll_errors_total",
				Help:      "Total failed poll cycles by failure reason.",
			},
			[]string{"reason"},
		),
		PollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "airmon",
			Name:      "poll_duration_seconds",
			Help:      "Duration of a full poll cycle.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		SkippedRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "airmon",
			Name:      "skipped_records_total",
			Help:      "Total upstream records skipped as malformed.",
		}),
		TokenRefreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "airmon",
			Name:      "token_refreshes_total",
			Help:      "Total access token grants performed.",
		}),
		SamplesCurrent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "airmon",
			Name:      "samples_current",
			Help:      "Number of samples in the current snapshot.",
		}),
		UpstreamRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "airmon",
				Name:      "upstream_requests_total",
				Help:      "Total upstream API requests by endpoint and status (0 = network error).",
			},
			[]string{"endpoint", "status"},
		),
	}

	reg.MustRegister(
		m.PollsTotal,
		m.PollErrors,
		m.PollDuration,
		m.SkippedRecords,
		m.TokenRefreshes,
		m.SamplesCurrent,
		m.UpstreamRequests,
	)

	return m
}
