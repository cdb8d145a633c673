package metrics

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const freshnessMetric = "airmon_last_successful_poll_timestamp_seconds"

// snapshot is one complete, immutable poll cycle result.
type snapshot struct {
	samples  []Sample
	polledAt time.Time
}

// Registry holds the current sample snapshot. The poll loop is the
// only writer; scrape handlers are concurrent readers. Swapping is a
// single pointer store, so readers always observe a complete snapshot
// from one cycle, never a mix of two.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates an empty registry. Until the first Swap, scrapes
// see no Airbyte samples and no freshness gauge.
func NewRegistry() *Registry {
	r := &Registry{}
	r.snap.Store(&snapshot{})

	return r
}

// Swap atomically replaces the current snapshot.
func (r *Registry) Swap(samples []Sample, polledAt time.Time) {
	r.snap.Store(&snapshot{
		samples:  samples,
		polledAt: polledAt,
	})
}

// Current returns the samples of the current snapshot. Callers must
// not mutate the returned slice.
func (r *Registry) Current() []Sample {
	return r.snap.Load().samples
}

// LastPoll returns when the current snapshot was produced, or the zero
// time before the first successful poll.
func (r *Registry) LastPoll() time.Time {
	return r.snap.Load().polledAt
}

var _ prometheus.Collector = (*Registry)(nil)

// Describe sends no descriptors, making the registry an unchecked
// collector: the sample set changes every poll cycle.
func (r *Registry) Describe(chan<- *prometheus.Desc) {}

// Collect renders the current snapshot as const metrics, plus a
// freshness gauge carrying the snapshot's poll time so consumers can
// detect staleness.
func (r *Registry) Collect(ch chan<- prometheus.Metric) {
	snap := r.snap.Load()

	for i := range snap.samples {
		ch <- constMetric(&snap.samples[i])
	}

	if !snap.polledAt.IsZero() {
		ch <- prometheus.MustNewConstMetric(
			prometheus.NewDesc(
				freshnessMetric,
				"Unix timestamp of the last successful upstream poll.",
				nil, nil,
			),
			prometheus.GaugeValue,
			float64(snap.polledAt.Unix()),
		)
	}
}

func constMetric(s *Sample) prometheus.Metric {
	keys := make([]string, 0, len(s.Labels))
	for k := range s.Labels {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	values := make([]string, len(keys))
	for i, k := range keys {
		values[i] = s.Labels[k]
	}

	valueType := prometheus.GaugeValue
	if s.Kind == KindCounter {
		valueType = prometheus.CounterValue
	}

	return prometheus.MustNewConstMetric(
		prometheus.NewDesc(s.Name, s.Help, keys, nil),
		valueType,
		s.Value,
		values...,
	)
}
