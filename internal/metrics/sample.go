// Package metrics turns upstream Airbyte state into metric samples and
// holds the current sample snapshot for the exposition endpoint.
package metrics

import (
	"sort"
	"strings"
)

// Kind distinguishes how a sample is exposed.
type Kind int

const (
	KindGauge Kind = iota
	KindCounter
)

// Sample is one metric data point produced by a poll cycle. Samples
// are never mutated after creation; each cycle builds a fresh set.
type Sample struct {
	Name   string
	Help   string
	Labels map[string]string
	Value  float64
	Kind   Kind
}

// labelSignature renders a sample's labels in a canonical order, used
// for stable sorting and for label-order independent comparisons.
func labelSignature(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	var b strings.Builder

	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}

		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}

	return b.String()
}

// sortSamples orders samples by metric name, then by label signature.
// Mapping the same input twice yields an identical sequence.
func sortSamples(samples []Sample) {
	sort.SliceStable(samples, func(i, j int) bool {
		if samples[i].Name != samples[j].Name {
			return samples[i].Name < samples[j].Name
		}

		return labelSignature(samples[i].Labels) <
			labelSignature(samples[j].Labels)
	})
}
