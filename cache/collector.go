package cache

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes the statistics of one or more caches to prometheus.
// Each cache is labelled with its name.
type Collector struct {
	caches []StatsProvider

	hits      *prometheus.Desc
	misses    *prometheus.Desc
	evictions *prometheus.Desc
	size      *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector builds a collector under namespace (for example "exchange").
func NewCollector(namespace string, caches ...StatsProvider) *Collector {
	labels := []string{"cache"}
	return &Collector{
		caches: caches,
		hits: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "cache", "hits_total"),
			"Number of cache lookups that found an entry.",
			labels, nil,
		),
		misses: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "cache", "misses_total"),
			"Number of cache lookups that found nothing.",
			labels, nil,
		),
		evictions: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "cache", "evictions_total"),
			"Number of entries evicted to stay within capacity.",
			labels, nil,
		),
		size: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "cache", "entries"),
			"Number of entries currently held.",
			labels, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hits
	ch <- c.misses
	ch <- c.evictions
	ch <- c.size
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, provider := range c.caches {
		if provider == nil {
			continue
		}
		s := provider.Stats()
		name := provider.Name()
		ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(s.Hits), name)
		ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(s.Misses), name)
		ch <- prometheus.MustNewConstMetric(c.evictions, prometheus.CounterValue, float64(s.Evictions), name)
		ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue, float64(s.Size), name)
	}
}
