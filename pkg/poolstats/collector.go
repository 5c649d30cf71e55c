// Package poolstats exports a prometheus.Collector over a worker pool's
// live statistics.
package poolstats

import (
	"github.com/prometheus/client_golang/prometheus"
)

var _ prometheus.Collector = (*Collector)(nil)

// Stat is the four counters the download pool exposes (spec.md §4.4's
// bounded worker pool). Reshaped from pgxpool.Stat's connection-pool method
// set onto "artifacts in flight" rather than "connections acquired": the
// pool being measured here hands out download slots, not database
// connections.
type Stat interface {
	InFlight() int32
	Queued() int32
	Completed() int64
	Failed() int64
}

type staterFunc func() Stat

// Collector is a prometheus.Collector for a [transaction] download pool's
// in-flight/queued/completed/failed counters.
type Collector struct {
	name string
	stat staterFunc

	inFlightDesc  *prometheus.Desc
	queuedDesc    *prometheus.Desc
	completedDesc *prometheus.Desc
	failedDesc    *prometheus.Desc
}

// Stater is a provider of the Stat() function. Implemented by the
// transaction package's download pool.
type Stater interface {
	Stat() Stat
}

// NewCollector creates a Collector that reports pool's live statistics
// under the given pool name (used to differentiate collectors when more
// than one pool runs in the same process, e.g. a metadata-refresh pool
// alongside the package download pool).
func NewCollector(pool Stater, name string) *Collector {
	return newCollector(pool.Stat, name)
}

func newCollector(fn staterFunc, name string) *Collector {
	return &Collector{
		name: name,
		stat: fn,
		inFlightDesc: prometheus.NewDesc(
			"urpm_pool_inflight",
			"Number of downloads currently in flight.",
			staticLabels, nil),
		queuedDesc: prometheus.NewDesc(
			"urpm_pool_queued",
			"Number of downloads waiting for a free worker slot.",
			staticLabels, nil),
		completedDesc: prometheus.NewDesc(
			"urpm_pool_completed_total",
			"Cumulative count of downloads that completed successfully.",
			staticLabels, nil),
		failedDesc: prometheus.NewDesc(
			"urpm_pool_failed_total",
			"Cumulative count of downloads that failed after retry.",
			staticLabels, nil),
	}
}

var staticLabels = []string{"pool"}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(c, ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	s := c.stat()
	metrics <- prometheus.MustNewConstMetric(c.inFlightDesc, prometheus.GaugeValue, float64(s.InFlight()), c.name)
	metrics <- prometheus.MustNewConstMetric(c.queuedDesc, prometheus.GaugeValue, float64(s.Queued()), c.name)
	metrics <- prometheus.MustNewConstMetric(c.completedDesc, prometheus.CounterValue, float64(s.Completed()), c.name)
	metrics <- prometheus.MustNewConstMetric(c.failedDesc, prometheus.CounterValue, float64(s.Failed()), c.name)
}
