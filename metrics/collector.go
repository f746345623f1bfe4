// Package metrics exports picksync.Stats as Prometheus metrics.
//
// The Collector reads a fresh Stats snapshot on every scrape; counters in
// Stats are monotonic for the life of a cache, so they are exported as
// Prometheus counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"

	"github.com/unkn0wn-root/picksync"
)

// StatsSource is satisfied by picksync.Cache.
type StatsSource interface {
	Stats() picksync.Stats
}

// BreakerSource is satisfied by *breaker.Source.
type BreakerSource interface {
	States() (read, write gobreaker.State)
}

type Option func(*Collector)

// WithBreaker also exports the read and write breaker states.
func WithBreaker(b BreakerSource) Option {
	return func(c *Collector) { c.breaker = b }
}

// WithConstLabels attaches labels to every metric, e.g. the scanner station.
func WithConstLabels(l prometheus.Labels) Option {
	return func(c *Collector) { c.constLabels = l }
}

type Collector struct {
	src         StatsSource
	breaker     BreakerSource
	constLabels prometheus.Labels

	entries        *prometheus.Desc
	reads          *prometheus.Desc
	refreshes      *prometheus.Desc
	fetchFailures  *prometheus.Desc
	cancellations  *prometheus.Desc
	batches        *prometheus.Desc
	batchesFailed  *prometheus.Desc
	chunks         *prometheus.Desc
	records        *prometheus.Desc
	swept          *prometheus.Desc
	lastSweep      *prometheus.Desc
	trackerCalls   *prometheus.Desc
	trackerFlagged *prometheus.Desc
	srcCalls       *prometheus.Desc
	srcErrors      *prometheus.Desc
	srcLatency     *prometheus.Desc
	breakerState   *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector builds a collector with metric names prefixed by namespace
// ("" => "picksync").
func NewCollector(namespace string, src StatsSource, opts ...Option) *Collector {
	if namespace == "" {
		namespace = "picksync"
	}
	c := &Collector{src: src}
	for _, o := range opts {
		o(c)
	}
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, c.constLabels)
	}

	c.entries = desc("entries", "Cached entries per kind, expired-but-unswept included.", "kind")
	c.reads = desc("reads_total", "Cache reads by result.", "result")
	c.refreshes = desc("refreshes_total", "Background refreshes by outcome.", "outcome")
	c.fetchFailures = desc("fetch_failures_total", "Miss-path fetches that failed and returned empty.")
	c.cancellations = desc("cancellations_total", "Source calls ended by context cancellation.")
	c.batches = desc("batches_total", "Scan batches submitted.")
	c.batchesFailed = desc("batches_failed_total", "Scan batches that neither wrote nor skipped a record.")
	c.chunks = desc("chunks_total", "Scan batch chunks by outcome.", "outcome")
	c.records = desc("records_total", "Scan records by outcome.", "outcome")
	c.swept = desc("swept_total", "Expired entries removed by cleanup.")
	c.lastSweep = desc("last_sweep_timestamp_seconds", "Unix time of the last cleanup pass.")
	c.trackerCalls = desc("tracker_calls_total", "Read calls seen by the query tracker.")
	c.trackerFlagged = desc("tracker_flagged_total", "Reads flagged as rapid or frequent repeats.")
	c.srcCalls = desc("source_calls_total", "Data source calls per operation.", "op")
	c.srcErrors = desc("source_errors_total", "Failed data source calls per operation.", "op")
	c.srcLatency = desc("source_latency_seconds", "Data source call latency percentiles.", "op", "percentile")
	c.breakerState = desc("breaker_state", "Circuit breaker state: 0 closed, 1 half-open, 2 open.", "breaker")
	return c
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.entries, c.reads, c.refreshes, c.fetchFailures, c.cancellations,
		c.batches, c.batchesFailed, c.chunks, c.records, c.swept, c.lastSweep,
		c.trackerCalls, c.trackerFlagged, c.srcCalls, c.srcErrors, c.srcLatency,
	} {
		ch <- d
	}
	if c.breaker != nil {
		ch <- c.breakerState
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()

	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}

	for kind, n := range s.Entries {
		gauge(c.entries, float64(n), kind)
	}

	counter(c.reads, s.Hits, "hit")
	counter(c.reads, s.Misses, "miss")
	counter(c.reads, s.Derived, "derived")

	counter(c.refreshes, s.Refreshes, "run")
	counter(c.refreshes, s.RefreshesSkipped, "skipped")
	counter(c.refreshes, s.RefreshesDropped, "dropped")
	counter(c.refreshes, s.RefreshFailures, "failed")

	counter(c.fetchFailures, s.FetchFailures)
	counter(c.cancellations, s.Cancellations)

	counter(c.batches, s.Batches)
	counter(c.batchesFailed, s.BatchesFailed)
	counter(c.chunks, s.ChunksWritten, "written")
	counter(c.chunks, s.ChunksFailed, "failed")
	counter(c.records, s.RecordsWritten, "written")
	counter(c.records, s.RecordsSkipped, "skipped")

	counter(c.swept, s.Swept)
	if !s.LastSweep.IsZero() {
		gauge(c.lastSweep, float64(s.LastSweep.UnixNano())/1e9)
	}

	counter(c.trackerCalls, uint64(s.Tracker.TotalCalls))
	counter(c.trackerFlagged, uint64(s.Tracker.FlaggedDuplicates))

	for _, l := range s.Latency {
		counter(c.srcCalls, uint64(l.Count), l.Operation)
		counter(c.srcErrors, uint64(l.Errors), l.Operation)
		// Stats carry milliseconds
		gauge(c.srcLatency, l.P50/1e3, l.Operation, "p50")
		gauge(c.srcLatency, l.P90/1e3, l.Operation, "p90")
		gauge(c.srcLatency, l.P99/1e3, l.Operation, "p99")
	}

	if c.breaker != nil {
		read, write := c.breaker.States()
		gauge(c.breakerState, float64(read), "read")
		gauge(c.breakerState, float64(write), "write")
	}
}
