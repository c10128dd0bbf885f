// Package prometheus provides a Prometheus-based stats collector.
package prometheus

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/discochess/romstash/internal/stats"
)

// durationBuckets covers sub-millisecond cache hits up to multi-second scans.
var durationBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60}

// help describes the metrics emitted by romstash. Unknown names use the name
// itself as help text.
var help = map[string]string{
	stats.MetricRegionReads:        "ROM region reads served.",
	stats.MetricRegionCacheHits:    "ROM region reads served from the LRU.",
	stats.MetricRegionCacheMisses:  "ROM region reads that went to the mapping.",
	stats.MetricPersistMemoryHits:  "Persistent cache requests served from memory.",
	stats.MetricPersistQueueHits:   "Persistent cache requests served from writes not yet flushed.",
	stats.MetricPersistDiskHits:    "Persistent cache requests served from the disk tier.",
	stats.MetricPersistMisses:      "Persistent cache requests that missed both tiers.",
	stats.MetricPersistErrors:      "Persistent cache requests that failed with an I/O error.",
	stats.MetricPersistWrites:      "Persistent cache entries written to the disk tier.",
	stats.MetricPersistWriteErrors: "Persistent cache disk writes that failed.",
	stats.MetricPersistPending:     "Persistent cache writes waiting for the next flush.",
	stats.MetricScanChunks:         "Scan chunks processed.",
	stats.MetricScanChunkErrors:    "Scan chunks that failed and produced no results.",
	stats.MetricScanResults:        "Sprite candidates reported by scans.",
	stats.MetricScanDuration:       "Wall time of complete scans.",
	stats.MetricExtractHits:        "Extractions served from the decompression cache.",
	stats.MetricExtractMisses:      "Extractions that ran the decompressor.",
	stats.MetricExtractErrors:      "Extractions that failed.",
	stats.MetricExtractDuration:    "Wall time of single extractions.",
	stats.MetricDecompCacheSize:    "Entries held by the decompression cache.",
}

// Collector implements stats.Collector using Prometheus metrics.
type Collector struct {
	registry prometheus.Registerer

	mu         sync.RWMutex
	counters   map[string]prometheus.Counter
	gauges     map[string]prometheus.Gauge
	histograms map[string]prometheus.Histogram
}

// Compile-time check that Collector implements stats.Collector.
var _ stats.Collector = (*Collector)(nil)

// New creates a new Prometheus collector.
// If registry is nil, prometheus.DefaultRegisterer is used.
func New(registry prometheus.Registerer) *Collector {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	return &Collector{
		registry:   registry,
		counters:   make(map[string]prometheus.Counter),
		gauges:     make(map[string]prometheus.Gauge),
		histograms: make(map[string]prometheus.Histogram),
	}
}

// IncCounter increments a counter metric.
func (c *Collector) IncCounter(name string, delta int64) {
	counter := getOrCreate(c, c.counters, name, func() prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: helpFor(name)})
	})
	counter.Add(float64(delta))
}

// SetGauge sets a gauge metric.
func (c *Collector) SetGauge(name string, value int64) {
	gauge := getOrCreate(c, c.gauges, name, func() prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: helpFor(name)})
	})
	gauge.Set(float64(value))
}

// ObserveHistogram records a value in a histogram.
// Metrics whose name ends in _seconds use latency buckets.
func (c *Collector) ObserveHistogram(name string, value float64) {
	histogram := getOrCreate(c, c.histograms, name, func() prometheus.Histogram {
		buckets := prometheus.DefBuckets
		if strings.HasSuffix(name, "_seconds") {
			buckets = durationBuckets
		}
		return prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    name,
			Help:    helpFor(name),
			Buckets: buckets,
		})
	})
	histogram.Observe(value)
}

// getOrCreate returns the metric registered under name, creating and
// registering it on first use. A metric already registered elsewhere under the
// same name is adopted instead of duplicated.
func getOrCreate[M prometheus.Collector](c *Collector, metrics map[string]M, name string, create func() M) M {
	c.mu.RLock()
	m, ok := metrics[name]
	c.mu.RUnlock()
	if ok {
		return m
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock.
	if m, ok = metrics[name]; ok {
		return m
	}

	m = create()
	if err := c.registry.Register(m); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(M); ok {
				metrics[name] = existing
				return existing
			}
		}
		// Registration failed but the metric still works unregistered.
	}
	metrics[name] = m
	return m
}

func helpFor(name string) string {
	if h, ok := help[name]; ok {
		return h
	}
	return name
}
