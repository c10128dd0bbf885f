// Package stats provides a unified interface for collecting metrics.
package stats

// Metric names used throughout the library.
const (
	// Region cache metrics.
	MetricRegionReads       = "romstash_region_reads_total"
	MetricRegionCacheHits   = "romstash_region_cache_hits_total"
	MetricRegionCacheMisses = "romstash_region_cache_misses_total"

	// Persistent cache metrics.
	MetricPersistMemoryHits  = "romstash_persist_memory_hits_total"
	MetricPersistQueueHits   = "romstash_persist_queue_hits_total"
	MetricPersistDiskHits    = "romstash_persist_disk_hits_total"
	MetricPersistMisses      = "romstash_persist_misses_total"
	MetricPersistErrors      = "romstash_persist_errors_total"
	MetricPersistWrites      = "romstash_persist_writes_total"
	MetricPersistWriteErrors = "romstash_persist_write_errors_total"
	MetricPersistPending     = "romstash_persist_pending_writes"

	// Scan metrics.
	MetricScanChunks      = "romstash_scan_chunks_total"
	MetricScanChunkErrors = "romstash_scan_chunk_errors_total"
	MetricScanResults     = "romstash_scan_results_total"
	MetricScanDuration    = "romstash_scan_duration_seconds"

	// Extraction metrics.
	MetricExtractHits     = "romstash_extract_hits_total"
	MetricExtractMisses   = "romstash_extract_misses_total"
	MetricExtractErrors   = "romstash_extract_errors_total"
	MetricExtractDuration = "romstash_extract_duration_seconds"
	MetricDecompCacheSize = "romstash_decompression_cache_size"
)

// Collector defines the interface for collecting metrics.
type Collector interface {
	// IncCounter increments a counter metric by delta.
	IncCounter(name string, delta int64)

	// SetGauge sets a gauge metric to value.
	SetGauge(name string, value int64)

	// ObserveHistogram records a value in a histogram metric.
	ObserveHistogram(name string, value float64)
}
