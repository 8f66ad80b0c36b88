package internaltelemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// StorageMetrics holds the metric instruments for the page store, the buffer pools
// and the read-ahead store. A nil *StorageMetrics records nothing.
type StorageMetrics struct {
	PageReadsCounter       metric.Int64Counter
	PageWritesCounter      metric.Int64Counter
	PagesAllocatedCounter  metric.Int64Counter
	PagesFreedCounter      metric.Int64Counter
	CacheHitsCounter       metric.Int64Counter
	CacheMissesCounter     metric.Int64Counter
	CacheEvictionsCounter  metric.Int64Counter
	CacheWritebacksCounter metric.Int64Counter
	PrefetchHitsCounter    metric.Int64Counter
	PrefetchIssuedCounter  metric.Int64Counter
}

// NewStorageMetrics creates and registers all the metrics for the storage core.
func NewStorageMetrics(meter metric.Meter) (*StorageMetrics, error) {
	m := &StorageMetrics{}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.PageReadsCounter, "gojodb.storage.page_reads_total", "Pages read from the database file."},
		{&m.PageWritesCounter, "gojodb.storage.page_writes_total", "Pages written to the database file."},
		{&m.PagesAllocatedCounter, "gojodb.storage.pages_allocated_total", "Logical pages allocated."},
		{&m.PagesFreedCounter, "gojodb.storage.pages_freed_total", "Logical pages freed."},
		{&m.CacheHitsCounter, "gojodb.bufferpool.hits_total", "Page requests served from the buffer pool."},
		{&m.CacheMissesCounter, "gojodb.bufferpool.misses_total", "Page requests that had to read from the store."},
		{&m.CacheEvictionsCounter, "gojodb.bufferpool.evictions_total", "Pages evicted from the buffer pool."},
		{&m.CacheWritebacksCounter, "gojodb.bufferpool.writebacks_total", "Dirty pages written back to the store."},
		{&m.PrefetchHitsCounter, "gojodb.prefetch.hits_total", "Reads served from the read-ahead table."},
		{&m.PrefetchIssuedCounter, "gojodb.prefetch.issued_total", "Background read-ahead reads issued."},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name,
			metric.WithDescription(c.desc),
			metric.WithUnit("1"),
		)
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}
	return m, nil
}

// NewNoopStorageMetrics returns instruments backed by a no-op meter.
func NewNoopStorageMetrics() *StorageMetrics {
	m, _ := NewStorageMetrics(noop.NewMeterProvider().Meter(""))
	return m
}

func (m *StorageMetrics) add(c metric.Int64Counter, n int64, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	c.Add(context.Background(), n, metric.WithAttributes(attrs...))
}

func (m *StorageMetrics) PageRead() {
	if m != nil {
		m.add(m.PageReadsCounter, 1)
	}
}

func (m *StorageMetrics) PageWritten() {
	if m != nil {
		m.add(m.PageWritesCounter, 1)
	}
}

func (m *StorageMetrics) PagesAllocated(n int) {
	if m != nil {
		m.add(m.PagesAllocatedCounter, int64(n))
	}
}

func (m *StorageMetrics) PageFreed() {
	if m != nil {
		m.add(m.PagesFreedCounter, 1)
	}
}

// CacheHit and the other cache recorders tag the sample with the eviction policy.
func (m *StorageMetrics) CacheHit(policy string) {
	if m != nil {
		m.add(m.CacheHitsCounter, 1, attribute.String("policy", policy))
	}
}

func (m *StorageMetrics) CacheMiss(policy string) {
	if m != nil {
		m.add(m.CacheMissesCounter, 1, attribute.String("policy", policy))
	}
}

func (m *StorageMetrics) CacheEviction(policy string) {
	if m != nil {
		m.add(m.CacheEvictionsCounter, 1, attribute.String("policy", policy))
	}
}

func (m *StorageMetrics) CacheWriteback(policy string) {
	if m != nil {
		m.add(m.CacheWritebacksCounter, 1, attribute.String("policy", policy))
	}
}

func (m *StorageMetrics) PrefetchHit() {
	if m != nil {
		m.add(m.PrefetchHitsCounter, 1)
	}
}

func (m *StorageMetrics) PrefetchIssued() {
	if m != nil {
		m.add(m.PrefetchIssuedCounter, 1)
	}
}
