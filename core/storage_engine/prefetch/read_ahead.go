// Package prefetch wraps a page store with background read-ahead. Pages following a
// synchronous read are fetched by a small worker pool into a side table keyed by page id,
// and a later read of one of those pages is served from the table.
package prefetch

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	pagemanager "github.com/sushant-115/gojodb-pagestore/core/write_engine/page_manager"
	internaltelemetry "github.com/sushant-115/gojodb-pagestore/internal/telemetry"
)

// Store is the page store being wrapped.
type Store interface {
	ReadPage(id pagemanager.PageID) ([]byte, error)
	WritePage(id pagemanager.PageID, data []byte) error
	FreePage(id pagemanager.PageID) error
}

// Options configures read-ahead.
type Options struct {
	// Depth is how many following pages are queued after each read.
	Depth int `yaml:"depth"`
	// Workers is the number of background readers.
	Workers int `yaml:"workers"`
	// QueueSize bounds the pending request queue. Requests beyond it are dropped.
	QueueSize int `yaml:"queue_size"`
	// MaxEntries bounds the side table. When it is full the least recently scheduled
	// ready or failed entry makes room; pending entries are never evicted.
	MaxEntries int `yaml:"max_entries"`
	// ReadsPerSecond throttles background reads. Zero means unlimited.
	ReadsPerSecond float64 `yaml:"reads_per_second"`
}

func DefaultOptions() Options {
	return Options{
		Depth:      2,
		Workers:    2,
		QueueSize:  64,
		MaxEntries: 256,
	}
}

func (o Options) Validate() error {
	if o.Depth < 1 || o.Workers < 1 || o.QueueSize < 1 || o.MaxEntries < 1 {
		return fmt.Errorf("%w: read-ahead depth, workers, queue size and max entries must be positive", pagemanager.ErrInvalidArgument)
	}
	if o.ReadsPerSecond < 0 {
		return fmt.Errorf("%w: reads per second cannot be negative", pagemanager.ErrInvalidArgument)
	}
	return nil
}

type entryState int

const (
	statePending entryState = iota
	stateReady
	stateFailed
)

type entry struct {
	state entryState
	data  []byte
	err   error
}

type request struct {
	id pagemanager.PageID
	e  *entry
}

// Stats counts read-ahead activity.
type Stats struct {
	Hits      uint64 // reads served from the table
	Issued    uint64 // background reads performed
	Dropped   uint64 // requests skipped because the queue was full or every entry was pending
	Evicted   uint64 // unread entries evicted to make room
	Failed    uint64 // background reads that returned an error
	Discarded uint64 // background results thrown away after invalidation
}

// ReadAheadStore serves reads from prefetched copies when available. The table never
// holds bytes shared with a caller, and a write or free of a page drops its entry.
type ReadAheadStore struct {
	store   Store
	opts    Options
	limiter *rate.Limiter
	queue   chan request
	cancel  context.CancelFunc
	group   *errgroup.Group
	logger  *zap.Logger
	metrics *internaltelemetry.StorageMetrics

	mu     sync.Mutex
	table  *simplelru.LRU[pagemanager.PageID, *entry]
	stats  Stats
	closed bool
}

// NewReadAheadStore starts opts.Workers background readers over store.
func NewReadAheadStore(store Store, opts Options, logger *zap.Logger, metrics *internaltelemetry.StorageMetrics) (*ReadAheadStore, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store cannot be nil", pagemanager.ErrInvalidArgument)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	table, err := simplelru.NewLRU[pagemanager.PageID, *entry](opts.MaxEntries, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create read-ahead table: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)
	r := &ReadAheadStore{
		store:   store,
		opts:    opts,
		queue:   make(chan request, opts.QueueSize),
		cancel:  cancel,
		group:   group,
		logger:  logger.Named("prefetch"),
		metrics: metrics,
		table:   table,
	}
	if opts.ReadsPerSecond > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(opts.ReadsPerSecond), 1)
	}
	for i := 0; i < opts.Workers; i++ {
		group.Go(func() error { return r.worker(ctx) })
	}
	r.logger.Info("Read-ahead started", zap.Int("workers", opts.Workers), zap.Int("depth", opts.Depth))
	return r, nil
}

func (r *ReadAheadStore) worker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-r.queue:
			if r.limiter != nil {
				if err := r.limiter.Wait(ctx); err != nil {
					return nil
				}
			}
			r.metrics.PrefetchIssued()
			data, err := r.store.ReadPage(req.id)
			r.complete(req, data, err)
		}
	}
}

// complete records a background result unless the entry was invalidated meanwhile.
func (r *ReadAheadStore) complete(req request, data []byte, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Issued++
	if e, ok := r.table.Peek(req.id); !ok || e != req.e {
		r.stats.Discarded++
		return
	}
	if err != nil {
		r.stats.Failed++
		req.e.state = stateFailed
		req.e.err = err
		r.logger.Debug("Read-ahead failed", zap.Uint64("pageID", uint64(req.id)), zap.Error(err))
		return
	}
	req.e.state = stateReady
	req.e.data = append([]byte(nil), data...)
}

// ReadPage returns page id, from the table when a prefetched copy is ready and from the
// store otherwise, then queues the following pages. Read-ahead problems never fail a read.
func (r *ReadAheadStore) ReadPage(id pagemanager.PageID) ([]byte, error) {
	if data, ok := r.take(id); ok {
		r.schedule(id)
		return data, nil
	}
	data, err := r.store.ReadPage(id)
	if err != nil {
		return nil, err
	}
	r.schedule(id)
	return data, nil
}

// take removes and returns a ready entry. Failed entries are dropped; pending ones are left alone.
func (r *ReadAheadStore) take(id pagemanager.PageID) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.table.Peek(id)
	if !ok {
		return nil, false
	}
	switch e.state {
	case stateReady:
		r.table.Remove(id)
		r.stats.Hits++
		r.metrics.PrefetchHit()
		return e.data, true
	case stateFailed:
		r.table.Remove(id)
	}
	return nil, false
}

func (r *ReadAheadStore) schedule(id pagemanager.PageID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	for i := 1; i <= r.opts.Depth; i++ {
		next := id + pagemanager.PageID(i)
		if next < id {
			return
		}
		if r.table.Contains(next) {
			continue
		}
		if !r.makeRoomLocked() {
			r.stats.Dropped++
			continue
		}
		e := &entry{state: statePending}
		select {
		case r.queue <- request{id: next, e: e}:
			r.table.Add(next, e)
		default:
			r.stats.Dropped++
		}
	}
}

// makeRoomLocked evicts the oldest settled entry when the table is full. It reports
// false when every entry is still pending.
func (r *ReadAheadStore) makeRoomLocked() bool {
	if r.table.Len() < r.opts.MaxEntries {
		return true
	}
	for _, id := range r.table.Keys() {
		if e, ok := r.table.Peek(id); ok && e.state != statePending {
			r.table.Remove(id)
			r.stats.Evicted++
			return true
		}
	}
	return false
}

func (r *ReadAheadStore) invalidate(id pagemanager.PageID) {
	r.mu.Lock()
	r.table.Remove(id)
	r.mu.Unlock()
}

// WritePage writes through to the store and drops any prefetched copy of id.
func (r *ReadAheadStore) WritePage(id pagemanager.PageID, data []byte) error {
	r.invalidate(id)
	err := r.store.WritePage(id, data)
	r.invalidate(id)
	return err
}

// FreePage frees id in the store and drops any prefetched copy of it.
func (r *ReadAheadStore) FreePage(id pagemanager.PageID) error {
	r.invalidate(id)
	err := r.store.FreePage(id)
	r.invalidate(id)
	return err
}

func (r *ReadAheadStore) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Close stops the workers and waits for them. Reads and writes keep passing through
// to the store afterwards, without read-ahead.
func (r *ReadAheadStore) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.table.Purge()
	r.mu.Unlock()

	r.cancel()
	err := r.group.Wait()
	st := r.Stats()
	r.logger.Info("Read-ahead stopped", zap.Uint64("hits", st.Hits), zap.Uint64("issued", st.Issued))
	return err
}
