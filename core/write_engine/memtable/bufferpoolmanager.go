package memtable

import (
	"fmt"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	pagemanager "github.com/sushant-115/gojodb-pagestore/core/write_engine/page_manager"
	internaltelemetry "github.com/sushant-115/gojodb-pagestore/internal/telemetry"
)

// BufferPoolManager caches up to capacity pages and evicts the least recently used one
// on a miss when full. Dirty victims are written back before they leave the pool.
// It is not safe for concurrent use.
type BufferPoolManager struct {
	store    PageStore
	capacity int
	frames   *simplelru.LRU[pagemanager.PageID, *frame]
	stats    Stats
	closed   bool
	logger   *zap.Logger
	metrics  *internaltelemetry.StorageMetrics
}

// NewBufferPoolManager creates an LRU buffer pool over store. logger and metrics may be nil.
func NewBufferPoolManager(capacity int, store PageStore, logger *zap.Logger, metrics *internaltelemetry.StorageMetrics) (*BufferPoolManager, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCapacity, capacity)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: page store cannot be nil", pagemanager.ErrInvalidArgument)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	// Eviction is driven explicitly so that a failed write-back can keep the victim.
	frames, err := simplelru.NewLRU[pagemanager.PageID, *frame](capacity, nil)
	if err != nil {
		return nil, err
	}
	bpm := &BufferPoolManager{
		store:    store,
		capacity: capacity,
		frames:   frames,
		logger:   logger.Named("bufferpool"),
		metrics:  metrics,
	}
	bpm.logger.Info("BufferPoolManager initialized", zap.Int("capacity", capacity))
	return bpm, nil
}

// GetPage returns the resident page for id, loading it from the store on a miss.
// The returned page is the pool's own copy: changes are visible to later GetPage calls
// and are written back only after MarkDirty.
func (bpm *BufferPoolManager) GetPage(id pagemanager.PageID) (*pagemanager.Page, error) {
	if bpm.closed {
		return nil, ErrBufferPoolClosed
	}
	if f, ok := bpm.frames.Get(id); ok {
		bpm.stats.Hits++
		bpm.metrics.CacheHit(policyLRU)
		return f.page, nil
	}

	bpm.stats.Misses++
	bpm.metrics.CacheMiss(policyLRU)
	page, err := loadPage(bpm.store, id)
	if err != nil {
		return nil, err
	}
	if bpm.frames.Len() >= bpm.capacity {
		if err := bpm.evictOldest(); err != nil {
			return nil, err
		}
	}
	bpm.frames.Add(id, &frame{page: page})
	bpm.logger.Debug("Page loaded into buffer pool", zap.Uint64("pageID", uint64(id)), zap.Int("resident", bpm.frames.Len()))
	return page, nil
}

// evictOldest removes the least recently used frame, writing it back first if dirty.
// When the write-back fails the frame stays resident and keeps its position.
func (bpm *BufferPoolManager) evictOldest() error {
	victimID, victim, ok := bpm.frames.GetOldest()
	if !ok {
		return nil
	}
	if victim.dirty {
		if err := bpm.writeBack(victimID, victim); err != nil {
			bpm.logger.Error("Failed to write back victim page, eviction aborted", zap.Uint64("pageID", uint64(victimID)), zap.Error(err))
			return fmt.Errorf("failed to flush dirty victim page %d: %w", victimID, err)
		}
	}
	bpm.frames.RemoveOldest()
	bpm.stats.Evictions++
	bpm.metrics.CacheEviction(policyLRU)
	bpm.logger.Debug("Evicted page", zap.Uint64("pageID", uint64(victimID)))
	return nil
}

func (bpm *BufferPoolManager) writeBack(id pagemanager.PageID, f *frame) error {
	if err := bpm.store.WritePage(id, f.page.Data()); err != nil {
		return err
	}
	f.dirty = false
	bpm.stats.WriteBacks++
	bpm.metrics.CacheWriteback(policyLRU)
	return nil
}

// MarkDirty flags page id for write-back. It is a no-op when id is not resident.
func (bpm *BufferPoolManager) MarkDirty(id pagemanager.PageID) {
	if f, ok := bpm.frames.Peek(id); ok {
		f.dirty = true
	}
}

// Discard drops page id from the pool without writing it back, for pages that were
// freed in the store. It reports whether the page was resident.
func (bpm *BufferPoolManager) Discard(id pagemanager.PageID) bool {
	if !bpm.frames.Remove(id) {
		return false
	}
	bpm.logger.Debug("Discarded page", zap.Uint64("pageID", uint64(id)))
	return true
}

// FlushPage writes page id back if it is resident and dirty.
func (bpm *BufferPoolManager) FlushPage(id pagemanager.PageID) error {
	if bpm.closed {
		return ErrBufferPoolClosed
	}
	f, ok := bpm.frames.Peek(id)
	if !ok {
		return fmt.Errorf("%w: page %d", ErrPageNotResident, id)
	}
	if !f.dirty {
		return nil
	}
	if err := bpm.writeBack(id, f); err != nil {
		return fmt.Errorf("failed to flush page %d: %w", id, err)
	}
	return nil
}

// Flush writes back every dirty resident page. Pages that fail stay dirty and all
// failures are returned together.
func (bpm *BufferPoolManager) Flush() error {
	if bpm.closed {
		return ErrBufferPoolClosed
	}
	var errs error
	flushed := 0
	for _, id := range bpm.frames.Keys() {
		f, _ := bpm.frames.Peek(id)
		if !f.dirty {
			continue
		}
		if err := bpm.writeBack(id, f); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to flush page %d: %w", id, err))
			continue
		}
		flushed++
	}
	bpm.logger.Debug("Flushed buffer pool", zap.Int("pages", flushed), zap.Error(errs))
	return errs
}

// Close flushes the pool and rejects any further use. The page store is left open.
// If the flush fails the pool stays open so the caller can retry.
func (bpm *BufferPoolManager) Close() error {
	if bpm.closed {
		return nil
	}
	if err := bpm.Flush(); err != nil {
		return err
	}
	bpm.closed = true
	bpm.frames.Purge()
	bpm.logger.Info("BufferPoolManager closed", zap.Uint64("hits", bpm.stats.Hits), zap.Uint64("misses", bpm.stats.Misses))
	return nil
}

// ResidentPageIDs lists the resident pages from most to least recently used.
func (bpm *BufferPoolManager) ResidentPageIDs() []pagemanager.PageID {
	keys := bpm.frames.Keys()
	for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
		keys[i], keys[j] = keys[j], keys[i]
	}
	return keys
}

func (bpm *BufferPoolManager) IsResident(id pagemanager.PageID) bool {
	return bpm.frames.Contains(id)
}

func (bpm *BufferPoolManager) IsDirty(id pagemanager.PageID) bool {
	f, ok := bpm.frames.Peek(id)
	return ok && f.dirty
}

func (bpm *BufferPoolManager) Len() int      { return bpm.frames.Len() }
func (bpm *BufferPoolManager) Capacity() int { return bpm.capacity }
func (bpm *BufferPoolManager) Stats() Stats  { return bpm.stats }
