package memtable

import (
	"fmt"

	"go.uber.org/zap"

	pagemanager "github.com/sushant-115/gojodb-pagestore/core/write_engine/page_manager"
	internaltelemetry "github.com/sushant-115/gojodb-pagestore/internal/telemetry"
)

// SingleSlotBufferPool keeps at most one page resident. Loading a different page
// replaces it, writing the old one back first if it was marked dirty.
type SingleSlotBufferPool struct {
	store    PageStore
	resident pagemanager.PageID
	slot     *frame
	stats    Stats
	closed   bool
	logger   *zap.Logger
	metrics  *internaltelemetry.StorageMetrics
}

func NewSingleSlotBufferPool(store PageStore, logger *zap.Logger, metrics *internaltelemetry.StorageMetrics) (*SingleSlotBufferPool, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: page store cannot be nil", pagemanager.ErrInvalidArgument)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SingleSlotBufferPool{
		store:   store,
		logger:  logger.Named("singleslot"),
		metrics: metrics,
	}, nil
}

// GetPage returns page id, replacing the resident page on a miss. If the dirty
// resident page cannot be written back, it stays resident and the error is returned.
func (p *SingleSlotBufferPool) GetPage(id pagemanager.PageID) (*pagemanager.Page, error) {
	if p.closed {
		return nil, ErrBufferPoolClosed
	}
	if p.slot != nil && p.resident == id {
		p.stats.Hits++
		p.metrics.CacheHit(policySingleSlot)
		return p.slot.page, nil
	}

	p.stats.Misses++
	p.metrics.CacheMiss(policySingleSlot)
	page, err := loadPage(p.store, id)
	if err != nil {
		return nil, err
	}
	if p.slot != nil {
		if err := p.writeBack(); err != nil {
			return nil, fmt.Errorf("failed to flush dirty victim page %d: %w", p.resident, err)
		}
		p.stats.Evictions++
		p.metrics.CacheEviction(policySingleSlot)
		p.logger.Debug("Evicted page", zap.Uint64("pageID", uint64(p.resident)))
	}
	p.resident = id
	p.slot = &frame{page: page}
	return page, nil
}

func (p *SingleSlotBufferPool) writeBack() error {
	if p.slot == nil || !p.slot.dirty {
		return nil
	}
	if err := p.store.WritePage(p.resident, p.slot.page.Data()); err != nil {
		p.logger.Error("Failed to write back page", zap.Uint64("pageID", uint64(p.resident)), zap.Error(err))
		return err
	}
	p.slot.dirty = false
	p.stats.WriteBacks++
	p.metrics.CacheWriteback(policySingleSlot)
	return nil
}

// MarkDirty flags the resident page for write-back.
func (p *SingleSlotBufferPool) MarkDirty() {
	if p.slot != nil {
		p.slot.dirty = true
	}
}

// Discard empties the slot without write-back if page id is resident.
func (p *SingleSlotBufferPool) Discard(id pagemanager.PageID) bool {
	if p.slot == nil || p.resident != id {
		return false
	}
	p.slot = nil
	return true
}

// Flush writes the resident page back if it is dirty.
func (p *SingleSlotBufferPool) Flush() error {
	if p.closed {
		return ErrBufferPoolClosed
	}
	if err := p.writeBack(); err != nil {
		return fmt.Errorf("failed to flush page %d: %w", p.resident, err)
	}
	return nil
}

// Close flushes the resident page and rejects further use. The store is left open.
func (p *SingleSlotBufferPool) Close() error {
	if p.closed {
		return nil
	}
	if err := p.Flush(); err != nil {
		return err
	}
	p.closed = true
	p.slot = nil
	return nil
}

// ResidentPageID returns the resident page id, if any.
func (p *SingleSlotBufferPool) ResidentPageID() (pagemanager.PageID, bool) {
	return p.resident, p.slot != nil
}

func (p *SingleSlotBufferPool) ResidentPageIDs() []pagemanager.PageID {
	if p.slot == nil {
		return nil
	}
	return []pagemanager.PageID{p.resident}
}

func (p *SingleSlotBufferPool) IsDirty() bool {
	return p.slot != nil && p.slot.dirty
}

func (p *SingleSlotBufferPool) Stats() Stats { return p.stats }
