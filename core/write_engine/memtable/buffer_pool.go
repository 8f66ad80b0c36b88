package memtable

import (
	"errors"
	"fmt"

	pagemanager "github.com/sushant-115/gojodb-pagestore/core/write_engine/page_manager"
)

// PageStore is the subset of the disk manager a buffer pool needs for misses and write-back.
type PageStore interface {
	ReadPage(id pagemanager.PageID) ([]byte, error)
	WritePage(id pagemanager.PageID, data []byte) error
}

// DefaultCapacity is the number of frames used when the configuration does not set one.
const DefaultCapacity = 3

const (
	policyLRU        = "lru"
	policySingleSlot = "single_slot"
)

var (
	ErrBufferPoolClosed = errors.New("buffer pool is closed")
	ErrInvalidCapacity  = fmt.Errorf("%w: buffer pool capacity must be at least 1", pagemanager.ErrInvalidArgument)
	ErrPageNotResident  = errors.New("page not resident in buffer pool")
)

// Stats counts buffer pool activity since creation.
type Stats struct {
	Hits       uint64
	Misses     uint64
	Evictions  uint64
	WriteBacks uint64
}

// HitRatio returns hits / (hits + misses), or 0 before the first request.
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// frame is a resident page and its dirty flag.
type frame struct {
	page  *pagemanager.Page
	dirty bool
}

// loadPage reads id through store into a page owned by the pool.
func loadPage(store PageStore, id pagemanager.PageID) (*pagemanager.Page, error) {
	data, err := store.ReadPage(id)
	if err != nil {
		return nil, fmt.Errorf("failed to read page %d: %w", id, err)
	}
	page, err := pagemanager.NewPageFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", id, err)
	}
	return page, nil
}
