package flushmanager

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/sushant-115/gojodb-pagestore/core/storage_engine/common"
	pagemanager "github.com/sushant-115/gojodb-pagestore/core/write_engine/page_manager"
	internaltelemetry "github.com/sushant-115/gojodb-pagestore/internal/telemetry"
)

// --- File Layout ---
//
// +----------------------+ 0
// | header: version (8B) |
// +----------------------+ HeaderSize
// | physical page 0      | allocation bitmap
// +----------------------+
// | physical page 1      | metadata
// +----------------------+
// | physical page 2..N   | user pages, logical id = physical id - SystemPageCount
// +----------------------+

const (
	PageSize   = pagemanager.PageSize
	HeaderSize = 8

	// SystemPageCount is the number of reserved physical pages in front of the user pages.
	SystemPageCount = 2
	BitmapPageID    = 0
	MetadataPageID  = 1

	FileFormatVersion = 1
)

// maxLogicalPageID is the largest logical id whose byte offset still fits in an int64.
const maxLogicalPageID = (math.MaxInt64-HeaderSize)/PageSize - SystemPageCount - 1

// headerOrder matches the big-endian 8-byte version header of existing database files.
var headerOrder = binary.BigEndian

// DiskManager owns the database file: header, allocation bitmap, metadata page and
// the user pages behind them. Every allocator call persists the bitmap before it returns.
type DiskManager struct {
	filePath string
	file     *os.File
	fileSize int64
	bitmap   *allocationBitmap
	metadata FileMetadata
	logger   *zap.Logger
	metrics  *internaltelemetry.StorageMetrics
	mu       sync.RWMutex
}

// NewDiskManager opens the database file at filePath, creating and initializing it when
// it is missing or empty. logger and metrics may be nil.
func NewDiskManager(filePath string, logger *zap.Logger, metrics *internaltelemetry.StorageMetrics) (*DiskManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	file, err := os.OpenFile(filePath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: opening file %s: %v", ErrIO, filePath, err)
	}
	fi, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("%w: getting file info: %v", ErrIO, err)
	}

	dm := &DiskManager{
		filePath: filePath,
		file:     file,
		fileSize: fi.Size(),
		logger:   logger,
		metrics:  metrics,
	}
	if dm.fileSize == 0 {
		err = dm.initialize()
	} else {
		err = dm.load()
	}
	if err != nil {
		_ = file.Close()
		return nil, err
	}

	logger.Info("Database file opened",
		zap.String("path", filePath),
		zap.Int64("size", dm.fileSize),
		zap.Int("allocatedPages", dm.bitmap.cardinality()),
		zap.String("fileID", dm.metadata.FileID.String()),
	)
	return dm, nil
}

// initialize lays out a fresh file: header, bitmap page and metadata page.
func (dm *DiskManager) initialize() error {
	if err := dm.writeHeader(FileFormatVersion); err != nil {
		return err
	}
	dm.bitmap = newAllocationBitmap()
	if err := dm.writePhysical(BitmapPageID, dm.bitmap.bits[:]); err != nil {
		return fmt.Errorf("failed to write initial bitmap: %w", err)
	}
	dm.metadata = newFileMetadata(time.Now())
	if err := dm.writePhysical(MetadataPageID, dm.metadata.encode().Data()); err != nil {
		return fmt.Errorf("failed to write initial metadata: %w", err)
	}
	dm.logger.Info("Initialized new database file", zap.String("path", dm.filePath))
	return nil
}

// load reads the bitmap and metadata of an existing file and validates them.
func (dm *DiskManager) load() error {
	if dm.fileSize < HeaderSize {
		return fmt.Errorf("%w: file is %d bytes, shorter than the %d byte header", ErrInvariantViolation, dm.fileSize, HeaderSize)
	}
	version, err := dm.readHeader()
	if err != nil {
		return err
	}

	raw, err := dm.readPhysical(BitmapPageID)
	if err != nil {
		return fmt.Errorf("failed to read bitmap page: %w", err)
	}
	bitmapPage, err := pagemanager.NewPageFromBytes(raw)
	if err != nil {
		return err
	}
	dm.bitmap = &allocationBitmap{}
	dm.bitmap.load(bitmapPage)
	for i := 0; i < SystemPageCount; i++ {
		if !dm.bitmap.get(i) {
			return fmt.Errorf("%w: system page %d is not marked allocated", ErrInvariantViolation, i)
		}
	}
	if length, total := dm.bitmap.length(), dm.totalPagesLocked(); length > total {
		return fmt.Errorf("%w: bitmap marks page %d allocated but the file holds %d pages", ErrInvariantViolation, length-1, total)
	}

	raw, err = dm.readPhysical(MetadataPageID)
	if err != nil {
		return fmt.Errorf("failed to read metadata page: %w", err)
	}
	metaPage, err := pagemanager.NewPageFromBytes(raw)
	if err != nil {
		return err
	}
	if dm.metadata, err = decodeFileMetadata(metaPage); err != nil {
		return err
	}
	dm.logger.Debug("Loaded database file",
		zap.Int64("version", version),
		zap.Int32("majorVersion", dm.metadata.MajorVersion),
		zap.Int32("minorVersion", dm.metadata.MinorVersion),
		zap.Int("bitmapLength", dm.bitmap.length()),
	)
	return nil
}

// --- Header ---

func (dm *DiskManager) writeHeader(version int64) error {
	buf := make([]byte, HeaderSize)
	headerOrder.PutUint64(buf, uint64(version))
	if _, err := dm.file.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("%w: writing header to disk: %v", ErrIO, err)
	}
	dm.fileSize = max(dm.fileSize, HeaderSize)
	if err := syncData(dm.file); err != nil {
		return fmt.Errorf("%w: syncing header: %v", ErrIO, err)
	}
	return nil
}

func (dm *DiskManager) readHeader() (int64, error) {
	buf := make([]byte, HeaderSize)
	if _, err := dm.file.ReadAt(buf, 0); err != nil {
		return 0, fmt.Errorf("%w: reading header from disk: %v", ErrIO, err)
	}
	return int64(headerOrder.Uint64(buf)), nil
}

// ReadVersion returns the file format version stored in the header.
func (dm *DiskManager) ReadVersion() (int64, error) {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	if dm.file == nil {
		return 0, fmt.Errorf("%w: %w", ErrIO, ErrFileClosed)
	}
	return dm.readHeader()
}

// WriteVersion overwrites the file format version stored in the header.
func (dm *DiskManager) WriteVersion(version int64) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return fmt.Errorf("%w: %w", ErrIO, ErrFileClosed)
	}
	return dm.writeHeader(version)
}

// --- Physical Page I/O ---

func physicalOffset(physical int64) int64 {
	return HeaderSize + physical*PageSize
}

// toPhysical translates a logical id, rejecting ids whose offset would overflow.
func toPhysical(id pagemanager.PageID) (int64, error) {
	if uint64(id) > maxLogicalPageID {
		return 0, fmt.Errorf("%w: logical page id %d out of range", ErrInvalidArgument, id)
	}
	return int64(id) + SystemPageCount, nil
}

// readPhysical returns the page at physical, zero-filling whatever lies beyond EOF.
func (dm *DiskManager) readPhysical(physical int64) ([]byte, error) {
	buf := make([]byte, PageSize)
	offset := physicalOffset(physical)
	if offset >= dm.fileSize {
		return buf, nil
	}
	if _, err := dm.file.ReadAt(buf, offset); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: reading page %d at offset %d: %v", ErrIO, physical, offset, err)
	}
	dm.metrics.PageRead()
	return buf, nil
}

// growTo extends the file so that it holds physical page physical in full.
func (dm *DiskManager) growTo(physical int64) error {
	end := physicalOffset(physical) + PageSize
	if end <= dm.fileSize {
		return nil
	}
	if err := dm.file.Truncate(end); err != nil {
		return fmt.Errorf("%w: extending file to %d bytes: %v", ErrIO, end, err)
	}
	dm.logger.Debug("Extended database file", zap.Int64("from", dm.fileSize), zap.Int64("to", end))
	dm.fileSize = end
	return nil
}

func (dm *DiskManager) writePhysical(physical int64, data []byte) error {
	if len(data) != PageSize {
		return fmt.Errorf("%w: page data buffer size (%d) != page size (%d)", pagemanager.ErrInvalidPageSize, len(data), PageSize)
	}
	if err := dm.growTo(physical); err != nil {
		return err
	}
	offset := physicalOffset(physical)
	if _, err := dm.file.WriteAt(data, offset); err != nil {
		return fmt.Errorf("%w: writing page %d at offset %d: %v", ErrIO, physical, offset, err)
	}
	if err := syncData(dm.file); err != nil {
		return fmt.Errorf("%w: syncing page %d: %v", ErrIO, physical, err)
	}
	dm.metrics.PageWritten()
	return nil
}

// ReadPage returns a copy of logical page id. Pages past the end of the file read as zeros
// and the file is never extended by a read.
func (dm *DiskManager) ReadPage(id pagemanager.PageID) ([]byte, error) {
	physical, err := toPhysical(id)
	if err != nil {
		return nil, err
	}
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	if dm.file == nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, ErrFileClosed)
	}
	return dm.readPhysical(physical)
}

// WritePage writes data (exactly PageSize bytes) at logical page id, extending the file
// when needed. The data is synced to stable storage before WritePage returns.
func (dm *DiskManager) WritePage(id pagemanager.PageID, data []byte) error {
	if len(data) != PageSize {
		return fmt.Errorf("%w: got %d bytes for page %d", pagemanager.ErrInvalidPageSize, len(data), id)
	}
	physical, err := toPhysical(id)
	if err != nil {
		return err
	}
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return fmt.Errorf("%w: %w", ErrIO, ErrFileClosed)
	}
	if err := dm.writePhysical(physical, data); err != nil {
		return err
	}
	dm.logger.Debug("Wrote page", zap.Uint64("pageID", uint64(id)), zap.Int64("physicalID", physical))
	return nil
}

// --- Allocation ---

// AllocatePage marks the lowest free logical page as allocated and returns its id.
func (dm *DiskManager) AllocatePage() (pagemanager.PageID, error) {
	ids, err := dm.AllocatePages(1)
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// AllocatePages allocates n pages with a single bitmap write. If any step fails, none of
// the n allocations remain visible.
func (dm *DiskManager) AllocatePages(n int) ([]pagemanager.PageID, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: cannot allocate %d pages", ErrInvalidArgument, n)
	}
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, ErrFileClosed)
	}

	before := dm.bitmap.clone()
	ids := make([]pagemanager.PageID, 0, n)
	for i := 0; i < n; i++ {
		physical, err := dm.allocateLocked()
		if err != nil {
			dm.bitmap = before
			return nil, err
		}
		ids = append(ids, pagemanager.PageID(physical-SystemPageCount))
	}
	if n == 0 {
		return ids, nil
	}
	if err := dm.persistBitmap(); err != nil {
		dm.bitmap = before
		return nil, err
	}
	dm.metrics.PagesAllocated(n)
	dm.logger.Debug("Allocated pages", zap.Int("count", n), zap.Uint64("firstPageID", uint64(ids[0])))
	return ids, nil
}

// allocateLocked sets the next free bit and grows the file to cover it. The bitmap is not persisted.
func (dm *DiskManager) allocateLocked() (int64, error) {
	idx := dm.bitmap.nextClear(SystemPageCount)
	if idx >= maxBitmapBits {
		return 0, fmt.Errorf("%w: %w: page %d needs bit %d of %d", ErrInvariantViolation, ErrBitmapFull, idx-SystemPageCount, idx, maxBitmapBits)
	}
	dm.bitmap.set(idx)
	if err := dm.growTo(int64(idx)); err != nil {
		dm.bitmap.clear(idx)
		return 0, err
	}
	return int64(idx), nil
}

// FreePage clears the allocation bit of id. The file is not shrunk.
func (dm *DiskManager) FreePage(id pagemanager.PageID) error {
	physical, err := toPhysical(id)
	if err != nil {
		return err
	}
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return fmt.Errorf("%w: %w", ErrIO, ErrFileClosed)
	}
	if physical >= maxBitmapBits || !dm.bitmap.get(int(physical)) {
		return fmt.Errorf("%w: %w: page %d", ErrInvalidArgument, ErrPageNotAllocated, id)
	}

	dm.bitmap.clear(int(physical))
	if err := dm.persistBitmap(); err != nil {
		dm.bitmap.set(int(physical))
		return err
	}
	dm.metrics.PageFreed()
	dm.logger.Debug("Freed page", zap.Uint64("pageID", uint64(id)))
	return nil
}

func (dm *DiskManager) persistBitmap() error {
	if err := dm.writePhysical(BitmapPageID, dm.bitmap.bits[:]); err != nil {
		return fmt.Errorf("failed to persist allocation bitmap: %w", err)
	}
	return nil
}

// --- Introspection ---

// GetPageOffset returns the byte offset of logical page id in the file, or -1 when
// the offset does not fit in an int64.
func (dm *DiskManager) GetPageOffset(id pagemanager.PageID) int64 {
	if uint64(id) > maxLogicalPageID {
		return -1
	}
	return physicalOffset(int64(id) + SystemPageCount)
}

// PageExists reports whether the file holds all PageSize bytes of logical page id.
func (dm *DiskManager) PageExists(id pagemanager.PageID) bool {
	if uint64(id) > maxLogicalPageID {
		return false
	}
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.GetPageOffset(id)+PageSize <= dm.fileSize
}

// IsAllocated reports whether logical page id is marked in the allocation bitmap.
func (dm *DiskManager) IsAllocated(id pagemanager.PageID) bool {
	if uint64(id) >= maxBitmapBits-SystemPageCount {
		return false
	}
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.bitmap.get(int(id) + SystemPageCount)
}

// GetLogicalFileSize returns the current length of the database file in bytes.
func (dm *DiskManager) GetLogicalFileSize() int64 {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.fileSize
}

// GetTotalPages returns the number of physical pages, system pages included, the file covers.
func (dm *DiskManager) GetTotalPages() int {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.totalPagesLocked()
}

func (dm *DiskManager) totalPagesLocked() int {
	if dm.fileSize <= HeaderSize {
		return 0
	}
	return int((dm.fileSize - HeaderSize + PageSize - 1) / PageSize)
}

// GetAllocatedPageCount returns the number of allocated physical pages, system pages included.
func (dm *DiskManager) GetAllocatedPageCount() int {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.bitmap.cardinality()
}

// GetFreePageCount returns the number of pages in the file that are not allocated.
func (dm *DiskManager) GetFreePageCount() int {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.totalPagesLocked() - dm.bitmap.cardinality()
}

// Metadata returns the decoded metadata page.
func (dm *DiskManager) Metadata() FileMetadata {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.metadata
}

func (dm *DiskManager) Path() string { return dm.filePath }

// --- Lifecycle ---

// Backup syncs the file and copies it to dstPath at no more than bytesPerSec
// (unlimited when <= 0). Writers are blocked for the duration of the copy.
// The SHA-256 of the copy is returned.
func (dm *DiskManager) Backup(ctx context.Context, dstPath string, bytesPerSec int64) ([]byte, error) {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	if dm.file == nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, ErrFileClosed)
	}
	if err := dm.file.Sync(); err != nil {
		return nil, fmt.Errorf("%w: syncing before backup: %v", ErrIO, err)
	}
	sum, err := common.CopyThrottled(ctx, dm.filePath, dstPath, bytesPerSec)
	if err != nil {
		return nil, fmt.Errorf("%w: backup to %s: %v", ErrIO, dstPath, err)
	}
	dm.logger.Info("Backup completed", zap.String("destination", dstPath), zap.String("sha256", fmt.Sprintf("%x", sum)))
	return sum, nil
}

// Sync flushes all buffered data and file metadata to disk.
func (dm *DiskManager) Sync() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return nil
	}
	if err := dm.file.Sync(); err != nil {
		return fmt.Errorf("%w: sync: %v", ErrIO, err)
	}
	return nil
}

// Close syncs and closes the underlying file handle. Closing twice is a no-op.
func (dm *DiskManager) Close() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return nil
	}
	err := multierr.Append(dm.file.Sync(), dm.file.Close())
	dm.file = nil
	if err != nil {
		return fmt.Errorf("%w: closing %s: %v", ErrIO, dm.filePath, err)
	}
	dm.logger.Info("Database file closed", zap.String("path", dm.filePath))
	return nil
}
