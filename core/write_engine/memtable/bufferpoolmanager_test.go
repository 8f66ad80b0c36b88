package memtable

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	flushmanager "github.com/sushant-115/gojodb-pagestore/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojodb-pagestore/core/write_engine/page_manager"
	internaltelemetry "github.com/sushant-115/gojodb-pagestore/internal/telemetry"
)

var errInjected = errors.New("injected write failure")

// memStore is an in-memory PageStore that records traffic and can fail writes on demand.
type memStore struct {
	pages      map[pagemanager.PageID][]byte
	reads      []pagemanager.PageID
	writes     []pagemanager.PageID
	failWrites map[pagemanager.PageID]bool
	failReads  bool
}

func newMemStore() *memStore {
	return &memStore{
		pages:      make(map[pagemanager.PageID][]byte),
		failWrites: make(map[pagemanager.PageID]bool),
	}
}

func (s *memStore) ReadPage(id pagemanager.PageID) ([]byte, error) {
	if s.failReads {
		return nil, flushmanager.ErrIO
	}
	s.reads = append(s.reads, id)
	out := make([]byte, pagemanager.PageSize)
	copy(out, s.pages[id])
	return out, nil
}

func (s *memStore) WritePage(id pagemanager.PageID, data []byte) error {
	if s.failWrites[id] {
		return errInjected
	}
	s.writes = append(s.writes, id)
	s.pages[id] = append([]byte(nil), data...)
	return nil
}

func newTestPool(t *testing.T, capacity int, store PageStore) *BufferPoolManager {
	t.Helper()
	bpm, err := NewBufferPoolManager(capacity, store, zaptest.NewLogger(t), internaltelemetry.NewNoopStorageMetrics())
	require.NoError(t, err)
	return bpm
}

func TestBufferPoolManager_InvalidCapacity(t *testing.T) {
	for _, c := range []int{0, -1} {
		_, err := NewBufferPoolManager(c, newMemStore(), nil, nil)
		require.ErrorIs(t, err, ErrInvalidCapacity)
		require.ErrorIs(t, err, pagemanager.ErrInvalidArgument)
	}
	_, err := NewBufferPoolManager(3, nil, nil, nil)
	require.ErrorIs(t, err, pagemanager.ErrInvalidArgument)
}

// TestBufferPoolManager_LRUOrder runs the access sequence 1,2,3,1,4 against three frames.
func TestBufferPoolManager_LRUOrder(t *testing.T) {
	store := newMemStore()
	bpm := newTestPool(t, DefaultCapacity, store)

	for _, id := range []pagemanager.PageID{1, 2, 3, 1} {
		_, err := bpm.GetPage(id)
		require.NoError(t, err)
	}
	require.True(t, bpm.IsResident(2), "page 2 must survive until page 4 is loaded")
	require.Equal(t, []pagemanager.PageID{1, 3, 2}, bpm.ResidentPageIDs())

	_, err := bpm.GetPage(4)
	require.NoError(t, err)
	require.False(t, bpm.IsResident(2))
	require.Equal(t, []pagemanager.PageID{4, 1, 3}, bpm.ResidentPageIDs())
	require.Equal(t, 3, bpm.Len())

	stats := bpm.Stats()
	require.Equal(t, uint64(1), stats.Hits)
	require.Equal(t, uint64(4), stats.Misses)
	require.Equal(t, uint64(1), stats.Evictions)
	require.Equal(t, uint64(0), stats.WriteBacks, "clean pages are dropped without a write")
	require.Empty(t, store.writes)
	require.Equal(t, []pagemanager.PageID{1, 2, 3, 4}, store.reads, "hits never touch the store")
}

func TestBufferPoolManager_HitReturnsSamePage(t *testing.T) {
	bpm := newTestPool(t, 2, newMemStore())

	p1, err := bpm.GetPage(7)
	require.NoError(t, err)
	require.NoError(t, p1.SetInt32(0, 42))

	p2, err := bpm.GetPage(7)
	require.NoError(t, err)
	require.Same(t, p1, p2)
	v, err := p2.GetInt32(0)
	require.NoError(t, err)
	require.Equal(t, int32(42), v, "callers observe in-place mutation of the resident page")
}

func TestBufferPoolManager_DirtyVictimWrittenBack(t *testing.T) {
	store := newMemStore()
	bpm := newTestPool(t, 2, store)

	p, err := bpm.GetPage(1)
	require.NoError(t, err)
	require.NoError(t, p.SetByte(0, 0xCD))
	bpm.MarkDirty(1)
	require.True(t, bpm.IsDirty(1))

	for _, id := range []pagemanager.PageID{2, 3} {
		_, err := bpm.GetPage(id)
		require.NoError(t, err)
	}
	require.False(t, bpm.IsResident(1))
	require.Equal(t, []pagemanager.PageID{1}, store.writes)
	require.Equal(t, byte(0xCD), store.pages[1][0])
	require.Equal(t, uint64(1), bpm.Stats().WriteBacks)
}

func TestBufferPoolManager_MarkDirtyNotResident(t *testing.T) {
	store := newMemStore()
	bpm := newTestPool(t, 2, store)
	bpm.MarkDirty(9)
	require.False(t, bpm.IsResident(9))
	require.NoError(t, bpm.Flush())
	require.Empty(t, store.writes)
}

// TestBufferPoolManager_EvictionAbort checks that a failed write-back keeps the victim and skips the load.
func TestBufferPoolManager_EvictionAbort(t *testing.T) {
	store := newMemStore()
	bpm := newTestPool(t, 2, store)

	p, err := bpm.GetPage(1)
	require.NoError(t, err)
	require.NoError(t, p.SetByte(10, 0x77))
	bpm.MarkDirty(1)
	_, err = bpm.GetPage(2)
	require.NoError(t, err)

	store.failWrites[1] = true
	_, err = bpm.GetPage(3)
	require.ErrorIs(t, err, errInjected)
	require.True(t, bpm.IsResident(1))
	require.True(t, bpm.IsDirty(1))
	require.False(t, bpm.IsResident(3))
	require.Equal(t, []pagemanager.PageID{2, 1}, bpm.ResidentPageIDs())
	require.Equal(t, uint64(0), bpm.Stats().Evictions)

	store.failWrites[1] = false
	_, err = bpm.GetPage(3)
	require.NoError(t, err)
	require.Equal(t, []pagemanager.PageID{3, 2}, bpm.ResidentPageIDs())
	require.Equal(t, byte(0x77), store.pages[1][10])
}

func TestBufferPoolManager_ReadFailureLeavesPoolUnchanged(t *testing.T) {
	store := newMemStore()
	bpm := newTestPool(t, 1, store)
	_, err := bpm.GetPage(1)
	require.NoError(t, err)

	store.failReads = true
	_, err = bpm.GetPage(2)
	require.ErrorIs(t, err, flushmanager.ErrIO)
	require.Equal(t, []pagemanager.PageID{1}, bpm.ResidentPageIDs())
}

func TestBufferPoolManager_FlushAggregatesErrors(t *testing.T) {
	store := newMemStore()
	bpm := newTestPool(t, 3, store)

	for _, id := range []pagemanager.PageID{1, 2, 3} {
		_, err := bpm.GetPage(id)
		require.NoError(t, err)
		bpm.MarkDirty(id)
	}
	store.failWrites[1] = true
	store.failWrites[3] = true

	err := bpm.Flush()
	require.ErrorIs(t, err, errInjected)
	require.Contains(t, err.Error(), "page 1")
	require.Contains(t, err.Error(), "page 3")
	require.True(t, bpm.IsDirty(1))
	require.False(t, bpm.IsDirty(2))
	require.True(t, bpm.IsDirty(3))

	// Close keeps the pool open while pages cannot be written.
	require.Error(t, bpm.Close())
	_, err = bpm.GetPage(1)
	require.NoError(t, err)

	store.failWrites = map[pagemanager.PageID]bool{}
	require.NoError(t, bpm.Close())
	require.ElementsMatch(t, []pagemanager.PageID{1, 2, 3}, store.writes)
}

func TestBufferPoolManager_FlushPage(t *testing.T) {
	store := newMemStore()
	bpm := newTestPool(t, 2, store)

	require.ErrorIs(t, bpm.FlushPage(5), ErrPageNotResident)

	_, err := bpm.GetPage(5)
	require.NoError(t, err)
	require.NoError(t, bpm.FlushPage(5))
	require.Empty(t, store.writes, "clean page is not written")

	bpm.MarkDirty(5)
	require.NoError(t, bpm.FlushPage(5))
	require.Equal(t, []pagemanager.PageID{5}, store.writes)
	require.False(t, bpm.IsDirty(5))
}

func TestBufferPoolManager_Closed(t *testing.T) {
	bpm := newTestPool(t, 2, newMemStore())
	require.NoError(t, bpm.Close())
	require.NoError(t, bpm.Close())

	_, err := bpm.GetPage(1)
	require.ErrorIs(t, err, ErrBufferPoolClosed)
	require.ErrorIs(t, bpm.Flush(), ErrBufferPoolClosed)
	require.ErrorIs(t, bpm.FlushPage(1), ErrBufferPoolClosed)
}

// TestBufferPoolManager_WriteBackDurability mutates a page, forces it out, reopens the
// file and checks that only the mutated page changed on disk.
func TestBufferPoolManager_WriteBackDurability(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.db")
	dm, err := flushmanager.NewDiskManager(path, zaptest.NewLogger(t), nil)
	require.NoError(t, err)

	ids, err := dm.AllocatePages(6)
	require.NoError(t, err)
	untouched := ids[1]
	original := make([]byte, pagemanager.PageSize)
	original[100] = 0x5A
	require.NoError(t, dm.WritePage(untouched, original))

	bpm := newTestPool(t, 3, dm)
	p, err := bpm.GetPage(ids[0])
	require.NoError(t, err)
	require.NoError(t, p.SetInt64(8, 0x1122334455667788))
	bpm.MarkDirty(ids[0])

	_, err = bpm.GetPage(untouched)
	require.NoError(t, err)
	for _, id := range ids[2:] {
		_, err := bpm.GetPage(id)
		require.NoError(t, err)
	}
	require.False(t, bpm.IsResident(ids[0]))
	require.False(t, bpm.IsResident(untouched))

	require.NoError(t, bpm.Close())
	require.NoError(t, dm.Close())

	dm, err = flushmanager.NewDiskManager(path, zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	defer dm.Close()

	data, err := dm.ReadPage(ids[0])
	require.NoError(t, err)
	page, err := pagemanager.NewPageFromBytes(data)
	require.NoError(t, err)
	v, err := page.GetInt64(8)
	require.NoError(t, err)
	require.Equal(t, int64(0x1122334455667788), v)

	data, err = dm.ReadPage(untouched)
	require.NoError(t, err)
	require.Equal(t, original, data)
}

// TestBufferPoolManager_EndToEnd allocates two pages, writes through the pool and reads after reopen.
func TestBufferPoolManager_EndToEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "e2e.db")
	dm, err := flushmanager.NewDiskManager(path, zaptest.NewLogger(t), nil)
	require.NoError(t, err)

	a, err := dm.AllocatePage()
	require.NoError(t, err)
	require.Equal(t, pagemanager.PageID(0), a)
	b, err := dm.AllocatePage()
	require.NoError(t, err)
	require.Equal(t, pagemanager.PageID(1), b)

	bpm := newTestPool(t, DefaultCapacity, dm)
	p, err := bpm.GetPage(a)
	require.NoError(t, err)
	require.NoError(t, p.SetByte(0, 0xAB))
	bpm.MarkDirty(a)

	want := make([]byte, pagemanager.PageSize)
	want[0] = 0xAB
	p, err = bpm.GetPage(a)
	require.NoError(t, err)
	require.Equal(t, want, p.Data())

	require.NoError(t, bpm.Close())
	require.NoError(t, dm.Close())

	dm, err = flushmanager.NewDiskManager(path, zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	defer dm.Close()
	bpm = newTestPool(t, DefaultCapacity, dm)
	p, err = bpm.GetPage(a)
	require.NoError(t, err)
	require.Equal(t, want, p.Data())
}

func TestBufferPoolManager_DiscardSkipsWriteBack(t *testing.T) {
	store := newMemStore()
	bpm := newTestPool(t, DefaultCapacity, store)

	page, err := bpm.GetPage(7)
	require.NoError(t, err)
	require.NoError(t, page.SetByte(0, 0x7F))
	bpm.MarkDirty(7)

	require.True(t, bpm.Discard(7))
	require.False(t, bpm.IsResident(7))
	require.False(t, bpm.Discard(7))

	require.NoError(t, bpm.Flush())
	require.NoError(t, bpm.Close())
	require.Empty(t, store.writes)
}
