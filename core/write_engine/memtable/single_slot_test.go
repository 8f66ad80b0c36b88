package memtable

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	pagemanager "github.com/sushant-115/gojodb-pagestore/core/write_engine/page_manager"
)

func TestSingleSlotBufferPool_HitAndMiss(t *testing.T) {
	store := newMemStore()
	pool, err := NewSingleSlotBufferPool(store, zaptest.NewLogger(t), nil)
	require.NoError(t, err)

	_, ok := pool.ResidentPageID()
	require.False(t, ok)
	require.Empty(t, pool.ResidentPageIDs())

	p1, err := pool.GetPage(4)
	require.NoError(t, err)
	again, err := pool.GetPage(4)
	require.NoError(t, err)
	require.Same(t, p1, again)

	_, err = pool.GetPage(5)
	require.NoError(t, err)
	id, ok := pool.ResidentPageID()
	require.True(t, ok)
	require.Equal(t, pagemanager.PageID(5), id)

	stats := pool.Stats()
	require.Equal(t, uint64(1), stats.Hits)
	require.Equal(t, uint64(2), stats.Misses)
	require.Equal(t, uint64(1), stats.Evictions)
	require.InDelta(t, 1.0/3.0, stats.HitRatio(), 1e-9)
	require.Empty(t, store.writes)
}

func TestSingleSlotBufferPool_WriteBackOnMiss(t *testing.T) {
	store := newMemStore()
	pool, err := NewSingleSlotBufferPool(store, nil, nil)
	require.NoError(t, err)

	p, err := pool.GetPage(1)
	require.NoError(t, err)
	require.NoError(t, p.SetInt16(2, 300))
	pool.MarkDirty()
	require.True(t, pool.IsDirty())

	_, err = pool.GetPage(2)
	require.NoError(t, err)
	require.Equal(t, []pagemanager.PageID{1}, store.writes)
	require.Equal(t, []byte{0x2C, 0x01}, store.pages[1][2:4])
	require.False(t, pool.IsDirty())
}

func TestSingleSlotBufferPool_WriteBackFailureKeepsResident(t *testing.T) {
	store := newMemStore()
	pool, err := NewSingleSlotBufferPool(store, nil, nil)
	require.NoError(t, err)

	_, err = pool.GetPage(1)
	require.NoError(t, err)
	pool.MarkDirty()

	store.failWrites[1] = true
	_, err = pool.GetPage(2)
	require.ErrorIs(t, err, errInjected)
	id, ok := pool.ResidentPageID()
	require.True(t, ok)
	require.Equal(t, pagemanager.PageID(1), id)
	require.True(t, pool.IsDirty())
}

func TestSingleSlotBufferPool_FlushAndClose(t *testing.T) {
	store := newMemStore()
	pool, err := NewSingleSlotBufferPool(store, nil, nil)
	require.NoError(t, err)

	pool.MarkDirty() // nothing resident
	require.NoError(t, pool.Flush())
	require.Empty(t, store.writes)

	_, err = pool.GetPage(3)
	require.NoError(t, err)
	pool.MarkDirty()
	require.NoError(t, pool.Flush())
	require.Equal(t, []pagemanager.PageID{3}, store.writes)

	pool.MarkDirty()
	require.NoError(t, pool.Close())
	require.Equal(t, []pagemanager.PageID{3, 3}, store.writes)
	require.NoError(t, pool.Close())

	_, err = pool.GetPage(3)
	require.ErrorIs(t, err, ErrBufferPoolClosed)
	require.ErrorIs(t, pool.Flush(), ErrBufferPoolClosed)
}

func TestSingleSlotBufferPool_DiscardSkipsWriteBack(t *testing.T) {
	store := newMemStore()
	pool, err := NewSingleSlotBufferPool(store, zaptest.NewLogger(t), nil)
	require.NoError(t, err)

	_, err = pool.GetPage(2)
	require.NoError(t, err)
	pool.MarkDirty()

	require.False(t, pool.Discard(3))
	require.True(t, pool.Discard(2))
	_, ok := pool.ResidentPageID()
	require.False(t, ok)

	_, err = pool.GetPage(4)
	require.NoError(t, err)
	require.NoError(t, pool.Close())
	require.Empty(t, store.writes)
}
