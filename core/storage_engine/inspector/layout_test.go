package inspector

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	flushmanager "github.com/sushant-115/gojodb-pagestore/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojodb-pagestore/core/write_engine/page_manager"
)

// fixedLayout reports a file of a fixed size with the standard offsets.
type fixedLayout struct{ size int64 }

func (f fixedLayout) GetPageOffset(id pagemanager.PageID) int64 {
	return flushmanager.HeaderSize + (int64(id)+flushmanager.SystemPageCount)*flushmanager.PageSize
}
func (f fixedLayout) GetLogicalFileSize() int64 { return f.size }
func (f fixedLayout) GetTotalPages() int {
	return int((f.size - flushmanager.HeaderSize + flushmanager.PageSize - 1) / flushmanager.PageSize)
}

func TestBuild_HoleAccounting(t *testing.T) {
	// Two system pages, two full user pages and 100 bytes of a third.
	size := int64(flushmanager.HeaderSize + 4*flushmanager.PageSize + 100)
	r, err := Build(fixedLayout{size: size}, 5)
	require.NoError(t, err)

	require.Equal(t, []bool{true, true, false, false, false}, r.Present)
	require.Equal(t, 2, r.PresentCount())
	require.Equal(t, int64(3*flushmanager.PageSize-100), r.HoleBytes)
	require.InDelta(t, float64(r.HoleBytes)/float64(size-flushmanager.HeaderSize)*100, r.HolePercent, 1e-9)
	require.Equal(t, 5, r.TotalPages)
}

func TestBuild_InvalidArgument(t *testing.T) {
	_, err := Build(fixedLayout{size: 100}, -1)
	require.ErrorIs(t, err, pagemanager.ErrInvalidArgument)

	r, err := Build(fixedLayout{size: flushmanager.HeaderSize}, 0)
	require.NoError(t, err)
	require.Zero(t, r.HolePercent)
	_, err = Build(unaddressable{}, 1)
	require.ErrorIs(t, err, pagemanager.ErrInvalidArgument)
}

type unaddressable struct{ fixedLayout }

func (unaddressable) GetPageOffset(pagemanager.PageID) int64 { return -1 }

func TestBuild_SparseDiskManager(t *testing.T) {
	dm, err := flushmanager.NewDiskManager(filepath.Join(t.TempDir(), "layout.db"), nil, nil)
	require.NoError(t, err)
	defer dm.Close()

	require.NoError(t, dm.WritePage(3, make([]byte, flushmanager.PageSize)))
	r, err := Build(dm, 6)
	require.NoError(t, err)
	require.Equal(t, []bool{true, true, true, true, false, false}, r.Present, "a sparse write makes the gap part of the file")
	require.Equal(t, int64(2*flushmanager.PageSize), r.HoleBytes)
}

func TestRender(t *testing.T) {
	size := int64(flushmanager.HeaderSize + 4*flushmanager.PageSize)
	r, err := Build(fixedLayout{size: size}, 40)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, r))
	out := buf.String()

	require.Contains(t, out, "Database file layout")
	require.Contains(t, out, "0000-0031: ")
	require.Contains(t, out, "0032-0039: ")
	// Each glyph also appears once in the legend.
	require.Equal(t, 2+1, strings.Count(out, "■"))
	require.Equal(t, 38+1, strings.Count(out, "□"))
	require.Contains(t, out, "Hole size:")
}
