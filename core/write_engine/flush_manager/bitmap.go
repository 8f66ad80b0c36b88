package flushmanager

import (
	"math/bits"

	pagemanager "github.com/sushant-115/gojodb-pagestore/core/write_engine/page_manager"
)

// maxBitmapBits is the number of physical pages a single bitmap page can track.
const maxBitmapBits = pagemanager.PageSize * 8

// allocationBitmap tracks one bit per physical page id, least significant bit first
// within each byte. Its serialized form is exactly the content of the bitmap page.
type allocationBitmap struct {
	bits [pagemanager.PageSize]byte
}

func newAllocationBitmap() *allocationBitmap {
	b := &allocationBitmap{}
	for i := 0; i < SystemPageCount; i++ {
		b.set(i)
	}
	return b
}

func (b *allocationBitmap) get(i int) bool {
	return b.bits[i/8]&(1<<(i%8)) != 0
}

func (b *allocationBitmap) set(i int) {
	b.bits[i/8] |= 1 << (i % 8)
}

func (b *allocationBitmap) clear(i int) {
	b.bits[i/8] &^= 1 << (i % 8)
}

// length is the index of the highest set bit plus one.
func (b *allocationBitmap) length() int {
	for i := len(b.bits) - 1; i >= 0; i-- {
		if b.bits[i] != 0 {
			return i*8 + bits.Len8(b.bits[i])
		}
	}
	return 0
}

func (b *allocationBitmap) cardinality() int {
	n := 0
	for _, v := range b.bits {
		n += bits.OnesCount8(v)
	}
	return n
}

// nextClear returns the lowest clear bit at or after from. When every bit below the
// bitmap's length is set, the answer is the length itself (the bitmap grows by one).
func (b *allocationBitmap) nextClear(from int) int {
	n := b.length()
	for i := from; i < n; i++ {
		if !b.get(i) {
			return i
		}
	}
	return max(n, from)
}

func (b *allocationBitmap) load(p *pagemanager.Page) {
	copy(b.bits[:], p.Data())
}

func (b *allocationBitmap) clone() *allocationBitmap {
	c := *b
	return &c
}
