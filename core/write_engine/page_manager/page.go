package pagemanager

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// --- Page Management ---

const (
	// PageSize is the fixed size of every page, in memory and on disk.
	PageSize = 4096
)

// PageID is the logical identifier of a user page. Logical ids start at zero
// and never address the reserved system pages.
type PageID uint64

// --- Error Definitions ---

var (
	// ErrInvalidArgument is the root of every caller-misuse error in the storage core.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrOutOfBounds reports an accessor range that does not fit inside the page.
	ErrOutOfBounds = fmt.Errorf("%w: page offset out of bounds", ErrInvalidArgument)
	// ErrInvalidPageSize reports a buffer whose length is not PageSize.
	ErrInvalidPageSize = fmt.Errorf("%w: buffer length must equal page size", ErrInvalidArgument)
)

// byteOrder is fixed so that the on-disk layout is reproducible across implementations.
var byteOrder = binary.LittleEndian

// Page is an in-memory copy of exactly one fixed-size block.
// It carries no identity of its own; the owner (cache or caller) tracks which id it holds.
type Page struct {
	data [PageSize]byte
}

// NewPage returns a zeroed page.
func NewPage() *Page {
	return &Page{}
}

// NewPageFromBytes copies data into a new page. data must be exactly PageSize bytes.
func NewPageFromBytes(data []byte) (*Page, error) {
	p := &Page{}
	if err := p.CopyFrom(data); err != nil {
		return nil, err
	}
	return p, nil
}

// checkBounds validates [offset, offset+width) against the page before any byte is touched.
func checkBounds(offset, width int) error {
	if offset < 0 {
		return fmt.Errorf("%w: negative offset %d", ErrOutOfBounds, offset)
	}
	if width < 0 || offset > PageSize-width {
		return fmt.Errorf("%w: offset=%d width=%d page size=%d", ErrOutOfBounds, offset, width, PageSize)
	}
	return nil
}

func (p *Page) GetByte(offset int) (byte, error) {
	if err := checkBounds(offset, 1); err != nil {
		return 0, err
	}
	return p.data[offset], nil
}

func (p *Page) SetByte(offset int, value byte) error {
	if err := checkBounds(offset, 1); err != nil {
		return err
	}
	p.data[offset] = value
	return nil
}

func (p *Page) GetInt16(offset int) (int16, error) {
	if err := checkBounds(offset, 2); err != nil {
		return 0, err
	}
	return int16(byteOrder.Uint16(p.data[offset:])), nil
}

func (p *Page) SetInt16(offset int, value int16) error {
	if err := checkBounds(offset, 2); err != nil {
		return err
	}
	byteOrder.PutUint16(p.data[offset:], uint16(value))
	return nil
}

func (p *Page) GetInt32(offset int) (int32, error) {
	if err := checkBounds(offset, 4); err != nil {
		return 0, err
	}
	return int32(byteOrder.Uint32(p.data[offset:])), nil
}

func (p *Page) SetInt32(offset int, value int32) error {
	if err := checkBounds(offset, 4); err != nil {
		return err
	}
	byteOrder.PutUint32(p.data[offset:], uint32(value))
	return nil
}

func (p *Page) GetInt64(offset int) (int64, error) {
	if err := checkBounds(offset, 8); err != nil {
		return 0, err
	}
	return int64(byteOrder.Uint64(p.data[offset:])), nil
}

func (p *Page) SetInt64(offset int, value int64) error {
	if err := checkBounds(offset, 8); err != nil {
		return err
	}
	byteOrder.PutUint64(p.data[offset:], uint64(value))
	return nil
}

// GetBytes returns a copy of length bytes starting at offset.
func (p *Page) GetBytes(offset, length int) ([]byte, error) {
	if err := checkBounds(offset, length); err != nil {
		return nil, err
	}
	out := make([]byte, length)
	copy(out, p.data[offset:offset+length])
	return out, nil
}

// SetBytes copies data into the page at offset. Nothing is written if data does not fit.
func (p *Page) SetBytes(offset int, data []byte) error {
	if err := checkBounds(offset, len(data)); err != nil {
		return err
	}
	copy(p.data[offset:], data)
	return nil
}

// CopyFrom replaces the page content with data, which must be exactly PageSize bytes.
func (p *Page) CopyFrom(data []byte) error {
	if len(data) != PageSize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidPageSize, len(data), PageSize)
	}
	copy(p.data[:], data)
	return nil
}

// Clone returns an independent copy of the page.
func (p *Page) Clone() *Page {
	c := *p
	return &c
}

// Data returns a view over the page's block. Writes through the slice modify the page.
func (p *Page) Data() []byte { return p.data[:] }

func (p *Page) Size() int { return PageSize }

// Clear zeroes the entire block.
func (p *Page) Clear() {
	p.data = [PageSize]byte{}
}

// Dump writes a hex listing of the page, bytesPerRow bytes per line, prefixed by the row offset.
func (p *Page) Dump(w io.Writer, bytesPerRow int) error {
	if bytesPerRow <= 0 {
		return fmt.Errorf("%w: bytes per row must be positive, got %d", ErrInvalidArgument, bytesPerRow)
	}
	for row := 0; row < PageSize; row += bytesPerRow {
		if _, err := fmt.Fprintf(w, "%04X:", row); err != nil {
			return err
		}
		end := min(row+bytesPerRow, PageSize)
		for _, b := range p.data[row:end] {
			if _, err := fmt.Fprintf(w, " %02X", b); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
	}
	return nil
}
