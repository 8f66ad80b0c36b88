package flushmanager

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	pagemanager "github.com/sushant-115/gojodb-pagestore/core/write_engine/page_manager"
)

// Metadata page field offsets.
const (
	metaMajorVersionOffset = 0
	metaMinorVersionOffset = 4
	metaPageSizeOffset     = 8
	metaFileIDOffset       = 16
	metaCreatedAtOffset    = 100
)

const (
	MetadataMajorVersion = 1
	MetadataMinorVersion = 0
)

// FileMetadata is the decoded content of the metadata page.
type FileMetadata struct {
	MajorVersion int32
	MinorVersion int32
	PageSize     int32
	FileID       uuid.UUID
	CreatedAt    time.Time
}

func newFileMetadata(now time.Time) FileMetadata {
	return FileMetadata{
		MajorVersion: MetadataMajorVersion,
		MinorVersion: MetadataMinorVersion,
		PageSize:     pagemanager.PageSize,
		FileID:       uuid.New(),
		CreatedAt:    time.UnixMilli(now.UnixMilli()),
	}
}

func (m FileMetadata) encode() *pagemanager.Page {
	p := pagemanager.NewPage()
	// Every offset below is a constant inside the page, so the accessors cannot fail.
	_ = p.SetInt32(metaMajorVersionOffset, m.MajorVersion)
	_ = p.SetInt32(metaMinorVersionOffset, m.MinorVersion)
	_ = p.SetInt32(metaPageSizeOffset, m.PageSize)
	_ = p.SetBytes(metaFileIDOffset, m.FileID[:])
	_ = p.SetInt64(metaCreatedAtOffset, m.CreatedAt.UnixMilli())
	return p
}

func decodeFileMetadata(p *pagemanager.Page) (FileMetadata, error) {
	var m FileMetadata
	var err error
	if m.MajorVersion, err = p.GetInt32(metaMajorVersionOffset); err != nil {
		return m, err
	}
	if m.MinorVersion, err = p.GetInt32(metaMinorVersionOffset); err != nil {
		return m, err
	}
	if m.PageSize, err = p.GetInt32(metaPageSizeOffset); err != nil {
		return m, err
	}
	id, err := p.GetBytes(metaFileIDOffset, len(m.FileID))
	if err != nil {
		return m, err
	}
	copy(m.FileID[:], id)
	created, err := p.GetInt64(metaCreatedAtOffset)
	if err != nil {
		return m, err
	}
	m.CreatedAt = time.UnixMilli(created)

	if m.PageSize != pagemanager.PageSize {
		return m, fmt.Errorf("%w: metadata page size %d, expected %d", ErrInvariantViolation, m.PageSize, pagemanager.PageSize)
	}
	return m, nil
}
