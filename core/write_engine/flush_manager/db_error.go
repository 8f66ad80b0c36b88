package flushmanager

import (
	"errors"

	pagemanager "github.com/sushant-115/gojodb-pagestore/core/write_engine/page_manager"
)

// --- Error Definitions ---

var (
	// ErrInvalidArgument reports caller misuse: bad buffer lengths, out of range ids, freeing unallocated pages.
	ErrInvalidArgument = pagemanager.ErrInvalidArgument
	// ErrIO wraps failures of the underlying medium (read, write, resize, sync).
	ErrIO = errors.New("i/o error")
	// ErrInvariantViolation signals a structural limit or a corrupt system page. It is never retried.
	ErrInvariantViolation = errors.New("storage invariant violation")

	ErrBitmapFull       = errors.New("allocation bitmap exceeds a single page")
	ErrFileClosed       = errors.New("database file is closed")
	ErrPageNotAllocated = errors.New("page is not allocated")
)
