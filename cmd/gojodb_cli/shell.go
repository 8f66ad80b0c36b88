package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/sushant-115/gojodb-pagestore/core/storage_engine/inspector"
	"github.com/sushant-115/gojodb-pagestore/core/storage_engine/prefetch"
	flushmanager "github.com/sushant-115/gojodb-pagestore/core/write_engine/flush_manager"
	"github.com/sushant-115/gojodb-pagestore/core/write_engine/memtable"
	pagemanager "github.com/sushant-115/gojodb-pagestore/core/write_engine/page_manager"
	internaltelemetry "github.com/sushant-115/gojodb-pagestore/internal/telemetry"
)

const (
	defaultDumpBytes   = 64
	defaultLayoutPages = 64
	dumpBytesPerRow    = 32
)

var errExit = errors.New("exit requested")

// bufferPool is the part of both buffer pool policies the shell drives.
type bufferPool interface {
	GetPage(id pagemanager.PageID) (*pagemanager.Page, error)
	Discard(id pagemanager.PageID) bool
	Flush() error
	Close() error
	ResidentPageIDs() []pagemanager.PageID
	Stats() memtable.Stats
}

// pageFreer is the disk manager, or the read-ahead store in front of it.
type pageFreer interface {
	FreePage(id pagemanager.PageID) error
}

// shell executes one command line at a time against an open page store.
type shell struct {
	dm        *flushmanager.DiskManager
	pool      bufferPool
	freer     pageFreer
	readAhead *prefetch.ReadAheadStore
	backupBPS int64
	out       io.Writer
	tracer    trace.Tracer
	metrics   *internaltelemetry.CommandMetrics
	logger    *zap.Logger
}

var commandNames = []string{
	"alloc", "free", "get", "setbyte", "setint", "setlong", "flush",
	"cache", "layout", "stats", "backup", "version", "help", "exit",
}

// execute runs one command. It returns errExit for exit and quit.
func (s *shell) execute(ctx context.Context, args []string) (err error) {
	if len(args) == 0 {
		return nil
	}
	command := strings.ToLower(args[0])

	ctx, span := s.tracer.Start(ctx, "cli."+command, trace.WithAttributes(attribute.Int("args", len(args)-1)))
	defer span.End()
	if s.metrics != nil {
		done := s.metrics.Start(ctx, command)
		defer func() {
			if errors.Is(err, errExit) {
				done(nil)
				return
			}
			done(err)
		}()
	}
	defer func() {
		if err != nil && !errors.Is(err, errExit) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.logger.Debug("Command failed", zap.String("command", command), zap.Error(err))
		}
	}()

	switch command {
	case "alloc":
		return s.alloc(args[1:])
	case "free":
		return s.free(args[1:])
	case "get":
		return s.get(args[1:])
	case "setbyte", "setint", "setlong":
		return s.set(command, args[1:])
	case "flush":
		if err := s.pool.Flush(); err != nil {
			return err
		}
		fmt.Fprintln(s.out, "Flushed dirty pages.")
		return nil
	case "cache":
		return s.cache()
	case "layout":
		return s.layout(args[1:])
	case "stats":
		return s.stats()
	case "backup":
		return s.backup(ctx, args[1:])
	case "version":
		return s.version(args[1:])
	case "help":
		s.help()
		return nil
	case "exit", "quit":
		return errExit
	default:
		return fmt.Errorf("unknown command %q, type 'help' for a list of commands", command)
	}
}

func parsePageID(arg string) (pagemanager.PageID, error) {
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: page id %q", pagemanager.ErrInvalidArgument, arg)
	}
	return pagemanager.PageID(id), nil
}

func parseInt(arg string, bits int, what string) (int64, error) {
	v, err := strconv.ParseInt(arg, 0, bits)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q", pagemanager.ErrInvalidArgument, what, arg)
	}
	return v, nil
}

func (s *shell) alloc(args []string) error {
	n := int64(1)
	if len(args) > 0 {
		var err error
		if n, err = parseInt(args[0], 32, "count"); err != nil {
			return err
		}
	}
	ids, err := s.dm.AllocatePages(int(n))
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Allocated %d page(s): %v\n", len(ids), ids)
	return nil
}

func (s *shell) free(args []string) error {
	if len(args) < 1 {
		return errors.New("free requires <id>")
	}
	id, err := parsePageID(args[0])
	if err != nil {
		return err
	}
	if err := s.freer.FreePage(id); err != nil {
		return err
	}
	// A cached copy must not be written back into the freed slot.
	if s.pool.Discard(id) {
		fmt.Fprintf(s.out, "Dropped page %d from the buffer pool.\n", id)
	}
	fmt.Fprintf(s.out, "Freed page %d.\n", id)
	return nil
}

func (s *shell) get(args []string) error {
	if len(args) < 1 {
		return errors.New("get requires <id> [bytes|all]")
	}
	id, err := parsePageID(args[0])
	if err != nil {
		return err
	}
	page, err := s.pool.GetPage(id)
	if err != nil {
		return err
	}
	if len(args) > 1 && args[1] == "all" {
		return page.Dump(s.out, dumpBytesPerRow)
	}
	n := int64(defaultDumpBytes)
	if len(args) > 1 {
		if n, err = parseInt(args[1], 32, "byte count"); err != nil {
			return err
		}
	}
	data, err := page.GetBytes(0, int(n))
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Page %d (first %d bytes):\n", id, len(data))
	for row := 0; row < len(data); row += dumpBytesPerRow {
		end := min(row+dumpBytesPerRow, len(data))
		fmt.Fprintf(s.out, "%04X: % X\n", row, data[row:end])
	}
	return nil
}

func (s *shell) set(command string, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("%s requires <id> <offset> <value>", command)
	}
	id, err := parsePageID(args[0])
	if err != nil {
		return err
	}
	offset, err := parseInt(args[1], 32, "offset")
	if err != nil {
		return err
	}

	page, err := s.pool.GetPage(id)
	if err != nil {
		return err
	}
	switch command {
	case "setbyte":
		v, perr := strconv.ParseUint(args[2], 0, 8)
		if perr != nil {
			return fmt.Errorf("%w: byte value %q", pagemanager.ErrInvalidArgument, args[2])
		}
		err = page.SetByte(int(offset), byte(v))
	case "setint":
		v, perr := parseInt(args[2], 32, "int value")
		if perr != nil {
			return perr
		}
		err = page.SetInt32(int(offset), int32(v))
	case "setlong":
		v, perr := parseInt(args[2], 64, "long value")
		if perr != nil {
			return perr
		}
		err = page.SetInt64(int(offset), v)
	}
	if err != nil {
		return err
	}
	s.markDirty(id)
	fmt.Fprintf(s.out, "Page %d offset %d set to %s (dirty).\n", id, offset, args[2])
	return nil
}

// markDirty flags id in whichever pool policy is active. The page was just fetched,
// so it is the single-slot pool's resident page.
func (s *shell) markDirty(id pagemanager.PageID) {
	switch p := s.pool.(type) {
	case *memtable.BufferPoolManager:
		p.MarkDirty(id)
	case *memtable.SingleSlotBufferPool:
		p.MarkDirty()
	}
}

func (s *shell) cache() error {
	st := s.pool.Stats()
	fmt.Fprintf(s.out, "Resident (most recent first): %v\n", s.pool.ResidentPageIDs())
	fmt.Fprintf(s.out, "Hits: %d  Misses: %d  Hit ratio: %.2f\n", st.Hits, st.Misses, st.HitRatio())
	fmt.Fprintf(s.out, "Evictions: %d  Write-backs: %d\n", st.Evictions, st.WriteBacks)
	return nil
}

func (s *shell) layout(args []string) error {
	pages := int64(defaultLayoutPages)
	if len(args) > 0 {
		var err error
		if pages, err = parseInt(args[0], 32, "page count"); err != nil {
			return err
		}
	}
	report, err := inspector.Build(s.dm, int(pages))
	if err != nil {
		return err
	}
	return inspector.Render(s.out, report)
}

func (s *shell) stats() error {
	md := s.dm.Metadata()
	version, err := s.dm.ReadVersion()
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "File: %s (id %s, format %d, metadata %d.%d, created %s)\n",
		s.dm.Path(), md.FileID, version, md.MajorVersion, md.MinorVersion, md.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(s.out, "Size: %d bytes\n", s.dm.GetLogicalFileSize())
	fmt.Fprintf(s.out, "Pages: total %d, allocated %d, free %d\n",
		s.dm.GetTotalPages(), s.dm.GetAllocatedPageCount(), s.dm.GetFreePageCount())
	if s.readAhead != nil {
		ra := s.readAhead.Stats()
		fmt.Fprintf(s.out, "Read-ahead: hits %d, issued %d, dropped %d, evicted %d, failed %d, discarded %d\n",
			ra.Hits, ra.Issued, ra.Dropped, ra.Evicted, ra.Failed, ra.Discarded)
	}
	return nil
}

func (s *shell) backup(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("backup requires <path>")
	}
	if err := s.pool.Flush(); err != nil {
		return fmt.Errorf("flushing before backup: %w", err)
	}
	sum, err := s.dm.Backup(ctx, args[0], s.backupBPS)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Backup written to %s (sha256 %x).\n", args[0], sum)
	return nil
}

func (s *shell) version(args []string) error {
	if len(args) > 0 {
		v, err := parseInt(args[0], 64, "version")
		if err != nil {
			return err
		}
		if err := s.dm.WriteVersion(v); err != nil {
			return err
		}
	}
	v, err := s.dm.ReadVersion()
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "File format version: %d\n", v)
	return nil
}

func (s *shell) help() {
	fmt.Fprintln(s.out, "Commands:")
	fmt.Fprintln(s.out, "  alloc [n]                      allocate n pages (default 1)")
	fmt.Fprintln(s.out, "  free <id>                      free a page and drop it from the cache")
	fmt.Fprintln(s.out, "  get <id> [bytes|all]           show the start of a page, or all of it")
	fmt.Fprintln(s.out, "  setbyte <id> <offset> <value>")
	fmt.Fprintln(s.out, "  setint <id> <offset> <value>")
	fmt.Fprintln(s.out, "  setlong <id> <offset> <value>")
	fmt.Fprintln(s.out, "  flush                          write dirty pages back")
	fmt.Fprintln(s.out, "  cache                          show buffer pool state")
	fmt.Fprintln(s.out, "  layout [pages]                 show which pages are on disk")
	fmt.Fprintln(s.out, "  stats                          show file statistics")
	fmt.Fprintln(s.out, "  backup <path>                  copy the database file")
	fmt.Fprintln(s.out, "  version [n]                    show or set the header version")
	fmt.Fprintln(s.out, "  help")
	fmt.Fprintln(s.out, "  exit / quit")
}
