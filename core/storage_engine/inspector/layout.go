// Package inspector reports how a database file is laid out on disk: which logical
// pages are physically present and how much of the addressed range is a hole.
package inspector

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	flushmanager "github.com/sushant-115/gojodb-pagestore/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojodb-pagestore/core/write_engine/page_manager"
)

// LayoutSource is the read-only view of a page store the inspector needs.
type LayoutSource interface {
	GetPageOffset(id pagemanager.PageID) int64
	GetLogicalFileSize() int64
	GetTotalPages() int
}

const (
	pagesPerRow   = 32
	pagesPerGroup = 8
)

// Report is a snapshot of the file layout for the first len(Present) logical pages.
type Report struct {
	FileSize    int64
	PageSize    int
	HeaderSize  int
	TotalPages  int
	Present     []bool
	HoleBytes   int64
	HolePercent float64
}

// Build inspects logical pages [0, maxPages) of src. A page is present when all of its
// bytes lie inside the file; the bytes of the range that fall past the end are holes.
func Build(src LayoutSource, maxPages int) (Report, error) {
	if maxPages < 0 {
		return Report{}, fmt.Errorf("%w: max pages cannot be negative, got %d", pagemanager.ErrInvalidArgument, maxPages)
	}
	fileSize := src.GetLogicalFileSize()
	r := Report{
		FileSize:   fileSize,
		PageSize:   flushmanager.PageSize,
		HeaderSize: flushmanager.HeaderSize,
		TotalPages: src.GetTotalPages(),
		Present:    make([]bool, maxPages),
	}
	for i := 0; i < maxPages; i++ {
		start := src.GetPageOffset(pagemanager.PageID(i))
		if start < 0 {
			return Report{}, fmt.Errorf("%w: page %d has no addressable offset", pagemanager.ErrInvalidArgument, i)
		}
		end := start + flushmanager.PageSize
		if end <= fileSize {
			r.Present[i] = true
			continue
		}
		r.HoleBytes += end - max(start, fileSize)
	}
	if data := fileSize - flushmanager.HeaderSize; data > 0 {
		r.HolePercent = float64(r.HoleBytes) / float64(data) * 100
	}
	return r, nil
}

// PresentCount returns the number of present pages in the report.
func (r Report) PresentCount() int {
	n := 0
	for _, p := range r.Present {
		if p {
			n++
		}
	}
	return n
}

// Render writes a styled report to w. Colors are only emitted when w is a terminal.
func Render(w io.Writer, r Report) error {
	renderer := lipgloss.NewRenderer(w)
	var (
		titleStyle   = renderer.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
		labelStyle   = renderer.NewStyle().Bold(true).Foreground(lipgloss.Color("#06B6D4"))
		presentStyle = renderer.NewStyle().Foreground(lipgloss.Color("#10B981"))
		holeStyle    = renderer.NewStyle().Foreground(lipgloss.Color("#94A3B8"))
	)

	var b strings.Builder
	b.WriteString(titleStyle.Render("Database file layout") + "\n")
	fmt.Fprintf(&b, "%s %d bytes (%.2f MB)\n", labelStyle.Render("File size:"), r.FileSize, float64(r.FileSize)/(1024*1024))
	fmt.Fprintf(&b, "%s %d bytes\n", labelStyle.Render("Page size:"), r.PageSize)
	fmt.Fprintf(&b, "%s %d bytes\n", labelStyle.Render("Header:"), r.HeaderSize)
	fmt.Fprintf(&b, "%s %d\n", labelStyle.Render("Physical pages:"), r.TotalPages)

	b.WriteString("\n" + labelStyle.Render("Page map") + " (■ present, □ hole)\n")
	for start := 0; start < len(r.Present); start += pagesPerRow {
		end := min(start+pagesPerRow, len(r.Present))
		fmt.Fprintf(&b, "%04d-%04d: ", start, end-1)
		for i := start; i < end; i++ {
			if r.Present[i] {
				b.WriteString(presentStyle.Render("■"))
			} else {
				b.WriteString(holeStyle.Render("□"))
			}
			if (i-start+1)%pagesPerGroup == 0 {
				b.WriteString(" ")
			}
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "\n%s %d bytes (%.1f%%)\n", labelStyle.Render("Hole size:"), r.HoleBytes, r.HolePercent)
	_, err := io.WriteString(w, b.String())
	return err
}
