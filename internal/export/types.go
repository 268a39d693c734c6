// Package export builds moderation reports for a story as CSV or PDF and
// optionally archives them to object storage.
package export

import "errors"

// Format represents the export output format
type Format string

const (
	FormatCSV Format = "csv"
	FormatPDF Format = "pdf"
)

// Request contains parameters for an export operation
type Request struct {
	StoryID string
	Format  Format
	// Archive uploads the report to object storage after rendering.
	Archive bool
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
	// ArchiveKey is set when the report was uploaded to object storage.
	ArchiveKey string
}

// ErrPDFDependencyMissing indicates headless Chrome is not installed
var ErrPDFDependencyMissing = errors.New("pdf dependency missing")
