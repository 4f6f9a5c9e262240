// Package export renders support ticket transcripts as HTML or PDF.
package export

import (
	"errors"
	"time"
)

type Format string

const (
	FormatPDF  Format = "pdf"
	FormatHTML Format = "html"
)

// Transcript is a ticket with the responses the viewer may see.
type Transcript struct {
	OrgName   string
	Number    int64
	Subject   string
	Status    string
	Priority  string
	Customer  string
	OpenedAt  time.Time
	Body      string
	Responses []Entry
}

type Entry struct {
	Author    string
	Body      string
	Internal  bool
	CreatedAt time.Time
}

type Request struct {
	Transcript Transcript
	Format     Format
	Lang       string
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrPDFDependencyMissing means no headless Chrome binary is installed.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	ErrUnsupportedFormat    = errors.New("export format not supported")
)
