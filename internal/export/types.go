// Package export renders completed disclosure packets as PDF.
package export

import (
	"errors"
	"time"
)

// Packet is everything that goes into a disclosure packet export.
type Packet struct {
	FormName    string
	Region      string
	Version     int
	SellerName  string
	Address     string
	Completion  int
	GeneratedAt time.Time
	Sections    []PacketSection
}

// PacketSection groups questions under one form section.
type PacketSection struct {
	Key       string
	Label     string
	Questions []PacketQuestion
}

// PacketQuestion is one prompt with the seller's answer, if any.
type PacketQuestion struct {
	Prompt      string
	Required    bool
	Value       string
	Explanation string
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
var ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
