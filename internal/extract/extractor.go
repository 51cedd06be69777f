// Package extract provides text extraction from EPUB and PDF books.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/biblio-mcp/biblio/internal/errors"
)

// Document is the extraction result for one book file.
type Document struct {
	// Text is the full plain text of the book.
	Text string
	// Title and Author come from embedded metadata when the format
	// carries any (EPUB OPF). Empty otherwise.
	Title  string
	Author string
	// Sections are chapter-level spans in reading order, when the
	// format exposes them (EPUB spine). Offsets are rune offsets
	// into Text. Empty for PDF.
	Sections []Section
}

// Section is one chapter-level span of the extracted text.
type Section struct {
	Title string
	Start int
	End   int
}

// SectionAt returns the title of the section covering the given rune
// offset, or empty when no section does.
func (d *Document) SectionAt(offset int) string {
	for _, s := range d.Sections {
		if offset >= s.Start && offset < s.End {
			return s.Title
		}
	}
	return ""
}

// SupportedExtensions lists the file extensions the extractor handles.
var SupportedExtensions = []string{".epub", ".pdf"}

// IsSupported reports whether the extractor can handle the given path.
func IsSupported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range SupportedExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Extractor extracts plain text from book files.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract reads the file at path and returns its text content.
// Returns ERR_204_UNSUPPORTED_FORMAT for unknown extensions and
// ERR_205_EMPTY_DOCUMENT when extraction yields no text.
func (e *Extractor) Extract(path string) (*Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.ErrCodeFileNotFound,
				fmt.Sprintf("file not found: %s", path), err)
		}
		return nil, errors.New(errors.ErrCodeFileUnreadable,
			fmt.Sprintf("cannot read %s", path), err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	doc, err := e.ExtractBytes(content, ext)
	if err != nil {
		if be, ok := err.(*errors.BiblioError); ok {
			return nil, be.WithDetail("path", path)
		}
		return nil, err
	}
	return doc, nil
}

// ExtractBytes extracts text from content based on the given extension.
// ext should include the leading dot (e.g. ".epub").
func (e *Extractor) ExtractBytes(content []byte, ext string) (*Document, error) {
	var doc *Document
	var err error

	switch strings.ToLower(ext) {
	case ".epub":
		doc, err = extractEPUB(content)
	case ".pdf":
		doc, err = extractPDF(content)
	default:
		return nil, errors.New(errors.ErrCodeUnsupportedFormat,
			fmt.Sprintf("unsupported format %q", ext), nil)
	}
	if err != nil {
		return nil, err
	}

	// Extractors normalize their own text so section offsets stay valid.
	if doc.Text == "" {
		return nil, errors.New(errors.ErrCodeEmptyDocument, "document contains no text", nil)
	}
	return doc, nil
}

// normalizeWhitespace collapses runs of whitespace into single spaces,
// keeping paragraph breaks as single newlines.
func normalizeWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	space := false
	newline := false
	for _, r := range s {
		switch r {
		case '\n', '\r':
			newline = true
			space = false
		case ' ', '\t', '\v', '\f', ' ':
			if !newline {
				space = true
			}
		default:
			if b.Len() > 0 {
				if newline {
					b.WriteByte('\n')
				} else if space {
					b.WriteByte(' ')
				}
			}
			newline = false
			space = false
			b.WriteRune(r)
		}
	}
	return b.String()
}
