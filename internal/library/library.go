// Package library discovers book files on disk.
//
// A book's identity is derived from its path relative to the library
// root, so re-scanning a stable library yields stable IDs, while the
// content hash tracks whether the file itself changed.
package library

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/biblio-mcp/biblio/internal/errors"
	"github.com/biblio-mcp/biblio/internal/extract"
)

// Book is a discovered book file.
type Book struct {
	// ID is a stable identifier derived from the relative path.
	ID string
	// Path is the absolute path to the file.
	Path string
	// RelPath is the path relative to the library root.
	RelPath string
	// Name is the file name without extension, used as display title
	// when the book carries no embedded metadata.
	Name string
	// Format is the lowercase extension without the dot ("epub", "pdf").
	Format string
	// SizeBytes is the file size.
	SizeBytes int64
}

// BookID computes the stable identifier for a relative path.
func BookID(relPath string) string {
	sum := sha256.Sum256([]byte(filepath.ToSlash(relPath)))
	return hex.EncodeToString(sum[:])[:16]
}

// Scanner finds book files under a library root.
type Scanner struct {
	root    string
	exclude []string
}

// NewScanner creates a scanner for the given root directory.
// exclude holds glob patterns matched against base names.
func NewScanner(root string, exclude []string) *Scanner {
	return &Scanner{root: root, exclude: exclude}
}

// Scan walks the library and returns all supported books sorted by
// relative path. Unsupported files are skipped silently; unreadable
// subdirectories fail the scan.
func (s *Scanner) Scan() ([]Book, error) {
	root, err := filepath.Abs(s.root)
	if err != nil {
		return nil, errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("bad library path %q", s.root), err)
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.New(errors.ErrCodeFileNotFound,
			fmt.Sprintf("library directory not found: %s", root), err)
	}
	if !info.IsDir() {
		return nil, errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("library path is not a directory: %s", root), nil)
	}

	var books []Book
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		base := d.Name()
		if d.IsDir() {
			if path != root && s.excluded(base) {
				return filepath.SkipDir
			}
			return nil
		}
		if s.excluded(base) || !extract.IsSupported(path) {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		ext := strings.ToLower(filepath.Ext(base))
		books = append(books, Book{
			ID:        BookID(rel),
			Path:      path,
			RelPath:   rel,
			Name:      strings.TrimSuffix(base, filepath.Ext(base)),
			Format:    strings.TrimPrefix(ext, "."),
			SizeBytes: fi.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, errors.New(errors.ErrCodeFileUnreadable, "library scan failed", err)
	}

	sort.Slice(books, func(i, j int) bool {
		return books[i].RelPath < books[j].RelPath
	})
	return books, nil
}

func (s *Scanner) excluded(name string) bool {
	for _, pattern := range s.exclude {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// ContentHash computes the sha256 of the file at path, streamed so
// large PDFs do not load into memory.
func ContentHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.New(errors.ErrCodeFileUnreadable,
			fmt.Sprintf("cannot open %s", path), err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", errors.New(errors.ErrCodeFileUnreadable,
			fmt.Sprintf("cannot hash %s", path), err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
