// Package chunk splits extracted book text into overlapping windows.
//
// Chunking is rune-based so multi-byte characters never get split, and
// deterministic: the same text and options always produce the same
// chunks. Overlap carries context across chunk boundaries so a passage
// straddling a boundary is still retrievable from either side.
package chunk

import (
	"fmt"

	"github.com/biblio-mcp/biblio/internal/errors"
)

// Default window sizes in runes.
const (
	DefaultWindow  = 1000
	DefaultOverlap = 200
)

// Chunk is a retrievable unit of book text.
type Chunk struct {
	// Index is the zero-based position of the chunk within the book.
	Index int
	// Text is the chunk content, including the overlap prefix.
	Text string
	// Start and End are rune offsets into the source text, End exclusive.
	Start int
	End   int
}

// Options configures the chunker.
type Options struct {
	// Window is the chunk size in runes.
	Window int
	// Overlap is how many runes each chunk shares with its predecessor.
	Overlap int
}

// DefaultOptions returns the standard chunking configuration.
func DefaultOptions() Options {
	return Options{Window: DefaultWindow, Overlap: DefaultOverlap}
}

// Validate checks the options for consistency.
func (o Options) Validate() error {
	if o.Window <= 0 {
		return errors.New(errors.ErrCodeInvalidChunking,
			fmt.Sprintf("window must be positive, got %d", o.Window), nil)
	}
	if o.Overlap < 0 {
		return errors.New(errors.ErrCodeInvalidChunking,
			fmt.Sprintf("overlap must be non-negative, got %d", o.Overlap), nil)
	}
	if o.Overlap >= o.Window {
		return errors.New(errors.ErrCodeInvalidChunking,
			fmt.Sprintf("overlap %d must be smaller than window %d", o.Overlap, o.Window), nil)
	}
	if o.Overlap > o.Window/2 {
		return errors.New(errors.ErrCodeInvalidChunking,
			fmt.Sprintf("overlap %d must not exceed half the window (%d)", o.Overlap, o.Window/2), nil)
	}
	return nil
}

// Split divides text into overlapping chunks.
//
// Window boundaries fall every Window runes. Every chunk after the
// first is extended backwards by Overlap runes, so consecutive chunks
// share exactly Overlap runes. A trailing remainder shorter than
// Overlap is folded into the previous chunk instead of becoming a
// fragment that duplicates text already covered by the overlap.
func Split(text string, opts Options) ([]Chunk, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil, nil
	}

	if n <= opts.Window {
		return []Chunk{{Index: 0, Text: text, Start: 0, End: n}}, nil
	}

	var chunks []Chunk
	for boundary := 0; boundary < n; boundary += opts.Window {
		start := boundary
		if boundary > 0 {
			start = boundary - opts.Overlap
		}
		end := boundary + opts.Window
		if end > n {
			end = n
		}

		// Fold a too-small tail into the previous chunk.
		if boundary > 0 && n-boundary < opts.Overlap {
			last := &chunks[len(chunks)-1]
			last.End = n
			last.Text = string(runes[last.Start:n])
			break
		}

		chunks = append(chunks, Chunk{
			Index: len(chunks),
			Text:  string(runes[start:end]),
			Start: start,
			End:   end,
		})
	}

	return chunks, nil
}
