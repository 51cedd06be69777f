package index

import "time"

// BookStatus is the outcome of one (book, model) indexing attempt.
type BookStatus string

const (
	StatusIndexed BookStatus = "indexed"
	StatusSkipped BookStatus = "skipped"
	StatusFailed  BookStatus = "failed"
)

// BookReport records what happened to one book under one model.
type BookReport struct {
	BookID  string
	RelPath string
	Title   string
	Model   string
	Status  BookStatus
	Chunks  int
	// Reason explains a skip or failure. Empty for indexed books.
	Reason string
}

// Report is the outcome of a whole indexing run.
type Report struct {
	// RunID correlates log lines across the run.
	RunID     string
	Mode      Mode
	StartedAt time.Time
	Duration  time.Duration
	Books     []BookReport
}

// Indexed counts successfully indexed (book, model) pairs.
func (r *Report) Indexed() int { return r.countStatus(StatusIndexed) }

// Skipped counts skipped pairs.
func (r *Report) Skipped() int { return r.countStatus(StatusSkipped) }

// Failed counts failed pairs. A run with any failure exits non-zero.
func (r *Report) Failed() int { return r.countStatus(StatusFailed) }

func (r *Report) countStatus(s BookStatus) int {
	n := 0
	for _, b := range r.Books {
		if b.Status == s {
			n++
		}
	}
	return n
}
