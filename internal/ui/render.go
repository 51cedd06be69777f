package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/biblio-mcp/biblio/internal/index"
	"github.com/biblio-mcp/biblio/internal/registry"
	"github.com/biblio-mcp/biblio/internal/search"
)

// IndexReport prints the per-book outcome table for one indexing run.
func (p *Printer) IndexReport(r *index.Report) {
	if len(r.Books) == 0 {
		p.println(p.styles.Dim.Render("No books found in the library."))
		return
	}

	rows := make([][4]string, 0, len(r.Books))
	for _, b := range r.Books {
		detail := b.Reason
		if b.Status == index.StatusIndexed {
			detail = fmt.Sprintf("%d chunks", b.Chunks)
		}
		rows = append(rows, [4]string{titleOrPath(b), b.Model, string(b.Status), detail})
	}

	widths := [3]int{len("BOOK"), len("MODEL"), len("STATUS")}
	for _, row := range rows {
		for i := 0; i < 3; i++ {
			if len(row[i]) > widths[i] {
				widths[i] = len(row[i])
			}
		}
	}

	p.println(p.styles.Header.Render(fmt.Sprintf("%-*s  %-*s  %-*s  %s",
		widths[0], "BOOK", widths[1], "MODEL", widths[2], "STATUS", "DETAIL")))
	for i, row := range rows {
		status := fmt.Sprintf("%-*s", widths[2], row[2])
		switch r.Books[i].Status {
		case index.StatusIndexed:
			status = p.styles.Success.Render(status)
		case index.StatusSkipped:
			status = p.styles.Warning.Render(status)
		case index.StatusFailed:
			status = p.styles.Error.Render(status)
		}
		p.println(fmt.Sprintf("%-*s  %-*s  %s  %s",
			widths[0], row[0], widths[1], row[1], status, p.styles.Dim.Render(row[3])))
	}

	p.println("")
	summary := fmt.Sprintf("%d indexed, %d skipped, %d failed in %s",
		r.Indexed(), r.Skipped(), r.Failed(), r.Duration.Round(100*time.Millisecond))
	if r.Failed() > 0 {
		p.println(p.styles.Error.Render(summary))
	} else {
		p.println(p.styles.Success.Render(summary))
	}
}

// SearchResults prints ranked passages for the one-shot search command.
func (p *Printer) SearchResults(resp *search.Response, snippetLen int) {
	if resp.LibraryEmpty {
		p.println(p.styles.Warning.Render("The library is empty. Run 'biblio index' first."))
		return
	}
	if len(resp.Results) == 0 {
		p.println(fmt.Sprintf("No passages found for %q", resp.Query))
		return
	}

	for i, r := range resp.Results {
		head := fmt.Sprintf("%d. %s", i+1, r.Title)
		if r.Author != "" && r.Author != "Unknown" {
			head += " by " + r.Author
		}
		p.println(p.styles.Header.Render(head))

		cite := fmt.Sprintf("%s, chunk %d", r.BookID, r.ChunkIndex)
		if r.Section != "" {
			cite = fmt.Sprintf("%s, %q, chunk %d", r.BookID, r.Section, r.ChunkIndex)
		}
		models := make([]string, 0, len(r.Models))
		for _, m := range r.Models {
			models = append(models, m.Model)
		}
		p.println(p.styles.Label.Render(cite) + p.styles.Score.Render(
			fmt.Sprintf("  score %.4f  [%s]", r.Score, strings.Join(models, ", "))))

		for _, line := range strings.Split(snippet(r.Text, snippetLen), "\n") {
			p.println("  " + line)
		}
		p.println("")
	}

	for _, w := range resp.Warnings {
		p.println(p.styles.Warning.Render("warning: " + w))
	}
}

// Books prints registry contents grouped by book.
func (p *Printer) Books(entries []registry.Entry) {
	if len(entries) == 0 {
		p.println(p.styles.Dim.Render("No books are indexed."))
		return
	}

	type group struct {
		first  registry.Entry
		models []registry.Entry
	}
	byID := make(map[string]*group)
	order := make([]string, 0)
	for _, e := range entries {
		g, ok := byID[e.BookID]
		if !ok {
			g = &group{first: e}
			byID[e.BookID] = g
			order = append(order, e.BookID)
		}
		g.models = append(g.models, e)
	}

	for _, id := range order {
		g := byID[id]
		head := g.first.Title
		if g.first.Author != "" && g.first.Author != "Unknown" {
			head += " by " + g.first.Author
		}
		p.println(p.styles.Header.Render(head))
		p.println(p.styles.Label.Render(fmt.Sprintf("  %s (%s) %s",
			g.first.BookID, g.first.Format, g.first.RelPath)))
		for _, e := range g.models {
			p.println(fmt.Sprintf("  %s: %d chunks, indexed %s",
				e.Model, e.ChunkCount, e.IndexedAt.Format("2006-01-02 15:04")))
		}
		p.println("")
	}
}

// StatusData carries what the status command gathered.
type StatusData struct {
	Backend      string
	StoreHealthy bool
	StoreError   string
	ActiveModels []string
	Books        int
	Entries      int
	LibraryDir   string
	Models       []string
}

// Status prints store health, registry summary, and the effective config.
func (p *Printer) Status(d StatusData) {
	p.println(p.styles.Header.Render("Biblio status"))

	health := p.styles.Success.Render("healthy")
	if !d.StoreHealthy {
		health = p.styles.Error.Render("unreachable: " + d.StoreError)
	}
	p.println(fmt.Sprintf("%s %s (%s)", p.styles.Label.Render("store:"), health, d.Backend))
	p.println(fmt.Sprintf("%s %s", p.styles.Label.Render("library:"), d.LibraryDir))
	p.println(fmt.Sprintf("%s %s", p.styles.Label.Render("configured models:"),
		strings.Join(d.Models, ", ")))

	active := strings.Join(d.ActiveModels, ", ")
	if active == "" {
		active = "none"
	}
	p.println(fmt.Sprintf("%s %s", p.styles.Label.Render("active models:"), active))
	p.println(fmt.Sprintf("%s %d books, %d registrations",
		p.styles.Label.Render("registry:"), d.Books, d.Entries))
}

// Errorf prints a styled error line.
func (p *Printer) Errorf(format string, args ...any) {
	p.println(p.styles.Error.Render(fmt.Sprintf(format, args...)))
}

// Warnf prints a styled warning line.
func (p *Printer) Warnf(format string, args ...any) {
	p.println(p.styles.Warning.Render(fmt.Sprintf(format, args...)))
}

// Println prints one unstyled line.
func (p *Printer) Println(s string) {
	p.println(s)
}

func (p *Printer) println(s string) {
	_, _ = fmt.Fprintln(p.out, s)
}

func titleOrPath(b index.BookReport) string {
	if b.Title != "" {
		return b.Title
	}
	return b.RelPath
}

// snippet truncates text to maxRunes for single-result display.
func snippet(text string, maxRunes int) string {
	text = strings.TrimSpace(text)
	if maxRunes <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}
	return strings.TrimRight(string(runes[:maxRunes]), " \n") + "..."
}
