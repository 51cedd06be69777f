package mcp

import (
	"fmt"
	"strings"

	"github.com/biblio-mcp/biblio/internal/search"
)

// FormatSearchResponse renders a search response as markdown with one
// citation block per passage. Snippets are truncated to snippetLen runes.
func FormatSearchResponse(resp *search.Response, snippetLen int) string {
	if resp.LibraryEmpty {
		return "The library is empty. Run 'biblio index' to index your books."
	}
	if len(resp.Results) == 0 {
		return fmt.Sprintf("No passages found for \"%s\"", resp.Query)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Results for \"%s\"\n\n", resp.Query))
	sb.WriteString(fmt.Sprintf("Found %d passage", len(resp.Results)))
	if len(resp.Results) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")

	for i, r := range resp.Results {
		formatResult(&sb, i+1, r, snippetLen)
	}

	for _, w := range resp.Warnings {
		sb.WriteString(fmt.Sprintf("> Warning: %s\n", w))
	}

	return sb.String()
}

func formatResult(sb *strings.Builder, rank int, r search.Result, snippetLen int) {
	sb.WriteString(fmt.Sprintf("### %d. %s", rank, r.Title))
	if r.Author != "" && r.Author != "Unknown" {
		sb.WriteString(fmt.Sprintf(" by %s", r.Author))
	}
	sb.WriteString("\n")

	cite := fmt.Sprintf("%s, chunk %d", r.BookID, r.ChunkIndex)
	if r.Section != "" {
		cite = fmt.Sprintf("%s, \"%s\", chunk %d", r.BookID, r.Section, r.ChunkIndex)
	}
	sb.WriteString(fmt.Sprintf("*%s* (score %.4f, models: %s)\n\n",
		cite, r.Score, modelNames(r.Models)))

	snippet := Snippet(r.Text, snippetLen)
	for _, line := range strings.Split(snippet, "\n") {
		sb.WriteString("> ")
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
}

func modelNames(scores []search.ModelScore) string {
	names := make([]string, 0, len(scores))
	for _, s := range scores {
		names = append(names, s.Model)
	}
	return strings.Join(names, ", ")
}

// Snippet truncates text to maxRunes, cutting at a word boundary when
// one falls close enough, and appends an ellipsis when truncated.
func Snippet(text string, maxRunes int) string {
	text = strings.TrimSpace(text)
	if maxRunes <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}

	cut := string(runes[:maxRunes])
	if idx := strings.LastIndexByte(cut, ' '); idx > maxRunes/2 {
		cut = cut[:idx]
	}
	return strings.TrimRight(cut, " \n") + "..."
}

// FormatBookList renders registry entries grouped by book.
func FormatBookList(books []BookOutput) string {
	if len(books) == 0 {
		return "No books are indexed. Run 'biblio index' to index your library."
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Indexed Books (%d)\n\n", len(books)))
	for _, b := range books {
		sb.WriteString(fmt.Sprintf("- **%s**", b.Title))
		if b.Author != "" && b.Author != "Unknown" {
			sb.WriteString(fmt.Sprintf(" by %s", b.Author))
		}
		sb.WriteString(fmt.Sprintf(" (`%s`, %s)\n", b.ID, b.Format))
		for _, m := range b.Models {
			sb.WriteString(fmt.Sprintf("  - %s: %d chunks\n", m.Model, m.Chunks))
		}
	}
	return sb.String()
}
