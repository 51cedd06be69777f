// Package ui renders CLI output for index runs, search results, and
// library status.
package ui

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

// Printer writes styled output to a terminal, or plain text when the
// output is a pipe, a CI environment, or NO_COLOR is set.
type Printer struct {
	out    io.Writer
	styles Styles
}

// NewPrinter creates a Printer for the given writer, choosing styled or
// plain output from the environment.
func NewPrinter(out io.Writer) *Printer {
	noColor := !IsTTY(out) || DetectNoColor() || DetectCI()
	return &Printer{out: out, styles: GetStyles(noColor)}
}

// NewPlainPrinter creates a Printer that never emits escape codes.
func NewPlainPrinter(out io.Writer) *Printer {
	return &Printer{out: out, styles: NoColorStyles()}
}

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// DetectNoColor checks if the NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI checks if running in a CI environment.
func DetectCI() bool {
	ciVars := []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"}
	for _, v := range ciVars {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}
