// Package main provides the entry point for the biblio CLI.
package main

import (
	"fmt"
	"os"

	"github.com/biblio-mcp/biblio/cmd/biblio/cmd"
	"github.com/biblio-mcp/biblio/internal/errors"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprint(os.Stderr, errors.FormatForCLI(err))
		os.Exit(1)
	}
}
