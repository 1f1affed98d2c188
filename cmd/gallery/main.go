package main

import (
	"fmt"
	"os"

	"github.com/alexjbarnes/gallery-sync/internal/cli"
)

var Version = "dev"

func main() {
	if err := cli.Root(Version).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	// Force truecolor so hex colors render correctly. Must be set before
	// any lipgloss style is rendered.
	if os.Getenv("COLORTERM") == "" {
		os.Setenv("COLORTERM", "truecolor")
	}
}
