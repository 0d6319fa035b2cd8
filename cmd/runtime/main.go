package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the dispatcher entrypoint, split out from main for testability.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServe(stdout, stderr)
	}

	switch args[1] {
	case "serve":
		return runServe(stdout, stderr)
	case "health":
		return runHealth(stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "Usage: runtime [serve|health]\n")
		return 2
	}
}
