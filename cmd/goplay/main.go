package main

import (
	"fmt"
	"os"

	"codeberg.org/sigterm-de/goplay/internal/app"
)

// Injected at build time via -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	args := os.Args[1:]
	if len(args) == 1 && (args[0] == "-version" || args[0] == "--version" || args[0] == "version") {
		fmt.Printf("goplay %s (commit %s, built %s)\n", version, commit, date)
		os.Exit(0)
	}

	os.Exit(app.Run(args, version))
}
