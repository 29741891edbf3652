package main

import (
	"os"

	"mrstack.dev/mrstack/internal/cli"
)

// Set by the release build via -ldflags.
var version = "dev"

func main() {
	os.Exit(cli.Execute(version))
}
