// Command lexextract classifies legal documents by size, merges chunked
// extraction results and runs the Kafka extraction worker.
package main

import (
	"os"

	"github.com/turtacn/LexExtract/internal/interfaces/cli"
)

// Build-time variables injected via ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func init() {
	cli.Version = version
	cli.GitCommit = commit
	cli.BuildDate = buildDate
}

func main() {
	// Execute already reports the error on stderr.
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
