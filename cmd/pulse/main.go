// Command pulse runs the reference collector and drives the tracking core
// from the command line.
package main

import (
	"log/slog"
	"os"

	"pulse/internal/infrastructure"
)

func main() {
	err := newRootCmd().Execute()
	_ = infrastructure.CloseLogFile()
	if err != nil {
		slog.Error("pulse failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
