package main

import (
	"github.com/llmgate/llmgate/internal/cmd"
	"github.com/llmgate/llmgate/internal/observability"
	"github.com/llmgate/llmgate/internal/server/handlers"
)

// Version information set via ldflags during build
// Example: go build -ldflags="-X main.version=1.0.0 -X main.commit=abc123 -X main.buildDate=2026-10-18"
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)
	handlers.SetVersionInfo(version, commit, buildDate)

	if err := cmd.Execute(); err != nil {
		// Commands may already have logged details; this picks the exit code.
		cmd.ExitWithCode(observability.CLILogger, cmd.ExitCodeFor(err), "Command execution failed", err)
	}
}
