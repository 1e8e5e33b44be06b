// Command quillpress runs the auth rate limiter service and its admin CLI.
package main

import (
	"github.com/fulmenhq/gofulmen/foundry"

	"github.com/quillpress/quillpress/internal/cmd"
	"github.com/quillpress/quillpress/internal/server/handlers"
)

// Populated via -ldflags "-X main.version=... -X main.commit=... -X main.buildDate=...".
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)
	handlers.SetVersionInfo(version, commit, buildDate)

	if err := cmd.Execute(); err != nil {
		cmd.ExitWithCodeStderr(foundry.ExitFailure, "quillpress failed", err)
	}
}
