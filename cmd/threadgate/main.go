// Command threadgate serves the admission API and administers accounts.
package main

import "github.com/threadgate/threadgate/internal/cmd"

// Overridden at build time with -ldflags "-X main.version=...".
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)
	if err := cmd.Execute(); err != nil {
		cmd.ExitWithCodeStderr(cmd.ExitCodeFor(err), "threadgate failed", err)
	}
}
