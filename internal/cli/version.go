package cli

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Version is overridden via -ldflags on release builds; dev builds report
// the VCS revision embedded by the Go toolchain instead.
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("engram %s\n", VersionString())
		fmt.Printf("  %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

// VersionString is the version reported by health checks and the MCP server:
// the release version, with a short VCS revision suffix when one is embedded.
func VersionString() string {
	if rev := vcsRevision(); rev != "" {
		return Version + "+" + rev
	}
	return Version
}

func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 8 {
			return s.Value[:8]
		}
	}
	return ""
}
