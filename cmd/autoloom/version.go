package main

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version string

var (
	versionOnce   sync.Once
	cachedVersion string
)

func appVersion() string {
	versionOnce.Do(func() {
		cachedVersion = detectVersion()
	})
	return cachedVersion
}

func detectVersion() string {
	if v := strings.TrimSpace(version); v != "" {
		return v
	}
	if v := strings.TrimSpace(os.Getenv("AUTOLOOM_VERSION")); v != "" {
		return v
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "development"
	}
	if v := info.Main.Version; v != "" && v != "(devel)" {
		return v
	}
	return vcsVersion(info.Settings)
}

// vcsVersion renders dev-<rev>[-dirty] from the stamped VCS settings.
func vcsVersion(settings []debug.BuildSetting) string {
	var revision string
	var dirty bool
	for _, setting := range settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	if revision == "" {
		return "development"
	}
	v := "dev-" + shortID(revision)
	if dirty {
		v += "-dirty"
	}
	return v
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "autoloom %s (%s %s/%s)\n",
				appVersion(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
