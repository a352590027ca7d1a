// Package version provides the minicd version strings.
package version

import (
	_ "embed"
	"runtime"
	"strings"
)

// buildVersion can be overridden at compile time:
//
//	go build -ldflags "-X github.com/minicd/minicd/version.buildVersion=abc" .
//
// Release binaries are always built with buildVersion set.

//go:embed VERSION
var baseVersion string
var buildVersion string

func Version() string {
	return strings.TrimSpace(baseVersion)
}

func BuildVersion() string {
	if buildVersion == "" {
		return "x"
	}
	return buildVersion
}

// FullVersion is the version plus build metadata, suitable for --version
// output.
func FullVersion() string {
	return Version() + " build " + BuildVersion()
}

// UserAgent identifies this minicd build in outgoing HTTP requests.
func UserAgent() string {
	return "minicd/" + Version() + "." + BuildVersion() + " (" + runtime.GOOS + "; " + runtime.GOARCH + ")"
}
