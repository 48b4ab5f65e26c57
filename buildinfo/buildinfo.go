// Package buildinfo holds release metadata stamped in with ldflags:
//
//	go build -ldflags "\
//	  -X github.com/dotside-studios/closet-nfc/buildinfo.Version=1.2.0 \
//	  -X github.com/dotside-studios/closet-nfc/buildinfo.Commit=$(git rev-parse --short HEAD) \
//	  -X github.com/dotside-studios/closet-nfc/buildinfo.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package buildinfo

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

var (
	// Name is the binary and config directory name.
	Name = "closet-nfc"

	// DisplayName is shown to devices and in the mDNS instance name.
	DisplayName = "Closet NFC Agent"

	Description = "Web NFC tag reader and writer for the closet catalog"

	// Version is "dev" unless set at build time.
	Version = "dev"

	Commit    = ""
	BuildTime = ""
)

// MDNSService is the DNS-SD service type the agent advertises.
const MDNSService = "_closet-nfc._tcp"

// Revision returns Commit, or the VCS revision embedded by the Go toolchain.
func Revision() string {
	if Commit != "" {
		return Commit
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 7 {
			return s.Value[:7]
		}
	}
	return ""
}

// FullVersion is Version with the revision in parentheses when known.
func FullVersion() string {
	if rev := Revision(); rev != "" {
		return fmt.Sprintf("%s (%s)", Version, rev)
	}
	return Version
}

// UserAgent identifies the agent to brokers and devices, e.g. "closet-nfc/1.2.0".
func UserAgent() string {
	return Name + "/" + Version
}

// String renders everything known about the build, one fact per line.
func String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", Name, FullVersion())
	fmt.Fprintf(&b, "  %s\n", Description)
	fmt.Fprintf(&b, "  Go: %s\n", runtime.Version())
	fmt.Fprintf(&b, "  OS/Arch: %s/%s", runtime.GOOS, runtime.GOARCH)
	if BuildTime != "" {
		fmt.Fprintf(&b, "\n  Built: %s", BuildTime)
	}
	return b.String()
}

func IsDev() bool {
	return Version == "dev"
}
