package version

import "runtime/debug"

// Version is set at build time with
// -ldflags "-X github.com/amoylab/riderwatch/pkg/version.Version=v1.2.3"
var Version = ""

// Get returns the build version, falling back to the module version
// recorded by the Go toolchain
func Get() string {
	if Version != "" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "v0.0.0-dev"
}
