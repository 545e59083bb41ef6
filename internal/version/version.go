// Package version exposes the engine's build version.
package version

// Version is stamped at build time via
// -ldflags "-X github.com/paper-theater/kamishibai/internal/version.Version=x.y.z"
// and otherwise reports the development default.
var Version = "1.0.0"
