// Package version carries build metadata, stamped via -ldflags:
//
//	go build -ldflags "-X github.com/pysugar/antigravity-proxy/internal/version.Version=v0.1.0"
package version

var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)
