// Package version holds build metadata set with -ldflags, e.g.
//
//	go build -ldflags "-X github.com/jackzampolin/brieflink/version.GitRelease=v0.3.0"
package version

import "runtime"

var (
	// GitRelease is the release tag the binary was built from.
	GitRelease = "dev"
	// GitCommit is the commit hash the binary was built from.
	GitCommit = "unknown"
	// GitCommitDate is the commit date of GitCommit.
	GitCommitDate = "unknown"
	// GoInfo is the toolchain and platform the binary was built with.
	GoInfo = runtime.Version() + " " + runtime.GOOS + "/" + runtime.GOARCH
)
