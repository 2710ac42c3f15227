// Package build holds version information set at link time with -ldflags "-X ...".
package build

import "runtime"

var (
	ReleaseVersion = "UNKNOWN_VERSION"
	GitCommit      = "UNKNOWN_GITCOMMIT"
	BuildTime      = "UNKNOWN_BUILDTIME"
	GoVersion      = runtime.Version()
)
