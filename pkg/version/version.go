package version

import "fmt"

// Build holds the build identifier, injected via -ldflags. Default "dev".
var Build = "dev"

// Commit is the source revision, injected via -ldflags.
var Commit = ""

// String is the version line printed by both binaries.
func String() string {
	if Commit == "" {
		return Build
	}
	short := Commit
	if len(short) > 7 {
		short = short[:7]
	}
	return fmt.Sprintf("%s (%s)", Build, short)
}
