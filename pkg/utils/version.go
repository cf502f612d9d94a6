// Package utils provides bespoke, one off utils that don't make sense to be
// their own package
package utils

import "fmt"

// Build metadata, stamped via -ldflags at release time.
var (
	Version   = "dev"
	Sha       = "HEAD"
	Buildtime = "dev"
)

// BuildInfo returns the stamped build metadata as one printable line.
func BuildInfo() string {
	return fmt.Sprintf("keel %s (%s) built %s", Version, Sha, Buildtime)
}
