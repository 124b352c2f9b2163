package version

import (
	"fmt"
	"runtime"
)

// Build holds the build identifier, injected via -ldflags. Default "dev".
var Build = "dev"

// String formats the build for -v output and the status API.
func String(binary string) string {
	return fmt.Sprintf("%s %s (%s %s/%s)", binary, Build, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
