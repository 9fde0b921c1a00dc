// Package versions exposes build information for the deployer binary and
// semantic version helpers used by preflight checks.
package versions

import (
	"fmt"
	"regexp"
	"runtime"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Build information, set at link time with -ldflags "-X ...".
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// VersionInfo describes the running binary
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetVersionInfo returns the build information of the running binary
func GetVersionInfo() VersionInfo {
	return VersionInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// Satisfies reports whether version satisfies the semver constraint.
// Versions such as "3.11" or "Python 3.11.4" are accepted; the first
// whitespace-separated field that parses as a version is used.
func Satisfies(version, constraint string) (bool, error) {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, fmt.Errorf("invalid version constraint %q: %w", constraint, err)
	}

	v, err := ParseLoose(version)
	if err != nil {
		return false, err
	}

	// Pre-releases are judged by their release line so 3.13.0rc1 passes ">= 3.10"
	core, err := v.SetPrerelease("")
	if err != nil {
		return false, err
	}
	return c.Check(&core), nil
}

// pythonPre matches CPython pre-release spellings such as 3.13.0rc1 or 3.14.0a2
var pythonPre = regexp.MustCompile(`^(\d+\.\d+(?:\.\d+)?)(a|b|rc)(\d+)$`)

// ParseLoose extracts a semantic version from free-form tool output
func ParseLoose(s string) (*semver.Version, error) {
	for _, field := range strings.Fields(s) {
		field = pythonPre.ReplaceAllString(field, "$1-$2$3")
		if v, err := semver.NewVersion(field); err == nil {
			return v, nil
		}
	}
	return nil, fmt.Errorf("no version found in %q", strings.TrimSpace(s))
}
