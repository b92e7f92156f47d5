package api

import (
	"fmt"
	"strconv"
)

// Version identifies the running collaboration server build
type Version struct {
	Major     int    `json:"major"`
	Minor     int    `json:"minor"`
	Patch     int    `json:"patch"`
	GitCommit string `json:"git_commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
	// Protocol is the collaboration message protocol revision
	Protocol string `json:"protocol"`
}

// These values are set during build time via -ldflags
var (
	VersionMajor = "0"
	VersionMinor = "1"
	VersionPatch = "0"
	GitCommit    = "development"
	BuildDate    = "unknown"
	Protocol     = "collab-v1"
)

// GetVersion returns the current application version
func GetVersion() Version {
	return Version{
		Major:     parseIntOrZero(VersionMajor),
		Minor:     parseIntOrZero(VersionMinor),
		Patch:     parseIntOrZero(VersionPatch),
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		Protocol:  Protocol,
	}
}

func parseIntOrZero(s string) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return i
}

// Semver returns major.minor.patch
func (v Version) Semver() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// GetVersionString returns the version as a formatted string
func GetVersionString() string {
	v := GetVersion()
	return fmt.Sprintf("scancollab %s (%s - built %s)", v.Semver(), v.GitCommit, v.BuildDate)
}
