// Package semver renders semantic version fingerprints of application binaries.
package semver

import "fmt"

// V is structured semantic version representation
type V struct {
	Major, Minor, Patch uint
	PreRelease          string
}

func (v V) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.PreRelease != "" {
		s += "-" + v.PreRelease
	}
	return s
}
