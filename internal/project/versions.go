package project

import (
	"github.com/Masterminds/semver/v3"
)

// Mismatch is a local dependency whose declared range is not satisfied by
// the version of the sibling project that will be linked in its place.
type Mismatch struct {
	Dir        string
	Dependency string
	Range      string
	Local      string
}

// CheckVersions compares every local dependency range with the sibling's
// descriptor version. Ranges or versions that do not parse as semver (for
// example "workspace:*" or git URLs) are not reported.
func CheckVersions(projects []*Project) []Mismatch {
	byName := ByName(projects)

	var out []Mismatch

	for _, p := range projects {
		for _, dep := range p.Descriptor.Dependencies {
			local, ok := byName[dep.Name]
			if !ok {
				continue
			}

			if satisfied, known := versionSatisfied(dep.Range, local.Descriptor.Version); known && !satisfied {
				out = append(out, Mismatch{
					Dir:        p.Dir,
					Dependency: dep.Name,
					Range:      dep.Range,
					Local:      local.Descriptor.Version,
				})
			}
		}
	}

	return out
}

// versionSatisfied checks actual against constraint. known is false when
// either side cannot be parsed.
func versionSatisfied(constraint, actual string) (satisfied, known bool) {
	if constraint == actual {
		return true, true
	}

	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, false
	}

	v, err := semver.NewVersion(actual)
	if err != nil {
		return false, false
	}

	return c.Check(v), true
}
