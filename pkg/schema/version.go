package schema

import (
	"regexp"
	"strconv"
	"strings"

	masterminds "github.com/Masterminds/semver/v3"
)

var majorOnlyRegex = regexp.MustCompile(`^\d+$`)

// ServiceRef is a parsed service reference such as "inventory" or "inventory@^1.2".
type ServiceRef struct {
	Name  string
	Range string
}

// ParseServiceRef splits a reference on "@".
func ParseServiceRef(ref string) ServiceRef {
	raw := strings.TrimSpace(ref)
	if at := strings.Index(raw, "@"); at >= 0 {
		return ServiceRef{Name: raw[:at], Range: strings.TrimSpace(raw[at+1:])}
	}
	return ServiceRef{Name: raw}
}

// String renders the reference back to "name[@range]".
func (r ServiceRef) String() string {
	if r.Range == "" {
		return r.Name
	}
	return r.Name + "@" + r.Range
}

// SatisfiesRange reports whether version matches rangeStr. A bare major ("1") matches
// every version in that major; an empty range matches everything. An empty version is
// treated as 0.0.0.
func SatisfiesRange(version, rangeStr string) bool {
	if rangeStr == "" {
		return true
	}
	if version == "" {
		version = "0.0.0"
	}
	sv, err := masterminds.NewVersion(version)
	if err != nil {
		return false
	}
	if majorOnlyRegex.MatchString(rangeStr) {
		major, err := strconv.ParseUint(rangeStr, 10, 64)
		return err == nil && sv.Major() == major
	}
	constraint, err := masterminds.NewConstraint(rangeStr)
	if err != nil {
		return false
	}
	return constraint.Check(sv)
}

// Major returns the major version the service is served under. Unversioned
// services are served under major 1.
func (s *ServiceDescriptor) Major() int {
	if s.Version == "" {
		return 1
	}
	sv, err := masterminds.NewVersion(s.Version)
	if err != nil {
		return 1
	}
	return int(sv.Major())
}

// Majors maps every registered service to its major version.
func (r *Registry) Majors() map[string]int {
	current := *r.services.Load()
	out := make(map[string]int, len(current))
	for name, desc := range current {
		out[name] = desc.Major()
	}
	return out
}
