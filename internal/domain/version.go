package domain

import (
	"fmt"
	"strings"
)

// Version is the active implementation behind the vault proxy.
type Version uint8

const (
	VersionNone Version = iota
	V1
	V2
	V3
)

// LatestVersion is the newest implementation this build knows how to run.
const LatestVersion = V3

func (v Version) String() string {
	switch v {
	case V1:
		return "V1"
	case V2:
		return "V2"
	case V3:
		return "V3"
	default:
		return "none"
	}
}

// ParseVersion accepts "V2", "v2" or "2".
func ParseVersion(s string) (Version, error) {
	switch strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "V") {
	case "1":
		return V1, nil
	case "2":
		return V2, nil
	case "3":
		return V3, nil
	}
	return VersionNone, fmt.Errorf("unknown version %q", s)
}

func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

func (v *Version) UnmarshalText(b []byte) error {
	if string(b) == "none" {
		*v = VersionNone
		return nil
	}
	parsed, err := ParseVersion(string(b))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// VersionSet records which initializers have already run. Each version owns
// one bit; bits are only ever added.
type VersionSet uint8

func (s VersionSet) Has(v Version) bool {
	return v != VersionNone && s&(1<<v) != 0
}

func (s VersionSet) With(v Version) VersionSet {
	return s | 1<<v
}

func (s VersionSet) List() []Version {
	var out []Version
	for v := V1; v <= LatestVersion; v++ {
		if s.Has(v) {
			out = append(out, v)
		}
	}
	return out
}
