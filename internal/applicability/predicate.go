// Package applicability decides whether a rule runs on the current host.
package applicability

import (
	"regexp"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ListType selects white or black list semantics.
type ListType string

const (
	White ListType = "white"
	Black ListType = "black"
)

// Range modes as written in predicate OS entries.
const (
	ModeRange   = "r"
	ModeAtLeast = "+"
	ModeAtMost  = "-"
	ModeExact   = ""
)

// ErrInvalidPredicate marks a malformed predicate. Rules carrying one are
// treated as inapplicable.
var ErrInvalidPredicate = errors.New("invalid applicability predicate")

// Predicate is a rule's declared applicability. Every field is optional.
//
// OS maps a regular expression searched in the host's OS type to a version
// spec: [min, "r", max], [min, "+"], [max, "-"] or a list of exact versions.
type Predicate struct {
	Type   ListType            `yaml:"type,omitempty" json:"type,omitempty"`
	Family []string            `yaml:"family,omitempty" json:"family,omitempty"`
	OS     map[string][]string `yaml:"os,omitempty" json:"os,omitempty"`
	NoRoot bool                `yaml:"noroot,omitempty" json:"noroot,omitempty"`
	Fisma  string              `yaml:"fisma,omitempty" json:"fisma,omitempty"`
}

// Facts is the subset of the environment the matcher reads.
type Facts interface {
	OSType() string
	OSVersion() string
	Families() []string
	EUID() int
	FismaCategory() string
}

// VersionRange is a parsed OS version spec.
type VersionRange struct {
	Mode  string
	Min   Version
	Max   Version
	Exact []Version
}

// ParseRange parses the list form used in Predicate.OS.
func ParseRange(spec []string) (VersionRange, error) {
	modeAt := -1
	for i, s := range spec {
		if s == ModeRange || s == ModeAtLeast || s == ModeAtMost {
			modeAt = i
			break
		}
	}

	if modeAt < 0 {
		if len(spec) == 0 {
			return VersionRange{}, errors.Wrap(ErrInvalidPredicate, "empty version list")
		}
		vr := VersionRange{Mode: ModeExact}
		for _, s := range spec {
			vr.Exact = append(vr.Exact, ParseVersion(s))
		}
		return vr, nil
	}

	others := make([]string, 0, len(spec)-1)
	for i, s := range spec {
		if i != modeAt {
			others = append(others, s)
		}
	}

	mode := spec[modeAt]
	switch mode {
	case ModeRange:
		if len(others) != 2 {
			return VersionRange{}, errors.Wrapf(ErrInvalidPredicate, "range needs two versions, got %v", spec)
		}
		a, b := ParseVersion(others[0]), ParseVersion(others[1])
		switch a.Compare(b) {
		case 0:
			return VersionRange{}, errors.Wrapf(ErrInvalidPredicate, "range versions are the same: %v", spec)
		case 1:
			a, b = b, a
		}
		return VersionRange{Mode: ModeRange, Min: a, Max: b}, nil
	case ModeAtLeast:
		if len(others) < 1 || len(others) > 2 {
			return VersionRange{}, errors.Wrapf(ErrInvalidPredicate, "wrong number of entries for +: %v", spec)
		}
		// [min, "+", max] ignores max.
		return VersionRange{Mode: ModeAtLeast, Min: ParseVersion(others[0])}, nil
	default:
		if len(others) < 1 || len(others) > 2 {
			return VersionRange{}, errors.Wrapf(ErrInvalidPredicate, "wrong number of entries for -: %v", spec)
		}
		// [min, "-", max] ignores min.
		return VersionRange{Mode: ModeAtMost, Max: ParseVersion(others[len(others)-1])}, nil
	}
}

// Contains reports whether v falls inside the range. Bounds are inclusive.
func (r VersionRange) Contains(v Version) bool {
	switch r.Mode {
	case ModeRange:
		return v.Compare(r.Min) >= 0 && v.Compare(r.Max) <= 0
	case ModeAtLeast:
		return v.Compare(r.Min) >= 0
	case ModeAtMost:
		return v.Compare(r.Max) <= 0
	default:
		for _, e := range r.Exact {
			if v.Compare(e) == 0 {
				return true
			}
		}
		return false
	}
}

// Validate reports structural problems with p.
func (p Predicate) Validate() error {
	switch p.Type {
	case "", White, Black:
	default:
		return errors.Wrapf(ErrInvalidPredicate, "invalid list type %q", p.Type)
	}
	switch p.Fisma {
	case "", "low", "med", "high":
	default:
		return errors.Wrapf(ErrInvalidPredicate, "fisma value %q invalid: valid values are low, med, high", p.Fisma)
	}
	for _, key := range p.osKeys() {
		if _, err := regexp.Compile(key); err != nil {
			return errors.Wrapf(ErrInvalidPredicate, "os key %q: %v", key, err)
		}
		if _, err := ParseRange(p.OS[key]); err != nil {
			return errors.Wrapf(err, "os key %q", key)
		}
	}
	return nil
}

func (p Predicate) listType() ListType {
	if p.Type == "" {
		return White
	}
	return p.Type
}

func (p Predicate) osKeys() []string {
	keys := make([]string, 0, len(p.OS))
	for k := range p.OS {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Matches evaluates p against the host. It is a pure function of its
// arguments. An invalid predicate never matches.
func Matches(p Predicate, f Facts) bool {
	if p.Validate() != nil {
		return false
	}

	applies := true
	hasFamily := len(p.Family) > 0
	hasOS := len(p.OS) > 0
	if hasFamily || hasOS {
		all := true
		if hasFamily && !familyMatches(p.Family, f.Families()) {
			all = false
		}
		if hasOS && !osMatches(p, f.OSType(), f.OSVersion()) {
			all = false
		}
		if p.listType() == White {
			applies = all
		} else {
			applies = !all
		}
	}

	if applies && p.NoRoot && f.EUID() == 0 {
		applies = false
	}
	if applies && !fismaAllows(f.FismaCategory(), p.Fisma) {
		applies = false
	}
	return applies
}

func familyMatches(want, have []string) bool {
	for _, w := range want {
		for _, h := range have {
			if strings.EqualFold(w, h) {
				return true
			}
		}
	}
	return false
}

func osMatches(p Predicate, osType, osVersion string) bool {
	v := ParseVersion(osVersion)
	for _, key := range p.osKeys() {
		if ok, _ := regexp.MatchString(key, osType); !ok {
			continue
		}
		r, err := ParseRange(p.OS[key])
		if err != nil {
			continue
		}
		if r.Contains(v) {
			return true
		}
	}
	return false
}

var fismaRank = map[string]int{"": 0, "low": 1, "med": 2, "high": 3}

// fismaAllows filters rules above the system's risk category. A rule with
// no fisma level runs everywhere.
func fismaAllows(system, rule string) bool {
	sys, ok := fismaRank[system]
	if !ok || sys == 0 {
		sys = fismaRank["low"]
	}
	return fismaRank[rule] <= sys
}
