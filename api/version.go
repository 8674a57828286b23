// Package api defines the package specification model: versions and
// their compatibility contracts, version ranges, identifiers,
// requests, build options and the spec document format.
package api

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	// VersionSep separates the numeric components of a version.
	VersionSep = "."

	preSep  = "-"
	postSep = "+"
)

// TagSet holds a set of named version tags (eg alpha.1, r.2). The
// tag names are unique within a set; a version carries at most one
// pre-release set and one post-release set.
type TagSet map[string]uint32

func (ts TagSet) clone() TagSet {
	if ts == nil {
		return nil
	}
	out := make(TagSet, len(ts))
	for k, v := range ts {
		out[k] = v
	}
	return out
}

// sortedNames returns the tag names in lexicographic order.
func (ts TagSet) sortedNames() []string {
	names := make([]string, 0, len(ts))
	for name := range ts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (ts TagSet) String() string {
	parts := make([]string, 0, len(ts))
	for _, name := range ts.sortedNames() {
		parts = append(parts, fmt.Sprintf("%s.%d", name, ts[name]))
	}
	return strings.Join(parts, ",")
}

// compareTagSets orders two tag sets by their sorted (name, number)
// pairs, with a shorter set ordering before a longer one that it
// prefixes.
func compareTagSets(a, b TagSet) int {
	an, bn := a.sortedNames(), b.sortedNames()
	for i := 0; i < len(an) && i < len(bn); i++ {
		if an[i] != bn[i] {
			if an[i] < bn[i] {
				return -1
			}
			return 1
		}
		av, bv := a[an[i]], b[bn[i]]
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(an) < len(bn):
		return -1
	case len(an) > len(bn):
		return 1
	}
	return 0
}

func parseTagSet(source string) (TagSet, error) {
	ts := TagSet{}
	if source == "" {
		return ts, nil
	}
	for _, tag := range strings.Split(source, ",") {
		name, num, found := strings.Cut(tag, ".")
		if !found {
			return nil, errors.Errorf(
				"version tag segment must be of the form <name>.<number>, got %q", tag)
		}
		if err := ValidateName(name); err != nil {
			return nil, errors.Wrapf(err, "invalid tag name %q", name)
		}
		value, err := strconv.ParseUint(num, 10, 32)
		if err != nil {
			return nil, errors.Errorf("version tag %q must end with a number", tag)
		}
		if _, exists := ts[name]; exists {
			return nil, errors.Errorf("duplicate tag name %q", name)
		}
		ts[name] = uint32(value)
	}
	return ts, nil
}

// Version is a package version number: a tuple of non-negative
// integers of arbitrary length, with optional pre and post release
// tags. Pre-release tags order a version before its base and
// post-release tags order it after.
type Version struct {
	Parts []uint32
	Pre   TagSet
	Post  TagSet
}

// ParseVersion reads a version from its string form (eg "1.2.3",
// "1.0-alpha.1", "2.3.4+r.2").
func ParseVersion(source string) (Version, error) {
	var v Version
	if source == "" {
		return v, nil
	}

	base, post, hasPost := strings.Cut(source, postSep)
	base, pre, hasPre := strings.Cut(base, preSep)
	if hasPost {
		ts, err := parseTagSet(post)
		if err != nil {
			return v, errors.Wrapf(err, "invalid post-release tag in %q", source)
		}
		v.Post = ts
	}
	if hasPre {
		ts, err := parseTagSet(pre)
		if err != nil {
			return v, errors.Wrapf(err, "invalid pre-release tag in %q", source)
		}
		v.Pre = ts
	}

	for _, part := range strings.Split(base, VersionSep) {
		num, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return v, errors.Errorf(
				"invalid version %q: component %q is not a non-negative integer", source, part)
		}
		v.Parts = append(v.Parts, uint32(num))
	}
	return v, nil
}

// MustParseVersion is ParseVersion for statically-known inputs,
// panicking on error.
func MustParseVersion(source string) Version {
	v, err := ParseVersion(source)
	if err != nil {
		panic(err)
	}
	return v
}

// Part returns the version component at position i, treating all
// versions as infinitely zero-padded.
func (v Version) Part(i int) uint32 {
	if i < len(v.Parts) {
		return v.Parts[i]
	}
	return 0
}

// Major is the first version component.
func (v Version) Major() uint32 { return v.Part(0) }

// Minor is the second version component.
func (v Version) Minor() uint32 { return v.Part(1) }

// Patch is the third version component.
func (v Version) Patch() uint32 { return v.Part(2) }

// BaseString renders only the numeric components of this version.
func (v Version) BaseString() string {
	parts := make([]string, len(v.Parts))
	for i, p := range v.Parts {
		parts[i] = strconv.FormatUint(uint64(p), 10)
	}
	return strings.Join(parts, VersionSep)
}

func (v Version) String() string {
	out := v.BaseString()
	if len(v.Pre) > 0 {
		out += preSep + v.Pre.String()
	}
	if len(v.Post) > 0 {
		out += postSep + v.Post.String()
	}
	return out
}

// IsZero reports whether this is the empty version.
func (v Version) IsZero() bool {
	for _, p := range v.Parts {
		if p != 0 {
			return false
		}
	}
	return len(v.Pre) == 0 && len(v.Post) == 0
}

// Compare orders v against other, returning -1, 0 or 1. Numeric
// components compare lexicographically with zero padding, then
// pre-release tags (absent is greater), then post-release tags
// (absent is lesser).
func (v Version) Compare(other Version) int {
	count := len(v.Parts)
	if len(other.Parts) > count {
		count = len(other.Parts)
	}
	for i := 0; i < count; i++ {
		a, b := v.Part(i), other.Part(i)
		if a != b {
			if a < b {
				return -1
			}
			return 1
		}
	}

	switch {
	case len(v.Pre) == 0 && len(other.Pre) > 0:
		return 1
	case len(v.Pre) > 0 && len(other.Pre) == 0:
		return -1
	}
	if c := compareTagSets(v.Pre, other.Pre); c != 0 {
		return c
	}

	switch {
	case len(v.Post) == 0 && len(other.Post) > 0:
		return -1
	case len(v.Post) > 0 && len(other.Post) == 0:
		return 1
	}
	return compareTagSets(v.Post, other.Post)
}

// Equal reports whether the normalized forms of the two versions match.
func (v Version) Equal(other Version) bool { return v.Compare(other) == 0 }

// LessThan reports whether v orders strictly before other.
func (v Version) LessThan(other Version) bool { return v.Compare(other) < 0 }

// Clone returns a deep copy of this version.
func (v Version) Clone() Version {
	out := Version{Pre: v.Pre.clone(), Post: v.Post.clone()}
	out.Parts = append([]uint32(nil), v.Parts...)
	return out
}

type byVersionDesc []Version

func (s byVersionDesc) Len() int           { return len(s) }
func (s byVersionDesc) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }
func (s byVersionDesc) Less(i, j int) bool { return s[j].LessThan(s[i]) }

// SortVersionsDesc sorts the given versions newest first.
func SortVersionsDesc(versions []Version) {
	sort.Stable(byVersionDesc(versions))
}
