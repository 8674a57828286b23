package api

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// VersionRangeSep separates the atoms of a version range expression.
const VersionRangeSep = ","

// VersionRange is a single atom in a version range expression. A
// concrete version satisfies a range expression when it satisfies
// every atom.
type VersionRange interface {
	fmt.Stringer

	// MinInclusive returns a conservative inclusive lower bound for
	// the atom, or nil when unbounded. Used to detect empty
	// intersections when requests are merged.
	MinInclusive() *Version
	// MaxExclusive returns a conservative exclusive upper bound for
	// the atom, or nil when unbounded.
	MaxExclusive() *Version

	// IsApplicable tests a bare version number against this atom.
	// Applicable versions are not necessarily satisfactory; that
	// cannot be determined without the full package spec.
	IsApplicable(v Version) Compatibility
}

// specSatisfier is implemented by atoms whose full evaluation needs
// the declared package spec (its compat contract) rather than just a
// version number.
type specSatisfier interface {
	IsSatisfiedBy(spec *Spec) Compatibility
}

// bumpAt returns the smallest version greater than every version
// that shares the first pos+1 components with v.
func bumpAt(v Version, pos int) Version {
	parts := make([]uint32, pos+1)
	for i := 0; i <= pos; i++ {
		parts[i] = v.Part(i)
	}
	parts[pos]++
	return Version{Parts: parts}
}

// nextMajor is the exclusive upper bound of v's major version.
func nextMajor(v Version) Version { return bumpAt(v, 0) }

// strictEqual compares versions without zero padding: the specified
// components and tags must match exactly.
func strictEqual(a, b Version) bool {
	if len(a.Parts) != len(b.Parts) {
		return false
	}
	return a.Compare(b) == 0
}

// ExactVersion is the `=V` atom: the version must equal the base in
// normalized form.
type ExactVersion struct {
	Base Version
}

func (r ExactVersion) String() string         { return "=" + r.Base.String() }
func (r ExactVersion) MinInclusive() *Version { v := r.Base.Clone(); return &v }
func (r ExactVersion) MaxExclusive() *Version { v := bumpAt(r.Base, len(r.Base.Parts)); return &v }

func (r ExactVersion) IsApplicable(v Version) Compatibility {
	if v.Compare(r.Base) != 0 {
		return Incompatiblef("%s !! not equal to %s", v, r.Base)
	}
	return Compatible
}

// DoubleEqualsVersion is the `==V` atom: the version must match the
// base precisely, including the number of specified components.
type DoubleEqualsVersion struct {
	Base Version
}

func (r DoubleEqualsVersion) String() string         { return "==" + r.Base.String() }
func (r DoubleEqualsVersion) MinInclusive() *Version { v := r.Base.Clone(); return &v }
func (r DoubleEqualsVersion) MaxExclusive() *Version {
	v := bumpAt(r.Base, len(r.Base.Parts))
	return &v
}

func (r DoubleEqualsVersion) IsApplicable(v Version) Compatibility {
	if !strictEqual(v, r.Base) {
		return Incompatiblef("%s !! not precisely equal to %s", v, r.Base)
	}
	return Compatible
}

// NotEqualsVersion is the `!=V` atom.
type NotEqualsVersion struct {
	Base Version
}

func (r NotEqualsVersion) String() string         { return "!=" + r.Base.String() }
func (r NotEqualsVersion) MinInclusive() *Version { return nil }
func (r NotEqualsVersion) MaxExclusive() *Version { return nil }

func (r NotEqualsVersion) IsApplicable(v Version) Compatibility {
	if v.Compare(r.Base) == 0 {
		return Incompatiblef("excluded [%s]", r)
	}
	return Compatible
}

// DoubleNotEqualsVersion is the `!==V` atom, the precise counterpart
// of `!=V`.
type DoubleNotEqualsVersion struct {
	Base Version
}

func (r DoubleNotEqualsVersion) String() string         { return "!==" + r.Base.String() }
func (r DoubleNotEqualsVersion) MinInclusive() *Version { return nil }
func (r DoubleNotEqualsVersion) MaxExclusive() *Version { return nil }

func (r DoubleNotEqualsVersion) IsApplicable(v Version) Compatibility {
	if strictEqual(v, r.Base) {
		return Incompatiblef("excluded precisely [%s]", r)
	}
	return Compatible
}

// GreaterThanRange is the `>V` atom.
type GreaterThanRange struct {
	Bound Version
}

func (r GreaterThanRange) String() string         { return ">" + r.Bound.String() }
func (r GreaterThanRange) MinInclusive() *Version { v := r.Bound.Clone(); return &v }
func (r GreaterThanRange) MaxExclusive() *Version { return nil }

func (r GreaterThanRange) IsApplicable(v Version) Compatibility {
	if !r.Bound.LessThan(v) {
		return Incompatiblef("%s !! not greater than %s", v, r.Bound)
	}
	return Compatible
}

// GreaterThanOrEqualToRange is the `>=V` atom.
type GreaterThanOrEqualToRange struct {
	Bound Version
}

func (r GreaterThanOrEqualToRange) String() string         { return ">=" + r.Bound.String() }
func (r GreaterThanOrEqualToRange) MinInclusive() *Version { v := r.Bound.Clone(); return &v }
func (r GreaterThanOrEqualToRange) MaxExclusive() *Version { return nil }

func (r GreaterThanOrEqualToRange) IsApplicable(v Version) Compatibility {
	if v.LessThan(r.Bound) {
		return Incompatiblef("%s !! less than %s", v, r.Bound)
	}
	return Compatible
}

// LessThanRange is the `<V` atom.
type LessThanRange struct {
	Bound Version
}

func (r LessThanRange) String() string         { return "<" + r.Bound.String() }
func (r LessThanRange) MinInclusive() *Version { return nil }
func (r LessThanRange) MaxExclusive() *Version { v := r.Bound.Clone(); return &v }

func (r LessThanRange) IsApplicable(v Version) Compatibility {
	if !v.LessThan(r.Bound) {
		return Incompatiblef("%s !! not less than %s", v, r.Bound)
	}
	return Compatible
}

// LessThanOrEqualToRange is the `<=V` atom.
type LessThanOrEqualToRange struct {
	Bound Version
}

func (r LessThanOrEqualToRange) String() string         { return "<=" + r.Bound.String() }
func (r LessThanOrEqualToRange) MinInclusive() *Version { return nil }
func (r LessThanOrEqualToRange) MaxExclusive() *Version {
	v := bumpAt(r.Bound, len(r.Bound.Parts))
	return &v
}

func (r LessThanOrEqualToRange) IsApplicable(v Version) Compatibility {
	if r.Bound.LessThan(v) {
		return Incompatiblef("%s !! greater than %s", v, r.Bound)
	}
	return Compatible
}

// SemverRange is the `^V` atom: compatible within the major version
// of the base, bumping the first non-zero component.
type SemverRange struct {
	Base Version
}

func (r SemverRange) String() string         { return "^" + r.Base.String() }
func (r SemverRange) MinInclusive() *Version { v := r.Base.Clone(); return &v }

func (r SemverRange) MaxExclusive() *Version {
	for i := range r.Base.Parts {
		if r.Base.Parts[i] != 0 {
			v := bumpAt(r.Base, i)
			return &v
		}
	}
	v := bumpAt(r.Base, len(r.Base.Parts)-1)
	return &v
}

func (r SemverRange) IsApplicable(v Version) Compatibility {
	if v.LessThan(r.Base) {
		return Incompatiblef("%s !! less than %s [%s]", v, r.Base, r)
	}
	if max := r.MaxExclusive(); !v.LessThan(*max) {
		return Incompatiblef("%s !! not less than %s [%s]", v, max, r)
	}
	return Compatible
}

// LowestSpecifiedRange is the `~V` atom: compatible within the
// second-to-last specified component of the base.
type LowestSpecifiedRange struct {
	Base Version
}

func (r LowestSpecifiedRange) String() string         { return "~" + r.Base.String() }
func (r LowestSpecifiedRange) MinInclusive() *Version { v := r.Base.Clone(); return &v }

func (r LowestSpecifiedRange) MaxExclusive() *Version {
	pos := len(r.Base.Parts) - 2
	if pos < 0 {
		pos = 0
	}
	v := bumpAt(r.Base, pos)
	return &v
}

func (r LowestSpecifiedRange) IsApplicable(v Version) Compatibility {
	if v.LessThan(r.Base) {
		return Incompatiblef("%s !! less than %s [%s]", v, r.Base, r)
	}
	if max := r.MaxExclusive(); !v.LessThan(*max) {
		return Incompatiblef("%s !! not less than %s [%s]", v, max, r)
	}
	return Compatible
}

// WildcardRange matches any version whose concrete components equal
// those specified, eg `1.*` or `1.*.3`. Exactly one component is a
// wildcard.
type WildcardRange struct {
	// Parts holds the specified components; nil marks the wildcard.
	Parts []*uint32
}

func (r WildcardRange) String() string {
	parts := make([]string, len(r.Parts))
	for i, p := range r.Parts {
		if p == nil {
			parts[i] = "*"
		} else {
			parts[i] = fmt.Sprint(*p)
		}
	}
	return strings.Join(parts, VersionSep)
}

func (r WildcardRange) wildcardPos() int {
	for i, p := range r.Parts {
		if p == nil {
			return i
		}
	}
	return -1
}

func (r WildcardRange) MinInclusive() *Version {
	parts := make([]uint32, len(r.Parts))
	for i, p := range r.Parts {
		if p != nil {
			parts[i] = *p
		}
	}
	return &Version{Parts: parts}
}

func (r WildcardRange) MaxExclusive() *Version {
	pos := r.wildcardPos()
	if pos <= 0 {
		return nil
	}
	v := bumpAt(*r.MinInclusive(), pos-1)
	return &v
}

func (r WildcardRange) IsApplicable(v Version) Compatibility {
	for i, p := range r.Parts {
		if p == nil {
			continue
		}
		if v.Part(i) != *p {
			return Incompatiblef("%s !! does not match %s [at pos %d]", v, r, i+1)
		}
	}
	return Compatible
}

// CompatRange is the bare `V` atom: versions at or above the base
// that remain compatible with it under the declared package's compat
// contract. An explicit requirement can be requested with an
// `API:`/`Binary:` prefix; the default requirement is API
// compatibility, which under the default contract means versions
// below the next major release.
type CompatRange struct {
	Base     Version
	Required CompatRule // zero value means the default (API)
}

func (r CompatRange) rule() CompatRule {
	if r.Required == 0 {
		return CompatAPI
	}
	return r.Required
}

func (r CompatRange) String() string {
	switch r.Required {
	case CompatBinary:
		return "Binary:" + r.Base.String()
	case CompatAPI:
		return "API:" + r.Base.String()
	}
	return r.Base.String()
}

func (r CompatRange) MinInclusive() *Version { v := r.Base.Clone(); return &v }
func (r CompatRange) MaxExclusive() *Version { v := nextMajor(r.Base); return &v }

func (r CompatRange) IsApplicable(v Version) Compatibility {
	if v.LessThan(r.Base) {
		return Incompatiblef("%s !! less than %s [%s]", v, r.Base, r)
	}
	return Compatible
}

func (r CompatRange) IsSatisfiedBy(spec *Spec) Compatibility {
	if c := r.IsApplicable(spec.Pkg.Version); !c.IsCompatible() {
		return c
	}
	return spec.Compat.CompatibleAt(r.Base, spec.Pkg.Version, r.rule())
}

// VersionFilter is a conjunction of range atoms: a version satisfies
// the filter when it satisfies every atom.
type VersionFilter struct {
	rules []VersionRange
}

// NewVersionFilter builds a filter from the given atoms.
func NewVersionFilter(rules ...VersionRange) VersionFilter {
	return VersionFilter{rules: rules}
}

// ExactVersionFilter is a filter that admits only the given version.
func ExactVersionFilter(v Version) VersionFilter {
	return NewVersionFilter(ExactVersion{Base: v})
}

// ParseVersionRange reads a range expression: comma-separated atoms.
// The empty string yields a filter that admits any version.
func ParseVersionRange(source string) (VersionFilter, error) {
	var vf VersionFilter
	if source == "" {
		return vf, nil
	}
	for _, atom := range strings.Split(source, VersionRangeSep) {
		rule, err := parseRangeAtom(atom)
		if err != nil {
			return VersionFilter{}, err
		}
		vf.rules = append(vf.rules, rule)
	}
	return vf, nil
}

// MustParseVersionRange is ParseVersionRange for statically-known
// inputs, panicking on error.
func MustParseVersionRange(source string) VersionFilter {
	vf, err := ParseVersionRange(source)
	if err != nil {
		panic(err)
	}
	return vf
}

func parseRangeAtom(atom string) (VersionRange, error) {
	if atom == "" {
		return nil, errors.New("empty version range atom")
	}

	mk := func(prefix string, build func(Version) VersionRange) (VersionRange, error) {
		v, err := ParseVersion(strings.TrimPrefix(atom, prefix))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid version in range atom %q", atom)
		}
		if len(v.Parts) == 0 {
			return nil, errors.Errorf("missing version in range atom %q", atom)
		}
		return build(v), nil
	}

	switch {
	case strings.HasPrefix(atom, "^"):
		return mk("^", func(v Version) VersionRange { return SemverRange{Base: v} })
	case strings.HasPrefix(atom, "~"):
		return mk("~", func(v Version) VersionRange { return LowestSpecifiedRange{Base: v} })
	case strings.HasPrefix(atom, ">="):
		return mk(">=", func(v Version) VersionRange { return GreaterThanOrEqualToRange{Bound: v} })
	case strings.HasPrefix(atom, "<="):
		return mk("<=", func(v Version) VersionRange { return LessThanOrEqualToRange{Bound: v} })
	case strings.HasPrefix(atom, ">"):
		return mk(">", func(v Version) VersionRange { return GreaterThanRange{Bound: v} })
	case strings.HasPrefix(atom, "<"):
		return mk("<", func(v Version) VersionRange { return LessThanRange{Bound: v} })
	case strings.HasPrefix(atom, "=="):
		return mk("==", func(v Version) VersionRange { return DoubleEqualsVersion{Base: v} })
	case strings.HasPrefix(atom, "!=="):
		return mk("!==", func(v Version) VersionRange { return DoubleNotEqualsVersion{Base: v} })
	case strings.HasPrefix(atom, "!="):
		return mk("!=", func(v Version) VersionRange { return NotEqualsVersion{Base: v} })
	case strings.HasPrefix(atom, "="):
		return mk("=", func(v Version) VersionRange { return ExactVersion{Base: v} })
	case strings.HasPrefix(atom, "API:"):
		return mk("API:", func(v Version) VersionRange {
			return CompatRange{Base: v, Required: CompatAPI}
		})
	case strings.HasPrefix(atom, "Binary:"):
		return mk("Binary:", func(v Version) VersionRange {
			return CompatRange{Base: v, Required: CompatBinary}
		})
	case strings.Contains(atom, "*"):
		return parseWildcardAtom(atom)
	default:
		return mk("", func(v Version) VersionRange { return CompatRange{Base: v} })
	}
}

func parseWildcardAtom(atom string) (VersionRange, error) {
	var r WildcardRange
	wildcards := 0
	for _, part := range strings.Split(atom, VersionSep) {
		if part == "*" {
			wildcards++
			r.Parts = append(r.Parts, nil)
			continue
		}
		v, err := ParseVersion(part)
		if err != nil || len(v.Parts) != 1 {
			return nil, errors.Errorf("invalid wildcard range %q", atom)
		}
		p := v.Parts[0]
		r.Parts = append(r.Parts, &p)
	}
	if wildcards != 1 {
		return nil, errors.Errorf(
			"expected exactly one wildcard in version range, got %q", atom)
	}
	return r, nil
}

func (f VersionFilter) String() string {
	parts := make([]string, len(f.rules))
	for i, r := range f.rules {
		parts[i] = r.String()
	}
	return strings.Join(parts, VersionRangeSep)
}

// IsEmpty reports whether this filter carries no rules and so admits
// any version.
func (f VersionFilter) IsEmpty() bool { return len(f.rules) == 0 }

// Rules returns the atoms of this filter.
func (f VersionFilter) Rules() []VersionRange {
	return append([]VersionRange(nil), f.rules...)
}

// Clone returns a copy of this filter that can be restricted
// independently.
func (f VersionFilter) Clone() VersionFilter {
	return VersionFilter{rules: append([]VersionRange(nil), f.rules...)}
}

// IsApplicable tests a bare version number against every atom.
func (f VersionFilter) IsApplicable(v Version) Compatibility {
	for _, r := range f.rules {
		if c := r.IsApplicable(v); !c.IsCompatible() {
			return c
		}
	}
	return Compatible
}

// IsSatisfiedBy tests the full package spec against every atom,
// consulting the declared compat contract where an atom requires it.
func (f VersionFilter) IsSatisfiedBy(spec *Spec) Compatibility {
	for _, r := range f.rules {
		var c Compatibility
		if ss, ok := r.(specSatisfier); ok {
			c = ss.IsSatisfiedBy(spec)
		} else {
			c = r.IsApplicable(spec.Pkg.Version)
		}
		if !c.IsCompatible() {
			return c
		}
	}
	return Compatible
}

// Restrict reduces this filter to the intersection with another.
// Provably empty intersections fail so that conflicting requests
// surface at merge time.
func (f *VersionFilter) Restrict(other VersionFilter) error {
	for _, a := range f.rules {
		for _, b := range other.rules {
			if err := checkIntersection(a, b); err != nil {
				return err
			}
		}
	}

	have := make(map[string]struct{}, len(f.rules))
	for _, r := range f.rules {
		have[r.String()] = struct{}{}
	}
	for _, r := range other.rules {
		if _, seen := have[r.String()]; seen {
			continue
		}
		have[r.String()] = struct{}{}
		f.rules = append(f.rules, r)
	}
	return nil
}

// checkIntersection reports an error when the two atoms provably
// admit no common version. The test is conservative: bound overlap
// plus direct membership checks for exact atoms.
func checkIntersection(a, b VersionRange) error {
	if base, ok := exactBase(a); ok {
		if c := b.IsApplicable(base); !c.IsCompatible() {
			return errors.Errorf("ranges %s and %s do not intersect: %s", a, b, c)
		}
		return nil
	}
	if base, ok := exactBase(b); ok {
		if c := a.IsApplicable(base); !c.IsCompatible() {
			return errors.Errorf("ranges %s and %s do not intersect: %s", a, b, c)
		}
		return nil
	}

	low := a.MinInclusive()
	if bl := b.MinInclusive(); low == nil || (bl != nil && low.LessThan(*bl)) {
		low = bl
	}
	high := a.MaxExclusive()
	if bh := b.MaxExclusive(); high == nil || (bh != nil && bh.LessThan(*high)) {
		high = bh
	}
	if low != nil && high != nil && !low.LessThan(*high) {
		return errors.Errorf("ranges %s and %s do not intersect", a, b)
	}
	return nil
}

func exactBase(r VersionRange) (Version, bool) {
	switch r := r.(type) {
	case ExactVersion:
		return r.Base, true
	case DoubleEqualsVersion:
		return r.Base, true
	}
	return Version{}, false
}
