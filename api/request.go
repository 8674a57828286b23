package api

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// PreReleasePolicy controls whether pre-release versions are
// considered when resolving a request.
type PreReleasePolicy int

const (
	// PreReleasePolicyExcludeAll ignores all pre-release versions.
	PreReleasePolicyExcludeAll PreReleasePolicy = iota
	// PreReleasePolicyIncludeAll considers pre-release versions.
	PreReleasePolicyIncludeAll
)

func (p PreReleasePolicy) String() string {
	if p == PreReleasePolicyIncludeAll {
		return "IncludeAll"
	}
	return "ExcludeAll"
}

// ParsePreReleasePolicy reads a policy by name.
func ParsePreReleasePolicy(source string) (PreReleasePolicy, error) {
	switch source {
	case "ExcludeAll":
		return PreReleasePolicyExcludeAll, nil
	case "IncludeAll":
		return PreReleasePolicyIncludeAll, nil
	}
	return 0, errors.Errorf(
		"unknown prereleasePolicy %q: must be one of [ExcludeAll, IncludeAll]", source)
}

// InclusionPolicy controls whether a request forces the package into
// the solution or only constrains it when another request names it.
type InclusionPolicy int

const (
	// InclusionPolicyAlways resolves the package unconditionally.
	InclusionPolicyAlways InclusionPolicy = iota
	// InclusionPolicyIfAlreadyPresent constrains the package only if
	// some other request brings it into the solve.
	InclusionPolicyIfAlreadyPresent
)

func (p InclusionPolicy) String() string {
	if p == InclusionPolicyIfAlreadyPresent {
		return "IfAlreadyPresent"
	}
	return "Always"
}

// ParseInclusionPolicy reads a policy by name.
func ParseInclusionPolicy(source string) (InclusionPolicy, error) {
	switch source {
	case "Always":
		return InclusionPolicyAlways, nil
	case "IfAlreadyPresent":
		return InclusionPolicyIfAlreadyPresent, nil
	}
	return 0, errors.Errorf(
		"unknown include policy %q: must be one of [Always, IfAlreadyPresent]", source)
}

// RangeIdent identifies a range of package versions and builds.
type RangeIdent struct {
	Name    string
	Version VersionFilter
	Build   *Build
}

// ParseIdentRange reads a range identifier, eg `maya/~2020.0`.
func ParseIdentRange(source string) (RangeIdent, error) {
	var ri RangeIdent
	parts := strings.Split(source, "/")
	if len(parts) > 3 {
		return ri, errors.Errorf("too many tokens in identifier %q", source)
	}

	if err := ValidateName(parts[0]); err != nil {
		return ri, errors.Wrapf(err, "invalid identifier %q", source)
	}
	ri.Name = parts[0]

	if len(parts) > 1 && parts[1] != "" {
		vf, err := ParseVersionRange(parts[1])
		if err != nil {
			return ri, errors.Wrapf(err, "invalid identifier %q", source)
		}
		ri.Version = vf
	}
	if len(parts) > 2 && parts[2] != "" {
		b, err := ParseBuild(parts[2])
		if err != nil {
			return ri, errors.Wrapf(err, "invalid identifier %q", source)
		}
		ri.Build = &b
	}
	return ri, nil
}

// MustParseIdentRange is ParseIdentRange for statically-known
// inputs, panicking on error.
func MustParseIdentRange(source string) RangeIdent {
	ri, err := ParseIdentRange(source)
	if err != nil {
		panic(err)
	}
	return ri
}

func (ri RangeIdent) String() string {
	out := ri.Name
	if !ri.Version.IsEmpty() {
		out += "/" + ri.Version.String()
	}
	if ri.Build != nil {
		out += "/" + ri.Build.String()
	}
	return out
}

// Clone returns a deep copy of this range identifier.
func (ri RangeIdent) Clone() RangeIdent {
	out := RangeIdent{Name: ri.Name, Version: ri.Version.Clone()}
	if ri.Build != nil {
		b := *ri.Build
		out.Build = &b
	}
	return out
}

// IsApplicable reports whether the given concrete package is within
// this range. Applicable packages are not necessarily satisfactory;
// that cannot be determined without the full spec.
func (ri RangeIdent) IsApplicable(pkg Ident) bool {
	if pkg.Name != ri.Name {
		return false
	}
	if !ri.Version.IsApplicable(pkg.Version).IsCompatible() {
		return false
	}
	if ri.Build != nil && pkg.Build != nil && *ri.Build != *pkg.Build {
		return false
	}
	return true
}

// IsSatisfiedBy reports whether the given package spec satisfies
// this range.
func (ri RangeIdent) IsSatisfiedBy(spec *Spec) Compatibility {
	if spec.Pkg.Name != ri.Name {
		return Incompatiblef("different package names: %s != %s", ri.Name, spec.Pkg.Name)
	}
	if c := ri.Version.IsSatisfiedBy(spec); !c.IsCompatible() {
		return c
	}
	if ri.Build != nil {
		if spec.Pkg.Build == nil || *spec.Pkg.Build != *ri.Build {
			return Incompatiblef(
				"different builds: requested %s, got %s", ri.Build, spec.Pkg.String())
		}
	}
	return Compatible
}

// Restrict reduces this range to the intersection with another.
func (ri *RangeIdent) Restrict(other RangeIdent) error {
	if ri.Name != other.Name {
		return errors.Errorf(
			"cannot restrict range for different package: %s != %s", ri.Name, other.Name)
	}
	if err := ri.Version.Restrict(other.Version); err != nil {
		return errors.Wrapf(err, "[%s]", ri.Name)
	}
	switch {
	case other.Build == nil:
	case ri.Build == nil || *ri.Build == *other.Build:
		b := *other.Build
		ri.Build = &b
	default:
		return errors.Errorf("incompatible builds: %s && %s", ri, other)
	}
	return nil
}

// Request is a desired package or variable binding to be satisfied
// by the solver.
type Request interface {
	// Name returns the requested package or variable name.
	Name() string
	requestNode()
}

// PkgRequest is a desired package and a set of restrictions on how
// it is selected.
type PkgRequest struct {
	Pkg              RangeIdent
	PrereleasePolicy PreReleasePolicy
	InclusionPolicy  InclusionPolicy
	// Pin is a fromBuildEnv template, rendered against a build
	// environment before the request is usable.
	Pin string
}

// NewPkgRequest creates a request for the given range with default
// policies.
func NewPkgRequest(pkg RangeIdent) *PkgRequest {
	return &PkgRequest{Pkg: pkg}
}

// PkgRequestFromIdent creates a request that matches the given
// concrete package exactly.
func PkgRequestFromIdent(pkg Ident) *PkgRequest {
	ri := RangeIdent{Name: pkg.Name}
	if len(pkg.Version.Parts) > 0 {
		ri.Version = ExactVersionFilter(pkg.Version)
	}
	if pkg.Build != nil {
		b := *pkg.Build
		ri.Build = &b
	}
	return NewPkgRequest(ri)
}

func (r *PkgRequest) Name() string { return r.Pkg.Name }
func (r *PkgRequest) requestNode() {}

func (r *PkgRequest) String() string { return "pkg:" + r.Pkg.String() }

// Clone returns a deep copy of this request.
func (r *PkgRequest) Clone() *PkgRequest {
	return &PkgRequest{
		Pkg:              r.Pkg.Clone(),
		PrereleasePolicy: r.PrereleasePolicy,
		InclusionPolicy:  r.InclusionPolicy,
		Pin:              r.Pin,
	}
}

// IsVersionApplicable is a cheap preliminary check used to prune
// package versions that cannot satisfy the request without loading
// the whole spec.
func (r *PkgRequest) IsVersionApplicable(v Version) Compatibility {
	if r.PrereleasePolicy == PreReleasePolicyExcludeAll && len(v.Pre) > 0 {
		return Incompatiblef("prereleases not allowed")
	}
	return r.Pkg.Version.IsApplicable(v)
}

// IsSatisfiedBy reports whether the given package spec satisfies
// this request. Deprecated builds satisfy only a request for their
// exact build.
func (r *PkgRequest) IsSatisfiedBy(spec *Spec) Compatibility {
	if spec.Deprecated {
		if r.Pkg.Build == nil || spec.Pkg.Build == nil || *r.Pkg.Build != *spec.Pkg.Build {
			return Incompatiblef("build is deprecated and was not specifically requested")
		}
	}
	if r.PrereleasePolicy == PreReleasePolicyExcludeAll && len(spec.Pkg.Version.Pre) > 0 {
		return Incompatiblef("prereleases not allowed")
	}
	return r.Pkg.IsSatisfiedBy(spec)
}

// Restrict reduces the scope of this request to the intersection
// with another. The stricter of each policy wins.
func (r *PkgRequest) Restrict(other *PkgRequest) error {
	if other.PrereleasePolicy < r.PrereleasePolicy {
		r.PrereleasePolicy = other.PrereleasePolicy
	}
	if other.InclusionPolicy < r.InclusionPolicy {
		r.InclusionPolicy = other.InclusionPolicy
	}
	return r.Pkg.Restrict(other.Pkg)
}

// RenderPin materializes a fromBuildEnv template against the
// resolved build environment package, producing a concrete request.
// Template positions holding `x` take the corresponding component of
// the resolved version.
func (r *PkgRequest) RenderPin(pkg Ident) (*PkgRequest, error) {
	if r.Pin == "" {
		return nil, errors.New("request has no pin to be rendered")
	}
	var rendered strings.Builder
	digit := 0
	for _, c := range r.Pin {
		if c == 'x' {
			rendered.WriteString(strconv.FormatUint(uint64(pkg.Version.Part(digit)), 10))
			digit++
		} else {
			rendered.WriteRune(c)
		}
	}
	vf, err := ParseVersionRange(rendered.String())
	if err != nil {
		return nil, errors.Wrapf(err, "rendered pin %q is not a valid range", rendered.String())
	}
	out := r.Clone()
	out.Pin = ""
	out.Pkg.Version = vf
	return out, nil
}

// VarRequest is a requested value for a build option variable,
// either global (`debug=on`) or namespaced (`python.abi=cp37`).
type VarRequest struct {
	Var   string
	Value string
	// FromBuildEnv marks the value as pinned from a build
	// environment rather than given directly.
	FromBuildEnv bool
}

func (r VarRequest) Name() string { return r.Var }
func (r VarRequest) requestNode() {}

func (r VarRequest) String() string { return "var:" + r.Var + "=" + r.Value }

// Namespace returns the package namespace of the variable, or the
// empty string for a global variable.
func (r VarRequest) Namespace() string {
	if ns, _, found := strings.Cut(r.Var, "."); found {
		return ns
	}
	return ""
}

// BaseName returns the variable name without its package namespace.
func (r VarRequest) BaseName() string {
	if _, base, found := strings.Cut(r.Var, "."); found {
		return base
	}
	return r.Var
}

// ParseRequest reads a request from the command-line shorthand:
// `name[/range][@prereleasePolicy]` for a package request or
// `name=value` for a variable request.
func ParseRequest(source string) (Request, error) {
	if name, value, found := strings.Cut(source, "="); found {
		base := name
		if ns, b, nsFound := strings.Cut(name, "."); nsFound {
			if err := ValidateName(ns); err != nil {
				return nil, errors.Wrapf(err, "invalid var request %q", source)
			}
			base = b
		}
		if err := ValidateName(base); err != nil {
			return nil, errors.Wrapf(err, "invalid var request %q", source)
		}
		return VarRequest{Var: name, Value: value}, nil
	}

	rest := source
	policy := PreReleasePolicyExcludeAll
	if body, p, found := strings.Cut(source, "@"); found {
		parsed, err := ParsePreReleasePolicy(p)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid request %q", source)
		}
		policy = parsed
		rest = body
	}
	ri, err := ParseIdentRange(rest)
	if err != nil {
		return nil, err
	}
	req := NewPkgRequest(ri)
	req.PrereleasePolicy = policy
	return req, nil
}
