package api

import (
	"strings"

	"github.com/pkg/errors"
)

// Inheritance controls how a package's build option propagates into
// environments that use the package.
type Inheritance int

const (
	// InheritanceWeak options do not propagate.
	InheritanceWeak Inheritance = iota
	// InheritanceStrong options bind a variable request in any
	// downstream environment and pin the declaring package as an
	// install requirement.
	InheritanceStrong
	// InheritanceStrongForBuildOnly options bind the variable
	// request without pinning the package at install time.
	InheritanceStrongForBuildOnly
)

func (i Inheritance) String() string {
	switch i {
	case InheritanceStrong:
		return "Strong"
	case InheritanceStrongForBuildOnly:
		return "StrongForBuildOnly"
	}
	return "Weak"
}

// ParseInheritance reads an inheritance mode by name.
func ParseInheritance(source string) (Inheritance, error) {
	switch source {
	case "Weak", "":
		return InheritanceWeak, nil
	case "Strong":
		return InheritanceStrong, nil
	case "StrongForBuildOnly":
		return InheritanceStrongForBuildOnly, nil
	}
	return 0, errors.Errorf(
		"unknown inheritance %q: must be one of [Weak, Strong, StrongForBuildOnly]", source)
}

// BuildOption is a single build-time parameter of a package: either
// a variable (VarOpt) or a package dependency (PkgOpt).
type BuildOption interface {
	// OptionName returns the name of the option.
	OptionName() string
	// Value resolves the option value: a static value always wins,
	// then the given input, then the option's default.
	Value(given string) string
	// Validate tests whether the given value is usable for this
	// option.
	Validate(value string) Compatibility
	buildOption()
}

// VarOpt is a variable build option.
type VarOpt struct {
	Var     string
	Default string
	Choices []string
	// Inheritance controls downstream propagation when the
	// declaring package is resolved.
	Inheritance Inheritance
	// Static is the value frozen into a published build. Publishing
	// a build does not set it; it holds a value only where the spec
	// declares one.
	Static string
}

func (o *VarOpt) OptionName() string { return o.Var }
func (o *VarOpt) buildOption()       {}

func (o *VarOpt) Value(given string) string {
	if o.Static != "" {
		return o.Static
	}
	if given != "" {
		return given
	}
	return o.Default
}

func (o *VarOpt) Validate(value string) Compatibility {
	if value == "" {
		return Compatible
	}
	if o.Static != "" && o.Static != value {
		return Incompatiblef(
			"incompatible option %q: wanted %q, got static value %q", o.Var, value, o.Static)
	}
	if len(o.Choices) > 0 && !contains(o.Choices, value) {
		return Incompatiblef(
			"option %s value %s not in choices [%s]", o.Var, value, strings.Join(o.Choices, ", "))
	}
	return Compatible
}

// PkgOpt is a package dependency expressed as a build option.
type PkgOpt struct {
	Pkg              string
	Default          string
	PrereleasePolicy PreReleasePolicy
	// Static is the version frozen into a published build.
	Static string
}

func (o *PkgOpt) OptionName() string { return o.Pkg }
func (o *PkgOpt) buildOption()       {}

func (o *PkgOpt) Value(given string) string {
	if o.Static != "" {
		return o.Static
	}
	if given != "" {
		return given
	}
	return o.Default
}

func (o *PkgOpt) Validate(value string) Compatibility {
	if value == "" {
		return Compatible
	}
	if o.Static != "" && o.Static != value {
		return Incompatiblef(
			"incompatible option %q: wanted %q, got static value %q", o.Pkg, value, o.Static)
	}
	return Compatible
}

// ToRequest converts this option into a package request at the given
// version range value (falling back to the option's own value).
func (o *PkgOpt) ToRequest(value string) (*PkgRequest, error) {
	if value == "" {
		value = o.Value("")
	}
	vf, err := ParseVersionRange(value)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid version range for package option %q", o.Pkg)
	}
	req := NewPkgRequest(RangeIdent{Name: o.Pkg, Version: vf})
	req.PrereleasePolicy = o.PrereleasePolicy
	return req, nil
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
