package api

import (
	"strings"

	"github.com/pkg/errors"
)

// Ident identifies a package with or without a specific version and
// build. The string grammar is `name[/version[/build]]`.
type Ident struct {
	Name    string
	Version Version
	Build   *Build
}

// ParseIdent reads a package identifier from its string form.
func ParseIdent(source string) (Ident, error) {
	var ident Ident
	parts := strings.Split(source, "/")
	if len(parts) > 3 {
		return ident, errors.Errorf("too many tokens in identifier %q", source)
	}

	if err := ValidateName(parts[0]); err != nil {
		return ident, errors.Wrapf(err, "invalid identifier %q", source)
	}
	ident.Name = parts[0]

	if len(parts) > 1 {
		v, err := ParseVersion(parts[1])
		if err != nil {
			return ident, errors.Wrapf(err, "invalid identifier %q", source)
		}
		ident.Version = v
	}
	if len(parts) > 2 {
		b, err := ParseBuild(parts[2])
		if err != nil {
			return ident, errors.Wrapf(err, "invalid identifier %q", source)
		}
		ident.Build = &b
	}
	return ident, nil
}

// MustParseIdent is ParseIdent for statically-known inputs,
// panicking on error.
func MustParseIdent(source string) Ident {
	ident, err := ParseIdent(source)
	if err != nil {
		panic(err)
	}
	return ident
}

func (i Ident) String() string {
	out := i.Name
	if len(i.Version.Parts) > 0 || i.Build != nil {
		out += "/" + i.Version.String()
	}
	if i.Build != nil {
		out += "/" + i.Build.String()
	}
	return out
}

// IsSource reports whether this identifies a source package build.
func (i Ident) IsSource() bool { return i.Build != nil && i.Build.IsSource() }

// WithVersion returns a copy of this identifier at the given version.
func (i Ident) WithVersion(v Version) Ident {
	return Ident{Name: i.Name, Version: v.Clone(), Build: i.Build}
}

// WithBuild returns a copy of this identifier with the given build.
func (i Ident) WithBuild(b Build) Ident {
	return Ident{Name: i.Name, Version: i.Version.Clone(), Build: &b}
}

// Clone returns a deep copy of this identifier.
func (i Ident) Clone() Ident {
	out := Ident{Name: i.Name, Version: i.Version.Clone()}
	if i.Build != nil {
		b := *i.Build
		out.Build = &b
	}
	return out
}
