package api

import (
	"github.com/pkg/errors"
)

const (
	// SrcBuild identifies a source package build.
	SrcBuild = "src"
	// EmbeddedBuild identifies a package embedded within another.
	EmbeddedBuild = "embedded"

	// OptionDigestSize is the number of base32 characters in a build
	// option digest.
	OptionDigestSize = 8
)

const base32Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"

// Build identifies a concrete package build: a digest over the
// resolved build options, or one of the special source and embedded
// markers.
type Build struct {
	name string
}

// ParseBuild reads a build from its string form.
func ParseBuild(source string) (Build, error) {
	switch source {
	case SrcBuild, EmbeddedBuild:
		return Build{name: source}, nil
	case "":
		return Build{}, errors.New("build cannot be empty")
	}
	if len(source) != OptionDigestSize {
		return Build{}, errors.Errorf(
			"invalid build digest %q: must be %d characters", source, OptionDigestSize)
	}
	for _, c := range source {
		if !isBase32(byte(c)) {
			return Build{}, errors.Errorf(
				"invalid build digest %q: invalid character %q", source, string(c))
		}
	}
	return Build{name: source}, nil
}

// MustParseBuild is ParseBuild for statically-known inputs,
// panicking on error.
func MustParseBuild(source string) Build {
	b, err := ParseBuild(source)
	if err != nil {
		panic(err)
	}
	return b
}

func isBase32(c byte) bool {
	for i := 0; i < len(base32Alphabet); i++ {
		if base32Alphabet[i] == c {
			return true
		}
	}
	return false
}

func (b Build) String() string { return b.name }

// IsSource reports whether this identifies a source package.
func (b Build) IsSource() bool { return b.name == SrcBuild }

// IsEmbedded reports whether this identifies an embedded package.
func (b Build) IsEmbedded() bool { return b.name == EmbeddedBuild }

// Digest returns the option digest of a binary build, or the empty
// string for source and embedded builds.
func (b Build) Digest() string {
	if b.IsSource() || b.IsEmbedded() {
		return ""
	}
	return b.name
}
