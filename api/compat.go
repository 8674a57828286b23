package api

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Compatibility is the result of a compatibility test. The empty
// value means compatible; any other value is the reason for the
// incompatibility, suitable for inclusion in solver notes.
type Compatibility string

// Compatible is the positive result of any compatibility test.
const Compatible Compatibility = ""

// IsCompatible reports whether this result denotes compatibility.
func (c Compatibility) IsCompatible() bool { return c == Compatible }

func (c Compatibility) String() string {
	if c == Compatible {
		return "Compatible"
	}
	return string(c)
}

// Incompatiblef creates a negative compatibility result with the
// given reason.
func Incompatiblef(format string, args ...interface{}) Compatibility {
	return Compatibility(fmt.Sprintf(format, args...))
}

// CompatRule identifies a type of compatibility that a version
// component change can preserve.
type CompatRule byte

const (
	// CompatNone denotes no compatibility across a change.
	CompatNone CompatRule = 'x'
	// CompatAPI denotes source/API compatibility across a change.
	CompatAPI CompatRule = 'a'
	// CompatBinary denotes binary compatibility across a change.
	CompatBinary CompatRule = 'b'
)

// rank orders the built-in rules by strength, so that a component
// declared binary-compatible also satisfies an API compatibility
// requirement. Letters outside the built-in vocabulary have no rank
// and only match themselves.
func (r CompatRule) rank() int {
	switch r {
	case CompatNone:
		return 0
	case CompatAPI:
		return 1
	case CompatBinary:
		return 2
	}
	return -1
}

type compatRuleSet string

func (rs compatRuleSet) allows(required CompatRule) bool {
	req := required.rank()
	for i := 0; i < len(rs); i++ {
		r := CompatRule(rs[i])
		if r == required {
			return true
		}
		if req > 0 && r.rank() >= req {
			return true
		}
	}
	return false
}

// Compat is a version compatibility contract: one set of capability
// letters per version component, declaring what a change in that
// component preserves.
type Compat struct {
	parts []compatRuleSet
}

// DefaultCompat returns the default contract, x.a.b: no compatibility
// across major changes, API compatibility across minor changes and
// binary compatibility across patch changes.
func DefaultCompat() Compat {
	return Compat{parts: []compatRuleSet{"x", "a", "b"}}
}

// ParseCompat reads a contract from its dot-separated string form.
func ParseCompat(source string) (Compat, error) {
	if source == "" {
		return DefaultCompat(), nil
	}
	var c Compat
	for _, part := range strings.Split(source, VersionSep) {
		if part == "" {
			return c, errors.Errorf("invalid compat %q: empty component", source)
		}
		for _, r := range part {
			if r < 'a' || r > 'z' {
				return c, errors.Errorf(
					"invalid compat %q: %q is not a capability letter", source, string(r))
			}
		}
		c.parts = append(c.parts, compatRuleSet(part))
	}
	return c, nil
}

// MustParseCompat is ParseCompat for statically-known inputs,
// panicking on error.
func MustParseCompat(source string) Compat {
	c, err := ParseCompat(source)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Compat) String() string {
	parts := make([]string, len(c.parts))
	for i, p := range c.parts {
		parts[i] = string(p)
	}
	return strings.Join(parts, VersionSep)
}

// IsZero reports whether this contract was never specified.
func (c Compat) IsZero() bool { return len(c.parts) == 0 }

// OrDefault returns this contract, or the default one if it was
// never specified.
func (c Compat) OrDefault() Compat {
	if c.IsZero() {
		return DefaultCompat()
	}
	return c
}

// CompatibleAt tests whether version other can stand in for the
// declared base version while preserving the required compatibility.
// The first component where the versions differ decides: the letter
// set declared for that component must allow the requirement.
// Components beyond the declared contract are unconstrained.
func (c Compat) CompatibleAt(base, other Version, required CompatRule) Compatibility {
	contract := c.OrDefault()
	count := len(base.Parts)
	if len(other.Parts) > count {
		count = len(other.Parts)
	}
	for i := 0; i < count; i++ {
		if base.Part(i) == other.Part(i) {
			continue
		}
		if i >= len(contract.parts) {
			return Compatible
		}
		if contract.parts[i].allows(required) {
			return Compatible
		}
		return Incompatiblef(
			"not compatible with %s [%s at pos %d requires %q, has %q]",
			base, contract, i+1, string(required), string(contract.parts[i]))
	}
	return Compatible
}

// IsAPICompatible tests whether other preserves API compatibility
// with the declared base version.
func (c Compat) IsAPICompatible(base, other Version) Compatibility {
	return c.CompatibleAt(base, other, CompatAPI)
}

// IsBinaryCompatible tests whether other preserves binary
// compatibility with the declared base version.
func (c Compat) IsBinaryCompatible(base, other Version) Compatibility {
	return c.CompatibleAt(base, other, CompatBinary)
}
