package api

import (
	"regexp"

	"github.com/pkg/errors"
)

var namePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

// ValidateName checks that the given package or option name is a legal
// spk name: lowercase alphanumeric with dashes, starting with a letter.
func ValidateName(name string) error {
	if name == "" {
		return errors.New("name cannot be empty")
	}
	if !namePattern.MatchString(name) {
		return errors.Errorf(
			"invalid name %q: must match [a-z][a-z0-9-]*", name)
	}
	return nil
}
