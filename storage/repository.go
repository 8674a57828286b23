// Package storage defines the repository interface that the solver
// consumes, along with in-memory and filesystem-backed
// implementations. Repositories hold package specs and references to
// prebuilt binary payloads; the payloads themselves live in the
// content-addressed filesystem and are only ever identified here by
// digest.
package storage

import (
	"fmt"

	"github.com/maximd/spk/api"
)

// Digest is an opaque content-addressed identifier for a stored
// layer. The solver never dereferences digests; a separate runtime
// renders them.
type Digest string

func (d Digest) String() string { return string(d) }

// Component names one published layer of a package build.
type Component string

const (
	// RunComponent holds the runtime files of a package.
	RunComponent Component = "run"
	// BuildComponent holds the files needed to build against a
	// package.
	BuildComponent Component = "build"
	// SrcComponent holds the collected source files of a package.
	SrcComponent Component = "src"
)

// Repository provides access to published package specs and builds.
// One live solver references a repository exclusively at a time;
// implementations must at least be safe for that access pattern.
type Repository interface {
	// Address identifies this repository uniquely; two handles to
	// the same logical repository share an address.
	Address() string

	// ListPackages returns the names of all known packages.
	ListPackages() ([]string, error)

	// ListPackageVersions returns the versions available for the
	// named package.
	ListPackageVersions(name string) ([]api.Version, error)

	// ListPackageBuilds returns the builds available for the given
	// package version.
	ListPackageBuilds(pkg api.Ident) ([]api.Ident, error)

	// ReadSpec returns the spec stored for the given package. When
	// the identifier carries no build, the version-level spec is
	// returned.
	ReadSpec(pkg api.Ident) (*api.Spec, error)

	// GetPackage identifies the payloads of the identified build's
	// components.
	GetPackage(pkg api.Ident) (map[Component]Digest, error)

	// PublishSpec stores a version-level spec. It fails when the
	// version already exists.
	PublishSpec(spec *api.Spec) error

	// ForcePublishSpec stores a version-level spec, replacing any
	// existing one.
	ForcePublishSpec(spec *api.Spec) error

	// PublishPackage stores a build of a package along with the
	// digests of its component layers.
	PublishPackage(spec *api.Spec, components map[Component]Digest) error

	// RemoveSpec removes a version-level spec. Builds published for
	// that version are not removed.
	RemoveSpec(pkg api.Ident) error

	// RemovePackage removes a single package build.
	RemovePackage(pkg api.Ident) error
}

// PackageNotFoundError indicates that the requested package,
// version, or build does not exist in a repository.
type PackageNotFoundError struct {
	Pkg api.Ident
}

func (e *PackageNotFoundError) Error() string {
	return fmt.Sprintf("package not found: %s", e.Pkg.String())
}

// IsPackageNotFound reports whether the error denotes a missing
// package rather than a repository failure.
func IsPackageNotFound(err error) bool {
	type causer interface{ Cause() error }
	for err != nil {
		if _, ok := err.(*PackageNotFoundError); ok {
			return true
		}
		cause, ok := err.(causer)
		if !ok {
			break
		}
		err = cause.Cause()
	}
	return false
}

// VersionExistsError indicates an attempt to publish a spec over an
// existing version.
type VersionExistsError struct {
	Pkg api.Ident
}

func (e *VersionExistsError) Error() string {
	return fmt.Sprintf("version already exists: %s", e.Pkg.String())
}
