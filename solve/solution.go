// Package solve implements the dependency solver: a deterministic,
// depth-first backtracking search over package requests, producing a
// consistent environment of concrete package builds.
package solve

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/maximd/spk/api"
	"github.com/maximd/spk/storage"
)

// ActivePrefix is the mount point of the content-addressed
// filesystem that resolved environments live under.
const ActivePrefix = "/spfs"

// PackageSource describes where a resolved package comes from:
// an existing binary build in a repository, a source build with its
// resolved build environment, or the parent package that embeds it.
type PackageSource interface {
	fmt.Stringer
	packageSource()
}

// RepositorySource is a prebuilt binary package in a repository,
// along with the digests of its component layers.
type RepositorySource struct {
	Repo       storage.Repository
	Components map[storage.Component]storage.Digest
}

func (s *RepositorySource) packageSource() {}

func (s *RepositorySource) String() string {
	return s.Repo.Address()
}

// BuildSource is a package that must be built from source. The
// environment carries the resolved build dependencies.
type BuildSource struct {
	Spec *api.Spec
	// Environment is the solution for the package's build
	// environment, in which the build would take place.
	Environment *Solution
}

func (s *BuildSource) packageSource() {}

func (s *BuildSource) String() string {
	return fmt.Sprintf("build of %s", s.Spec.Pkg.String())
}

// EmbeddedSource is a package carried inside another resolved
// package.
type EmbeddedSource struct {
	Parent api.Ident
}

func (s *EmbeddedSource) packageSource() {}

func (s *EmbeddedSource) String() string {
	return fmt.Sprintf("embedded in %s", s.Parent.String())
}

// SolvedRequest is a single resolved package in a solution: the
// request that demanded it, the concrete spec selected, and where
// the package comes from.
type SolvedRequest struct {
	Request *api.PkgRequest
	Spec    *api.Spec
	Source  PackageSource
}

// Solution is the result of a successful solve: the ordered set of
// resolved packages and the effective option map. Each package name
// appears at most once.
type Solution struct {
	options  *api.OptionMap
	resolved []SolvedRequest
	byName   map[string]int
}

// NewSolution creates an empty solution carrying the given options.
func NewSolution(options *api.OptionMap) *Solution {
	return &Solution{
		options: options.Clone(),
		byName:  map[string]int{},
	}
}

// Add appends a resolved package, replacing any previous entry of
// the same name in place.
func (s *Solution) Add(req *api.PkgRequest, spec *api.Spec, source PackageSource) {
	sr := SolvedRequest{Request: req, Spec: spec, Source: source}
	if i, exists := s.byName[spec.Pkg.Name]; exists {
		s.resolved[i] = sr
		return
	}
	s.byName[spec.Pkg.Name] = len(s.resolved)
	s.resolved = append(s.resolved, sr)
}

// Get returns the resolved package of the given name.
func (s *Solution) Get(name string) (SolvedRequest, bool) {
	if i, ok := s.byName[name]; ok {
		return s.resolved[i], true
	}
	return SolvedRequest{}, false
}

// Len returns the number of resolved packages.
func (s *Solution) Len() int { return len(s.resolved) }

// Items returns the resolved packages in resolution order.
func (s *Solution) Items() []SolvedRequest {
	return append([]SolvedRequest(nil), s.resolved...)
}

// Options returns the effective option map of this solution.
func (s *Solution) Options() *api.OptionMap {
	return s.options.Clone()
}

// Repositories returns the distinct repositories that contributed
// packages, in resolution order.
func (s *Solution) Repositories() []storage.Repository {
	seen := map[string]struct{}{}
	var out []storage.Repository
	for _, sr := range s.resolved {
		rs, ok := sr.Source.(*RepositorySource)
		if !ok {
			continue
		}
		if _, dup := seen[rs.Repo.Address()]; dup {
			continue
		}
		seen[rs.Repo.Address()] = struct{}{}
		out = append(out, rs.Repo)
	}
	return out
}

// ToEnvironment projects this solution onto a set of environment
// variables, appended to the given base. Entries appear in
// resolution order so that later packages shadow earlier ones.
func (s *Solution) ToEnvironment(base []string) []string {
	out := append([]string(nil), base...)
	for _, sr := range s.resolved {
		name := envName(sr.Spec.Pkg.Name)
		version := sr.Spec.Pkg.Version
		out = append(out,
			fmt.Sprintf("SPK_PKG_%s=%s", name, version.String()),
			fmt.Sprintf("SPK_PKG_%s_VERSION=%s", name, version.String()),
			fmt.Sprintf("SPK_PKG_%s_BUILD=%s", name, buildName(sr.Spec.Pkg)),
			fmt.Sprintf("SPK_PKG_%s_VERSION_MAJOR=%s", name, strconv.FormatUint(uint64(version.Major()), 10)),
			fmt.Sprintf("SPK_PKG_%s_VERSION_MINOR=%s", name, strconv.FormatUint(uint64(version.Minor()), 10)),
			fmt.Sprintf("SPK_PKG_%s_VERSION_PATCH=%s", name, strconv.FormatUint(uint64(version.Patch()), 10)),
			fmt.Sprintf("SPK_PKG_%s_VERSION_BASE=%s", name, version.BaseString()),
		)
	}
	out = append(out, "SPK_ACTIVE_PREFIX="+ActivePrefix)
	return out
}

func envName(name string) string {
	return strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

func buildName(pkg api.Ident) string {
	if pkg.Build == nil {
		return ""
	}
	return pkg.Build.String()
}

func (s *Solution) String() string {
	if s.Len() == 0 {
		return "nothing resolved"
	}
	var b strings.Builder
	for _, sr := range s.resolved {
		fmt.Fprintf(&b, "  %s (from %s)\n", sr.Spec.Pkg.String(), sr.Source.String())
	}
	return b.String()
}
