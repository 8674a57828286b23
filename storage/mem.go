package storage

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/maximd/spk/api"
)

// MemRepository is an in-memory package repository, used for testing
// and for assembling ephemeral package sets.
type MemRepository struct {
	address string

	mu       sync.RWMutex
	specs    map[string]map[string]*api.Spec            // name -> version -> version-level spec
	builds   map[string]map[string]map[string]*api.Spec // name -> version -> build -> spec
	payloads map[string]map[Component]Digest            // full ident -> component digests
}

var memRepoCount int
var memRepoCountMu sync.Mutex

// NewMemRepository creates an empty in-memory repository with a
// unique address.
func NewMemRepository() *MemRepository {
	memRepoCountMu.Lock()
	memRepoCount++
	n := memRepoCount
	memRepoCountMu.Unlock()
	return &MemRepository{
		address:  fmt.Sprintf("mem://%d", n),
		specs:    map[string]map[string]*api.Spec{},
		builds:   map[string]map[string]map[string]*api.Spec{},
		payloads: map[string]map[Component]Digest{},
	}
}

func (r *MemRepository) Address() string { return r.address }

func (r *MemRepository) ListPackages() ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.specs))
	for name := range r.specs {
		names = append(names, name)
	}
	for name := range r.builds {
		if _, ok := r.specs[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (r *MemRepository) ListPackageVersions(name string) ([]api.Version, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := map[string]struct{}{}
	var out []api.Version
	for version := range r.specs[name] {
		if _, ok := seen[version]; !ok {
			seen[version] = struct{}{}
			out = append(out, api.MustParseVersion(version))
		}
	}
	for version := range r.builds[name] {
		if _, ok := seen[version]; !ok {
			seen[version] = struct{}{}
			out = append(out, api.MustParseVersion(version))
		}
	}
	api.SortVersionsDesc(out)
	return out, nil
}

func (r *MemRepository) ListPackageBuilds(pkg api.Ident) ([]api.Ident, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	version := pkg.Version.String()
	builds := r.builds[pkg.Name][version]
	out := make([]api.Ident, 0, len(builds))
	for build := range builds {
		out = append(out, pkg.WithBuild(api.MustParseBuild(build)))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Build.String() < out[j].Build.String()
	})
	return out, nil
}

func (r *MemRepository) ReadSpec(pkg api.Ident) (*api.Spec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	version := pkg.Version.String()
	if pkg.Build == nil {
		if spec, ok := r.specs[pkg.Name][version]; ok {
			return spec, nil
		}
		return nil, &PackageNotFoundError{Pkg: pkg}
	}
	if spec, ok := r.builds[pkg.Name][version][pkg.Build.String()]; ok {
		return spec, nil
	}
	return nil, &PackageNotFoundError{Pkg: pkg}
}

func (r *MemRepository) GetPackage(pkg api.Ident) (map[Component]Digest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if payload, ok := r.payloads[pkg.String()]; ok {
		out := make(map[Component]Digest, len(payload))
		for c, d := range payload {
			out[c] = d
		}
		return out, nil
	}
	return nil, &PackageNotFoundError{Pkg: pkg}
}

func (r *MemRepository) PublishSpec(spec *api.Spec) error {
	if spec.Pkg.Build != nil {
		return errors.Errorf(
			"only version-level specs can be published, got build %s", spec.Pkg.String())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	version := spec.Pkg.Version.String()
	if _, exists := r.specs[spec.Pkg.Name][version]; exists {
		return &VersionExistsError{Pkg: spec.Pkg}
	}
	r.setSpecLocked(spec)
	return nil
}

func (r *MemRepository) ForcePublishSpec(spec *api.Spec) error {
	if spec.Pkg.Build != nil {
		return errors.Errorf(
			"only version-level specs can be published, got build %s", spec.Pkg.String())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setSpecLocked(spec)
	return nil
}

func (r *MemRepository) setSpecLocked(spec *api.Spec) {
	if r.specs[spec.Pkg.Name] == nil {
		r.specs[spec.Pkg.Name] = map[string]*api.Spec{}
	}
	r.specs[spec.Pkg.Name][spec.Pkg.Version.String()] = spec
}

func (r *MemRepository) PublishPackage(spec *api.Spec, components map[Component]Digest) error {
	if spec.Pkg.Build == nil {
		return errors.Errorf(
			"package must identify a build to be published: %s", spec.Pkg.String())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	version := spec.Pkg.Version.String()
	if r.builds[spec.Pkg.Name] == nil {
		r.builds[spec.Pkg.Name] = map[string]map[string]*api.Spec{}
	}
	if r.builds[spec.Pkg.Name][version] == nil {
		r.builds[spec.Pkg.Name][version] = map[string]*api.Spec{}
	}
	r.builds[spec.Pkg.Name][version][spec.Pkg.Build.String()] = spec
	stored := make(map[Component]Digest, len(components))
	for c, d := range components {
		stored[c] = d
	}
	r.payloads[spec.Pkg.String()] = stored
	return nil
}

func (r *MemRepository) RemoveSpec(pkg api.Ident) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	version := pkg.Version.String()
	if _, ok := r.specs[pkg.Name][version]; !ok {
		return &PackageNotFoundError{Pkg: pkg}
	}
	delete(r.specs[pkg.Name], version)
	return nil
}

func (r *MemRepository) RemovePackage(pkg api.Ident) error {
	if pkg.Build == nil {
		return errors.Errorf("package must identify a build to be removed: %s", pkg.String())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	version := pkg.Version.String()
	if _, ok := r.builds[pkg.Name][version][pkg.Build.String()]; !ok {
		return &PackageNotFoundError{Pkg: pkg}
	}
	delete(r.builds[pkg.Name][version], pkg.Build.String())
	delete(r.payloads, pkg.String())
	return nil
}
