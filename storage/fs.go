package storage

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/maximd/spk/api"
)

const (
	specFileName       = "spec.yaml"
	componentsFileName = "components.yaml"
)

// FSRepository is a package repository rooted in a local directory.
// Each package version holds a spec file, and each published build a
// spec plus the digests of its component layers:
//
//	<root>/<name>/<version>/spec.yaml
//	<root>/<name>/<version>/<build>/spec.yaml
//	<root>/<name>/<version>/<build>/components.yaml
type FSRepository struct {
	root string
}

// NewFSRepository opens or creates a filesystem repository at the
// given root directory.
func NewFSRepository(root string) (*FSRepository, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid repository root %s", root)
	}
	if err := os.MkdirAll(abs, 0o777); err != nil {
		return nil, errors.Wrapf(err, "failed to create repository root %s", abs)
	}
	return &FSRepository{root: abs}, nil
}

func (r *FSRepository) Address() string { return "file:" + r.root }

func (r *FSRepository) ListPackages() ([]string, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list repository")
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && api.ValidateName(e.Name()) == nil {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (r *FSRepository) ListPackageVersions(name string) ([]api.Version, error) {
	entries, err := os.ReadDir(filepath.Join(r.root, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to list versions of %s", name)
	}
	var out []api.Version
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		v, err := api.ParseVersion(e.Name())
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	api.SortVersionsDesc(out)
	return out, nil
}

func (r *FSRepository) ListPackageBuilds(pkg api.Ident) ([]api.Ident, error) {
	dir := filepath.Join(r.root, pkg.Name, pkg.Version.String())
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to list builds of %s", pkg.String())
	}
	var out []api.Ident
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		b, err := api.ParseBuild(e.Name())
		if err != nil {
			continue
		}
		out = append(out, pkg.WithBuild(b))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Build.String() < out[j].Build.String()
	})
	return out, nil
}

func (r *FSRepository) specPath(pkg api.Ident) string {
	parts := []string{r.root, pkg.Name, pkg.Version.String()}
	if pkg.Build != nil {
		parts = append(parts, pkg.Build.String())
	}
	parts = append(parts, specFileName)
	return filepath.Join(parts...)
}

func (r *FSRepository) ReadSpec(pkg api.Ident) (*api.Spec, error) {
	path := r.specPath(pkg)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, &PackageNotFoundError{Pkg: pkg}
	}
	return api.ReadSpecFile(path)
}

func (r *FSRepository) GetPackage(pkg api.Ident) (map[Component]Digest, error) {
	if pkg.Build == nil {
		return nil, errors.Errorf("package must identify a build: %s", pkg.String())
	}
	path := filepath.Join(
		r.root, pkg.Name, pkg.Version.String(), pkg.Build.String(), componentsFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &PackageNotFoundError{Pkg: pkg}
		}
		return nil, errors.Wrapf(err, "failed to read components of %s", pkg.String())
	}
	var raw map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrapf(err, "invalid components file for %s", pkg.String())
	}
	out := make(map[Component]Digest, len(raw))
	for c, d := range raw {
		out[Component(c)] = Digest(d)
	}
	return out, nil
}

func (r *FSRepository) PublishSpec(spec *api.Spec) error {
	if spec.Pkg.Build != nil {
		return errors.Errorf(
			"only version-level specs can be published, got build %s", spec.Pkg.String())
	}
	path := r.specPath(spec.Pkg)
	if _, err := os.Stat(path); err == nil {
		return &VersionExistsError{Pkg: spec.Pkg}
	}
	return r.writeSpec(spec, path)
}

func (r *FSRepository) ForcePublishSpec(spec *api.Spec) error {
	if spec.Pkg.Build != nil {
		return errors.Errorf(
			"only version-level specs can be published, got build %s", spec.Pkg.String())
	}
	return r.writeSpec(spec, r.specPath(spec.Pkg))
}

func (r *FSRepository) writeSpec(spec *api.Spec, path string) error {
	data, err := spec.ToYAML()
	if err != nil {
		return errors.Wrapf(err, "failed to render spec %s", spec.Pkg.String())
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o777); err != nil {
		return errors.Wrapf(err, "failed to create %s", filepath.Dir(path))
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o666), "failed to write %s", path)
}

func (r *FSRepository) PublishPackage(spec *api.Spec, components map[Component]Digest) error {
	if spec.Pkg.Build == nil {
		return errors.Errorf(
			"package must identify a build to be published: %s", spec.Pkg.String())
	}
	if err := r.writeSpec(spec, r.specPath(spec.Pkg)); err != nil {
		return err
	}
	raw := make(map[string]string, len(components))
	for c, d := range components {
		raw[string(c)] = string(d)
	}
	data, err := yaml.Marshal(raw)
	if err != nil {
		return errors.Wrapf(err, "failed to render components of %s", spec.Pkg.String())
	}
	path := filepath.Join(
		r.root, spec.Pkg.Name, spec.Pkg.Version.String(), spec.Pkg.Build.String(), componentsFileName)
	return errors.Wrapf(os.WriteFile(path, data, 0o666), "failed to write %s", path)
}

func (r *FSRepository) RemoveSpec(pkg api.Ident) error {
	path := r.specPath(pkg)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &PackageNotFoundError{Pkg: pkg}
	}
	return errors.Wrapf(os.Remove(path), "failed to remove %s", path)
}

func (r *FSRepository) RemovePackage(pkg api.Ident) error {
	if pkg.Build == nil {
		return errors.Errorf("package must identify a build to be removed: %s", pkg.String())
	}
	dir := filepath.Dir(r.specPath(pkg))
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return &PackageNotFoundError{Pkg: pkg}
	}
	return errors.Wrapf(os.RemoveAll(dir), "failed to remove %s", dir)
}
