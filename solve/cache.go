package solve

import (
	"github.com/maximd/spk/api"
	"github.com/maximd/spk/storage"
)

// cachedRepository memoizes version listings, build listings and
// spec reads for the duration of one solver run, so that
// backtracking does not repeat repository I/O. Negative spec reads
// (package not found) are cached as well.
type cachedRepository struct {
	repo storage.Repository

	versions map[string][]api.Version
	builds   map[string][]api.Ident
	specs    map[string]*specResult
}

type specResult struct {
	spec *api.Spec
	err  error
}

func newCachedRepository(repo storage.Repository) *cachedRepository {
	return &cachedRepository{
		repo:     repo,
		versions: map[string][]api.Version{},
		builds:   map[string][]api.Ident{},
		specs:    map[string]*specResult{},
	}
}

func (c *cachedRepository) Address() string { return c.repo.Address() }

func (c *cachedRepository) ListPackageVersions(name string) ([]api.Version, error) {
	if versions, ok := c.versions[name]; ok {
		return versions, nil
	}
	versions, err := c.repo.ListPackageVersions(name)
	if err != nil {
		return nil, err
	}
	c.versions[name] = versions
	return versions, nil
}

func (c *cachedRepository) ListPackageBuilds(pkg api.Ident) ([]api.Ident, error) {
	key := pkg.Name + "/" + pkg.Version.String()
	if builds, ok := c.builds[key]; ok {
		return builds, nil
	}
	builds, err := c.repo.ListPackageBuilds(pkg)
	if err != nil {
		return nil, err
	}
	c.builds[key] = builds
	return builds, nil
}

func (c *cachedRepository) ReadSpec(pkg api.Ident) (*api.Spec, error) {
	key := pkg.String()
	if result, ok := c.specs[key]; ok {
		return result.spec, result.err
	}
	spec, err := c.repo.ReadSpec(pkg)
	if err != nil && !storage.IsPackageNotFound(err) {
		// do not cache transient repository failures
		return nil, err
	}
	c.specs[key] = &specResult{spec: spec, err: err}
	return spec, err
}

func (c *cachedRepository) GetPackage(pkg api.Ident) (map[storage.Component]storage.Digest, error) {
	return c.repo.GetPackage(pkg)
}
