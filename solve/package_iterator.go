package solve

import (
	"sort"

	"github.com/maximd/spk/api"
	"github.com/maximd/spk/storage"
)

// candidate is one possible resolution for a package request.
type candidate struct {
	spec *api.Spec
	repo *cachedRepository
	// source marks a synthetic source-build candidate that needs a
	// build environment resolved before it can be used.
	source bool
}

// packageIterator enumerates the candidate builds for one request in
// decreasing order of preference: newest version first, repositories
// in registration order, and within a version the builds whose
// published options agree most with the currently bound options.
// A source build candidate is appended only when no binary build
// matched.
type packageIterator struct {
	request    *api.PkgRequest
	candidates []*candidate
	pos        int
}

func (it *packageIterator) next() (*candidate, bool) {
	if it.pos >= len(it.candidates) {
		return nil, false
	}
	c := it.candidates[it.pos]
	it.pos++
	return c, true
}

// versionEntry tracks which repositories offer a given version,
// preserving registration order.
type versionEntry struct {
	version api.Version
	repos   []*cachedRepository
}

func (s *Solver) newPackageIterator(state *State, request *api.PkgRequest) (*packageIterator, error) {
	name := request.Pkg.Name

	known := map[string]*versionEntry{}
	var order []*versionEntry
	for _, repo := range s.repos {
		versions, err := repo.ListPackageVersions(name)
		if err != nil {
			return nil, err
		}
		for _, v := range versions {
			key := v.String()
			entry, ok := known[key]
			if !ok {
				entry = &versionEntry{version: v}
				known[key] = entry
				order = append(order, entry)
			}
			entry.repos = append(entry.repos, repo)
		}
	}
	if len(order) == 0 {
		return nil, &PackageNotFoundError{Request: request}
	}

	sort.SliceStable(order, func(i, j int) bool {
		return order[j].version.LessThan(order[i].version)
	})

	visible := state.Options().PackageOptions(name)
	it := &packageIterator{request: request}
	var sources []*candidate

	seen := map[string]struct{}{}
	for _, entry := range order {
		if c := request.IsVersionApplicable(entry.version); !c.IsCompatible() {
			continue
		}
		var atVersion []*candidate
		srcIdent := api.Ident{Name: name, Version: entry.version}.WithBuild(
			api.MustParseBuild(api.SrcBuild))
		for _, repo := range entry.repos {
			builds, err := repo.ListPackageBuilds(api.Ident{Name: name, Version: entry.version})
			if err != nil {
				return nil, err
			}
			for _, build := range builds {
				if _, dup := seen[build.String()]; dup {
					continue
				}
				seen[build.String()] = struct{}{}
				if build.Build.IsEmbedded() {
					continue
				}
				spec, err := repo.ReadSpec(build)
				if err != nil {
					if storage.IsPackageNotFound(err) {
						continue
					}
					return nil, err
				}
				if build.Build.IsSource() {
					sources = append(sources, &candidate{spec: spec, repo: repo, source: true})
					continue
				}
				if request.Pkg.Build != nil && *request.Pkg.Build != *build.Build {
					continue
				}
				atVersion = append(atVersion, &candidate{spec: spec, repo: repo})
			}

			// A version-level spec with sources can stand in for a
			// source build that was never explicitly published.
			if _, dup := seen[srcIdent.String()]; !dup {
				versionSpec, err := repo.ReadSpec(api.Ident{Name: name, Version: entry.version})
				if err == nil && len(versionSpec.Sources) > 0 {
					seen[srcIdent.String()] = struct{}{}
					srcSpec := versionSpec.Clone()
					b := api.MustParseBuild(api.SrcBuild)
					srcSpec.Pkg.Build = &b
					sources = append(sources, &candidate{spec: srcSpec, repo: repo, source: true})
				} else if err != nil && !storage.IsPackageNotFound(err) {
					return nil, err
				}
			}
		}

		sortCandidates(atVersion, visible)
		it.candidates = append(it.candidates, atVersion...)
	}

	if len(it.candidates) == 0 && !s.binaryOnly {
		it.candidates = append(it.candidates, sources...)
	}
	return it, nil
}

// sortCandidates orders same-version candidates by how many of their
// published option values agree with the currently bound options,
// most agreement first. Builds matching one of the spec's declared
// variants are preferred next, and the build digest breaks any
// remaining tie deterministically.
func sortCandidates(candidates []*candidate, visible *api.OptionMap) {
	type ranked struct {
		c        *candidate
		affinity int
		variant  int
		digest   string
	}
	rank := make([]ranked, len(candidates))
	for i, c := range candidates {
		resolved := c.spec.ResolveAllOptions(api.NewOptionMap())
		affinity := 0
		for _, k := range resolved.Keys() {
			v, _ := resolved.Get(k)
			if cur, ok := visible.Get(k); ok && cur == v {
				affinity++
			}
		}
		variant := 0
		for _, vm := range c.spec.Build.Variants {
			if variantMatches(vm, resolved) {
				variant++
			}
		}
		digest := ""
		if c.spec.Pkg.Build != nil {
			digest = c.spec.Pkg.Build.String()
		}
		rank[i] = ranked{c: c, affinity: affinity, variant: variant, digest: digest}
	}
	sort.SliceStable(rank, func(i, j int) bool {
		if rank[i].affinity != rank[j].affinity {
			return rank[i].affinity > rank[j].affinity
		}
		if rank[i].variant != rank[j].variant {
			return rank[i].variant > rank[j].variant
		}
		return rank[i].digest < rank[j].digest
	})
	for i := range rank {
		candidates[i] = rank[i].c
	}
}

func variantMatches(variant, resolved *api.OptionMap) bool {
	if variant.Len() == 0 {
		return false
	}
	for _, k := range variant.Keys() {
		want, _ := variant.Get(k)
		have, ok := resolved.Get(k)
		if !ok || have != want {
			return false
		}
	}
	return true
}
