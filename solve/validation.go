package solve

import (
	"github.com/maximd/spk/api"
)

// validate performs all constraint checks on a candidate spec for
// the given request. It determines whether resolving the candidate
// would leave a state where all solver requirements can still be
// satisfied. The result is data, not an error: an incompatible
// candidate simply drives the search to the next one.
func (s *Solver) validate(state *State, request *api.PkgRequest, spec *api.Spec) api.Compatibility {
	if c := s.checkRequestSatisfied(request, spec); !c.IsCompatible() {
		return c
	}
	if c := s.checkVarRequests(state, spec); !c.IsCompatible() {
		return c
	}
	if c := s.checkOptions(state, spec); !c.IsCompatible() {
		return c
	}
	if c := s.checkInstallRequirements(state, spec); !c.IsCompatible() {
		return c
	}
	return s.checkEmbeddedPackages(state, spec)
}

// checkRequestSatisfied ensures the candidate itself satisfies the
// merged request being resolved, including deprecation and
// prerelease rules.
func (s *Solver) checkRequestSatisfied(request *api.PkgRequest, spec *api.Spec) api.Compatibility {
	return request.IsSatisfiedBy(spec)
}

// checkVarRequests ensures that every variable request aimed at the
// candidate package can be provided by it, and that global variable
// requests do not contradict an option the candidate declares.
func (s *Solver) checkVarRequests(state *State, spec *api.Spec) api.Compatibility {
	for _, vr := range state.varRequests {
		switch vr.Namespace() {
		case spec.Pkg.Name:
			if c := spec.SatisfiesVarRequest(vr); !c.IsCompatible() {
				return c
			}
		case "":
			if opt, ok := spec.Build.GetOption(vr.Var); ok {
				if c := opt.Validate(vr.Value); !c.IsCompatible() {
					return c
				}
			}
		}
	}
	return api.Compatible
}

// checkOptions ensures every bound option value relevant to the
// candidate is within its declared choices and does not contradict a
// static published value.
func (s *Solver) checkOptions(state *State, spec *api.Spec) api.Compatibility {
	return spec.ValidateOptions(state.options)
}

// checkInstallRequirements ensures each install requirement of the
// candidate can be merged with the pending requests and is satisfied
// by any already-resolved package of the same name.
func (s *Solver) checkInstallRequirements(state *State, spec *api.Spec) api.Compatibility {
	for _, req := range spec.Install.PkgRequirements() {
		if req.Pin != "" {
			// pinned requirements take their version from the build
			// environment and cannot conflict until rendered
			continue
		}
		if resolved, ok := state.GetResolved(req.Pkg.Name); ok {
			if c := req.IsSatisfiedBy(resolved.Spec); !c.IsCompatible() {
				return api.Incompatiblef(
					"requirement %s of %s conflicts with resolved package %s: %s",
					req.Pkg.String(), spec.Pkg.Name, resolved.Spec.Pkg.String(), c)
			}
			continue
		}
		if existing, ok := state.GetPkgRequest(req.Pkg.Name); ok {
			merged := existing.Clone()
			if err := merged.Restrict(req); err != nil {
				return api.Incompatiblef(
					"requirement %s of %s conflicts with existing request %s: %s",
					req.Pkg.String(), spec.Pkg.Name, existing.Pkg.String(), err)
			}
		}
	}

	for _, r := range spec.Install.Requirements {
		vr, ok := r.(api.VarRequest)
		if !ok {
			continue
		}
		if current, bound := state.GetVarValue(vr.Var); bound && current != vr.Value {
			return api.Incompatiblef(
				"requirement %s=%s of %s conflicts with current value %q",
				vr.Var, vr.Value, spec.Pkg.Name, current)
		}
	}
	return api.Compatible
}

// checkEmbeddedPackages ensures the candidate's embedded packages do
// not contradict packages already resolved or requested.
func (s *Solver) checkEmbeddedPackages(state *State, spec *api.Spec) api.Compatibility {
	for _, embedded := range spec.Install.Embedded {
		if resolved, ok := state.GetResolved(embedded.Pkg.Name); ok {
			return api.Incompatiblef(
				"embedded package %s conflicts with resolved package %s",
				embedded.Pkg.String(), resolved.Spec.Pkg.String())
		}
		if existing, ok := state.GetPkgRequest(embedded.Pkg.Name); ok {
			if c := existing.IsSatisfiedBy(embedded); !c.IsCompatible() {
				return api.Incompatiblef(
					"embedded package %s does not satisfy request %s: %s",
					embedded.Pkg.String(), existing.Pkg.String(), c)
			}
		}
	}
	return api.Compatible
}
