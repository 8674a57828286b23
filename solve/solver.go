package solve

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/maximd/spk/api"
	"github.com/maximd/spk/storage"
)

// maxNotesPerRequest bounds how many rejected candidates are
// recorded per request in the decision graph.
const maxNotesPerRequest = 5

// Solver resolves a set of package and variable requests against
// the registered repositories, producing a consistent environment.
type Solver struct {
	log   *logrus.Logger
	repos []*cachedRepository

	initialOptions *api.OptionMap
	requests       []api.Request
	binaryOnly     bool
}

// New creates an empty solver. A nil logger gets a default one.
func New(l *logrus.Logger) *Solver {
	if l == nil {
		l = logrus.New()
		l.SetLevel(logrus.WarnLevel)
	}
	return &Solver{
		log:            l,
		initialOptions: api.NewOptionMap(),
	}
}

// AddRepository registers a repository to resolve packages from.
// Repositories are queried in registration order; on a build
// collision the first registered repository wins.
func (s *Solver) AddRepository(repo storage.Repository) {
	s.repos = append(s.repos, newCachedRepository(repo))
}

// UpdateOptions merges the given options into the initial option
// set of the solve.
func (s *Solver) UpdateOptions(options *api.OptionMap) {
	s.initialOptions.Update(options)
}

// AddRequest appends a package or variable request to be satisfied.
func (s *Solver) AddRequest(r api.Request) {
	s.requests = append(s.requests, r)
}

// SetBinaryOnly disables source-build fallback; only prebuilt
// binaries will be considered.
func (s *Solver) SetBinaryOnly(binaryOnly bool) {
	s.binaryOnly = binaryOnly
}

// Solve runs the search to completion and returns the solution.
func (s *Solver) Solve() (*Solution, error) {
	runtime, err := s.Run()
	if err != nil {
		return nil, err
	}
	for !runtime.Done() {
		if _, _, err := runtime.Step(); err != nil {
			return nil, err
		}
	}
	return runtime.Solution(), nil
}

// Run prepares a resumable runtime for this solver's requests. The
// initial requests and options are applied as the first decision;
// conflicts between them surface here, before any search happens.
func (s *Solver) Run() (*SolverRuntime, error) {
	graph := NewGraph()

	var changes []Change
	if s.initialOptions.Len() > 0 {
		changes = append(changes, SetOptions{Options: s.initialOptions.Clone()})
	}
	for _, r := range s.requests {
		switch r := r.(type) {
		case *api.PkgRequest:
			changes = append(changes, RequestPackage{Request: r})
		case api.VarRequest:
			changes = append(changes, RequestVar{Request: r})
		default:
			return nil, errors.Errorf("unsupported request type %T", r)
		}
	}

	initial := &Decision{Changes: changes}
	state, err := initial.Apply(graph.Root().State())
	if err != nil {
		return nil, err
	}
	node := graph.AddState(state)
	if node.Handle() != graph.Root().Handle() {
		graph.AddEdge(graph.Root(), node, initial)
	}

	return &SolverRuntime{
		solver: s,
		graph:  graph,
		frames: []*frame{{node: node}},
	}, nil
}

// frame is one level of the depth-first search: the state reached,
// the request being resolved at that state, and the iterator over
// its remaining candidates.
type frame struct {
	node    *Node
	request *api.PkgRequest
	iter    *packageIterator
	skipped []Note
}

func (f *frame) takeNotes() []Note {
	notes := f.skipped
	f.skipped = nil
	if len(notes) > maxNotesPerRequest {
		dropped := len(notes) - maxNotesPerRequest
		notes = append(notes[len(notes)-maxNotesPerRequest:], ManySkippedNote{Count: dropped})
	}
	return notes
}

// SolverRuntime drives the search one decision at a time. Each Step
// yields the node the decision extends and the decision itself; the
// caller may stop iterating at any point to cancel the solve.
type SolverRuntime struct {
	solver   *Solver
	graph    *Graph
	frames   []*frame
	complete bool
	solution *Solution
	failure  error
}

// Graph returns the decision graph built so far.
func (rt *SolverRuntime) Graph() *Graph { return rt.graph }

// Done reports whether the search has finished, successfully or not.
func (rt *SolverRuntime) Done() bool { return rt.complete }

// Solution returns the final solution of a successful solve.
func (rt *SolverRuntime) Solution() *Solution { return rt.solution }

// CurrentSolution returns a best-effort solution from the deepest
// state reached so far, whether or not the solve has finished.
func (rt *SolverRuntime) CurrentSolution() *Solution {
	if rt.solution != nil {
		return rt.solution
	}
	if len(rt.frames) == 0 {
		return NewSolution(api.NewOptionMap())
	}
	return solutionFromState(rt.frames[len(rt.frames)-1].node.State())
}

// Step advances the search by exactly one decision. It returns the
// node that the decision was made at and the decision applied. When
// the search completes successfully the returned decision is nil.
func (rt *SolverRuntime) Step() (*Node, *Decision, error) {
	if rt.complete {
		if rt.failure != nil {
			return nil, nil, rt.failure
		}
		return nil, nil, errors.New("solver has already completed")
	}

	f := rt.frames[len(rt.frames)-1]
	state := f.node.State()

	if f.request == nil {
		request, ok := state.NextRequest()
		if !ok {
			rt.complete = true
			rt.solution = solutionFromState(state)
			if rt.solver.log.Level >= logrus.DebugLevel {
				rt.solver.log.WithFields(logrus.Fields{
					"packages": rt.solution.Len(),
					"states":   rt.graph.Len(),
				}).Debug("solve completed")
			}
			return f.node, nil, nil
		}
		f.request = request
		iter, err := rt.solver.newPackageIterator(state, request)
		if err != nil {
			rt.complete = true
			rt.failure = err
			return f.node, nil, err
		}
		f.iter = iter
		if rt.solver.log.Level >= logrus.DebugLevel {
			rt.solver.log.WithFields(logrus.Fields{
				"name":       request.Pkg.String(),
				"candidates": len(iter.candidates),
				"depth":      len(rt.frames),
			}).Debug("beginning step in solve loop")
		}
	}

	for {
		cand, ok := f.iter.next()
		if !ok {
			break
		}

		if compat := rt.solver.validate(state, f.request, cand.spec); !compat.IsCompatible() {
			rt.skip(f, cand, compat)
			continue
		}

		source, err := rt.solver.resolveSource(state, cand)
		if err != nil {
			rt.skip(f, cand, api.Incompatiblef("%s", err))
			continue
		}

		decision, err := rt.solver.buildResolveDecision(state, f.request, cand.spec, source)
		if err != nil {
			rt.skip(f, cand, api.Incompatiblef("%s", err))
			continue
		}

		next, err := decision.Apply(state)
		if err != nil {
			rt.skip(f, cand, api.Incompatiblef("%s", err))
			continue
		}

		decision.Notes = f.takeNotes()
		node := rt.graph.AddState(next)
		rt.graph.AddEdge(f.node, node, decision)
		rt.frames = append(rt.frames, &frame{node: node})

		if rt.solver.log.Level >= logrus.InfoLevel {
			rt.solver.log.WithFields(logrus.Fields{
				"pkg":    cand.spec.Pkg.String(),
				"source": source.String(),
			}).Info("accepted candidate")
		}
		return f.node, decision, nil
	}

	// Every candidate failed: abandon this branch and return control
	// to the previous decision point.
	stepBack := &Decision{
		Changes: []Change{StepBack{
			Cause: fmt.Sprintf("could not resolve %q", f.request.Pkg.String()),
		}},
		Notes: f.takeNotes(),
	}
	rt.frames = rt.frames[:len(rt.frames)-1]

	parent := f.node
	if len(rt.frames) > 0 {
		parent = rt.frames[len(rt.frames)-1].node
	}
	rt.graph.AddEdge(f.node, parent, stepBack)

	if rt.solver.log.Level >= logrus.InfoLevel {
		rt.solver.log.WithFields(logrus.Fields{
			"name":  f.request.Pkg.String(),
			"depth": len(rt.frames),
		}).Info("backtracking, no more candidates")
	}

	if len(rt.frames) == 0 {
		rt.complete = true
		rt.failure = &SolverFailedError{Graph: rt.graph}
		return f.node, stepBack, rt.failure
	}
	return f.node, stepBack, nil
}

func (rt *SolverRuntime) skip(f *frame, cand *candidate, reason api.Compatibility) {
	f.skipped = append(f.skipped, SkipPackageNote{Pkg: cand.spec.Pkg, Reason: reason})
	if rt.solver.log.Level >= logrus.DebugLevel {
		rt.solver.log.WithFields(logrus.Fields{
			"pkg":    cand.spec.Pkg.String(),
			"reason": reason.String(),
		}).Debug("skipping candidate")
	}
}

// resolveSource determines the package source of an accepted
// candidate: the repository payload for a binary build, or a
// recursively solved build environment for a source build.
func (s *Solver) resolveSource(state *State, cand *candidate) (PackageSource, error) {
	if !cand.source {
		components, err := cand.repo.GetPackage(cand.spec.Pkg)
		if err != nil && !storage.IsPackageNotFound(err) {
			return nil, err
		}
		return &RepositorySource{Repo: cand.repo.repo, Components: components}, nil
	}

	environment, err := s.solveSourceBuild(state, cand.spec)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot build %s from source", cand.spec.Pkg.String())
	}
	return &BuildSource{Spec: cand.spec, Environment: environment}, nil
}

// solveSourceBuild computes the build environment of a source
// package by seeding a child solver with the current options and the
// package's build options. A build option that names the package
// itself is rejected; packages reached transitively through the build
// environment are not checked.
func (s *Solver) solveSourceBuild(state *State, spec *api.Spec) (*Solution, error) {
	child := New(s.log)
	child.repos = s.repos
	child.binaryOnly = s.binaryOnly

	options := state.Options()
	if len(spec.Build.Variants) > 0 {
		// the first variant is the default build matrix entry; it
		// fills in only what the user left unconstrained
		for _, k := range spec.Build.Variants[0].Keys() {
			if _, bound := options.Get(k); !bound {
				v, _ := spec.Build.Variants[0].Get(k)
				options.Set(k, v)
			}
		}
	}
	child.UpdateOptions(options)

	visible := options.PackageOptions(spec.Pkg.Name)
	for _, opt := range spec.Build.Options {
		switch opt := opt.(type) {
		case *api.PkgOpt:
			request, err := opt.ToRequest(visible.GetOr(opt.Pkg, ""))
			if err != nil {
				return nil, err
			}
			if request.Pkg.Name == spec.Pkg.Name {
				return nil, errors.Errorf(
					"build environment of %s cannot depend on the package itself", spec.Pkg.Name)
			}
			child.AddRequest(request)
		case *api.VarOpt:
			if value := opt.Value(visible.GetOr(opt.Var, "")); value != "" {
				child.AddRequest(api.VarRequest{Var: opt.Var, Value: value})
			}
		}
	}

	if s.log.Level >= logrus.DebugLevel {
		s.log.WithField("pkg", spec.Pkg.String()).Debug("solving build environment for source package")
	}
	return child.Solve()
}

// buildResolveDecision assembles the decision that resolves the
// given candidate: the resolution itself, the candidate's option
// bindings, any strongly inherited options, its install requirements
// and its embedded packages.
func (s *Solver) buildResolveDecision(
	state *State, request *api.PkgRequest, spec *api.Spec, source PackageSource,
) (*Decision, error) {
	merged := request.Clone()
	changes := []Change{ResolvePackage{Request: merged, Spec: spec, Source: source}}

	// Seed the candidate's build options into the state, preferring
	// bound values over variable requests over option defaults.
	given := api.NewOptionMap()
	for _, vr := range state.varRequests {
		given.Set(vr.Var, vr.Value)
	}
	given.Update(state.options)
	resolved := spec.ResolveAllOptions(given)
	if resolved.Len() > 0 {
		namespaced := api.NewOptionMap()
		for _, k := range resolved.Keys() {
			v, _ := resolved.Get(k)
			namespaced.Set(spec.Pkg.Name+"."+k, v)
		}
		changes = append(changes, SetOptions{Options: namespaced})
	}

	// Strong inheritance propagates an option binding to everything
	// downstream, and pins the declaring package itself.
	for _, opt := range spec.Build.Options {
		varOpt, ok := opt.(*api.VarOpt)
		if !ok || varOpt.Inheritance == api.InheritanceWeak {
			continue
		}
		value, _ := resolved.Get(varOpt.Var)
		changes = append(changes, RequestVar{Request: api.VarRequest{
			Var:   spec.Pkg.Name + "." + varOpt.Var,
			Value: value,
		}})
		if varOpt.Inheritance == api.InheritanceStrong {
			pin := api.NewPkgRequest(api.RangeIdent{
				Name: spec.Pkg.Name,
				Version: api.NewVersionFilter(api.CompatRange{
					Base:     spec.Pkg.Version,
					Required: api.CompatBinary,
				}),
			})
			pin.InclusionPolicy = api.InclusionPolicyIfAlreadyPresent
			changes = append(changes, RequestPackage{Request: pin})
		}
	}

	// The candidate's own install requirements join the frontier.
	for _, r := range spec.Install.Requirements {
		switch r := r.(type) {
		case *api.PkgRequest:
			req := r
			if r.Pin != "" {
				if resolvedPkg, ok := state.GetResolved(r.Pkg.Name); ok {
					rendered, err := r.RenderPin(resolvedPkg.Spec.Pkg)
					if err != nil {
						return nil, err
					}
					req = rendered
				} else {
					req = r.Clone()
					req.Pin = ""
				}
			}
			changes = append(changes, RequestPackage{Request: req})
		case api.VarRequest:
			changes = append(changes, RequestVar{Request: r})
		}
	}

	// Embedded packages are requested and resolved atomically with
	// their parent.
	for _, embedded := range spec.Install.Embedded {
		embeddedReq := api.PkgRequestFromIdent(embedded.Pkg)
		changes = append(changes,
			RequestPackage{Request: embeddedReq},
			ResolvePackage{
				Request: embeddedReq,
				Spec:    embedded,
				Source:  &EmbeddedSource{Parent: spec.Pkg},
			},
		)
	}

	return &Decision{Changes: changes}, nil
}

func solutionFromState(state *State) *Solution {
	solution := NewSolution(state.Options())
	for _, resolved := range state.Packages() {
		solution.Add(resolved.Request, resolved.Spec, resolved.Source)
	}
	return solution
}
