package solve

import (
	"testing"

	"github.com/maximd/spk/api"
	"github.com/maximd/spk/storage"
)

// mkBinary publishes the given version-level spec plus one binary
// build whose name is the digest of the spec's resolved options.
// The returned identifier names the published build.
func mkBinary(t *testing.T, repo *storage.MemRepository, doc string) api.Ident {
	t.Helper()
	spec := api.MustSpecFromYAML(doc)
	if err := repo.ForcePublishSpec(spec); err != nil {
		t.Fatalf("publishing %s: %v", spec.Pkg.String(), err)
	}
	build := spec.Clone()
	b := spec.ResolveAllOptions(api.NewOptionMap()).DigestBuild()
	build.Pkg.Build = &b
	err := repo.PublishPackage(build, map[storage.Component]storage.Digest{
		storage.RunComponent: storage.Digest("layer-" + build.Pkg.String()),
	})
	if err != nil {
		t.Fatalf("publishing build %s: %v", build.Pkg.String(), err)
	}
	return build.Pkg
}

// mkSource publishes only a version-level spec with sources, so the
// package can be resolved through a source build alone.
func mkSource(t *testing.T, repo *storage.MemRepository, doc string) api.Ident {
	t.Helper()
	spec := api.MustSpecFromYAML(doc)
	if len(spec.Sources) == 0 {
		t.Fatalf("source package %s needs a sources list", spec.Pkg.String())
	}
	if err := repo.ForcePublishSpec(spec); err != nil {
		t.Fatalf("publishing %s: %v", spec.Pkg.String(), err)
	}
	return spec.Pkg
}

// mkSolver wires a solver for the given repository and shorthand
// requests, panicking on malformed test data.
func mkSolver(t *testing.T, repo storage.Repository, requests ...string) *Solver {
	t.Helper()
	solver := New(nil)
	solver.AddRepository(repo)
	for _, r := range requests {
		req, err := api.ParseRequest(r)
		if err != nil {
			t.Fatalf("bad request fixture %q: %v", r, err)
		}
		solver.AddRequest(req)
	}
	return solver
}

// assertResolved fails unless the solution holds exactly the named
// packages at the given name/version, in order.
func assertResolved(t *testing.T, solution *Solution, want ...string) {
	t.Helper()
	items := solution.Items()
	if len(items) != len(want) {
		t.Fatalf("expected %d resolved packages, got %d: %s", len(want), len(items), solution)
	}
	for i, w := range want {
		got := items[i].Spec.Pkg.Name + "/" + items[i].Spec.Pkg.Version.String()
		if got != w {
			t.Errorf("resolved[%d] = %s, want %s", i, got, w)
		}
	}
}

// checkInvariants verifies the universal solution properties: no
// duplicate names, and every install requirement of every resolved
// package satisfied within the solution.
func checkInvariants(t *testing.T, solution *Solution) {
	t.Helper()
	seen := map[string]struct{}{}
	for _, item := range solution.Items() {
		if _, dup := seen[item.Spec.Pkg.Name]; dup {
			t.Errorf("package %s resolved more than once", item.Spec.Pkg.Name)
		}
		seen[item.Spec.Pkg.Name] = struct{}{}

		for _, req := range item.Spec.Install.PkgRequirements() {
			if req.Pin != "" {
				continue
			}
			dep, ok := solution.Get(req.Pkg.Name)
			if !ok {
				if req.InclusionPolicy == api.InclusionPolicyIfAlreadyPresent {
					continue
				}
				t.Errorf("requirement %s of %s is unresolved",
					req.Pkg.String(), item.Spec.Pkg.Name)
				continue
			}
			if c := req.IsSatisfiedBy(dep.Spec); !c.IsCompatible() {
				t.Errorf("requirement %s of %s not satisfied by %s: %s",
					req.Pkg.String(), item.Spec.Pkg.Name, dep.Spec.Pkg.String(), c)
			}
		}
	}
}

func TestSolveSinglePackage(t *testing.T) {
	repo := storage.NewMemRepository()
	published := mkBinary(t, repo, "pkg: python/3.7.3\n")

	solution, err := mkSolver(t, repo, "python").Solve()
	if err != nil {
		t.Fatal(err)
	}
	assertResolved(t, solution, "python/3.7.3")
	checkInvariants(t, solution)

	resolved, _ := solution.Get("python")
	if resolved.Spec.Pkg.String() != published.String() {
		t.Errorf("expected the published build %s, got %s", published, resolved.Spec.Pkg.String())
	}
	if _, ok := resolved.Source.(*RepositorySource); !ok {
		t.Errorf("expected a repository source, got %T", resolved.Source)
	}
	if solution.Options().Len() != 0 {
		t.Errorf("expected empty options, got %s", solution.Options())
	}
}

func TestSolveTransitive(t *testing.T) {
	repo := storage.NewMemRepository()
	mkBinary(t, repo, "pkg: app/1.0\ninstall:\n  requirements:\n    - pkg: lib/^1.0\n")
	mkBinary(t, repo, "pkg: lib/1.2.0\n")
	mkBinary(t, repo, "pkg: lib/1.1.0\n")

	solution, err := mkSolver(t, repo, "app").Solve()
	if err != nil {
		t.Fatal(err)
	}
	// newest compatible lib wins
	assertResolved(t, solution, "app/1.0", "lib/1.2.0")
	checkInvariants(t, solution)
}

func TestSolveBacktracks(t *testing.T) {
	repo := storage.NewMemRepository()
	mkBinary(t, repo, "pkg: app/2.0\ninstall:\n  requirements:\n    - pkg: lib/=9.9\n")
	mkBinary(t, repo, "pkg: app/1.0\ninstall:\n  requirements:\n    - pkg: lib/=1.1\n")
	mkBinary(t, repo, "pkg: lib/1.2.0\n")
	mkBinary(t, repo, "pkg: lib/1.1.0\n")

	runtime, err := mkSolver(t, repo, "app").Run()
	if err != nil {
		t.Fatal(err)
	}
	for !runtime.Done() {
		if _, _, err := runtime.Step(); err != nil {
			t.Fatal(err)
		}
	}

	solution := runtime.Solution()
	assertResolved(t, solution, "app/1.0", "lib/1.1.0")
	checkInvariants(t, solution)

	stepBacks := 0
	for _, edge := range runtime.Graph().Edges() {
		if edge.Decision.IsStepBack() {
			stepBacks++
		}
	}
	if stepBacks == 0 {
		t.Error("expected the search to record at least one StepBack")
	}
}

func TestSolveStrongOptionInheritance(t *testing.T) {
	repo := storage.NewMemRepository()
	mkBinary(t, repo, `
pkg: python/3.7.3
build:
  options:
    - var: abi
      default: cp37
      inheritance: Strong
`)
	mkBinary(t, repo, "pkg: numpy/1.18.0\ninstall:\n  requirements:\n    - pkg: python/3.7\n")

	runtime, err := mkSolver(t, repo, "python", "numpy").Run()
	if err != nil {
		t.Fatal(err)
	}
	for !runtime.Done() {
		if _, _, err := runtime.Step(); err != nil {
			t.Fatal(err)
		}
	}
	solution := runtime.Solution()
	assertResolved(t, solution, "python/3.7.3", "numpy/1.18.0")
	checkInvariants(t, solution)

	final := runtime.frames[len(runtime.frames)-1].node.State()
	foundVar := false
	for _, vr := range final.VarRequests() {
		if vr.Var == "python.abi" && vr.Value == "cp37" {
			foundVar = true
		}
	}
	if !foundVar {
		t.Error("resolving python should have bound the var request python.abi=cp37")
	}
	if v, _ := solution.Options().Get("python.abi"); v != "cp37" {
		t.Errorf("expected python.abi option binding, got %q", v)
	}
}

func TestSolveConflictingRequests(t *testing.T) {
	repo := storage.NewMemRepository()
	mkBinary(t, repo, "pkg: python/2.7.5\n")
	mkBinary(t, repo, "pkg: python/3.9.1\n")

	_, err := mkSolver(t, repo, "python/2.7", "python/3.9").Solve()
	if _, ok := err.(*ConflictingRequestsError); !ok {
		t.Fatalf("expected ConflictingRequestsError before any search, got %v", err)
	}
}

func TestSolveSourceFallback(t *testing.T) {
	repo := storage.NewMemRepository()
	mkSource(t, repo, `
pkg: mylib/1.0.0
sources:
  - path: .
build:
  script: make install
  options:
    - pkg: gcc/9.3
`)
	mkBinary(t, repo, "pkg: gcc/9.3.0\n")

	solution, err := mkSolver(t, repo, "mylib").Solve()
	if err != nil {
		t.Fatal(err)
	}
	assertResolved(t, solution, "mylib/1.0.0")

	resolved, _ := solution.Get("mylib")
	if !resolved.Spec.Pkg.IsSource() {
		t.Errorf("expected a source build, got %s", resolved.Spec.Pkg.String())
	}
	src, ok := resolved.Source.(*BuildSource)
	if !ok {
		t.Fatalf("expected a build source, got %T", resolved.Source)
	}
	if _, ok := src.Environment.Get("gcc"); !ok {
		t.Error("the build environment should contain the resolved gcc")
	}
}

func TestSolveSourceFallbackFailsWithoutBuildEnv(t *testing.T) {
	repo := storage.NewMemRepository()
	mkSource(t, repo, `
pkg: mylib/1.0.0
sources:
  - path: .
build:
  options:
    - pkg: gcc/9.3
`)
	// no gcc anywhere: the child solve fails and the outer solver
	// runs out of candidates
	_, err := mkSolver(t, repo, "mylib").Solve()
	if _, ok := err.(*SolverFailedError); !ok {
		t.Fatalf("expected SolverFailedError, got %v", err)
	}
}

func TestSolveEmptyRequests(t *testing.T) {
	solution, err := New(nil).Solve()
	if err != nil {
		t.Fatal(err)
	}
	if solution.Len() != 0 {
		t.Errorf("expected an empty solution, got %s", solution)
	}
}

func TestSolvePackageNotFound(t *testing.T) {
	repo := storage.NewMemRepository()
	mkBinary(t, repo, "pkg: python/3.7.3\n")

	_, err := mkSolver(t, repo, "nosuchthing").Solve()
	if _, ok := err.(*PackageNotFoundError); !ok {
		t.Fatalf("expected PackageNotFoundError, got %v", err)
	}
}

func TestSolveSkipsDeprecated(t *testing.T) {
	repo := storage.NewMemRepository()
	deprecated := mkBinary(t, repo, "pkg: thing/1.1.0\ndeprecated: true\n")
	mkBinary(t, repo, "pkg: thing/1.0.0\n")

	solution, err := mkSolver(t, repo, "thing").Solve()
	if err != nil {
		t.Fatal(err)
	}
	assertResolved(t, solution, "thing/1.0.0")

	// requesting the deprecated build by exact identity still works
	solver := New(nil)
	solver.AddRepository(repo)
	solver.AddRequest(api.PkgRequestFromIdent(deprecated))
	solution, err = solver.Solve()
	if err != nil {
		t.Fatal(err)
	}
	assertResolved(t, solution, "thing/1.1.0")
}

func TestSolveIfAlreadyPresent(t *testing.T) {
	repo := storage.NewMemRepository()
	mkBinary(t, repo, "pkg: python/3.7.3\n")

	solver := New(nil)
	solver.AddRepository(repo)
	req := api.NewPkgRequest(api.MustParseIdentRange("python"))
	req.InclusionPolicy = api.InclusionPolicyIfAlreadyPresent
	solver.AddRequest(req)

	solution, err := solver.Solve()
	if err != nil {
		t.Fatal(err)
	}
	if solution.Len() != 0 {
		t.Errorf("an IfAlreadyPresent request alone must not pull the package in: %s", solution)
	}
}

func TestSolvePrereleasePolicy(t *testing.T) {
	repo := storage.NewMemRepository()
	mkBinary(t, repo, "pkg: python/3.8.0-rc.1\n")
	mkBinary(t, repo, "pkg: python/3.7.3\n")

	solution, err := mkSolver(t, repo, "python").Solve()
	if err != nil {
		t.Fatal(err)
	}
	assertResolved(t, solution, "python/3.7.3")

	solution, err = mkSolver(t, repo, "python@IncludeAll").Solve()
	if err != nil {
		t.Fatal(err)
	}
	assertResolved(t, solution, "python/3.8.0-rc.1")
}

func TestSolveEmbeddedPackages(t *testing.T) {
	repo := storage.NewMemRepository()
	mkBinary(t, repo, `
pkg: maya/2020.1
install:
  embedded:
    - pkg: qt/5.12.6
`)

	solution, err := mkSolver(t, repo, "maya").Solve()
	if err != nil {
		t.Fatal(err)
	}
	assertResolved(t, solution, "maya/2020.1", "qt/5.12.6")

	qt, _ := solution.Get("qt")
	if _, ok := qt.Source.(*EmbeddedSource); !ok {
		t.Errorf("expected an embedded source, got %T", qt.Source)
	}
}

func TestSolveOptionChoiceConstraint(t *testing.T) {
	repo := storage.NewMemRepository()
	mkBinary(t, repo, `
pkg: python/3.7.3
build:
  options:
    - var: abi
      default: cp37
      choices: [cp37, cp37m]
`)

	solver := mkSolver(t, repo, "python")
	solver.UpdateOptions(api.OptionMapOf("python.abi", "cp99"))
	if _, err := solver.Solve(); err == nil {
		t.Fatal("an option outside the declared choices must fail the solve")
	}

	solver = mkSolver(t, repo, "python")
	solver.UpdateOptions(api.OptionMapOf("python.abi", "cp37m"))
	solution, err := solver.Solve()
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := solution.Options().Get("python.abi"); v != "cp37m" {
		t.Errorf("expected the chosen abi to be bound, got %q", v)
	}
}

func TestSolveDeterminism(t *testing.T) {
	build := func() *storage.MemRepository {
		repo := storage.NewMemRepository()
		mkBinary(t, repo, "pkg: app/1.0\ninstall:\n  requirements:\n    - pkg: lib/^1.0\n    - pkg: util/~2.1\n")
		mkBinary(t, repo, "pkg: lib/1.2.0\ninstall:\n  requirements:\n    - pkg: util/>=2.0\n")
		mkBinary(t, repo, "pkg: lib/1.1.0\n")
		mkBinary(t, repo, "pkg: util/2.1.4\n")
		mkBinary(t, repo, "pkg: util/2.1.0\n")
		return repo
	}

	solveOnce := func() ([]string, []string) {
		runtime, err := mkSolver(t, build(), "app").Run()
		if err != nil {
			t.Fatal(err)
		}
		for !runtime.Done() {
			if _, _, err := runtime.Step(); err != nil {
				t.Fatal(err)
			}
		}
		var items []string
		for _, item := range runtime.Solution().Items() {
			items = append(items, item.Spec.Pkg.String())
		}
		var walk []string
		for _, edge := range runtime.Graph().Edges() {
			walk = append(walk, edge.Decision.String())
		}
		return items, walk
	}

	items1, walk1 := solveOnce()
	items2, walk2 := solveOnce()

	if len(items1) != len(items2) {
		t.Fatalf("solution sizes differ: %v vs %v", items1, items2)
	}
	for i := range items1 {
		if items1[i] != items2[i] {
			t.Errorf("solutions differ at %d: %s vs %s", i, items1[i], items2[i])
		}
	}
	if len(walk1) != len(walk2) {
		t.Fatalf("graph walks differ in length: %d vs %d", len(walk1), len(walk2))
	}
	for i := range walk1 {
		if walk1[i] != walk2[i] {
			t.Errorf("graph walks differ at %d:\n%s\n%s", i, walk1[i], walk2[i])
		}
	}
}

func TestSolveMultipleRepositoriesFirstWins(t *testing.T) {
	first := storage.NewMemRepository()
	second := storage.NewMemRepository()
	mkBinary(t, first, "pkg: lib/1.0.0\n")
	mkBinary(t, second, "pkg: lib/1.0.0\n")
	mkBinary(t, second, "pkg: lib/1.1.0\n")

	solver := New(nil)
	solver.AddRepository(first)
	solver.AddRepository(second)
	solver.AddRequest(api.NewPkgRequest(api.MustParseIdentRange("lib")))

	solution, err := solver.Solve()
	if err != nil {
		t.Fatal(err)
	}
	assertResolved(t, solution, "lib/1.1.0")

	lib, _ := solution.Get("lib")
	source := lib.Source.(*RepositorySource)
	if source.Repo.Address() != second.Address() {
		t.Errorf("lib/1.1.0 exists only in the second repo, got %s", source.Repo.Address())
	}

	// at the shared version the first-registered repo must win
	solver = New(nil)
	solver.AddRepository(first)
	solver.AddRepository(second)
	solver.AddRequest(api.NewPkgRequest(api.MustParseIdentRange("lib/=1.0.0")))
	solution, err = solver.Solve()
	if err != nil {
		t.Fatal(err)
	}
	lib, _ = solution.Get("lib")
	source = lib.Source.(*RepositorySource)
	if source.Repo.Address() != first.Address() {
		t.Errorf("expected the first-registered repo to win, got %s", source.Repo.Address())
	}
}

func TestSourceBuildCannotDependOnItself(t *testing.T) {
	repo := storage.NewMemRepository()
	mkSource(t, repo, `
pkg: ouroboros/1.0.0
sources:
  - path: .
build:
  options:
    - pkg: ouroboros/1.0
`)

	_, err := mkSolver(t, repo, "ouroboros").Solve()
	if _, ok := err.(*SolverFailedError); !ok {
		t.Fatalf("expected the cyclic build environment to fail the solve, got %v", err)
	}
}

func TestCurrentSolutionDuringSolve(t *testing.T) {
	repo := storage.NewMemRepository()
	mkBinary(t, repo, "pkg: app/1.0\ninstall:\n  requirements:\n    - pkg: lib/^1.0\n")
	mkBinary(t, repo, "pkg: lib/1.2.0\n")

	runtime, err := mkSolver(t, repo, "app").Run()
	if err != nil {
		t.Fatal(err)
	}
	// one step resolves app; stopping here simulates cancellation
	if _, _, err := runtime.Step(); err != nil {
		t.Fatal(err)
	}
	partial := runtime.CurrentSolution()
	if partial.Len() != 1 {
		t.Fatalf("expected one package resolved after one step, got %d", partial.Len())
	}
	if _, ok := partial.Get("app"); !ok {
		t.Error("the partial solution should hold the resolved app")
	}
}
