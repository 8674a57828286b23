package solve

import (
	"testing"

	"github.com/maximd/spk/api"
)

func TestDecisionApplyIsPure(t *testing.T) {
	base := DefaultState()
	baseID := base.ID()

	decision := &Decision{Changes: []Change{
		SetOptions{Options: api.OptionMapOf("debug", "on")},
		RequestPackage{Request: api.NewPkgRequest(api.MustParseIdentRange("python/3.7"))},
		RequestVar{Request: api.VarRequest{Var: "python.abi", Value: "cp37"}},
	}}

	first, err := decision.Apply(base)
	if err != nil {
		t.Fatal(err)
	}
	second, err := decision.Apply(base)
	if err != nil {
		t.Fatal(err)
	}
	if first.ID() != second.ID() {
		t.Error("applying the same decision to the same state must produce identical states")
	}
	if base.ID() != baseID || len(base.PkgRequests()) != 0 {
		t.Error("the base state must not be modified by Apply")
	}
	if first.ID() == base.ID() {
		t.Error("the derived state must differ from its parent")
	}
}

func TestRequestPackageMerges(t *testing.T) {
	base := DefaultState()
	state, err := (&Decision{Changes: []Change{
		RequestPackage{Request: api.NewPkgRequest(api.MustParseIdentRange("python/>=3.0"))},
		RequestPackage{Request: api.NewPkgRequest(api.MustParseIdentRange("python/<3.9"))},
	}}).Apply(base)
	if err != nil {
		t.Fatal(err)
	}
	reqs := state.PkgRequests()
	if len(reqs) != 1 {
		t.Fatalf("requests for one package must merge, got %d entries", len(reqs))
	}
	if got := reqs[0].Pkg.Version.String(); got != ">=3.0,<3.9" {
		t.Errorf("unexpected merged range %q", got)
	}
}

func TestRequestPackageConflictAbortsDecision(t *testing.T) {
	_, err := (&Decision{Changes: []Change{
		RequestPackage{Request: api.NewPkgRequest(api.MustParseIdentRange("python/2.7"))},
		RequestPackage{Request: api.NewPkgRequest(api.MustParseIdentRange("python/3.9"))},
	}}).Apply(DefaultState())
	if _, ok := err.(*ConflictingRequestsError); !ok {
		t.Fatalf("expected ConflictingRequestsError, got %v", err)
	}
}

func TestRequestVarConflictAbortsDecision(t *testing.T) {
	_, err := (&Decision{Changes: []Change{
		RequestVar{Request: api.VarRequest{Var: "python.abi", Value: "cp37"}},
		RequestVar{Request: api.VarRequest{Var: "python.abi", Value: "cp38"}},
	}}).Apply(DefaultState())
	if err == nil {
		t.Fatal("conflicting var bindings must abort the decision")
	}
}

func TestResolveUnrequestedPackageFails(t *testing.T) {
	spec := api.MustSpecFromYAML("pkg: python/3.7.3\n")
	_, err := (&Decision{Changes: []Change{
		ResolvePackage{
			Request: api.NewPkgRequest(api.MustParseIdentRange("python")),
			Spec:    spec,
			Source:  &EmbeddedSource{Parent: spec.Pkg},
		},
	}}).Apply(DefaultState())
	if err == nil {
		t.Fatal("resolving a package that was never requested must fail")
	}
}

func TestStepBackLeavesStateUntouched(t *testing.T) {
	base := DefaultState()
	state, err := (&Decision{Changes: []Change{StepBack{Cause: "dead end"}}}).Apply(base)
	if err != nil {
		t.Fatal(err)
	}
	if state.ID() != base.ID() {
		t.Error("StepBack must not modify state")
	}
}

func TestFingerprintIgnoresRequestPermutation(t *testing.T) {
	a, err := (&Decision{Changes: []Change{
		RequestPackage{Request: api.NewPkgRequest(api.MustParseIdentRange("python/3.7"))},
		RequestPackage{Request: api.NewPkgRequest(api.MustParseIdentRange("gcc/9.3"))},
	}}).Apply(DefaultState())
	if err != nil {
		t.Fatal(err)
	}
	b, err := (&Decision{Changes: []Change{
		RequestPackage{Request: api.NewPkgRequest(api.MustParseIdentRange("gcc/9.3"))},
		RequestPackage{Request: api.NewPkgRequest(api.MustParseIdentRange("python/3.7"))},
	}}).Apply(DefaultState())
	if err != nil {
		t.Fatal(err)
	}
	if a.ID() != b.ID() {
		t.Error("the request fingerprint is a multiset: insertion order must not matter")
	}
}

func TestGraphDedupesStates(t *testing.T) {
	g := NewGraph()
	decision := &Decision{Changes: []Change{
		RequestPackage{Request: api.NewPkgRequest(api.MustParseIdentRange("python"))},
	}}
	state, err := decision.Apply(g.Root().State())
	if err != nil {
		t.Fatal(err)
	}
	first := g.AddState(state)
	second := g.AddState(state)
	if first.Handle() != second.Handle() {
		t.Error("identical states must map to one node")
	}
	if g.Len() != 2 {
		t.Errorf("expected 2 nodes (root + one), got %d", g.Len())
	}
}
