package api

import (
	"strings"
	"testing"
)

const pythonSpec = `
pkg: python/3.7.3
compat: x.a.b
sources:
  - git: https://github.com/python/cpython
    ref: v3.7.3
build:
  script: ./configure && make install
  options:
    - var: abi
      default: cp37
      choices: [cp37, cp37m]
      inheritance: Strong
    - pkg: gcc/9.3
  variants:
    - {abi: cp37}
    - {abi: cp37m}
install:
  requirements:
    - pkg: stdfs/1.0
tests:
  - stage: install
    script: python -c "import sys"
`

func TestSpecFromYAML(t *testing.T) {
	spec, err := SpecFromYAML([]byte(pythonSpec))
	if err != nil {
		t.Fatal(err)
	}
	if spec.Pkg.String() != "python/3.7.3" {
		t.Errorf("unexpected pkg %s", spec.Pkg.String())
	}
	if spec.Compat.String() != "x.a.b" {
		t.Errorf("unexpected compat %s", spec.Compat.String())
	}
	if len(spec.Sources) != 1 {
		t.Fatalf("expected one source, got %d", len(spec.Sources))
	}
	git, ok := spec.Sources[0].(*GitSource)
	if !ok || git.Ref != "v3.7.3" {
		t.Errorf("unexpected source %#v", spec.Sources[0])
	}
	if len(spec.Build.Options) != 2 {
		t.Fatalf("expected two options, got %d", len(spec.Build.Options))
	}
	abi, ok := spec.Build.Options[0].(*VarOpt)
	if !ok || abi.Default != "cp37" || abi.Inheritance != InheritanceStrong {
		t.Errorf("unexpected var option %#v", spec.Build.Options[0])
	}
	gcc, ok := spec.Build.Options[1].(*PkgOpt)
	if !ok || gcc.Pkg != "gcc" || gcc.Default != "9.3" {
		t.Errorf("unexpected pkg option %#v", spec.Build.Options[1])
	}
	if len(spec.Build.Variants) != 2 {
		t.Errorf("expected two variants, got %d", len(spec.Build.Variants))
	}
	reqs := spec.Install.PkgRequirements()
	if len(reqs) != 1 || reqs[0].Pkg.Name != "stdfs" {
		t.Errorf("unexpected install requirements %v", reqs)
	}
	if len(spec.Tests) != 1 || spec.Tests[0].Stage != TestStageInstall {
		t.Errorf("unexpected tests %v", spec.Tests)
	}
}

func TestSpecRoundTrip(t *testing.T) {
	spec, err := SpecFromYAML([]byte(pythonSpec))
	if err != nil {
		t.Fatal(err)
	}
	data, err := spec.ToYAML()
	if err != nil {
		t.Fatal(err)
	}
	again, err := SpecFromYAML(data)
	if err != nil {
		t.Fatalf("re-reading rendered spec: %v\n%s", err, data)
	}
	dataAgain, err := again.ToYAML()
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != string(dataAgain) {
		t.Errorf("canonical forms differ:\n%s\n---\n%s", data, dataAgain)
	}
}

func TestSpecUnknownKeysRejected(t *testing.T) {
	cases := []string{
		"pkg: thing/1.0\nunknown: key\n",
		"pkg: thing/1.0\nbuild: {bogus: 1}\n",
		"pkg: thing/1.0\ninstall:\n  requirements:\n    - pkg: other/1.0\n      what: no\n",
		"pkg: thing/1.0\nbuild:\n  options:\n    - var: abc\n      color: red\n",
	}
	for _, in := range cases {
		if _, err := SpecFromYAML([]byte(in)); err == nil {
			t.Errorf("expected unknown key rejection for:\n%s", in)
		}
	}
}

func TestSpecValidation(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want string
	}{
		{
			"duplicate options",
			"pkg: thing/1.0\nbuild:\n  options:\n    - var: abi\n    - var: abi\n",
			"more than once",
		},
		{
			"self requirement",
			"pkg: thing/1.0\ninstall:\n  requirements:\n    - pkg: thing/1.0\n",
			"cannot reference the package itself",
		},
		{
			"unknown test stage",
			"pkg: thing/1.0\ntests:\n  - stage: deploy\n",
			"unknown test stage",
		},
		{
			"missing name",
			"compat: x.a.b\n",
			"name",
		},
	}
	for _, tc := range cases {
		_, err := SpecFromYAML([]byte(tc.doc))
		if err == nil {
			t.Errorf("%s: expected error", tc.name)
			continue
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: error %q does not mention %q", tc.name, err, tc.want)
		}
	}
}

func TestEmbeddedSpecs(t *testing.T) {
	doc := `
pkg: maya/2020.1
install:
  embedded:
    - pkg: qt/5.12.6
`
	spec, err := SpecFromYAML([]byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	if len(spec.Install.Embedded) != 1 {
		t.Fatalf("expected one embedded spec")
	}
	embedded := spec.Install.Embedded[0]
	if embedded.Pkg.Build == nil || !embedded.Pkg.Build.IsEmbedded() {
		t.Errorf("embedded spec should carry the embedded build, got %s", embedded.Pkg.String())
	}
}

func TestResolveAllOptions(t *testing.T) {
	spec := MustSpecFromYAML(pythonSpec)

	resolved := spec.ResolveAllOptions(NewOptionMap())
	if v, _ := resolved.Get("abi"); v != "cp37" {
		t.Errorf("expected default abi, got %q", v)
	}

	resolved = spec.ResolveAllOptions(OptionMapOf("abi", "cp37m"))
	if v, _ := resolved.Get("abi"); v != "cp37m" {
		t.Errorf("expected given abi to win, got %q", v)
	}

	resolved = spec.ResolveAllOptions(OptionMapOf("python.abi", "cp37m"))
	if v, _ := resolved.Get("abi"); v != "cp37m" {
		t.Errorf("expected namespaced abi to apply, got %q", v)
	}

	if c := spec.ValidateOptions(OptionMapOf("abi", "cp38")); c.IsCompatible() {
		t.Error("a value outside the declared choices must be incompatible")
	}
}

func TestStaticOptionWins(t *testing.T) {
	doc := `
pkg: thing/1.0
build:
  options:
    - var: abi
      static: cp37
`
	spec := MustSpecFromYAML(doc)
	resolved := spec.ResolveAllOptions(OptionMapOf("abi", "cp38"))
	if v, _ := resolved.Get("abi"); v != "cp37" {
		t.Errorf("static value must win, got %q", v)
	}
	if c := spec.ValidateOptions(OptionMapOf("abi", "cp38")); c.IsCompatible() {
		t.Error("a value conflicting with a static option must be incompatible")
	}
}

func TestSatisfiesVarRequest(t *testing.T) {
	spec := MustSpecFromYAML(pythonSpec)
	if c := spec.SatisfiesVarRequest(VarRequest{Var: "python.abi", Value: "cp37m"}); !c.IsCompatible() {
		t.Errorf("abi choice should be satisfiable: %s", c)
	}
	if c := spec.SatisfiesVarRequest(VarRequest{Var: "python.abi", Value: "cp99"}); c.IsCompatible() {
		t.Error("abi outside choices must be incompatible")
	}
	if c := spec.SatisfiesVarRequest(VarRequest{Var: "python.missing", Value: "x"}); c.IsCompatible() {
		t.Error("an undeclared option cannot satisfy a var request")
	}
}
