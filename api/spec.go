package api

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// TestStage names the point in the packaging process that a test
// runs against.
type TestStage int

const (
	// TestStageSources tests the collected source files.
	TestStageSources TestStage = iota
	// TestStageBuild tests the package build environment.
	TestStageBuild
	// TestStageInstall tests the installed package.
	TestStageInstall
)

var testStageNames = map[TestStage]string{
	TestStageSources: "sources",
	TestStageBuild:   "build",
	TestStageInstall: "install",
}

func (s TestStage) String() string { return testStageNames[s] }

// ParseTestStage reads a test stage by name.
func ParseTestStage(source string) (TestStage, error) {
	for stage, name := range testStageNames {
		if name == source {
			return stage, nil
		}
	}
	return 0, errors.Errorf(
		"unknown test stage %q: must be one of [sources, build, install]", source)
}

// BuildSpec describes how a package is built and the options that
// parameterize the build.
type BuildSpec struct {
	Script   []string
	Options  []BuildOption
	Variants []*OptionMap
}

// GetOption returns the named build option, if declared.
func (b *BuildSpec) GetOption(name string) (BuildOption, bool) {
	for _, opt := range b.Options {
		if opt.OptionName() == name {
			return opt, true
		}
	}
	return nil, false
}

// InstallSpec carries the requirements and embedded packages that a
// package imposes on any environment it is installed into.
type InstallSpec struct {
	Requirements []Request
	Embedded     []*Spec
}

// PkgRequirements returns only the package requests of this install
// spec.
func (i *InstallSpec) PkgRequirements() []*PkgRequest {
	var out []*PkgRequest
	for _, r := range i.Requirements {
		if pr, ok := r.(*PkgRequest); ok {
			out = append(out, pr)
		}
	}
	return out
}

// TestSpec defines a test script run against one stage of the
// packaging process.
type TestSpec struct {
	Stage        TestStage
	Script       []string
	Selectors    []*OptionMap
	Requirements []Request
}

// Spec is a complete package specification.
type Spec struct {
	Pkg        Ident
	Compat     Compat
	Deprecated bool
	Sources    []SourceSpec
	Build      BuildSpec
	Tests      []TestSpec
	Install    InstallSpec
}

// SpecFromYAML reads and validates a package spec document.
func SpecFromYAML(data []byte) (*Spec, error) {
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, err
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// MustSpecFromYAML is SpecFromYAML for statically-known documents,
// panicking on error.
func MustSpecFromYAML(data string) *Spec {
	spec, err := SpecFromYAML([]byte(data))
	if err != nil {
		panic(err)
	}
	return spec
}

// ReadSpecFile reads and validates a package spec from a file.
func ReadSpecFile(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read spec file %s", path)
	}
	spec, err := SpecFromYAML(data)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid spec file %s", path)
	}
	return spec, nil
}

// ToYAML renders this spec as a YAML document.
func (s *Spec) ToYAML() ([]byte, error) {
	return yaml.Marshal(s)
}

// Validate checks the structural invariants of this spec.
func (s *Spec) Validate() error {
	if err := ValidateName(s.Pkg.Name); err != nil {
		return errors.Wrap(err, "invalid package name")
	}

	seen := map[string]struct{}{}
	for _, opt := range s.Build.Options {
		name := opt.OptionName()
		if _, dup := seen[name]; dup {
			return errors.Errorf(
				"build option %q defined more than once in %s", name, s.Pkg.Name)
		}
		seen[name] = struct{}{}
	}

	for _, req := range s.Install.PkgRequirements() {
		if req.Pkg.Name == s.Pkg.Name {
			return errors.Errorf(
				"install requirement %q cannot reference the package itself", req.Pkg.Name)
		}
	}

	for _, embedded := range s.Install.Embedded {
		if err := embedded.Validate(); err != nil {
			return errors.Wrapf(err, "embedded package of %s", s.Pkg.Name)
		}
	}
	return nil
}

// ResolveAllOptions computes the value of every declared build
// option given the provided inputs. Each value is chosen from, in
// order: a static published value, the provided input (global or
// namespaced to this package), then the option default.
func (s *Spec) ResolveAllOptions(given *OptionMap) *OptionMap {
	visible := given.PackageOptions(s.Pkg.Name)
	resolved := NewOptionMap()
	for _, opt := range s.Build.Options {
		name := opt.OptionName()
		resolved.Set(name, opt.Value(visible.GetOr(name, "")))
	}
	return resolved
}

// ValidateOptions checks every provided option value relevant to
// this package against the declared choices and static values.
func (s *Spec) ValidateOptions(given *OptionMap) Compatibility {
	visible := given.PackageOptions(s.Pkg.Name)
	for _, opt := range s.Build.Options {
		value, ok := visible.Get(opt.OptionName())
		if !ok {
			continue
		}
		if c := opt.Validate(value); !c.IsCompatible() {
			return c
		}
	}
	return Compatible
}

// SatisfiesVarRequest reports whether this package can provide the
// requested variable value. The request must be namespaced to this
// package.
func (s *Spec) SatisfiesVarRequest(req VarRequest) Compatibility {
	if req.Namespace() != s.Pkg.Name {
		return Incompatiblef(
			"var request %s is not for package %s", req.Var, s.Pkg.Name)
	}
	opt, ok := s.Build.GetOption(req.BaseName())
	if !ok {
		return Incompatiblef(
			"package %s does not define option %s", s.Pkg.Name, req.BaseName())
	}
	if c := opt.Validate(req.Value); !c.IsCompatible() {
		return c
	}
	if current := opt.Value(""); current != "" && current != req.Value && isStatic(opt) {
		return Incompatiblef(
			"package %s has %s=%s, requested %s", s.Pkg.Name, req.BaseName(), current, req.Value)
	}
	return Compatible
}

func isStatic(opt BuildOption) bool {
	switch o := opt.(type) {
	case *VarOpt:
		return o.Static != ""
	case *PkgOpt:
		return o.Static != ""
	}
	return false
}

// Clone returns a deep copy of this spec's identity while sharing
// the immutable remainder. Specs are immutable once loaded, so
// consumers share the pointer in practice.
func (s *Spec) Clone() *Spec {
	out := *s
	out.Pkg = s.Pkg.Clone()
	return &out
}

// UnmarshalYAML reads a full spec document, rejecting unknown keys.
func (s *Spec) UnmarshalYAML(node *yaml.Node) error {
	err := decodeMapping(node, "spec", map[string]func(*yaml.Node) error{
		"pkg": func(v *yaml.Node) error {
			ident, err := ParseIdent(v.Value)
			if err != nil {
				return err
			}
			s.Pkg = ident
			return nil
		},
		"compat": func(v *yaml.Node) error {
			compat, err := ParseCompat(v.Value)
			if err != nil {
				return err
			}
			s.Compat = compat
			return nil
		},
		"deprecated": func(v *yaml.Node) error { return v.Decode(&s.Deprecated) },
		"sources": func(v *yaml.Node) error {
			var nodes []sourceSpecNode
			if err := v.Decode(&nodes); err != nil {
				return err
			}
			for _, n := range nodes {
				s.Sources = append(s.Sources, n.SourceSpec)
			}
			return nil
		},
		"build":   func(v *yaml.Node) error { return v.Decode(&s.Build) },
		"tests":   func(v *yaml.Node) error { return v.Decode(&s.Tests) },
		"install": func(v *yaml.Node) error { return v.Decode(&s.Install) },
	})
	if err != nil {
		return err
	}

	for _, embedded := range s.Install.Embedded {
		if embedded.Pkg.Build == nil {
			b := MustParseBuild(EmbeddedBuild)
			embedded.Pkg.Build = &b
		}
	}
	return nil
}

// MarshalYAML renders the spec with its canonical key order.
func (s *Spec) MarshalYAML() (interface{}, error) {
	doc := &yaml.Node{Kind: yaml.MappingNode}
	addStr(doc, "pkg", s.Pkg.String())
	if !s.Compat.IsZero() {
		addStr(doc, "compat", s.Compat.String())
	}
	if s.Deprecated {
		addAny(doc, "deprecated", true)
	}
	if len(s.Sources) > 0 {
		addAny(doc, "sources", s.Sources)
	}
	if len(s.Build.Script) > 0 || len(s.Build.Options) > 0 || len(s.Build.Variants) > 0 {
		addAny(doc, "build", &s.Build)
	}
	if len(s.Tests) > 0 {
		addAny(doc, "tests", s.Tests)
	}
	if len(s.Install.Requirements) > 0 || len(s.Install.Embedded) > 0 {
		addAny(doc, "install", &s.Install)
	}
	return doc, nil
}

func addStr(m *yaml.Node, key, value string) {
	m.Content = append(m.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value},
	)
}

func addAny(m *yaml.Node, key string, value interface{}) {
	var v yaml.Node
	raw, err := yaml.Marshal(value)
	if err == nil {
		err = yaml.Unmarshal(raw, &v)
	}
	if err != nil {
		v = yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
	}
	content := &v
	if v.Kind == yaml.DocumentNode && len(v.Content) == 1 {
		content = v.Content[0]
	}
	m.Content = append(m.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		content,
	)
}

func (b *BuildSpec) UnmarshalYAML(node *yaml.Node) error {
	return decodeMapping(node, "build", map[string]func(*yaml.Node) error{
		"script": func(v *yaml.Node) error { return decodeScript(v, &b.Script) },
		"options": func(v *yaml.Node) error {
			var nodes []buildOptionNode
			if err := v.Decode(&nodes); err != nil {
				return err
			}
			for _, n := range nodes {
				b.Options = append(b.Options, n.BuildOption)
			}
			return nil
		},
		"variants": func(v *yaml.Node) error { return v.Decode(&b.Variants) },
	})
}

func (b *BuildSpec) MarshalYAML() (interface{}, error) {
	m := &yaml.Node{Kind: yaml.MappingNode}
	if len(b.Script) > 0 {
		addAny(m, "script", b.Script)
	}
	if len(b.Options) > 0 {
		opts := make([]interface{}, len(b.Options))
		for i, o := range b.Options {
			opts[i] = marshalOption(o)
		}
		addAny(m, "options", opts)
	}
	if len(b.Variants) > 0 {
		addAny(m, "variants", b.Variants)
	}
	return m, nil
}

func (i *InstallSpec) UnmarshalYAML(node *yaml.Node) error {
	return decodeMapping(node, "install", map[string]func(*yaml.Node) error{
		"requirements": func(v *yaml.Node) error {
			var nodes []requestNode
			if err := v.Decode(&nodes); err != nil {
				return err
			}
			for _, n := range nodes {
				i.Requirements = append(i.Requirements, n.Request)
			}
			return nil
		},
		"embedded": func(v *yaml.Node) error { return v.Decode(&i.Embedded) },
	})
}

func (i *InstallSpec) MarshalYAML() (interface{}, error) {
	m := &yaml.Node{Kind: yaml.MappingNode}
	if len(i.Requirements) > 0 {
		reqs := make([]interface{}, len(i.Requirements))
		for n, r := range i.Requirements {
			reqs[n] = marshalRequest(r)
		}
		addAny(m, "requirements", reqs)
	}
	if len(i.Embedded) > 0 {
		addAny(m, "embedded", i.Embedded)
	}
	return m, nil
}

func (t *TestSpec) UnmarshalYAML(node *yaml.Node) error {
	return decodeMapping(node, "test", map[string]func(*yaml.Node) error{
		"stage": func(v *yaml.Node) error {
			stage, err := ParseTestStage(v.Value)
			if err != nil {
				return err
			}
			t.Stage = stage
			return nil
		},
		"script":    func(v *yaml.Node) error { return decodeScript(v, &t.Script) },
		"selectors": func(v *yaml.Node) error { return v.Decode(&t.Selectors) },
		"requirements": func(v *yaml.Node) error {
			var nodes []requestNode
			if err := v.Decode(&nodes); err != nil {
				return err
			}
			for _, n := range nodes {
				t.Requirements = append(t.Requirements, n.Request)
			}
			return nil
		},
	})
}

func (t TestSpec) MarshalYAML() (interface{}, error) {
	m := &yaml.Node{Kind: yaml.MappingNode}
	addStr(m, "stage", t.Stage.String())
	if len(t.Script) > 0 {
		addAny(m, "script", t.Script)
	}
	if len(t.Selectors) > 0 {
		addAny(m, "selectors", t.Selectors)
	}
	if len(t.Requirements) > 0 {
		reqs := make([]interface{}, len(t.Requirements))
		for n, r := range t.Requirements {
			reqs[n] = marshalRequest(r)
		}
		addAny(m, "requirements", reqs)
	}
	return m, nil
}

// buildOptionNode wraps the BuildOption union for YAML decoding; the
// variant is picked by the var/pkg discriminator key.
type buildOptionNode struct {
	BuildOption
}

func (n *buildOptionNode) UnmarshalYAML(node *yaml.Node) error {
	keys := mappingKeys(node)
	switch {
	case keys["var"]:
		var o VarOpt
		err := decodeMapping(node, "option", map[string]func(*yaml.Node) error{
			"var": func(v *yaml.Node) error {
				name, def, found := strings.Cut(v.Value, "/")
				if err := ValidateName(name); err != nil {
					return err
				}
				o.Var = name
				if found {
					o.Default = def
				}
				return nil
			},
			"default": func(v *yaml.Node) error { return decodeScalar(v, &o.Default) },
			"choices": func(v *yaml.Node) error { return decodeStringList(v, &o.Choices) },
			"inheritance": func(v *yaml.Node) error {
				inheritance, err := ParseInheritance(v.Value)
				if err != nil {
					return err
				}
				o.Inheritance = inheritance
				return nil
			},
			"static": func(v *yaml.Node) error { return decodeScalar(v, &o.Static) },
		})
		if err != nil {
			return err
		}
		n.BuildOption = &o
	case keys["pkg"]:
		var o PkgOpt
		err := decodeMapping(node, "option", map[string]func(*yaml.Node) error{
			"pkg": func(v *yaml.Node) error {
				name, def, found := strings.Cut(v.Value, "/")
				if err := ValidateName(name); err != nil {
					return err
				}
				o.Pkg = name
				if found {
					o.Default = def
				}
				return nil
			},
			"default": func(v *yaml.Node) error { return decodeScalar(v, &o.Default) },
			"prereleasePolicy": func(v *yaml.Node) error {
				policy, err := ParsePreReleasePolicy(v.Value)
				if err != nil {
					return err
				}
				o.PrereleasePolicy = policy
				return nil
			},
			"static": func(v *yaml.Node) error { return decodeScalar(v, &o.Static) },
		})
		if err != nil {
			return err
		}
		n.BuildOption = &o
	default:
		return errors.New("cannot determine option type, expected a var or pkg key")
	}
	return nil
}

func marshalOption(opt BuildOption) interface{} {
	m := &yaml.Node{Kind: yaml.MappingNode}
	switch o := opt.(type) {
	case *VarOpt:
		addStr(m, "var", o.Var)
		if o.Default != "" {
			addStr(m, "default", o.Default)
		}
		if len(o.Choices) > 0 {
			addAny(m, "choices", o.Choices)
		}
		if o.Inheritance != InheritanceWeak {
			addStr(m, "inheritance", o.Inheritance.String())
		}
		if o.Static != "" {
			addStr(m, "static", o.Static)
		}
	case *PkgOpt:
		addStr(m, "pkg", o.Pkg)
		if o.Default != "" {
			addStr(m, "default", o.Default)
		}
		if o.PrereleasePolicy != PreReleasePolicyExcludeAll {
			addStr(m, "prereleasePolicy", o.PrereleasePolicy.String())
		}
		if o.Static != "" {
			addStr(m, "static", o.Static)
		}
	}
	return m
}

// requestNode wraps the Request union for YAML decoding; the variant
// is picked by the var/pkg discriminator key.
type requestNode struct {
	Request
}

func (n *requestNode) UnmarshalYAML(node *yaml.Node) error {
	keys := mappingKeys(node)
	switch {
	case keys["pkg"]:
		var r PkgRequest
		err := decodeMapping(node, "request", map[string]func(*yaml.Node) error{
			"pkg": func(v *yaml.Node) error {
				ri, err := ParseIdentRange(v.Value)
				if err != nil {
					return err
				}
				r.Pkg = ri
				return nil
			},
			"prereleasePolicy": func(v *yaml.Node) error {
				policy, err := ParsePreReleasePolicy(v.Value)
				if err != nil {
					return err
				}
				r.PrereleasePolicy = policy
				return nil
			},
			"include": func(v *yaml.Node) error {
				policy, err := ParseInclusionPolicy(v.Value)
				if err != nil {
					return err
				}
				r.InclusionPolicy = policy
				return nil
			},
			"fromBuildEnv": func(v *yaml.Node) error { return v.Decode(&r.Pin) },
		})
		if err != nil {
			return err
		}
		if r.Pin != "" && !r.Pkg.Version.IsEmpty() {
			return errors.New(
				"package request cannot include both a version number and fromBuildEnv")
		}
		n.Request = &r
	case keys["var"]:
		var r VarRequest
		err := decodeMapping(node, "request", map[string]func(*yaml.Node) error{
			"var": func(v *yaml.Node) error {
				name, value, found := strings.Cut(v.Value, "/")
				r.Var = name
				if found {
					r.Value = value
				}
				return nil
			},
			"value":        func(v *yaml.Node) error { return decodeScalar(v, &r.Value) },
			"fromBuildEnv": func(v *yaml.Node) error { return v.Decode(&r.FromBuildEnv) },
		})
		if err != nil {
			return err
		}
		n.Request = r
	default:
		return errors.New("cannot determine request type, expected a var or pkg key")
	}
	return nil
}

func marshalRequest(req Request) interface{} {
	m := &yaml.Node{Kind: yaml.MappingNode}
	switch r := req.(type) {
	case *PkgRequest:
		addStr(m, "pkg", r.Pkg.String())
		if r.PrereleasePolicy != PreReleasePolicyExcludeAll {
			addStr(m, "prereleasePolicy", r.PrereleasePolicy.String())
		}
		if r.InclusionPolicy != InclusionPolicyAlways {
			addStr(m, "include", r.InclusionPolicy.String())
		}
		if r.Pin != "" {
			addStr(m, "fromBuildEnv", r.Pin)
		}
	case VarRequest:
		addStr(m, "var", r.Var+"/"+r.Value)
		if r.FromBuildEnv {
			addAny(m, "fromBuildEnv", true)
		}
	}
	return m
}
