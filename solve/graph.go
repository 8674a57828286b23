package solve

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/maximd/spk/api"
)

// State is an immutable snapshot of solver progress: the unresolved
// package requests in insertion order, the accumulated variable
// requests, the bound options and the resolved packages. New states
// are derived only by applying a Decision to a parent.
type State struct {
	pkgRequests []*api.PkgRequest
	varRequests []api.VarRequest
	options     *api.OptionMap
	packages    []SolvedRequest

	id string
}

// DefaultState is the root of every solve: no requests, no options,
// nothing resolved.
func DefaultState() *State {
	s := &State{options: api.NewOptionMap()}
	s.id = s.fingerprint()
	return s
}

// ID returns the stable fingerprint of this state's contents.
func (s *State) ID() string { return s.id }

// PkgRequests returns the unresolved package requests in insertion
// order.
func (s *State) PkgRequests() []*api.PkgRequest {
	return append([]*api.PkgRequest(nil), s.pkgRequests...)
}

// VarRequests returns the accumulated variable requests.
func (s *State) VarRequests() []api.VarRequest {
	return append([]api.VarRequest(nil), s.varRequests...)
}

// Options returns the options bound in this state.
func (s *State) Options() *api.OptionMap { return s.options.Clone() }

// Packages returns the resolved packages in resolution order.
func (s *State) Packages() []SolvedRequest {
	return append([]SolvedRequest(nil), s.packages...)
}

// GetPkgRequest returns the merged unresolved request for the named
// package, if any.
func (s *State) GetPkgRequest(name string) (*api.PkgRequest, bool) {
	for _, r := range s.pkgRequests {
		if r.Pkg.Name == name {
			return r, true
		}
	}
	return nil, false
}

// GetResolved returns the resolved package of the given name, if
// any.
func (s *State) GetResolved(name string) (SolvedRequest, bool) {
	for _, p := range s.packages {
		if p.Spec.Pkg.Name == name {
			return p, true
		}
	}
	return SolvedRequest{}, false
}

// NextRequest returns the first unresolved request that must be
// resolved, honoring insertion order. Requests included only
// IfAlreadyPresent never drive resolution themselves.
func (s *State) NextRequest() (*api.PkgRequest, bool) {
	for _, r := range s.pkgRequests {
		if r.InclusionPolicy == api.InclusionPolicyAlways {
			return r, true
		}
	}
	return nil, false
}

// GetVarValue returns the bound or requested value for the named
// variable, checking bound options first.
func (s *State) GetVarValue(name string) (string, bool) {
	if v, ok := s.options.Get(name); ok {
		return v, true
	}
	for _, vr := range s.varRequests {
		if vr.Var == name {
			return vr.Value, true
		}
	}
	return "", false
}

func (s *State) fingerprint() string {
	h := sha256.New()

	reqs := make([]string, len(s.pkgRequests))
	for i, r := range s.pkgRequests {
		reqs[i] = fmt.Sprintf("%s@%s@%s", r.Pkg.String(), r.PrereleasePolicy, r.InclusionPolicy)
	}
	sort.Strings(reqs)
	for _, r := range reqs {
		fmt.Fprintf(h, "req:%s\n", r)
	}

	vars := make([]string, len(s.varRequests))
	for i, v := range s.varRequests {
		vars[i] = v.Var + "=" + v.Value
	}
	sort.Strings(vars)
	for _, v := range vars {
		fmt.Fprintf(h, "var:%s\n", v)
	}

	for _, k := range s.options.SortedKeys() {
		v, _ := s.options.Get(k)
		fmt.Fprintf(h, "opt:%s=%s\n", k, v)
	}

	for _, p := range s.packages {
		fmt.Fprintf(h, "pkg:%s\n", p.Spec.Pkg.String())
	}

	return hex.EncodeToString(h.Sum(nil))
}

// stateBuilder is the mutable working copy used while a decision's
// changes are applied in sequence.
type stateBuilder struct {
	state State
}

func builderFrom(base *State) *stateBuilder {
	return &stateBuilder{state: State{
		pkgRequests: append([]*api.PkgRequest(nil), base.pkgRequests...),
		varRequests: append([]api.VarRequest(nil), base.varRequests...),
		options:     base.options.Clone(),
		packages:    append([]SolvedRequest(nil), base.packages...),
	}}
}

func (b *stateBuilder) freeze() *State {
	out := b.state
	out.id = out.fingerprint()
	return &out
}

// Change is a single delta applied between two states.
type Change interface {
	fmt.Stringer
	apply(b *stateBuilder) error
}

// RequestPackage adds a package request to the state, merging with
// any existing request for the same package.
type RequestPackage struct {
	Request *api.PkgRequest
}

func (c RequestPackage) String() string { return "REQUEST " + c.Request.Pkg.String() }

func (c RequestPackage) apply(b *stateBuilder) error {
	name := c.Request.Pkg.Name

	if resolved, ok := findResolved(b.state.packages, name); ok {
		if compat := c.Request.IsSatisfiedBy(resolved.Spec); !compat.IsCompatible() {
			return errors.Errorf(
				"new request for %s is not satisfied by the resolved package: %s", name, compat)
		}
		return nil
	}

	for i, existing := range b.state.pkgRequests {
		if existing.Pkg.Name != name {
			continue
		}
		merged := existing.Clone()
		if err := merged.Restrict(c.Request); err != nil {
			return &ConflictingRequestsError{
				Message:  err.Error(),
				Requests: []*api.PkgRequest{existing, c.Request},
			}
		}
		b.state.pkgRequests[i] = merged
		return nil
	}

	b.state.pkgRequests = append(b.state.pkgRequests, c.Request.Clone())
	return nil
}

// RequestVar adds a variable request to the state. Conflicting
// bindings for the same variable abort the decision.
type RequestVar struct {
	Request api.VarRequest
}

func (c RequestVar) String() string { return "REQUEST " + c.Request.String() }

func (c RequestVar) apply(b *stateBuilder) error {
	for _, existing := range b.state.varRequests {
		if existing.Var != c.Request.Var {
			continue
		}
		if existing.Value != c.Request.Value {
			return errors.Errorf(
				"conflicting requests for variable %s: %q != %q",
				c.Request.Var, existing.Value, c.Request.Value)
		}
		return nil
	}
	b.state.varRequests = append(b.state.varRequests, c.Request)
	return nil
}

// SetOptions merges new option bindings into the state.
type SetOptions struct {
	Options *api.OptionMap
}

func (c SetOptions) String() string { return "OPTIONS " + c.Options.String() }

func (c SetOptions) apply(b *stateBuilder) error {
	b.state.options.Update(c.Options)
	return nil
}

// ResolvePackage marks a requested package as resolved by the given
// spec, removing the satisfied request.
type ResolvePackage struct {
	Request *api.PkgRequest
	Spec    *api.Spec
	Source  PackageSource
}

func (c ResolvePackage) String() string { return "RESOLVE " + c.Spec.Pkg.String() }

func (c ResolvePackage) apply(b *stateBuilder) error {
	name := c.Spec.Pkg.Name
	found := false
	for i, r := range b.state.pkgRequests {
		if r.Pkg.Name == name {
			b.state.pkgRequests = append(
				b.state.pkgRequests[:i], b.state.pkgRequests[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		return errors.Errorf("cannot resolve unrequested package %s", c.Spec.Pkg.String())
	}
	if _, already := findResolved(b.state.packages, name); already {
		return errors.Errorf("package %s is already resolved", name)
	}
	b.state.packages = append(b.state.packages, SolvedRequest{
		Request: c.Request,
		Spec:    c.Spec,
		Source:  c.Source,
	})
	return nil
}

// StepBack records the reason a search branch was abandoned. It is a
// sentinel for the graph only and does not modify state.
type StepBack struct {
	Cause string
}

func (c StepBack) String() string { return "BLOCKED " + c.Cause }

func (c StepBack) apply(b *stateBuilder) error { return nil }

func findResolved(packages []SolvedRequest, name string) (SolvedRequest, bool) {
	for _, p := range packages {
		if p.Spec.Pkg.Name == name {
			return p, true
		}
	}
	return SolvedRequest{}, false
}

// Note is a human-readable annotation attached to a decision,
// explaining choices and rejections for later inspection.
type Note interface {
	fmt.Stringer
	note()
}

// SkipPackageNote records why one candidate build was rejected.
type SkipPackageNote struct {
	Pkg    api.Ident
	Reason api.Compatibility
}

func (n SkipPackageNote) note() {}

func (n SkipPackageNote) String() string {
	return fmt.Sprintf("TRY %s - %s", n.Pkg.String(), n.Reason)
}

// ManySkippedNote records that additional rejections were dropped to
// bound the size of the graph.
type ManySkippedNote struct {
	Count int
}

func (n ManySkippedNote) note() {}

func (n ManySkippedNote) String() string {
	return fmt.Sprintf("... and %d more rejected candidates", n.Count)
}

// Decision is an ordered list of changes applied atomically between
// two states, plus any notes gathered while making the choice.
type Decision struct {
	Changes []Change
	Notes   []Note
}

// Apply derives a new state by applying each change in sequence. It
// is pure: the result depends only on the base state and the
// decision itself.
func (d *Decision) Apply(base *State) (*State, error) {
	b := builderFrom(base)
	for _, change := range d.Changes {
		if err := change.apply(b); err != nil {
			return nil, err
		}
	}
	return b.freeze(), nil
}

// IsStepBack reports whether this decision abandons a branch rather
// than extending one.
func (d *Decision) IsStepBack() bool {
	for _, c := range d.Changes {
		if _, ok := c.(StepBack); ok {
			return true
		}
	}
	return false
}

func (d *Decision) String() string {
	parts := make([]string, len(d.Changes))
	for i, c := range d.Changes {
		parts[i] = c.String()
	}
	return strings.Join(parts, "; ")
}

// Node is one visited state in the decision graph, addressed by an
// integer handle.
type Node struct {
	handle int
	state  *State
}

// Handle returns the node's arena index.
func (n *Node) Handle() int { return n.handle }

// State returns the state snapshot this node holds.
func (n *Node) State() *State { return n.state }

// Edge connects two nodes through the decision that was applied
// between them.
type Edge struct {
	From, To int
	Decision *Decision
}

// Graph is the arena of all states visited during a solve. It grows
// monotonically and is retained for post-mortem inspection.
type Graph struct {
	nodes []*Node
	byID  map[string]int
	edges []Edge
}

// NewGraph creates a graph holding only the root (default) state.
func NewGraph() *Graph {
	g := &Graph{byID: map[string]int{}}
	g.AddState(DefaultState())
	return g
}

// Root returns the root node.
func (g *Graph) Root() *Node { return g.nodes[0] }

// Node returns the node at the given handle.
func (g *Graph) Node(handle int) *Node { return g.nodes[handle] }

// Len returns the number of distinct states visited.
func (g *Graph) Len() int { return len(g.nodes) }

// AddState records a state, returning the existing node when the
// same state was already visited.
func (g *Graph) AddState(state *State) *Node {
	if handle, ok := g.byID[state.ID()]; ok {
		return g.nodes[handle]
	}
	node := &Node{handle: len(g.nodes), state: state}
	g.nodes = append(g.nodes, node)
	g.byID[state.ID()] = node.handle
	return node
}

// AddEdge records the decision connecting two visited states.
func (g *Graph) AddEdge(from, to *Node, decision *Decision) {
	g.edges = append(g.edges, Edge{From: from.handle, To: to.handle, Decision: decision})
}

// Edges returns all recorded decisions in the order they were made.
func (g *Graph) Edges() []Edge {
	return append([]Edge(nil), g.edges...)
}

// ErrorChain compiles the trailing run of abandoned branches: the
// last backtrack reasons seen before the search ended, from the most
// recent to its initial cause.
func (g *Graph) ErrorChain() []string {
	var chain []string
	for i := len(g.edges) - 1; i >= 0; i-- {
		d := g.edges[i].Decision
		if !d.IsStepBack() {
			break
		}
		for _, c := range d.Changes {
			if sb, ok := c.(StepBack); ok {
				chain = append(chain, sb.Cause)
			}
		}
	}
	return chain
}
