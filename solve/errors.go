package solve

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/maximd/spk/api"
)

// ConflictingRequestsError indicates that two requests for the same
// package cannot be merged into one satisfiable request.
type ConflictingRequestsError struct {
	Message  string
	Requests []*api.PkgRequest
}

func (e *ConflictingRequestsError) Error() string {
	parts := make([]string, len(e.Requests))
	for i, r := range e.Requests {
		parts[i] = r.Pkg.String()
	}
	return fmt.Sprintf(
		"conflicting requests: %s [%s]", e.Message, strings.Join(parts, ", "))
}

// PackageNotFoundError indicates that no build or source candidate
// exists for a requested package in any registered repository. It
// surfaces immediately, without backtracking, since it almost always
// means a typo or a missing repository.
type PackageNotFoundError struct {
	Request *api.PkgRequest
}

func (e *PackageNotFoundError) Error() string {
	return fmt.Sprintf(
		"package not found: %s (no repository has any build or source for it)",
		e.Request.Pkg.String())
}

// SolverFailedError indicates that the search space was exhausted
// without finding a solution. It carries the full decision graph for
// diagnostics.
type SolverFailedError struct {
	Graph *Graph
}

func (e *SolverFailedError) Error() string {
	chain := e.Graph.ErrorChain()
	if len(chain) == 0 {
		return "failed to resolve: no solution for the given requests"
	}

	var buf bytes.Buffer
	buf.WriteString("failed to resolve, most recent failures:")
	for _, cause := range chain {
		fmt.Fprintf(&buf, "\n\t%s", cause)
	}
	return buf.String()
}
