// Package selection turns an analysis into the set of functions to instrument.
package selection

import (
	"context"
	"errors"
	"sort"

	"github.com/autotrace-dev/autotrace/internal/analyzer"
	"github.com/autotrace-dev/autotrace/internal/graph"
)

// ErrCancelled is returned when the user aborts a selection or confirmation.
var ErrCancelled = errors.New("selection cancelled")

// Set is a set of node ids.
type Set map[string]struct{}

// NewSet builds a set from ids.
func NewSet(ids ...string) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s Set) Has(id string) bool {
	_, ok := s[id]
	return ok
}

func (s Set) Add(id string) {
	s[id] = struct{}{}
}

// IDs returns the ids sorted.
func (s Set) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Resolver produces the binding selection for an analysis. Implementations may
// return any subset of the graph's nodes, including none.
type Resolver interface {
	Resolve(ctx context.Context, a *analyzer.Analysis) (Set, error)
}

// NonInteractive accepts the analyzer's recommendation as is.
type NonInteractive struct{}

func (NonInteractive) Resolve(ctx context.Context, a *analyzer.Analysis) (Set, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return NewSet(a.Recommended...), nil
}

// Restrict drops ids that are not nodes of g, so a collaborator can never
// smuggle in functions the builder did not discover.
func Restrict(g *graph.CallGraph, s Set) Set {
	out := make(Set, len(s))
	for id := range s {
		if g.Node(id) != nil {
			out.Add(id)
		}
	}
	return out
}

// Mark records the final selection on the graph's nodes.
func Mark(g *graph.CallGraph, s Set) {
	for id, n := range g.Nodes {
		n.Selected = s.Has(id)
	}
}
