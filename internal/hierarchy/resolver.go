// Package hierarchy computes ascendant/descendant closures over the
// inheritance DAGs used by the engine. Each graph kind is independent: the
// RBAC role graph, the admin role graph, and the two org-unit graphs never
// consult one another.
package hierarchy

import (
	"context"

	"github.com/bastion-iam/bastion/internal/shared"
)

// Kind identifies one of the independent inheritance graphs.
type Kind string

const (
	// KindRole is the RBAC role inheritance graph.
	KindRole Kind = "ROLE"
	// KindAdminRole is the administrative role inheritance graph.
	KindAdminRole Kind = "ADMIN_ROLE"
	// KindUserOU is the user org-unit graph.
	KindUserOU Kind = "USER_OU"
	// KindPermOU is the permission org-unit graph.
	KindPermOU Kind = "PERM_OU"
)

// Edge is a parent→child inheritance relationship. The parent is an
// ascendant of the child.
type Edge struct {
	Parent string
	Child  string
}

// EdgeStore persists inheritance edges per graph kind. InsertEdge and
// DeleteEdge must serialize concurrent writes touching the same edge.
type EdgeStore interface {
	ListEdges(ctx context.Context, kind Kind) ([]Edge, error)
	InsertEdge(ctx context.Context, kind Kind, edge Edge) error
	DeleteEdge(ctx context.Context, kind Kind, edge Edge) error
}

// Resolver answers closure queries for a single graph kind. It holds no
// cached state; every query reads the current edge set so removals take
// effect immediately.
type Resolver struct {
	kind  Kind
	store EdgeStore
}

// NewResolver constructs a resolver bound to one graph kind.
func NewResolver(kind Kind, store EdgeStore) *Resolver {
	return &Resolver{kind: kind, store: store}
}

// Kind returns the graph kind this resolver operates on.
func (r *Resolver) Kind() Kind {
	return r.kind
}

// Ascendants returns every direct and transitive parent of name. The result
// never contains name itself.
func (r *Resolver) Ascendants(ctx context.Context, name string) (map[string]struct{}, error) {
	edges, err := r.store.ListEdges(ctx, r.kind)
	if err != nil {
		return nil, shared.Wrap(shared.KindStoreUnavailable, err, "hierarchy: list %s edges", r.kind)
	}
	return closure(edges, shared.NormalizeName(name), upward), nil
}

// Descendants returns every direct and transitive child of name. The result
// never contains name itself.
func (r *Resolver) Descendants(ctx context.Context, name string) (map[string]struct{}, error) {
	edges, err := r.store.ListEdges(ctx, r.kind)
	if err != nil {
		return nil, shared.Wrap(shared.KindStoreUnavailable, err, "hierarchy: list %s edges", r.kind)
	}
	return closure(edges, shared.NormalizeName(name), downward), nil
}

// Parents returns the immediate parents of name.
func (r *Resolver) Parents(ctx context.Context, name string) ([]string, error) {
	return r.neighbors(ctx, name, upward)
}

// Children returns the immediate children of name.
func (r *Resolver) Children(ctx context.Context, name string) ([]string, error) {
	return r.neighbors(ctx, name, downward)
}

func (r *Resolver) neighbors(ctx context.Context, name string, dir direction) ([]string, error) {
	edges, err := r.store.ListEdges(ctx, r.kind)
	if err != nil {
		return nil, shared.Wrap(shared.KindStoreUnavailable, err, "hierarchy: list %s edges", r.kind)
	}
	name = shared.NormalizeName(name)
	var out []string
	for _, e := range edges {
		if dir == upward && e.Child == name {
			out = append(out, e.Parent)
		}
		if dir == downward && e.Parent == name {
			out = append(out, e.Child)
		}
	}
	return out, nil
}

// IsAscendant reports whether a is a direct or transitive parent of b.
func (r *Resolver) IsAscendant(ctx context.Context, a, b string) (bool, error) {
	ascendants, err := r.Ascendants(ctx, b)
	if err != nil {
		return false, err
	}
	_, ok := ascendants[shared.NormalizeName(a)]
	return ok, nil
}

// AddEdge inserts parent→child. It fails with a cycle error when child is
// already an ascendant of parent, and with an already-exists error when the
// edge is a duplicate.
func (r *Resolver) AddEdge(ctx context.Context, parent, child string) error {
	parent = shared.NormalizeName(parent)
	child = shared.NormalizeName(child)
	if parent == "" || child == "" {
		return shared.E(shared.KindValidation, "hierarchy: parent and child are required")
	}
	if parent == child {
		return shared.E(shared.KindCycle, "hierarchy: %s cannot inherit itself", parent)
	}
	edges, err := r.store.ListEdges(ctx, r.kind)
	if err != nil {
		return shared.Wrap(shared.KindStoreUnavailable, err, "hierarchy: list %s edges", r.kind)
	}
	if err := validateNewEdge(edges, Edge{Parent: parent, Child: child}); err != nil {
		return err
	}
	if err := r.store.InsertEdge(ctx, r.kind, Edge{Parent: parent, Child: child}); err != nil {
		if shared.IsKind(err, shared.KindAlreadyExists) || shared.IsKind(err, shared.KindCycle) {
			return err
		}
		return shared.Wrap(shared.KindStoreUnavailable, err, "hierarchy: insert %s edge", r.kind)
	}
	return nil
}

// validateNewEdge rejects duplicates and edges that would close a cycle
// against the given edge set. Stores that serialize writes re-run it on
// the edge set read under their own lock; the resolver's call is only a
// fast path against a possibly stale read.
func validateNewEdge(edges []Edge, edge Edge) error {
	for _, e := range edges {
		if e.Parent == edge.Parent && e.Child == edge.Child {
			return shared.E(shared.KindAlreadyExists, "hierarchy: %s already inherits %s", edge.Parent, edge.Child)
		}
	}
	if asc := closure(edges, edge.Parent, upward); contains(asc, edge.Child) {
		return shared.E(shared.KindCycle, "hierarchy: %s → %s would create a cycle", edge.Parent, edge.Child)
	}
	return nil
}

// RemoveEdge prunes parent→child. No other relationship is affected; the
// closures simply no longer traverse the removed edge.
func (r *Resolver) RemoveEdge(ctx context.Context, parent, child string) error {
	parent = shared.NormalizeName(parent)
	child = shared.NormalizeName(child)
	edges, err := r.store.ListEdges(ctx, r.kind)
	if err != nil {
		return shared.Wrap(shared.KindStoreUnavailable, err, "hierarchy: list %s edges", r.kind)
	}
	found := false
	for _, e := range edges {
		if e.Parent == parent && e.Child == child {
			found = true
			break
		}
	}
	if !found {
		return shared.E(shared.KindNotFound, "hierarchy: no edge %s → %s", parent, child)
	}
	if err := r.store.DeleteEdge(ctx, r.kind, Edge{Parent: parent, Child: child}); err != nil {
		return shared.Wrap(shared.KindStoreUnavailable, err, "hierarchy: delete %s edge", r.kind)
	}
	return nil
}

type direction int

const (
	upward direction = iota
	downward
)

// closure walks the adjacency in one direction via BFS, excluding start.
func closure(edges []Edge, start string, dir direction) map[string]struct{} {
	adjacent := make(map[string][]string, len(edges))
	for _, e := range edges {
		if dir == upward {
			adjacent[e.Child] = append(adjacent[e.Child], e.Parent)
		} else {
			adjacent[e.Parent] = append(adjacent[e.Parent], e.Child)
		}
	}
	result := make(map[string]struct{})
	queue := append([]string(nil), adjacent[start]...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if _, seen := result[next]; seen {
			continue
		}
		result[next] = struct{}{}
		queue = append(queue, adjacent[next]...)
	}
	delete(result, start)
	return result
}

func contains(set map[string]struct{}, name string) bool {
	_, ok := set[name]
	return ok
}
