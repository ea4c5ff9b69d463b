package graphdb

import (
	"context"
)

// Entity is a node in the relationship graph, tagged with the division that
// produced it. Entities never move between divisions.
type Entity struct {
	ID         string
	Type       string
	Name       string
	DivisionID string
	Properties map[string]string
}

// Relationship is a directed, typed edge between two entities of the same
// division subgraph.
type Relationship struct {
	FromID     string
	ToID       string
	Type       string
	Properties map[string]string
}

// Hit is one traversal result with the hop depth it was reached at.
type Hit struct {
	Entity Entity
	Depth  int
}

// Store exposes the relationship graph as per-division subgraphs. Traverse
// runs a bounded-hop expansion from seed terms; seeds that match no entity
// are ignored.
type Store interface {
	AddEntity(ctx context.Context, entity Entity) error
	AddRelationship(ctx context.Context, rel Relationship) error
	Traverse(ctx context.Context, divisionID string, seeds []string, maxHops int) ([]Hit, error)
	Neighbors(ctx context.Context, divisionID, entityID string) ([]Entity, error)
	Close(ctx context.Context) error
}
