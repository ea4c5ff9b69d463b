package graphdb

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryStore keeps one adjacency-mapped subgraph per division. There is no
// cross-division edge: relationships may only connect entities already
// registered in the same subgraph.
type MemoryStore struct {
	mu        sync.RWMutex
	subgraphs map[string]*subgraph
}

type subgraph struct {
	entities map[string]Entity
	edges    map[string][]edge
}

type edge struct {
	toID    string
	relType string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subgraphs: make(map[string]*subgraph)}
}

func (s *MemoryStore) graphFor(divisionID string, create bool) *subgraph {
	g, ok := s.subgraphs[divisionID]
	if !ok && create {
		g = &subgraph{entities: make(map[string]Entity), edges: make(map[string][]edge)}
		s.subgraphs[divisionID] = g
	}
	return g
}

func (s *MemoryStore) AddEntity(_ context.Context, entity Entity) error {
	if entity.ID == "" {
		return fmt.Errorf("graphdb: entity id is required")
	}
	if entity.DivisionID == "" {
		return fmt.Errorf("graphdb: entity %q has no division tag", entity.ID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graphFor(entity.DivisionID, true).entities[entity.ID] = entity
	return nil
}

func (s *MemoryStore) AddRelationship(_ context.Context, rel Relationship) error {
	if rel.FromID == "" || rel.ToID == "" {
		return fmt.Errorf("graphdb: relationship endpoints are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.subgraphs {
		_, fromOK := g.entities[rel.FromID]
		_, toOK := g.entities[rel.ToID]
		if fromOK && toOK {
			g.edges[rel.FromID] = append(g.edges[rel.FromID], edge{toID: rel.ToID, relType: rel.Type})
			g.edges[rel.ToID] = append(g.edges[rel.ToID], edge{toID: rel.FromID, relType: rel.Type})
			return nil
		}
		if fromOK != toOK {
			return fmt.Errorf("graphdb: relationship %s -> %s crosses division boundaries", rel.FromID, rel.ToID)
		}
	}
	return fmt.Errorf("graphdb: unknown entities %s, %s", rel.FromID, rel.ToID)
}

// Traverse expands breadth-first from entities matching the seed terms, up to
// maxHops edges away, inside the division's subgraph only. Results are
// ordered by depth, then entity id, so traversal is deterministic.
func (s *MemoryStore) Traverse(_ context.Context, divisionID string, seeds []string, maxHops int) ([]Hit, error) {
	if maxHops < 0 {
		maxHops = 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	g := s.graphFor(divisionID, false)
	if g == nil {
		return nil, nil
	}
	depth := make(map[string]int)
	var frontier []string
	for _, id := range matchSeeds(g, seeds) {
		if _, seen := depth[id]; !seen {
			depth[id] = 0
			frontier = append(frontier, id)
		}
	}
	for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			for _, e := range g.edges[id] {
				if _, seen := depth[e.toID]; seen {
					continue
				}
				depth[e.toID] = hop
				next = append(next, e.toID)
			}
		}
		frontier = next
	}
	hits := make([]Hit, 0, len(depth))
	for id, d := range depth {
		hits = append(hits, Hit{Entity: g.entities[id], Depth: d})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Depth == hits[j].Depth {
			return hits[i].Entity.ID < hits[j].Entity.ID
		}
		return hits[i].Depth < hits[j].Depth
	})
	return hits, nil
}

func (s *MemoryStore) Neighbors(_ context.Context, divisionID, entityID string) ([]Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g := s.graphFor(divisionID, false)
	if g == nil {
		return nil, nil
	}
	edges := g.edges[entityID]
	entities := make([]Entity, 0, len(edges))
	seen := make(map[string]bool, len(edges))
	for _, e := range edges {
		if seen[e.toID] {
			continue
		}
		seen[e.toID] = true
		entities = append(entities, g.entities[e.toID])
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })
	return entities, nil
}

func (s *MemoryStore) Close(_ context.Context) error {
	return nil
}

// matchSeeds resolves seed terms against entity ids and lowercase names.
func matchSeeds(g *subgraph, seeds []string) []string {
	var ids []string
	for _, seed := range seeds {
		needle := strings.ToLower(strings.TrimSpace(seed))
		if needle == "" {
			continue
		}
		for id, entity := range g.entities {
			if strings.ToLower(id) == needle || strings.ToLower(entity.Name) == needle {
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)
	return ids
}
