package entity

import (
	"context"
	"errors"
)

// Neighbor is an entity reached during a neighborhood walk, annotated with
// its hop distance from the start entity.
type Neighbor struct {
	Record *Record `json:"entity"`
	Hops   int     `json:"hops"`
}

// Neighborhood walks the relationship graph breadth-first from the entity
// with the given ID, up to maxHops hops, and returns the entities reached.
// Each entity appears once at its shortest hop distance. Dangling
// relationship references are skipped.
func (s *Store) Neighborhood(ctx context.Context, id string, maxHops int) ([]Neighbor, error) {
	if maxHops <= 0 {
		maxHops = 1
	}

	start, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	visited := map[string]bool{start.ID: true}
	var neighbors []Neighbor

	frontier := []*Record{start}
	for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
		var next []*Record
		for _, rec := range frontier {
			for _, refs := range rec.Relationships {
				for _, ref := range refs {
					if visited[ref.EntityID] {
						continue
					}
					visited[ref.EntityID] = true

					related, err := s.Get(ctx, ref.EntityID)
					if errors.Is(err, ErrNotFound) {
						continue
					}
					if err != nil {
						return nil, err
					}

					neighbors = append(neighbors, Neighbor{Record: related, Hops: hop})
					next = append(next, related)
				}
			}
		}
		frontier = next
	}

	return neighbors, nil
}
