package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Memory is an in-process Catalog holding scenes per catalog ID. It applies
// the same date, footprint and predicate filters as a remote catalog and
// returns scenes sorted by date then ID.
type Memory struct {
	mu      sync.RWMutex
	scenes  map[string][]Scene
	queries map[string]int
}

func NewMemory() *Memory {
	return &Memory{
		scenes:  make(map[string][]Scene),
		queries: make(map[string]int),
	}
}

// Add registers scenes under id.
func (m *Memory) Add(id string, scenes ...Scene) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scenes[id] = append(m.scenes[id], scenes...)
}

// Queries returns how many times id has been searched.
func (m *Memory) Queries(id string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queries[id]
}

func (m *Memory) Search(ctx context.Context, q Query) ([]Scene, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.queries[q.CatalogID]++
	scenes, ok := m.scenes[q.CatalogID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCatalog, q.CatalogID)
	}

	out := []Scene{}
	for i := range scenes {
		sc := &scenes[i]
		if ok, _ := q.Matches(sc); !ok {
			continue
		}
		hit, err := sc.Intersects(q.Region)
		if err != nil {
			return nil, err
		}
		if !hit {
			continue
		}
		r, err := sc.Restrict(q.CatalogID, q.Bands)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
