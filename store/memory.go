package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	fc "github.com/gofhir/codegen"
	"github.com/gofhir/codegen/ir"
)

type memoryEntry struct {
	graph    *ir.TypeGraph
	storedAt time.Time
}

// Memory is an in-process GraphStore. Graphs are stored by pointer and must
// not be modified after Save.
type Memory struct {
	mu    sync.RWMutex
	byID  map[uuid.UUID]*memoryEntry
	order []uuid.UUID
	now   func() time.Time
}

var _ GraphStore = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		byID: make(map[uuid.UUID]*memoryEntry),
		now:  time.Now,
	}
}

// Save stores g. Saving the same id again replaces the graph and makes it
// the newest.
func (m *Memory) Save(_ context.Context, g *ir.TypeGraph) (uuid.UUID, error) {
	if g == nil {
		return uuid.Nil, fc.NewError(fc.ErrValidation, "nil graph", nil)
	}
	id := graphID(g)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byID[id]; exists {
		m.removeLocked(id)
	}
	m.byID[id] = &memoryEntry{graph: g, storedAt: m.now()}
	m.order = append(m.order, id)
	return id, nil
}

func (m *Memory) removeLocked(id uuid.UUID) {
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

// Get returns the graph stored under id.
func (m *Memory) Get(_ context.Context, id uuid.UUID) (*ir.TypeGraph, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.byID[id]
	if !ok {
		return nil, notFound("graph " + id.String())
	}
	return e.graph, nil
}

// Latest returns the newest graph for version.
func (m *Memory) Latest(_ context.Context, version fc.FHIRVersion) (*ir.TypeGraph, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.order) - 1; i >= 0; i-- {
		if e := m.byID[m.order[i]]; e.graph.FHIRVersion == version {
			return e.graph, nil
		}
	}
	return nil, notFound("graph for " + version.String())
}

// List returns summaries for version, newest first.
func (m *Memory) List(_ context.Context, version fc.FHIRVersion) ([]Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Summary
	for i := len(m.order) - 1; i >= 0; i-- {
		id := m.order[i]
		e := m.byID[id]
		if e.graph.FHIRVersion != version {
			continue
		}
		out = append(out, Summary{
			ID:          id,
			FHIRVersion: e.graph.FHIRVersion,
			TotalTypes:  e.graph.TotalTypes(),
			StoredAt:    e.storedAt,
		})
	}
	return out, nil
}

// Close is a no-op.
func (m *Memory) Close() {}
