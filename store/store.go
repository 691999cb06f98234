// Package store persists built type graphs keyed by build id.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	fc "github.com/gofhir/codegen"
	"github.com/gofhir/codegen/ir"
)

// Summary describes a stored graph without its content.
type Summary struct {
	ID          uuid.UUID      `json:"id"`
	FHIRVersion fc.FHIRVersion `json:"fhir_version"`
	TotalTypes  int            `json:"total_types"`
	StoredAt    time.Time      `json:"stored_at"`
}

// GraphStore saves and retrieves type graphs.
type GraphStore interface {
	// Save stores g and returns its id. The id is the graph's build id when
	// that is a UUID; otherwise a new one is assigned and written back.
	Save(ctx context.Context, g *ir.TypeGraph) (uuid.UUID, error)
	// Get returns the graph with the given id or ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*ir.TypeGraph, error)
	// Latest returns the most recently saved graph for version or ErrNotFound.
	Latest(ctx context.Context, version fc.FHIRVersion) (*ir.TypeGraph, error)
	// List returns summaries for version, newest first.
	List(ctx context.Context, version fc.FHIRVersion) ([]Summary, error)
	Close()
}

// graphID returns the graph's build id, assigning one when it is missing
// or not a UUID.
func graphID(g *ir.TypeGraph) uuid.UUID {
	if id, err := uuid.Parse(g.Metadata.BuildID); err == nil {
		return id
	}
	id := uuid.New()
	g.Metadata.BuildID = id.String()
	return id
}

func notFound(what string) error {
	return fc.NewError(fc.ErrNotFound, what, nil)
}
