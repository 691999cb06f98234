package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	fc "github.com/gofhir/codegen"
	"github.com/gofhir/codegen/ir"
)

const schema = `
CREATE TABLE IF NOT EXISTS type_graphs (
	seq          BIGSERIAL PRIMARY KEY,
	id           UUID NOT NULL UNIQUE,
	fhir_version TEXT NOT NULL,
	total_types  INTEGER NOT NULL,
	graph        JSONB NOT NULL,
	stored_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS type_graphs_version_seq ON type_graphs (fhir_version, seq DESC);
`

// Postgres stores graphs as jsonb rows in the type_graphs table.
type Postgres struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

var _ GraphStore = (*Postgres)(nil)

// NewPool opens and pings a connection pool.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// NewPostgres wraps pool. Call Migrate before first use.
func NewPostgres(pool *pgxpool.Pool, logger zerolog.Logger) *Postgres {
	return &Postgres{pool: pool, logger: logger.With().Str("component", "store").Logger()}
}

// Open connects to dsn and creates the schema.
func Open(ctx context.Context, dsn string, logger zerolog.Logger) (*Postgres, error) {
	pool, err := NewPool(ctx, dsn)
	if err != nil {
		return nil, err
	}
	s := NewPostgres(pool, logger)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the table and index when missing.
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Save inserts g, replacing any row with the same id.
func (s *Postgres) Save(ctx context.Context, g *ir.TypeGraph) (uuid.UUID, error) {
	if g == nil {
		return uuid.Nil, fc.NewError(fc.ErrValidation, "nil graph", nil)
	}
	id := graphID(g)

	data, err := json.Marshal(g)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode graph: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM type_graphs WHERE id = $1::uuid`, id.String()); err != nil {
		return uuid.Nil, fmt.Errorf("replace graph: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO type_graphs (id, fhir_version, total_types, graph)
		VALUES ($1::uuid, $2, $3, $4::jsonb)`,
		id.String(), g.FHIRVersion.String(), g.TotalTypes(), string(data),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert graph: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("commit: %w", err)
	}

	s.logger.Info().Str("id", id.String()).Str("fhir_version", g.FHIRVersion.String()).Int("bytes", len(data)).Msg("graph stored")
	return id, nil
}

// Get returns the graph stored under id.
func (s *Postgres) Get(ctx context.Context, id uuid.UUID) (*ir.TypeGraph, error) {
	row := s.pool.QueryRow(ctx, `SELECT graph FROM type_graphs WHERE id = $1::uuid`, id.String())
	return scanGraph(row, "graph "+id.String())
}

// Latest returns the newest graph for version.
func (s *Postgres) Latest(ctx context.Context, version fc.FHIRVersion) (*ir.TypeGraph, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT graph FROM type_graphs
		WHERE fhir_version = $1
		ORDER BY seq DESC
		LIMIT 1`, version.String())
	return scanGraph(row, "graph for "+version.String())
}

func scanGraph(row pgx.Row, what string) (*ir.TypeGraph, error) {
	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound(what)
		}
		return nil, fmt.Errorf("load %s: %w", what, err)
	}
	g := &ir.TypeGraph{}
	if err := json.Unmarshal(data, g); err != nil {
		return nil, fmt.Errorf("decode %s: %w", what, err)
	}
	return g, nil
}

// List returns summaries for version, newest first.
func (s *Postgres) List(ctx context.Context, version fc.FHIRVersion) ([]Summary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, fhir_version, total_types, stored_at
		FROM type_graphs
		WHERE fhir_version = $1
		ORDER BY seq DESC`, version.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum         Summary
			id          string
			fhirVersion string
		)
		if err := rows.Scan(&id, &fhirVersion, &sum.TotalTypes, &sum.StoredAt); err != nil {
			return nil, err
		}
		if sum.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("stored id %q: %w", id, err)
		}
		sum.FHIRVersion = fc.FHIRVersion(fhirVersion)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Close closes the pool.
func (s *Postgres) Close() {
	s.pool.Close()
}
