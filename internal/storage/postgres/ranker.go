package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/scrypster/petmind/internal/storage"
	"github.com/scrypster/petmind/pkg/types"
)

// ErrPgvectorUnavailable is returned when in-database ranking is requested on
// a server without the pgvector extension.
var ErrPgvectorUnavailable = errors.New("postgres: pgvector not available")

// PgvectorRanker ranks ready vectors inside PostgreSQL using the cosine
// distance operator. Ordering and scores match the in-process ranker: score
// is 1 - distance, ties break by ascending entity id, zero-norm vectors score
// zero, and rows whose dimension differs from the query are skipped.
type PgvectorRanker struct {
	db *sqlx.DB
}

// Ranker returns the in-database ranker, or false when pgvector is not
// available on this server.
func (s *Store) Ranker() (*PgvectorRanker, bool) {
	if !s.pgvectorAvailable {
		return nil, false
	}
	return &PgvectorRanker{db: s.db}, true
}

type scoredRow struct {
	EntityID string  `db:"entity_id"`
	Distance float64 `db:"distance"`
}

// Rank returns the k ready entities closest to query.
func (r *PgvectorRanker) Rank(ctx context.Context, query []float32, k int, filter storage.ReadyFilter) ([]types.ScoredEntity, error) {
	if r == nil || r.db == nil {
		return nil, ErrPgvectorUnavailable
	}

	if k <= 0 {
		return []types.ScoredEntity{}, nil
	}
	if len(query) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", storage.ErrInvalidQuery)
	}
	if !types.IsFiniteVector(query) {
		return nil, fmt.Errorf("%w: query vector has non-finite components", storage.ErrInvalidQuery)
	}

	// pgvector yields NaN for zero-norm operands; treat those as orthogonal.
	sqlQuery := `
		SELECT entity_id, distance FROM (
			SELECT e.entity_id,
				CASE WHEN (e.vector_vec <=> $1) = 'NaN'::float8 THEN 1.0
					ELSE (e.vector_vec <=> $1) END AS distance
			FROM embeddings e
			JOIN entities n ON n.id = e.entity_id
			WHERE e.status = 'ready'
				AND e.vector_vec IS NOT NULL
				AND e.dimension = $2
				AND ($3 = '' OR n.kind = $3)
		) ranked
		ORDER BY distance ASC, entity_id ASC
		LIMIT $4
	`

	var rows []scoredRow
	err := r.db.SelectContext(ctx, &rows, sqlQuery,
		pgvector.NewVector(query), len(query), string(filter.Kind), k)
	if err != nil {
		return nil, fmt.Errorf("postgres: vector ranking failed: %w", err)
	}

	out := make([]types.ScoredEntity, 0, len(rows))
	for _, row := range rows {
		out = append(out, types.ScoredEntity{
			EntityID: row.EntityID,
			Score:    1 - row.Distance,
		})
	}

	return out, nil
}
