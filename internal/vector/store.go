package vector

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Match is one similar historical alert.
type Match struct {
	AlertID    string            `json:"alert_id"`
	Similarity float64           `json:"similarity"`
	Meta       map[string]string `json:"meta,omitempty"`
}

// Store persists embeddings and answers nearest-neighbor queries.
// Filter entries must all be present in a row's metadata for it to
// match; an empty filter matches everything.
type Store interface {
	Upsert(ctx context.Context, alertID string, embedding []float32, meta map[string]string) error
	Search(ctx context.Context, embedding []float32, k int, filter map[string]string) ([]Match, error)
}

// PGStore keeps embeddings in the alert_vectors table under an HNSW
// cosine index.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Upsert(ctx context.Context, alertID string, embedding []float32, meta map[string]string) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	if meta == nil {
		metaJSON = []byte("{}")
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO alert_vectors (alert_id, embedding, meta, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (alert_id) DO UPDATE
		SET embedding = EXCLUDED.embedding, meta = EXCLUDED.meta, updated_at = now()
	`, alertID, pgvector.NewVector(embedding), metaJSON)
	if err != nil {
		return fmt.Errorf("upsert vector %s: %w", alertID, err)
	}
	return nil
}

func (s *PGStore) Search(ctx context.Context, embedding []float32, k int, filter map[string]string) ([]Match, error) {
	var filterJSON []byte
	if len(filter) > 0 {
		var err error
		if filterJSON, err = json.Marshal(filter); err != nil {
			return nil, err
		}
	}

	rows, err := s.pool.Query(ctx, `
		SELECT alert_id, 1 - (embedding <=> $1) AS similarity, meta
		FROM alert_vectors
		WHERE $2::jsonb IS NULL OR meta @> $2
		ORDER BY embedding <=> $1
		LIMIT $3
	`, pgvector.NewVector(embedding), filterJSON, k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var m Match
		var metaJSON []byte
		if err := rows.Scan(&m.AlertID, &m.Similarity, &metaJSON); err != nil {
			return nil, err
		}
		if len(metaJSON) > 0 {
			_ = json.Unmarshal(metaJSON, &m.Meta)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
