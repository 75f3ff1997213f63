package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/argus-sec/argus/pkg/types"
)

// SaveIntelFindings persists every provider finding for an alert in
// one transaction. The (alert_id, provider, ioc) key makes reruns
// overwrite instead of duplicate.
func (s *Store) SaveIntelFindings(ctx context.Context, alertID string, findings []types.IntelFinding) error {
	if len(findings) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, f := range findings {
		evidence, err := json.Marshal(f.Evidence)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO threat_intel (id, alert_id, provider, ioc_type, ioc_value, verdict, score, evidence, fetched_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (alert_id, provider, ioc_type, ioc_value) DO UPDATE
			SET verdict = EXCLUDED.verdict, score = EXCLUDED.score,
				evidence = EXCLUDED.evidence, fetched_at = EXCLUDED.fetched_at
		`,
			uuid.New(), alertID, f.Provider, string(f.IOCType), f.IOCValue,
			string(f.Verdict), f.Score, evidence, f.FetchedAt,
		); err != nil {
			return fmt.Errorf("save finding %s/%s: %w", f.Provider, f.IOCValue, err)
		}
	}

	return tx.Commit(ctx)
}
