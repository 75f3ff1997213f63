package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/argus-sec/argus/pkg/types"
)

// UpsertTriageResult persists the terminal verdict for an alert. A
// redelivered message overwrites with identical content, so the write
// stays idempotent.
func (s *Store) UpsertTriageResult(ctx context.Context, r types.TriageResult) error {
	actions, err := json.Marshal(r.Actions)
	if err != nil {
		return err
	}
	if string(actions) == "null" {
		actions = []byte("[]")
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO triage_results (alert_id, risk_score, risk_level, confidence, actions,
			narrative, model_used, latency_ms, attempts, fallback, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		ON CONFLICT (alert_id) DO UPDATE
		SET risk_score = EXCLUDED.risk_score, risk_level = EXCLUDED.risk_level,
			confidence = EXCLUDED.confidence, actions = EXCLUDED.actions,
			narrative = EXCLUDED.narrative, model_used = EXCLUDED.model_used,
			latency_ms = EXCLUDED.latency_ms, attempts = EXCLUDED.attempts,
			fallback = EXCLUDED.fallback, updated_at = now()
	`,
		r.AlertID, r.RiskScore, string(r.RiskLevel), r.Confidence, actions,
		r.Narrative, nullString(r.ModelUsed), r.LatencyMS, r.Attempts, r.Fallback,
	)
	return err
}

// GetTriageResult retrieves the stored verdict for one alert.
func (s *Store) GetTriageResult(ctx context.Context, alertID string) (*types.TriageResult, error) {
	var (
		r         types.TriageResult
		actions   []byte
		modelUsed *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT alert_id, risk_score, risk_level, confidence, actions,
			narrative, model_used, latency_ms, attempts, fallback, created_at
		FROM triage_results WHERE alert_id = $1
	`, alertID).Scan(
		&r.AlertID, &r.RiskScore, &r.RiskLevel, &r.Confidence, &actions,
		&r.Narrative, &modelUsed, &r.LatencyMS, &r.Attempts, &r.Fallback, &r.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if modelUsed != nil {
		r.ModelUsed = *modelUsed
	}
	if len(actions) > 0 {
		_ = json.Unmarshal(actions, &r.Actions)
	}
	return &r, nil
}

// InsertRemediationActions queues the recommended actions as pending
// work items for downstream automation. Existing rows for the alert
// are replaced so a redelivery cannot double the queue.
func (s *Store) InsertRemediationActions(ctx context.Context, alertID string, actions []types.RecommendedAction) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		DELETE FROM remediation_actions WHERE alert_id = $1 AND status = 'pending'
	`, alertID); err != nil {
		return err
	}

	for _, a := range actions {
		if _, err := tx.Exec(ctx, `
			INSERT INTO remediation_actions (id, alert_id, action, priority, rationale, status)
			VALUES ($1, $2, $3, $4, $5, 'pending')
		`, uuid.New(), alertID, a.Action, string(a.Priority), a.Rationale); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}
