package store

import (
	"context"
	"encoding/json"
)

// AppendAudit records one pipeline event for an alert. Audit writes
// are best effort at call sites: stages log a failure but never fail a
// message over it.
func (s *Store) AppendAudit(ctx context.Context, alertID, stage, action string, detail map[string]any) error {
	var payload []byte
	if detail != nil {
		var err error
		if payload, err = json.Marshal(detail); err != nil {
			return err
		}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_logs (alert_id, stage, action, detail)
		VALUES ($1, $2, $3, $4)
	`, alertID, stage, action, payload)
	return err
}
