package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/argus-sec/argus/pkg/types"
)

// InsertAlert persists a freshly accepted alert in status new. A
// duplicate alert_id is not an error: the gateway treats resubmission
// as idempotent and reports inserted=false.
func (s *Store) InsertAlert(ctx context.Context, a *types.Alert) (bool, error) {
	metadata, err := json.Marshal(a.Metadata)
	if err != nil {
		return false, err
	}
	if len(metadata) == 0 || string(metadata) == "null" {
		metadata = []byte("{}")
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO alerts (alert_id, received_at, event_at, alert_type, severity, title, description,
			source_ip, destination_ip, file_hash, url, domain, asset_id, user_name, status, alert_metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (alert_id) DO NOTHING
	`,
		a.AlertID, a.ReceivedAt.Time, nullTime(a.Timestamp), stringOr(string(a.AlertType), "other"),
		stringOr(string(a.Severity), "medium"), a.Title, a.Description,
		nullString(a.SourceIP), nullString(a.DestinationIP), nullString(a.FileHash),
		nullString(a.URL), nullString(a.Domain), nullString(a.AssetID), nullString(a.UserName),
		string(types.StatusNew), metadata,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// GetAlert retrieves one alert by id.
func (s *Store) GetAlert(ctx context.Context, alertID string) (*types.Alert, error) {
	var (
		a        types.Alert
		eventAt  *time.Time
		received time.Time
		metadata []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT alert_id, received_at, event_at, alert_type, severity, title, description,
			COALESCE(source_ip, ''), COALESCE(destination_ip, ''), COALESCE(file_hash, ''),
			COALESCE(url, ''), COALESCE(domain, ''), COALESCE(asset_id, ''), COALESCE(user_name, ''),
			status, alert_metadata
		FROM alerts WHERE alert_id = $1
	`, alertID).Scan(
		&a.AlertID, &received, &eventAt, &a.AlertType, &a.Severity, &a.Title, &a.Description,
		&a.SourceIP, &a.DestinationIP, &a.FileHash,
		&a.URL, &a.Domain, &a.AssetID, &a.UserName,
		&a.Status, &metadata,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	a.ReceivedAt = types.NewEventTime(received)
	if eventAt != nil {
		a.Timestamp = types.NewEventTime(*eventAt)
	}
	if len(metadata) > 0 {
		_ = json.Unmarshal(metadata, &a.Metadata)
	}
	return &a, nil
}

// MarkNormalized writes the normalizer's output: canonical fields,
// fingerprint and the status step to normalized. The guard means a
// redelivery after the first commit changes nothing and reports
// advanced=false.
func (s *Store) MarkNormalized(ctx context.Context, a types.Alert, fingerprint string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE alerts
		SET alert_type = $2, severity = $3, title = $4, description = $5,
			source_ip = $6, destination_ip = $7, file_hash = $8, url = $9, domain = $10,
			asset_id = $11, user_name = $12, event_at = $13, fingerprint = $14,
			status = $15, updated_at = now()
		WHERE alert_id = $1 AND status = ANY($16)
	`,
		a.AlertID, string(a.AlertType), string(a.Severity), a.Title, a.Description,
		nullString(a.SourceIP), nullString(a.DestinationIP), nullString(a.FileHash),
		nullString(a.URL), nullString(a.Domain), nullString(a.AssetID), nullString(a.UserName),
		nullTime(a.Timestamp), fingerprint,
		string(types.StatusNormalized), types.StatusStrings(types.StatusNormalized.Predecessors()),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// AdvanceStatus moves an alert one step forward. It is a no-op when
// the alert already advanced, which is how redeliveries stay
// idempotent.
func (s *Store) AdvanceStatus(ctx context.Context, alertID string, to types.Status) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE alerts SET status = $2, updated_at = now()
		WHERE alert_id = $1 AND status = ANY($3)
	`, alertID, string(to), types.StatusStrings(to.Predecessors()))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkError parks an alert in the terminal error status. Called from
// the dead-letter hook; closed alerts are left alone.
func (s *Store) MarkError(ctx context.Context, alertID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE alerts SET status = $2, updated_at = now()
		WHERE alert_id = $1 AND status = ANY($3)
	`, alertID, string(types.StatusError), types.StatusStrings(types.StatusError.Predecessors()))
	return err
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullTime(t types.EventTime) *time.Time {
	if t.IsZero() {
		return nil
	}
	utc := t.UTC()
	return &utc
}

func stringOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
