package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/argus-sec/argus/pkg/types"
)

// UpsertContext stores the collector's output for an alert. Reruns
// overwrite: context is derived data and the latest resolution wins.
func (s *Store) UpsertContext(ctx context.Context, alertID string, ec types.EnrichedContext) error {
	network, err := marshalOrNil(ec.Network)
	if err != nil {
		return err
	}
	asset, err := marshalOrNil(ec.Asset)
	if err != nil {
		return err
	}
	user, err := marshalOrNil(ec.User)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO alert_context (alert_id, network, asset, user_info, partial, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (alert_id) DO UPDATE
		SET network = EXCLUDED.network, asset = EXCLUDED.asset,
			user_info = EXCLUDED.user_info, partial = EXCLUDED.partial, updated_at = now()
	`, alertID, network, asset, user, ec.Partial)
	return err
}

// GetAsset looks up inventory data for one asset id.
func (s *Store) GetAsset(ctx context.Context, assetID string) (*types.AssetContext, error) {
	var a types.AssetContext
	err := s.pool.QueryRow(ctx, `
		SELECT asset_id, criticality, owner, environment FROM assets WHERE asset_id = $1
	`, assetID).Scan(&a.AssetID, &a.Criticality, &a.Owner, &a.Environment)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetUser looks up directory data for one user name.
func (s *Store) GetUser(ctx context.Context, userName string) (*types.UserContext, error) {
	var u types.UserContext
	err := s.pool.QueryRow(ctx, `
		SELECT user_name, department, role, risk_profile FROM users WHERE user_name = $1
	`, userName).Scan(&u.UserName, &u.Department, &u.Role, &u.RiskProfile)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func marshalOrNil(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(raw) == "null" {
		return nil, nil
	}
	return raw, nil
}
