package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"callrelay.app/relay/core/db"
	"callrelay.app/relay/internal/model"
)

type integrationStore struct {
	q db.Querier
}

func newIntegrationStore(q db.Querier) IntegrationStore {
	return &integrationStore{q: q}
}

// ListActiveByAgency returns agency-wide rows and every client-scoped row of the agency.
// The credential resolver picks the client row over the agency row per provider.
func (s *integrationStore) ListActiveByAgency(ctx context.Context, agencyID int64) ([]model.Integration, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, agency_id, client_id, provider, api_key, access_token, refresh_token,
			token_expires_at, webhook_secret, settings, is_active, created_at, updated_at
		FROM integrations
		WHERE agency_id = $1 AND is_active
		ORDER BY client_id NULLS LAST, updated_at DESC`, agencyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Integration
	for rows.Next() {
		var (
			in        model.Integration
			provider  string
			expiresAt pgtype.Timestamptz
			settings  []byte
		)
		if err := rows.Scan(&in.ID, &in.AgencyID, &in.ClientID, &provider, &in.APIKey, &in.AccessToken,
			&in.RefreshToken, &expiresAt, &in.WebhookSecret, &settings, &in.IsActive,
			&in.CreatedAt, &in.UpdatedAt); err != nil {
			return nil, err
		}
		in.Provider = model.Provider(provider)
		in.TokenExpiresAt = pgTimestamptzToTime(expiresAt)
		if err := unmarshalJSONB(settings, &in.Settings); err != nil {
			return nil, err
		}
		result = append(result, in)
	}
	return result, rows.Err()
}

func (s *integrationStore) UpdateTokens(ctx context.Context, id int64, accessToken string, refreshToken *string, expiresAt *time.Time) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE integrations SET
			access_token     = $2,
			refresh_token    = COALESCE($3, refresh_token),
			token_expires_at = $4,
			updated_at       = now()
		WHERE id = $1`, id, accessToken, refreshToken, timeToPgTimestamptz(expiresAt))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
