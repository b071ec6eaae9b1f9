package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"callrelay.app/relay/core/db"
	"callrelay.app/relay/internal/model"
)

const agentColumns = `id, agency_id, client_id, provider, external_agent_id, name,
	forward_webhook_url, analysis_enabled, created_at, updated_at`

type agentStore struct {
	q db.Querier
}

func newAgentStore(q db.Querier) AgentStore {
	return &agentStore{q: q}
}

func (s *agentStore) GetByID(ctx context.Context, id int64) (*model.Agent, error) {
	row := s.q.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id)
	return scanAgent(row)
}

func (s *agentStore) GetByProviderAndExternalID(ctx context.Context, provider model.Provider, externalAgentID string) (*model.Agent, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE provider = $1 AND external_agent_id = $2`,
		string(provider), externalAgentID)
	return scanAgent(row)
}

func scanAgent(row pgx.Row) (*model.Agent, error) {
	var (
		a        model.Agent
		provider string
	)
	err := row.Scan(&a.ID, &a.AgencyID, &a.ClientID, &provider, &a.ExternalAgentID, &a.Name,
		&a.ForwardWebhookURL, &a.AnalysisEnabled, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.Provider = model.Provider(provider)
	return &a, nil
}
