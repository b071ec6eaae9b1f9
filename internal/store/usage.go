package store

import (
	"context"

	"callrelay.app/relay/core/db"
	"callrelay.app/relay/internal/model"
)

type usageStore struct {
	q db.Querier
}

func newUsageStore(q db.Querier) UsageStore {
	return &usageStore{q: q}
}

func (s *usageStore) Increment(ctx context.Context, inc model.UsageIncrement) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO usage_daily (agency_id, client_id, day, calls, seconds, cost_cents)
		VALUES ($1, $2, $3::date, 1, $4, $5)
		ON CONFLICT (agency_id, client_id, day) DO UPDATE SET
			calls      = usage_daily.calls + 1,
			seconds    = usage_daily.seconds + EXCLUDED.seconds,
			cost_cents = usage_daily.cost_cents + EXCLUDED.cost_cents`,
		inc.AgencyID, inc.ClientID, inc.Day.UTC().Format("2006-01-02"), inc.Seconds, inc.CostCents)
	return err
}
