package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"callrelay.app/relay/common/id"
	"callrelay.app/relay/core/db"
	"callrelay.app/relay/internal/model"
)

const callColumns = `id, external_id, provider, agency_id, agent_id, client_id, status, direction,
	from_number, to_number, started_at, ended_at, duration_seconds, cost_cents, transcript,
	recording_url, summary, sentiment, call_score, experiment_id, variant_id, metadata,
	created_at, updated_at`

// Terminal statuses are never replaced by queued/in_progress: a late start
// event must not reopen a finished call.
const upsertCallSQL = `
INSERT INTO calls (id, external_id, provider, agency_id, agent_id, client_id, status, direction,
	from_number, to_number, started_at, ended_at, duration_seconds, cost_cents, transcript,
	recording_url, summary, sentiment, call_score, experiment_id, variant_id, metadata)
VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7::text, 'queued'), $8,
	$9, $10, $11, $12, $13, $14, left(COALESCE($15::text, ''), $23::int),
	$16, $17, $18, $19, $20, $21, COALESCE($22::jsonb, '{}'::jsonb))
ON CONFLICT (external_id) DO UPDATE SET
	agency_id        = COALESCE(calls.agency_id, EXCLUDED.agency_id),
	agent_id         = COALESCE(calls.agent_id, EXCLUDED.agent_id),
	client_id        = COALESCE(calls.client_id, EXCLUDED.client_id),
	status           = CASE
	                       WHEN $7::text IS NULL THEN calls.status
	                       WHEN calls.status IN ('completed', 'failed') AND $7::text IN ('queued', 'in_progress') THEN calls.status
	                       ELSE $7::text
	                   END,
	direction        = COALESCE($8, calls.direction),
	from_number      = COALESCE($9, calls.from_number),
	to_number        = COALESCE($10, calls.to_number),
	started_at       = COALESCE($11, calls.started_at),
	ended_at         = COALESCE($12, calls.ended_at),
	duration_seconds = COALESCE($13, calls.duration_seconds),
	cost_cents       = COALESCE($14, calls.cost_cents),
	transcript       = CASE WHEN $15::text IS NULL THEN calls.transcript ELSE left($15::text, $23::int) END,
	recording_url    = COALESCE($16, calls.recording_url),
	summary          = COALESCE($17, calls.summary),
	sentiment        = COALESCE($18, calls.sentiment),
	call_score       = COALESCE($19, calls.call_score),
	experiment_id    = COALESCE($20, calls.experiment_id),
	variant_id       = COALESCE($21, calls.variant_id),
	metadata         = calls.metadata || COALESCE($22::jsonb, '{}'::jsonb),
	updated_at       = now()
RETURNING ` + callColumns + `, (xmax = 0) AS inserted`

const upsertMinimalCallSQL = `
INSERT INTO calls (id, external_id, provider, status)
VALUES ($1, $2, $3, $4)
ON CONFLICT (external_id) DO UPDATE SET updated_at = now()
RETURNING ` + callColumns + `, (xmax = 0) AS inserted`

// A delta racing ahead of call_started creates an in_progress placeholder.
// Deltas arriving after the call is terminal are ignored: the final
// transcript from call_ended is authoritative.
const appendTranscriptSQL = `
INSERT INTO calls (id, external_id, provider, agency_id, agent_id, client_id, status, transcript)
VALUES ($1, $2, $3, $4, $5, $6, 'in_progress', left($7::text, $8::int))
ON CONFLICT (external_id) DO UPDATE SET
	agency_id  = COALESCE(calls.agency_id, EXCLUDED.agency_id),
	agent_id   = COALESCE(calls.agent_id, EXCLUDED.agent_id),
	client_id  = COALESCE(calls.client_id, EXCLUDED.client_id),
	transcript = CASE
	                 WHEN calls.status IN ('completed', 'failed') THEN calls.transcript
	                 WHEN calls.transcript = '' THEN left($7::text, $8::int)
	                 ELSE left(calls.transcript || E'\n' || $7::text, $8::int)
	             END,
	updated_at = now()
RETURNING ` + callColumns + `, (xmax = 0) AS inserted`

const patchEnrichmentSQL = `
UPDATE calls SET
	summary    = COALESCE($2, summary),
	sentiment  = COALESCE($3, sentiment),
	call_score = COALESCE($4, call_score),
	metadata   = metadata || COALESCE($5::jsonb, '{}'::jsonb),
	updated_at = now()
WHERE id = $1`

type callStore struct {
	q db.Querier
}

func newCallStore(q db.Querier) CallStore {
	return &callStore{q: q}
}

func (s *callStore) Upsert(ctx context.Context, params UpsertCallParams) (*UpsertResult, error) {
	f := params.Fields
	metadata, err := marshalJSONB(f.Metadata)
	if err != nil {
		return nil, err
	}

	row := s.q.QueryRow(ctx, upsertCallSQL,
		id.New(),
		params.ExternalID,
		string(params.Provider),
		params.AgencyID,
		params.AgentID,
		params.ClientID,
		stringPtr(f.Status),
		stringPtr(f.Direction),
		f.FromNumber,
		f.ToNumber,
		timeToPgTimestamptz(f.StartedAt),
		timeToPgTimestamptz(f.EndedAt),
		f.DurationSeconds,
		f.CostCents,
		f.Transcript,
		f.RecordingURL,
		f.Summary,
		f.Sentiment,
		f.CallScore,
		f.ExperimentID,
		f.VariantID,
		metadata,
		transcriptCap(params.TranscriptCap),
	)
	return scanUpsert(row)
}

func (s *callStore) UpsertMinimal(ctx context.Context, externalID string, provider model.Provider, status model.CallStatus) (*UpsertResult, error) {
	row := s.q.QueryRow(ctx, upsertMinimalCallSQL, id.New(), externalID, string(provider), string(status))
	return scanUpsert(row)
}

func (s *callStore) AppendTranscript(ctx context.Context, params AppendTranscriptParams) (*UpsertResult, error) {
	row := s.q.QueryRow(ctx, appendTranscriptSQL,
		id.New(),
		params.ExternalID,
		string(params.Provider),
		params.AgencyID,
		params.AgentID,
		params.ClientID,
		params.Line,
		transcriptCap(params.TranscriptCap),
	)
	return scanUpsert(row)
}

func (s *callStore) PatchEnrichment(ctx context.Context, id int64, patch EnrichmentPatch) error {
	metadata, err := marshalJSONB(patch.Metadata)
	if err != nil {
		return err
	}
	tag, err := s.q.Exec(ctx, patchEnrichmentSQL, id, patch.Summary, patch.Sentiment, patch.CallScore, metadata)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *callStore) GetByID(ctx context.Context, id int64) (*model.Call, error) {
	row := s.q.QueryRow(ctx, `SELECT `+callColumns+` FROM calls WHERE id = $1`, id)
	return scanCallRow(row)
}

func (s *callStore) GetByExternalID(ctx context.Context, externalID string) (*model.Call, error) {
	row := s.q.QueryRow(ctx, `SELECT `+callColumns+` FROM calls WHERE external_id = $1`, externalID)
	return scanCallRow(row)
}

func transcriptCap(limit int) int {
	if limit <= 0 {
		return model.DefaultTranscriptCap
	}
	return limit
}

type callScan struct {
	call      model.Call
	provider  string
	status    string
	direction *string
	from      *string
	to        *string
	startedAt pgtype.Timestamptz
	endedAt   pgtype.Timestamptz
	metadata  []byte
	createdAt pgtype.Timestamptz
	updatedAt pgtype.Timestamptz
}

func (c *callScan) dest() []any {
	return []any{
		&c.call.ID, &c.call.ExternalID, &c.provider, &c.call.AgencyID, &c.call.AgentID, &c.call.ClientID,
		&c.status, &c.direction, &c.from, &c.to, &c.startedAt, &c.endedAt,
		&c.call.DurationSeconds, &c.call.CostCents, &c.call.Transcript, &c.call.RecordingURL,
		&c.call.Summary, &c.call.Sentiment, &c.call.CallScore, &c.call.ExperimentID, &c.call.VariantID,
		&c.metadata, &c.createdAt, &c.updatedAt,
	}
}

func (c *callScan) toModel() (*model.Call, error) {
	call := c.call
	call.Provider = model.Provider(c.provider)
	call.Status = model.CallStatus(c.status)
	if c.direction != nil {
		call.Direction = model.Direction(*c.direction)
	}
	if c.from != nil {
		call.FromNumber = *c.from
	}
	if c.to != nil {
		call.ToNumber = *c.to
	}
	call.StartedAt = pgTimestamptzToTime(c.startedAt)
	call.EndedAt = pgTimestamptzToTime(c.endedAt)
	call.CreatedAt = c.createdAt.Time
	call.UpdatedAt = c.updatedAt.Time
	call.Metadata = map[string]any{}
	if err := unmarshalJSONB(c.metadata, &call.Metadata); err != nil {
		return nil, err
	}
	return &call, nil
}

func scanCallRow(row pgx.Row) (*model.Call, error) {
	var c callScan
	if err := row.Scan(c.dest()...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c.toModel()
}

func scanUpsert(row pgx.Row) (*UpsertResult, error) {
	var (
		c        callScan
		inserted bool
	)
	if err := row.Scan(append(c.dest(), &inserted)...); err != nil {
		return nil, fmt.Errorf("upserting call: %w", err)
	}
	call, err := c.toModel()
	if err != nil {
		return nil, err
	}
	return &UpsertResult{Call: call, Created: inserted}, nil
}
