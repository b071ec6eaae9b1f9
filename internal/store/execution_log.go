package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"

	"callrelay.app/relay/common/id"
	"callrelay.app/relay/core/db"
	"callrelay.app/relay/internal/model"
)

type executionLogStore struct {
	q db.Querier
}

func newExecutionLogStore(q db.Querier) ExecutionLogStore {
	return &executionLogStore{q: q}
}

func (s *executionLogStore) Create(ctx context.Context, log *model.WorkflowExecutionLog) error {
	if log.ID == 0 {
		log.ID = id.New()
	}
	results, err := marshalList(log.ActionResults)
	if err != nil {
		return err
	}

	return s.q.QueryRow(ctx, `
		INSERT INTO workflow_execution_logs (id, workflow_id, call_id, agency_id, trigger, status,
			actions_total, actions_succeeded, actions_failed, action_results, error_summary, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING started_at`,
		log.ID, log.WorkflowID, log.CallID, log.AgencyID, string(log.Trigger), string(log.Status),
		log.ActionsTotal, log.ActionsSucceeded, log.ActionsFailed, results, log.ErrorSummary,
		timeToPgTimestamptz(log.CompletedAt),
	).Scan(&log.StartedAt)
}

func (s *executionLogStore) Finish(ctx context.Context, log *model.WorkflowExecutionLog) error {
	results, err := marshalList(log.ActionResults)
	if err != nil {
		return err
	}

	tag, err := s.q.Exec(ctx, `
		UPDATE workflow_execution_logs SET
			status            = $2,
			actions_total     = $3,
			actions_succeeded = $4,
			actions_failed    = $5,
			action_results    = $6,
			error_summary     = $7,
			completed_at      = COALESCE($8, now())
		WHERE id = $1`,
		log.ID, string(log.Status), log.ActionsTotal, log.ActionsSucceeded, log.ActionsFailed,
		results, log.ErrorSummary, timeToPgTimestamptz(log.CompletedAt))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *executionLogStore) ListByCall(ctx context.Context, callID int64) ([]model.WorkflowExecutionLog, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, workflow_id, call_id, agency_id, trigger, status, actions_total,
			actions_succeeded, actions_failed, action_results, error_summary, started_at, completed_at
		FROM workflow_execution_logs
		WHERE call_id = $1
		ORDER BY started_at, id`, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.WorkflowExecutionLog
	for rows.Next() {
		var (
			l           model.WorkflowExecutionLog
			trigger     string
			status      string
			results     []byte
			completedAt pgtype.Timestamptz
		)
		if err := rows.Scan(&l.ID, &l.WorkflowID, &l.CallID, &l.AgencyID, &trigger, &status,
			&l.ActionsTotal, &l.ActionsSucceeded, &l.ActionsFailed, &results, &l.ErrorSummary,
			&l.StartedAt, &completedAt); err != nil {
			return nil, err
		}
		l.Trigger = model.Trigger(trigger)
		l.Status = model.ExecutionStatus(status)
		l.CompletedAt = pgTimestamptzToTime(completedAt)
		if err := unmarshalJSONB(results, &l.ActionResults); err != nil {
			return nil, err
		}
		result = append(result, l)
	}
	return result, rows.Err()
}
