package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"callrelay.app/relay/common/id"
	"callrelay.app/relay/core/db"
	"callrelay.app/relay/internal/model"
)

const workflowColumns = `id, agency_id, agent_id, name, trigger, conditions, actions, is_active, created_at, updated_at`

type workflowStore struct {
	q db.Querier
}

func newWorkflowStore(q db.Querier) WorkflowStore {
	return &workflowStore{q: q}
}

func (s *workflowStore) Create(ctx context.Context, wf *model.Workflow) error {
	if wf.ID == 0 {
		wf.ID = id.New()
	}
	conditions, err := marshalList(wf.Conditions)
	if err != nil {
		return err
	}
	actions, err := marshalList(wf.Actions)
	if err != nil {
		return err
	}

	return s.q.QueryRow(ctx, `
		INSERT INTO workflows (id, agency_id, agent_id, name, trigger, conditions, actions, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		wf.ID, wf.AgencyID, wf.AgentID, wf.Name, string(wf.Trigger), conditions, actions, wf.IsActive,
	).Scan(&wf.CreatedAt, &wf.UpdatedAt)
}

func (s *workflowStore) GetByID(ctx context.Context, id int64) (*model.Workflow, error) {
	row := s.q.QueryRow(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = $1`, id)
	wf, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return wf, nil
}

// ListActiveByTriggers returns active agency workflows whose trigger is one of triggers
// and which are either agent-agnostic or scoped to agentID.
func (s *workflowStore) ListActiveByTriggers(ctx context.Context, agencyID int64, triggers []model.Trigger, agentID *int64) ([]model.Workflow, error) {
	if len(triggers) == 0 {
		return nil, nil
	}
	names := make([]string, len(triggers))
	for i, t := range triggers {
		names[i] = string(t)
	}

	rows, err := s.q.Query(ctx, `
		SELECT `+workflowColumns+`
		FROM workflows
		WHERE agency_id = $1
		  AND is_active
		  AND trigger = ANY($2::text[])
		  AND (agent_id IS NULL OR agent_id = $3)
		ORDER BY id`, agencyID, names, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *wf)
	}
	return result, rows.Err()
}

func scanWorkflow(row pgx.Row) (*model.Workflow, error) {
	var (
		wf         model.Workflow
		trigger    string
		conditions []byte
		actions    []byte
	)
	if err := row.Scan(&wf.ID, &wf.AgencyID, &wf.AgentID, &wf.Name, &trigger, &conditions, &actions,
		&wf.IsActive, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
		return nil, err
	}
	wf.Trigger = model.Trigger(trigger)
	if err := unmarshalJSONB(conditions, &wf.Conditions); err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(actions, &wf.Actions); err != nil {
		return nil, err
	}
	return &wf, nil
}

// marshalList always yields a JSON array, never null.
func marshalList[T any](items []T) ([]byte, error) {
	if items == nil {
		items = []T{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("marshal jsonb: %w", err)
	}
	return data, nil
}
