package store

import (
	"context"
	"errors"
	"time"

	"callrelay.app/relay/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// UpsertCallParams carries one normalized event's worth of call fields.
// Nil fields in Fields leave the stored column untouched.
type UpsertCallParams struct {
	ExternalID    string
	Provider      model.Provider
	AgencyID      *int64
	AgentID       *int64
	ClientID      *int64
	Fields        model.CallFields
	TranscriptCap int
}

// AppendTranscriptParams appends one transcript-delta line to a call.
type AppendTranscriptParams struct {
	ExternalID    string
	Provider      model.Provider
	AgencyID      *int64
	AgentID       *int64
	ClientID      *int64
	Line          string
	TranscriptCap int
}

// EnrichmentPatch is applied by asynchronous analysis after a call has completed.
type EnrichmentPatch struct {
	Summary   *string
	Sentiment *string
	CallScore *int
	Metadata  map[string]any
}

// UpsertResult reports the stored row and whether this statement created it.
type UpsertResult struct {
	Call    *model.Call
	Created bool
}

// CallStore defines the contract for the call aggregate.
// Every write is a single atomic statement keyed on the unique external_id.
type CallStore interface {
	Upsert(ctx context.Context, params UpsertCallParams) (*UpsertResult, error)
	UpsertMinimal(ctx context.Context, externalID string, provider model.Provider, status model.CallStatus) (*UpsertResult, error)
	AppendTranscript(ctx context.Context, params AppendTranscriptParams) (*UpsertResult, error)
	PatchEnrichment(ctx context.Context, id int64, patch EnrichmentPatch) error
	GetByID(ctx context.Context, id int64) (*model.Call, error)
	GetByExternalID(ctx context.Context, externalID string) (*model.Call, error)
}

// AgentStore defines the contract for voice agent lookups
type AgentStore interface {
	GetByID(ctx context.Context, id int64) (*model.Agent, error)
	GetByProviderAndExternalID(ctx context.Context, provider model.Provider, externalAgentID string) (*model.Agent, error)
}

// IntegrationStore defines the contract for integration credential data access
type IntegrationStore interface {
	ListActiveByAgency(ctx context.Context, agencyID int64) ([]model.Integration, error)
	UpdateTokens(ctx context.Context, id int64, accessToken string, refreshToken *string, expiresAt *time.Time) error
}

// WorkflowStore defines the contract for workflow configuration data access
type WorkflowStore interface {
	Create(ctx context.Context, wf *model.Workflow) error
	GetByID(ctx context.Context, id int64) (*model.Workflow, error)
	ListActiveByTriggers(ctx context.Context, agencyID int64, triggers []model.Trigger, agentID *int64) ([]model.Workflow, error)
}

// ExecutionLogStore defines the contract for the workflow audit trail
type ExecutionLogStore interface {
	Create(ctx context.Context, log *model.WorkflowExecutionLog) error
	Finish(ctx context.Context, log *model.WorkflowExecutionLog) error
	ListByCall(ctx context.Context, callID int64) ([]model.WorkflowExecutionLog, error)
}

// UsageStore defines the contract for daily usage counters
type UsageStore interface {
	Increment(ctx context.Context, inc model.UsageIncrement) error
}
