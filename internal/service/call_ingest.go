package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"callrelay.app/relay/common/logger"
	"callrelay.app/relay/internal/credential"
	"callrelay.app/relay/internal/dedupe"
	"callrelay.app/relay/internal/deferred"
	"callrelay.app/relay/internal/model"
	"callrelay.app/relay/internal/normalizer"
	"callrelay.app/relay/internal/signature"
	"callrelay.app/relay/internal/store"
)

var (
	// ErrUnknownAgent marks a webhook for an agent this platform does not manage.
	ErrUnknownAgent = errors.New("unknown agent")

	// ErrPersistence marks an event that could not be stored even as a minimal record.
	ErrPersistence = errors.New("call could not be persisted")
)

// SecretResolver finds the signing secret for a provider webhook.
type SecretResolver interface {
	WebhookSecret(ctx context.Context, provider model.Provider, agencyID int64, clientID *int64) (string, error)
}

// WorkflowRunner executes the workflows matching a call event.
type WorkflowRunner interface {
	Run(ctx context.Context, call *model.Call, kind model.EventKind, agentName string) ([]*model.WorkflowExecutionLog, error)
}

type CallIngestConfig struct {
	Normalizers *normalizer.Registry
	Verifiers   map[model.Provider]signature.Verifier
	Secrets     SecretResolver
	Calls       store.CallStore
	Agents      store.AgentStore
	Usage       store.UsageStore
	Workflows   WorkflowRunner
	Broadcaster Broadcaster
	Forwarder   Forwarder
	// Analyzer is optional; nil disables AI analysis.
	Analyzer Analyzer
	Runner   deferred.Runner
	Claims   dedupe.Claimer

	TranscriptCap int
}

// IngestResult describes what happened to an accepted webhook.
type IngestResult struct {
	Event   *model.CallEvent
	Call    *model.Call
	Created bool
	// Warning is reported back to the provider in the acknowledgment.
	Warning string
}

// CallIngestService turns verified provider webhooks into call records and
// schedules everything that follows from them.
type CallIngestService interface {
	// Ingest returns signature.ErrInvalid when the webhook must be rejected.
	// Every other error still means the webhook is acknowledged.
	Ingest(ctx context.Context, provider model.Provider, body []byte, header http.Header) (*IngestResult, error)
}

type callIngestService struct {
	cfg CallIngestConfig
	now func() time.Time
}

func NewCallIngestService(cfg CallIngestConfig) CallIngestService {
	if cfg.Broadcaster == nil {
		cfg.Broadcaster = NewNoopBroadcaster()
	}
	if cfg.Runner == nil {
		cfg.Runner = deferred.Sync{}
	}
	if cfg.Claims == nil {
		cfg.Claims = dedupe.NewMemory(dedupe.DefaultTTL)
	}
	if cfg.TranscriptCap <= 0 {
		cfg.TranscriptCap = model.DefaultTranscriptCap
	}
	return &callIngestService{cfg: cfg, now: time.Now}
}

func (s *callIngestService) Ingest(ctx context.Context, provider model.Provider, body []byte, header http.Header) (*IngestResult, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Provider:  logger.Ptr(string(provider)),
		Component: "relay.service.call_ingest",
	})

	n, err := s.cfg.Normalizers.Get(provider)
	if err != nil {
		return nil, err
	}
	verifier, ok := s.cfg.Verifiers[provider]
	if !ok {
		return nil, fmt.Errorf("%w: no verifier for provider %s", signature.ErrInvalid, provider)
	}

	ev, err := n.Normalize(ctx, body)
	if err != nil {
		return nil, err
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ExternalCallID: logger.Ptr(ev.ExternalID),
		EventKind:      logger.Ptr(string(ev.Kind)),
	})

	agent, err := s.cfg.Agents.GetByProviderAndExternalID(ctx, provider, ev.ExternalAgentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			slog.InfoContext(ctx, "webhook for unknown agent dropped", "external_agent_id", ev.ExternalAgentID)
			return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, ev.ExternalAgentID)
		}
		return nil, fmt.Errorf("looking up agent: %w", err)
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{AgencyID: logger.Ptr(agent.AgencyID)})

	secret, err := s.cfg.Secrets.WebhookSecret(ctx, provider, agent.AgencyID, agent.ClientID)
	if err != nil {
		if errors.Is(err, credential.ErrMissing) {
			slog.WarnContext(ctx, "no webhook secret configured, rejecting")
			return nil, fmt.Errorf("%w: no signing secret", signature.ErrInvalid)
		}
		return nil, fmt.Errorf("resolving webhook secret: %w", err)
	}
	if err := verifier.Verify(body, header, secret); err != nil {
		slog.WarnContext(ctx, "webhook signature rejected", "error", err)
		return nil, err
	}

	result := &IngestResult{Event: ev}
	res, warning, err := s.persist(ctx, agent, ev)
	result.Warning = warning
	if err != nil {
		return result, err
	}
	result.Call, result.Created = res.Call, res.Created
	ctx = logger.WithLogFields(ctx, logger.LogFields{CallID: logger.Ptr(res.Call.ID)})

	slog.InfoContext(ctx, "call event stored", "status", res.Call.Status, "created", res.Created)
	s.schedule(ctx, agent, ev, res.Call)
	return result, nil
}

func (s *callIngestService) persist(ctx context.Context, agent *model.Agent, ev *model.CallEvent) (*store.UpsertResult, string, error) {
	if ev.Kind == model.EventKindTranscriptDelta {
		res, err := s.cfg.Calls.AppendTranscript(ctx, store.AppendTranscriptParams{
			ExternalID:    ev.ExternalID,
			Provider:      ev.Provider,
			AgencyID:      logger.Ptr(agent.AgencyID),
			AgentID:       logger.Ptr(agent.ID),
			ClientID:      agent.ClientID,
			Line:          ev.TranscriptLine,
			TranscriptCap: s.cfg.TranscriptCap,
		})
		if err != nil {
			slog.ErrorContext(ctx, "appending transcript failed", "error", err)
			return nil, "transcript not stored", fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		return res, "", nil
	}

	res, err := s.cfg.Calls.Upsert(ctx, store.UpsertCallParams{
		ExternalID:    ev.ExternalID,
		Provider:      ev.Provider,
		AgencyID:      logger.Ptr(agent.AgencyID),
		AgentID:       logger.Ptr(agent.ID),
		ClientID:      agent.ClientID,
		Fields:        ev.Fields,
		TranscriptCap: s.cfg.TranscriptCap,
	})
	if err == nil {
		return res, "", nil
	}

	slog.WarnContext(ctx, "call upsert failed, storing minimal record", "error", err)
	status := model.CallStatusInProgress
	if ev.Fields.Status != nil {
		status = *ev.Fields.Status
	}
	res, minErr := s.cfg.Calls.UpsertMinimal(ctx, ev.ExternalID, ev.Provider, status)
	if minErr != nil {
		slog.ErrorContext(ctx, "minimal call record failed", "error", minErr, "upsert_error", err)
		return nil, "call not stored", fmt.Errorf("%w: %v", ErrPersistence, minErr)
	}
	return res, "stored partial call record", nil
}

// schedule hands the follow-up work to the deferred runner so the provider
// gets its acknowledgment without waiting on any of it.
func (s *callIngestService) schedule(ctx context.Context, agent *model.Agent, ev *model.CallEvent, call *model.Call) {
	s.cfg.Runner.Run(ctx, "broadcast", func(ctx context.Context) error {
		return s.cfg.Broadcaster.Publish(ctx, agent.AgencyID, CallUpdate{
			Event:      ev.Kind,
			CallID:     call.ID,
			ExternalID: call.ExternalID,
			AgentID:    call.AgentID,
			Status:     call.Status,
			Line:       ev.TranscriptLine,
			At:         s.now().UTC(),
		})
	})

	if ev.Kind == model.EventKindTranscriptDelta {
		return
	}
	if ev.Preliminary {
		slog.DebugContext(ctx, "preliminary call end stored, waiting for the final delivery")
		return
	}

	if ev.Kind == model.EventKindCallEnded {
		// Providers may report the end of a call more than once.
		claimed, err := s.cfg.Claims.Claim(ctx, dedupe.Key("call-ended", call.ID))
		if err != nil {
			claimed = true
		}
		if claimed {
			s.scheduleCallEnded(ctx, agent, call)
		} else {
			slog.DebugContext(ctx, "call end already processed")
		}
	}

	if s.cfg.Workflows != nil {
		s.cfg.Runner.Run(ctx, "workflows", func(ctx context.Context) error {
			_, err := s.cfg.Workflows.Run(ctx, call, ev.Kind, agent.Name)
			return err
		})
	}
}

func (s *callIngestService) scheduleCallEnded(ctx context.Context, agent *model.Agent, call *model.Call) {
	if s.cfg.Usage != nil {
		s.cfg.Runner.Run(ctx, "usage", func(ctx context.Context) error {
			return s.cfg.Usage.Increment(ctx, usageFor(agent, call, s.now()))
		})
	}
	if s.cfg.Forwarder != nil && agent.ForwardWebhookURL != nil {
		s.cfg.Runner.Run(ctx, "forward", func(ctx context.Context) error {
			return s.cfg.Forwarder.Forward(ctx, agent, call)
		})
	}
	if s.cfg.Analyzer != nil && agent.AnalysisEnabled && call.Transcript != "" {
		s.cfg.Runner.Run(ctx, "analysis", func(ctx context.Context) error {
			return s.cfg.Analyzer.Analyze(ctx, call)
		})
	}
}

func usageFor(agent *model.Agent, call *model.Call, now time.Time) model.UsageIncrement {
	inc := model.UsageIncrement{AgencyID: agent.AgencyID, Day: now}
	if call.EndedAt != nil {
		inc.Day = *call.EndedAt
	}
	if agent.ClientID != nil {
		inc.ClientID = *agent.ClientID
	}
	if call.DurationSeconds != nil {
		inc.Seconds = *call.DurationSeconds
	}
	if call.CostCents != nil {
		inc.CostCents = *call.CostCents
	}
	return inc
}
