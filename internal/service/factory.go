package service

import (
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"callrelay.app/relay/common/llm"
	"callrelay.app/relay/core/config"
	"callrelay.app/relay/internal/action"
	"callrelay.app/relay/internal/credential"
	"callrelay.app/relay/internal/dedupe"
	"callrelay.app/relay/internal/deferred"
	"callrelay.app/relay/internal/model"
	"callrelay.app/relay/internal/normalizer"
	"callrelay.app/relay/internal/signature"
	"callrelay.app/relay/internal/store"
	"callrelay.app/relay/internal/workflow"
)

// Services wires the stores, outbound clients and background runner into
// the services the HTTP layer calls.
type Services struct {
	stores      *store.Stores
	cfg         config.Config
	runner      deferred.Runner
	registry    *action.Registry
	resolver    *credential.Resolver
	engine      *workflow.Engine
	claims      dedupe.Claimer
	broadcaster Broadcaster
	analyzer    Analyzer
	forwarder   Forwarder
}

// NewServices builds the service graph. redisClient may be nil, in which case
// realtime broadcast is disabled and deduplication is process-local.
func NewServices(stores *store.Stores, cfg config.Config, redisClient *redis.Client, runner deferred.Runner) *Services {
	timeout := cfg.Automation.OutboundTimeout
	webhookClient := action.NewWebhookClient(timeout)
	policy := action.URLPolicy{AllowHTTP: cfg.IsDevelopment()}

	registry := action.NewDefaultRegistry(action.Deps{
		HTTPClient:    &http.Client{Timeout: timeout},
		WebhookClient: webhookClient,
		URLPolicy:     policy,
	})
	dispatcher := action.NewDispatcher(registry,
		action.WithTimeout(timeout),
		action.WithRetryPolicy(action.RetryPolicy{
			MaxRetries: cfg.Automation.MaxRetries,
			BaseDelay:  cfg.Automation.BaseBackoff,
		}))

	resolver := credential.NewResolver(stores.Integrations(), cfg.OAuth, cfg.Webhooks,
		credential.WithHTTPClient(&http.Client{Timeout: timeout}))

	var (
		claims      dedupe.Claimer = dedupe.NewMemory(cfg.Redis.DedupeTTL)
		broadcaster                = NewNoopBroadcaster()
	)
	if redisClient != nil {
		claims = dedupe.NewRedis(redisClient, cfg.Redis.DedupeTTL)
		broadcaster = NewRedisBroadcaster(redisClient, cfg.Redis.BroadcastStreamPrefix, cfg.Redis.BroadcastMaxLen)
	}

	var analyzer Analyzer
	if cfg.OpenAI.Enabled() {
		client, err := llm.New(llm.Config{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.Model,
		})
		if err != nil {
			slog.Warn("call analysis disabled", "error", err)
		} else {
			analyzer = NewAnalyzer(client, stores.Calls())
		}
	}

	engine := workflow.NewEngine(stores.Workflows(), stores.ExecutionLogs(), dispatcher, resolver,
		workflow.WithClaimer(claims))

	return &Services{
		stores:      stores,
		cfg:         cfg,
		runner:      runner,
		registry:    registry,
		resolver:    resolver,
		engine:      engine,
		claims:      claims,
		broadcaster: broadcaster,
		analyzer:    analyzer,
		forwarder:   NewForwarder(webhookClient, policy),
	}
}

func (s *Services) CallIngest() CallIngestService {
	return NewCallIngestService(CallIngestConfig{
		Normalizers: normalizer.Default(normalizer.Options{TranscriptCap: s.cfg.Automation.TranscriptCap}),
		Verifiers: map[model.Provider]signature.Verifier{
			model.ProviderRetell: signature.Retell{},
			model.ProviderVapi:   signature.Vapi{},
		},
		Secrets:       s.resolver,
		Calls:         s.stores.Calls(),
		Agents:        s.stores.Agents(),
		Usage:         s.stores.Usage(),
		Workflows:     s.engine,
		Broadcaster:   s.broadcaster,
		Forwarder:     s.forwarder,
		Analyzer:      s.analyzer,
		Runner:        s.runner,
		Claims:        s.claims,
		TranscriptCap: s.cfg.Automation.TranscriptCap,
	})
}

func (s *Services) Workflows() WorkflowService {
	return NewWorkflowService(s.stores.Workflows(), s.stores.ExecutionLogs(), s.stores.Calls(), s.registry)
}

func (s *Services) Actions() *action.Registry {
	return s.registry
}
