// Package credential resolves integration credentials for an agency or client.
package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"callrelay.app/relay/core/config"
	"callrelay.app/relay/internal/model"
	"callrelay.app/relay/internal/store"
)

// ErrMissing is returned when no active integration exists for a provider.
var ErrMissing = errors.New("credential missing")

// Credential is a usable secret for one provider.
type Credential struct {
	IntegrationID int64
	Provider      model.Provider
	APIKey        string
	AccessToken   string
	Settings      map[string]string
}

// Token returns the bearer value an API client should send: the OAuth access
// token when the integration is OAuth based, otherwise the API key.
func (c *Credential) Token() string {
	if c.AccessToken != "" {
		return c.AccessToken
	}
	return c.APIKey
}

func (c *Credential) Setting(key string) string {
	if c == nil || c.Settings == nil {
		return ""
	}
	return c.Settings[key]
}

var oauthEndpoints = map[model.Provider]oauth2.Endpoint{
	model.ProviderGoogleCalendar: {
		AuthURL:   "https://accounts.google.com/o/oauth2/auth",
		TokenURL:  "https://oauth2.googleapis.com/token",
		AuthStyle: oauth2.AuthStyleInParams,
	},
	model.ProviderHubSpot: {
		AuthURL:   "https://app.hubspot.com/oauth/authorize",
		TokenURL:  "https://api.hubapi.com/oauth/v1/token",
		AuthStyle: oauth2.AuthStyleInParams,
	},
	model.ProviderGoHighLevel: {
		AuthURL:   "https://marketplace.gohighlevel.com/oauth/chooselocation",
		TokenURL:  "https://services.leadconnectorhq.com/oauth/token",
		AuthStyle: oauth2.AuthStyleInParams,
	},
}

type Resolver struct {
	integrations store.IntegrationStore
	oauth        map[model.Provider]*oauth2.Config
	fallback     map[model.Provider]string
	httpClient   *http.Client
}

type Option func(*Resolver)

// WithHTTPClient sets the client used for token refresh requests.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) { r.httpClient = c }
}

// WithOAuthConfig overrides the OAuth client for a provider. Tests point the
// token endpoint at an httptest server with it.
func WithOAuthConfig(provider model.Provider, cfg *oauth2.Config) Option {
	return func(r *Resolver) { r.oauth[provider] = cfg }
}

func NewResolver(integrations store.IntegrationStore, oauthCfg config.OAuthConfig, webhooks config.WebhookConfig, opts ...Option) *Resolver {
	r := &Resolver{
		integrations: integrations,
		oauth:        map[model.Provider]*oauth2.Config{},
		fallback:     map[model.Provider]string{},
	}

	clients := map[model.Provider]config.OAuthClient{
		model.ProviderGoogleCalendar: oauthCfg.Google,
		model.ProviderHubSpot:        oauthCfg.HubSpot,
		model.ProviderGoHighLevel:    oauthCfg.GoHighLevel,
	}
	for provider, client := range clients {
		if !client.Enabled() {
			continue
		}
		r.oauth[provider] = &oauth2.Config{
			ClientID:     client.ClientID,
			ClientSecret: client.ClientSecret,
			Endpoint:     oauthEndpoints[provider],
		}
	}

	if webhooks.RetellAPIKey != "" {
		r.fallback[model.ProviderRetell] = webhooks.RetellAPIKey
	}
	if webhooks.VapiSecret != "" {
		r.fallback[model.ProviderVapi] = webhooks.VapiSecret
	}

	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve loads the active integrations visible to a client of an agency.
// For each provider a client-scoped row wins over the agency-wide row; rows
// scoped to other clients are ignored.
func (r *Resolver) Resolve(ctx context.Context, agencyID int64, clientID *int64) (*Set, error) {
	rows, err := r.integrations.ListActiveByAgency(ctx, agencyID)
	if err != nil {
		return nil, fmt.Errorf("loading integrations: %w", err)
	}

	picked := make(map[model.Provider]model.Integration)
	for _, row := range rows {
		switch {
		case row.ClientID == nil:
			if _, ok := picked[row.Provider]; !ok {
				picked[row.Provider] = row
			}
		case clientID != nil && *row.ClientID == *clientID:
			existing, ok := picked[row.Provider]
			if !ok || existing.ClientID == nil {
				picked[row.Provider] = row
			}
		}
	}

	return &Set{
		resolver: r,
		rows:     picked,
		resolved: make(map[model.Provider]*Credential),
	}, nil
}

// WebhookSecret returns the signing secret for a voice provider: the client's
// integration first, then the agency's, then the platform default. Each
// integration's webhook_secret takes precedence over its api_key.
func (r *Resolver) WebhookSecret(ctx context.Context, provider model.Provider, agencyID int64, clientID *int64) (string, error) {
	set, err := r.Resolve(ctx, agencyID, clientID)
	if err != nil {
		return "", err
	}
	if row, ok := set.rows[provider]; ok {
		if row.WebhookSecret != nil && *row.WebhookSecret != "" {
			return *row.WebhookSecret, nil
		}
		if row.APIKey != nil && *row.APIKey != "" {
			return *row.APIKey, nil
		}
	}
	if secret := r.fallback[provider]; secret != "" {
		return secret, nil
	}
	return "", ErrMissing
}

// Set holds the credentials resolved for one triggering event. OAuth refreshes
// happen at most once per provider per set and are shared by every action.
type Set struct {
	resolver *Resolver
	rows     map[model.Provider]model.Integration

	mu       sync.Mutex
	resolved map[model.Provider]*Credential
}

// NewStaticSet builds a Set from fixed credentials, bypassing storage.
func NewStaticSet(creds ...Credential) *Set {
	s := &Set{resolved: make(map[model.Provider]*Credential, len(creds))}
	for i := range creds {
		c := creds[i]
		s.resolved[c.Provider] = &c
	}
	return s
}

// Has reports whether an integration exists for provider without refreshing it.
func (s *Set) Has(provider model.Provider) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.resolved[provider]; ok {
		return true
	}
	_, ok := s.rows[provider]
	return ok
}

// Get returns a usable credential for provider, refreshing an expired OAuth
// token and persisting the rotated token.
func (s *Set) Get(ctx context.Context, provider model.Provider) (*Credential, error) {
	if s == nil {
		return nil, fmt.Errorf("%s: %w", provider, ErrMissing)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.resolved[provider]; ok {
		return c, nil
	}
	row, ok := s.rows[provider]
	if !ok {
		return nil, fmt.Errorf("%s: %w", provider, ErrMissing)
	}

	cred := &Credential{
		IntegrationID: row.ID,
		Provider:      provider,
		Settings:      row.Settings,
	}
	if row.APIKey != nil {
		cred.APIKey = *row.APIKey
	}
	if row.AccessToken != nil {
		cred.AccessToken = *row.AccessToken
	}

	if err := s.refresh(ctx, row, cred); err != nil {
		return nil, err
	}
	if cred.Token() == "" {
		return nil, fmt.Errorf("%s: %w", provider, ErrMissing)
	}

	s.resolved[provider] = cred
	return cred, nil
}

func (s *Set) refresh(ctx context.Context, row model.Integration, cred *Credential) error {
	oauthCfg := s.resolver.oauth[row.Provider]
	if oauthCfg == nil || row.RefreshToken == nil || *row.RefreshToken == "" {
		return nil
	}

	current := &oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: *row.RefreshToken,
	}
	if row.TokenExpiresAt != nil {
		current.Expiry = *row.TokenExpiresAt
	} else if cred.AccessToken != "" {
		// unknown expiry: trust the stored token
		return nil
	}
	if current.Valid() {
		return nil
	}

	if s.resolver.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, s.resolver.httpClient)
	}
	fresh, err := oauthCfg.TokenSource(ctx, current).Token()
	if err != nil {
		return fmt.Errorf("refreshing %s token: %w", row.Provider, err)
	}
	cred.AccessToken = fresh.AccessToken

	var rotated *string
	if fresh.RefreshToken != "" && fresh.RefreshToken != current.RefreshToken {
		rotated = &fresh.RefreshToken
	}
	var expiresAt *time.Time
	if !fresh.Expiry.IsZero() {
		expiresAt = &fresh.Expiry
	}
	if err := s.resolver.integrations.UpdateTokens(ctx, row.ID, fresh.AccessToken, rotated, expiresAt); err != nil {
		// the fresh token is still usable for this event
		slog.WarnContext(ctx, "failed to persist refreshed token",
			"provider", row.Provider, "integration_id", row.ID, "error", err)
	}
	return nil
}
