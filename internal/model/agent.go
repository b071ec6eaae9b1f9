package model

import "time"

// Agent is a voice agent configured at a provider and owned by an agency.
type Agent struct {
	ID                int64     `json:"id"`
	AgencyID          int64     `json:"agency_id"`
	ClientID          *int64    `json:"client_id,omitempty"`
	Provider          Provider  `json:"provider"`
	ExternalAgentID   string    `json:"external_agent_id"`
	Name              string    `json:"name"`
	ForwardWebhookURL *string   `json:"forward_webhook_url,omitempty"`
	AnalysisEnabled   bool      `json:"analysis_enabled"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}
