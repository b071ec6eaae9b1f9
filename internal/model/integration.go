package model

import "time"

// Integration stores an agency's (or one client's) credentials for a provider.
// A client-scoped row takes precedence over the agency-wide row.
type Integration struct {
	ID             int64             `json:"id"`
	AgencyID       int64             `json:"agency_id"`
	ClientID       *int64            `json:"client_id,omitempty"`
	Provider       Provider          `json:"provider"`
	APIKey         *string           `json:"-"` // never expose tokens in API
	AccessToken    *string           `json:"-"`
	RefreshToken   *string           `json:"-"`
	TokenExpiresAt *time.Time        `json:"-"`
	WebhookSecret  *string           `json:"-"`
	Settings       map[string]string `json:"settings,omitempty"`
	IsActive       bool              `json:"is_active"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Setting keys read by action handlers.
const (
	SettingLocationID = "location_id"
	SettingCalendarID = "calendar_id"
	SettingFromNumber = "from_number"
	SettingFromEmail  = "from_email"
	SettingAccountSID = "account_sid"
	SettingWebhookURL = "webhook_url"
	SettingEventType  = "event_type"
)
