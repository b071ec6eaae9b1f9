package model

// Provider identifies an external system: a voice provider that sends call
// webhooks, or an integration that workflow actions call out to.
type Provider string

const (
	ProviderRetell Provider = "retell"
	ProviderVapi   Provider = "vapi"

	ProviderGoHighLevel    Provider = "gohighlevel"
	ProviderHubSpot        Provider = "hubspot"
	ProviderGoogleCalendar Provider = "google_calendar"
	ProviderCalendly       Provider = "calendly"
	ProviderTwilio         Provider = "twilio"
	ProviderResend         Provider = "resend"
	ProviderSlack          Provider = "slack"
)

// IsVoice reports whether p sends call webhooks.
func (p Provider) IsVoice() bool {
	return p == ProviderRetell || p == ProviderVapi
}
