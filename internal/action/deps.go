package action

import (
	"net/http"
	"time"
)

// Endpoints are provider API base URLs. Tests point them at httptest servers.
type Endpoints struct {
	GoHighLevel    string
	HubSpot        string
	GoogleCalendar string
	Calendly       string
	Twilio         string
	Resend         string
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		GoHighLevel:    "https://services.leadconnectorhq.com",
		HubSpot:        "https://api.hubapi.com",
		GoogleCalendar: "https://www.googleapis.com/calendar/v3",
		Calendly:       "https://api.calendly.com",
		Twilio:         "https://api.twilio.com/2010-04-01",
		Resend:         "https://api.resend.com",
	}
}

// Deps are the shared collaborators of the built-in handlers.
type Deps struct {
	// HTTPClient calls known provider APIs.
	HTTPClient *http.Client

	// WebhookClient calls user-supplied URLs and must refuse private addresses.
	WebhookClient *http.Client

	URLPolicy URLPolicy
	Endpoints Endpoints
	Now       func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.HTTPClient == nil {
		d.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}
	if d.WebhookClient == nil {
		d.WebhookClient = NewWebhookClient(DefaultTimeout)
	}
	if d.Endpoints == (Endpoints{}) {
		d.Endpoints = DefaultEndpoints()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// NewWebhookClient returns a client for user-supplied URLs. Every dial,
// redirects included, goes through SafeTransport.
func NewWebhookClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: SafeTransport(timeout),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 3 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}

// NewDefaultRegistry registers every built-in action type.
func NewDefaultRegistry(deps Deps) *Registry {
	deps = deps.withDefaults()
	r := NewRegistry()

	r.Register(TypeWebhook, newWebhookHandler(deps), &WebhookConfig{})
	registerCRM(r, deps)
	registerCalendar(r, deps)
	r.Register(TypeCalendlySendLink, newCalendlyHandler(deps), &CalendlyConfig{})
	r.Register(TypeSendSMS, newSMSHandler(deps), &SMSConfig{})
	r.Register(TypeSendEmail, newEmailHandler(deps), &EmailConfig{})
	r.Register(TypeSendSlack, newSlackHandler(deps), &SlackConfig{})
	return r
}
