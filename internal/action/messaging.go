package action

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"callrelay.app/relay/internal/credential"
	"callrelay.app/relay/internal/model"
)

const (
	TypeCalendlySendLink = "calendly_send_link"
	TypeSendSMS          = "send_sms"
	TypeSendEmail        = "send_email"
	TypeSendSlack        = "send_slack"

	defaultCalendlyMessage = "Thanks for your time! Book a follow-up here: {{link}}"
)

type SMSConfig struct {
	// To defaults to the call's contact number.
	To      string `json:"to,omitempty"`
	Message string `json:"message" jsonschema:"minLength=1"`
}

func (c *SMSConfig) Validate() error {
	return required("message", c.Message)
}

type EmailConfig struct {
	To      string `json:"to" jsonschema:"minLength=1"`
	From    string `json:"from,omitempty"`
	Subject string `json:"subject" jsonschema:"minLength=1"`
	Body    string `json:"body" jsonschema:"minLength=1"`
}

func (c *EmailConfig) Validate() error {
	return required("to", c.To, "subject", c.Subject, "body", c.Body)
}

type SlackConfig struct {
	Message    string `json:"message" jsonschema:"minLength=1"`
	// WebhookURL overrides the integration's incoming webhook.
	WebhookURL string `json:"webhook_url,omitempty"`
}

func (c *SlackConfig) Validate() error {
	if err := required("message", c.Message); err != nil {
		return err
	}
	if c.WebhookURL != "" {
		return CheckWebhookURL(c.WebhookURL, false)
	}
	return nil
}

type CalendlyConfig struct {
	// EventType is the event type URI; defaults to the integration setting.
	EventType string `json:"event_type,omitempty"`
	Message   string `json:"message,omitempty"`
}

type twilioClient struct {
	api  *apiClient
	sid  string
	from string
}

func newTwilio(cred *credential.Credential, deps Deps) (*twilioClient, error) {
	sid := cred.Setting(model.SettingAccountSID)
	from := cred.Setting(model.SettingFromNumber)
	if sid == "" || from == "" {
		return nil, ClientError("twilio integration needs %s and %s", model.SettingAccountSID, model.SettingFromNumber)
	}
	header := http.Header{}
	header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(sid+":"+cred.Token())))
	return &twilioClient{api: newAPIClient(deps.HTTPClient, deps.Endpoints.Twilio, header), sid: sid, from: from}, nil
}

func (t *twilioClient) send(ctx context.Context, to, body string) (string, error) {
	var resp struct {
		SID string `json:"sid"`
	}
	form := url.Values{"To": {to}, "From": {t.from}, "Body": {body}}
	if err := t.api.postForm(ctx, "/Accounts/"+url.PathEscape(t.sid)+"/Messages.json", form, &resp); err != nil {
		return "", err
	}
	return resp.SID, nil
}

type smsHandler struct {
	deps Deps
}

func newSMSHandler(deps Deps) *smsHandler {
	return &smsHandler{deps: deps}
}

func (h *smsHandler) Validate(raw json.RawMessage) error {
	_, err := decodeAndValidate[SMSConfig](TypeSendSMS, raw)
	return err
}

func (h *smsHandler) Execute(ctx context.Context, req Request) Result {
	cfg, err := decodeAndValidate[SMSConfig](TypeSendSMS, req.Spec.Config)
	if err != nil {
		return Fail(err)
	}
	to := req.Render(cfg.To)
	if to == "" {
		to = req.ContactPhone()
	}
	if to == "" {
		return Fail(ClientError("no recipient number"))
	}

	cred, err := req.Credential(ctx, model.ProviderTwilio)
	if err != nil {
		return Fail(err)
	}
	tw, err := newTwilio(cred, h.deps)
	if err != nil {
		return Fail(err)
	}
	sid, err := tw.send(ctx, to, req.Render(cfg.Message))
	if err != nil {
		return Fail(err)
	}
	return OK(map[string]any{"message_sid": sid, "to": to})
}

type emailHandler struct {
	deps Deps
}

func newEmailHandler(deps Deps) *emailHandler {
	return &emailHandler{deps: deps}
}

func (h *emailHandler) Validate(raw json.RawMessage) error {
	_, err := decodeAndValidate[EmailConfig](TypeSendEmail, raw)
	return err
}

func (h *emailHandler) Execute(ctx context.Context, req Request) Result {
	cfg, err := decodeAndValidate[EmailConfig](TypeSendEmail, req.Spec.Config)
	if err != nil {
		return Fail(err)
	}
	cred, err := req.Credential(ctx, model.ProviderResend)
	if err != nil {
		return Fail(err)
	}
	from := req.Render(cfg.From)
	if from == "" {
		from = cred.Setting(model.SettingFromEmail)
	}
	to := req.Render(cfg.To)
	if from == "" || to == "" {
		return Fail(ClientError("email needs both a sender and a recipient"))
	}

	api := newAPIClient(h.deps.HTTPClient, h.deps.Endpoints.Resend, bearer(cred.Token()))
	var resp struct {
		ID string `json:"id"`
	}
	err = api.do(ctx, http.MethodPost, "/emails", nil, map[string]any{
		"from":    from,
		"to":      splitRecipients(to),
		"subject": req.Render(cfg.Subject),
		"text":    req.Render(cfg.Body),
	}, &resp)
	if err != nil {
		return Fail(err)
	}
	return OK(map[string]any{"email_id": resp.ID})
}

func splitRecipients(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

type slackHandler struct {
	deps Deps
}

func newSlackHandler(deps Deps) *slackHandler {
	return &slackHandler{deps: deps}
}

func (h *slackHandler) Validate(raw json.RawMessage) error {
	_, err := decodeAndValidate[SlackConfig](TypeSendSlack, raw)
	return err
}

func (h *slackHandler) Execute(ctx context.Context, req Request) Result {
	cfg, err := decodeAndValidate[SlackConfig](TypeSendSlack, req.Spec.Config)
	if err != nil {
		return Fail(err)
	}

	client := h.deps.HTTPClient
	target := cfg.WebhookURL
	if target != "" {
		u, err := ValidateWebhookURL(ctx, target, h.deps.URLPolicy)
		if err != nil {
			return Fail(err)
		}
		target = u.String()
		client = h.deps.WebhookClient
	} else {
		cred, err := req.Credential(ctx, model.ProviderSlack)
		if err != nil {
			return Fail(err)
		}
		target = cred.Setting(model.SettingWebhookURL)
		if target == "" {
			target = cred.Token()
		}
		if target == "" {
			return Fail(CredentialError(model.ProviderSlack, errors.New("no incoming webhook url")))
		}
	}

	payload, _ := json.Marshal(map[string]string{"text": req.Render(cfg.Message)})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return Fail(ConfigError("building slack request: %v", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return Fail(TransportError(err))
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Fail(StatusError(resp.StatusCode, strings.TrimSpace(string(body))))
	}
	return OK(map[string]any{"status_code": resp.StatusCode})
}

type calendlyHandler struct {
	deps Deps
}

func newCalendlyHandler(deps Deps) *calendlyHandler {
	return &calendlyHandler{deps: deps}
}

func (h *calendlyHandler) Validate(raw json.RawMessage) error {
	_, err := decodeAndValidate[CalendlyConfig](TypeCalendlySendLink, raw)
	return err
}

// Execute creates a single-use scheduling link and texts it to the contact.
func (h *calendlyHandler) Execute(ctx context.Context, req Request) Result {
	cfg, err := decodeAndValidate[CalendlyConfig](TypeCalendlySendLink, req.Spec.Config)
	if err != nil {
		return Fail(err)
	}
	to := req.ContactPhone()
	if to == "" {
		return Fail(ClientError("call has no contact phone number"))
	}

	calendly, err := req.Credential(ctx, model.ProviderCalendly)
	if err != nil {
		return Fail(err)
	}
	eventType := req.Render(cfg.EventType)
	if eventType == "" {
		eventType = calendly.Setting(model.SettingEventType)
	}
	if eventType == "" {
		return Fail(ConfigError("event_type is required"))
	}
	twilioCred, err := req.Credential(ctx, model.ProviderTwilio)
	if err != nil {
		return Fail(err)
	}
	tw, err := newTwilio(twilioCred, h.deps)
	if err != nil {
		return Fail(err)
	}

	api := newAPIClient(h.deps.HTTPClient, h.deps.Endpoints.Calendly, bearer(calendly.Token()))
	var link struct {
		Resource struct {
			BookingURL string `json:"booking_url"`
		} `json:"resource"`
	}
	err = api.do(ctx, http.MethodPost, "/scheduling_links", nil, map[string]any{
		"max_event_count": 1,
		"owner":           eventType,
		"owner_type":      "EventType",
	}, &link)
	if err != nil {
		return Fail(err)
	}
	if link.Resource.BookingURL == "" {
		return Fail(ClientError("calendly returned no booking url"))
	}

	message := cfg.Message
	if message == "" {
		message = defaultCalendlyMessage
	}
	vars := make(map[string]string, len(req.Vars)+1)
	for k, v := range req.Vars {
		vars[k] = v
	}
	vars["link"] = link.Resource.BookingURL

	sid, err := tw.send(ctx, to, Render(message, vars))
	if err != nil {
		return Fail(err)
	}
	return OK(map[string]any{"booking_url": link.Resource.BookingURL, "message_sid": sid})
}
