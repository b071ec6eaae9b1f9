package action

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"callrelay.app/relay/internal/model"
)

const (
	TypeWebhook = "webhook"

	DeliveryHeader = "X-Callrelay-Delivery"
)

type WebhookConfig struct {
	URL     string            `json:"url" jsonschema:"minLength=1"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	// Body is a template; empty sends the default call payload.
	Body    string            `json:"body,omitempty"`
}

func (c *WebhookConfig) Validate() error {
	if err := required("url", c.URL); err != nil {
		return err
	}
	switch strings.ToUpper(c.Method) {
	case "", http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return fmt.Errorf("method %q is not supported", c.Method)
	}
	// templated URLs are only checkable once rendered
	if strings.Contains(c.URL, "{{") {
		return nil
	}
	return CheckWebhookURL(c.URL, true)
}

type webhookHandler struct {
	client *http.Client
	policy URLPolicy
}

func newWebhookHandler(deps Deps) *webhookHandler {
	return &webhookHandler{client: deps.WebhookClient, policy: deps.URLPolicy}
}

func (h *webhookHandler) Validate(raw json.RawMessage) error {
	_, err := decodeAndValidate[WebhookConfig](TypeWebhook, raw)
	return err
}

func (h *webhookHandler) Execute(ctx context.Context, req Request) Result {
	cfg, err := decodeAndValidate[WebhookConfig](TypeWebhook, req.Spec.Config)
	if err != nil {
		return Fail(err)
	}

	target, err := ValidateWebhookURL(ctx, req.Render(cfg.URL), h.policy)
	if err != nil {
		return Fail(err)
	}

	var body []byte
	if cfg.Body != "" {
		body = []byte(req.Render(cfg.Body))
	} else {
		body, err = json.Marshal(CallPayload("workflow.action", req.Call, req.AgentName))
		if err != nil {
			return Fail(ClientError("encoding payload: %v", err))
		}
	}

	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodPost
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), bytes.NewReader(body))
	if err != nil {
		return Fail(ConfigError("building request: %v", err))
	}
	rendered := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		rendered[k] = req.Render(v)
	}
	httpReq.Header = SanitizeHeaders(rendered)
	if httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	delivery := uuid.NewString()
	httpReq.Header.Set(DeliveryHeader, delivery)

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return Fail(TransportError(err))
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Fail(StatusError(resp.StatusCode, strings.TrimSpace(string(snippet))))
	}
	return OK(map[string]any{"status_code": resp.StatusCode, "delivery_id": delivery})
}

// CallPayloadBody is the JSON document sent to user webhooks and forwarding URLs.
type CallPayloadBody struct {
	Event           string         `json:"event"`
	CallID          string         `json:"call_id"`
	AgentID         *int64         `json:"agent_id,omitempty"`
	AgentName       string         `json:"agent_name,omitempty"`
	Status          string         `json:"status"`
	Direction       string         `json:"direction,omitempty"`
	DurationSeconds *int           `json:"duration_seconds,omitempty"`
	CostCents       *int           `json:"cost_cents,omitempty"`
	FromNumber      string         `json:"from_number,omitempty"`
	ToNumber        string         `json:"to_number,omitempty"`
	Transcript      string         `json:"transcript,omitempty"`
	RecordingURL    *string        `json:"recording_url,omitempty"`
	Summary         *string        `json:"summary,omitempty"`
	Sentiment       *string        `json:"sentiment,omitempty"`
	StartedAt       *string        `json:"started_at,omitempty"`
	EndedAt         *string        `json:"ended_at,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

func CallPayload(event string, call *model.Call, agentName string) CallPayloadBody {
	if call == nil {
		return CallPayloadBody{Event: event}
	}
	p := CallPayloadBody{
		Event:           event,
		CallID:          call.ExternalID,
		AgentID:         call.AgentID,
		AgentName:       agentName,
		Status:          string(call.Status),
		Direction:       string(call.Direction),
		DurationSeconds: call.DurationSeconds,
		CostCents:       call.CostCents,
		FromNumber:      call.FromNumber,
		ToNumber:        call.ToNumber,
		Transcript:      call.Transcript,
		RecordingURL:    call.RecordingURL,
		Summary:         call.Summary,
		Sentiment:       call.Sentiment,
		Metadata:        call.Metadata,
	}
	if call.StartedAt != nil {
		s := call.StartedAt.UTC().Format(rfc3339Millis)
		p.StartedAt = &s
	}
	if call.EndedAt != nil {
		s := call.EndedAt.UTC().Format(rfc3339Millis)
		p.EndedAt = &s
	}
	return p
}

const rfc3339Millis = "2006-01-02T15:04:05.000Z07:00"
