package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"callrelay.app/relay/internal/action"
	"callrelay.app/relay/internal/model"
)

const forwardEvent = "call.ended"

// Forwarder delivers completed calls to an agent's configured webhook.
type Forwarder interface {
	Forward(ctx context.Context, agent *model.Agent, call *model.Call) error
}

type webhookForwarder struct {
	client *http.Client
	policy action.URLPolicy
}

// NewForwarder sends through client, which must refuse private addresses at dial time.
func NewForwarder(client *http.Client, policy action.URLPolicy) Forwarder {
	return &webhookForwarder{client: client, policy: policy}
}

func (f *webhookForwarder) Forward(ctx context.Context, agent *model.Agent, call *model.Call) error {
	if agent.ForwardWebhookURL == nil || *agent.ForwardWebhookURL == "" {
		return nil
	}
	target, err := action.ValidateWebhookURL(ctx, *agent.ForwardWebhookURL, f.policy)
	if err != nil {
		return fmt.Errorf("forward webhook url: %w", err)
	}

	body, err := json.Marshal(action.CallPayload(forwardEvent, call, agent.Name))
	if err != nil {
		return fmt.Errorf("encoding forward payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building forward request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(action.DeliveryHeader, uuid.NewString())

	resp, err := f.client.Do(req)
	if err != nil {
		return action.TransportError(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return action.StatusError(resp.StatusCode, "forward webhook rejected")
	}
	return nil
}
