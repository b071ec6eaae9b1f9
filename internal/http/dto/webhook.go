package dto

type WebhookAck struct {
	Received bool   `json:"received"`
	Warning  string `json:"warning,omitempty"`
}
